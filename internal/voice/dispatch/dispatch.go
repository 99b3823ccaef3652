// Package dispatch routes final transcripts to the active consumer and
// forwards the outcome to the host UI.
//
// While a dictation dialogue is active every transcript goes to it;
// otherwise it goes to the command interpreter. The two paths never see the
// same transcript. Command results are spoken first and then handed to the
// [Host]. Transcripts are processed one at a time in arrival order.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/recognition"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
	"go.opentelemetry.io/otel/attribute"
)

// Consumers of a transcript.
const (
	ConsumerInterpreter = "interpreter"
	ConsumerDictation   = "dictation"
)

// Host is the UI side of the dispatcher. Implementations must be safe for
// concurrent use.
type Host interface {
	Navigate(ctx context.Context, nav command.Navigation) error
	Invoke(ctx context.Context, action command.Action) error
	Submit(ctx context.Context, c dictation.Completion) error
	Fail(ctx context.Context, err *recognition.Error) error
}

// Recorder persists completed dictation records.
type Recorder interface {
	RecordSubmission(ctx context.Context, c dictation.Completion) error
}

// Notifier raises a desktop notification.
type Notifier interface {
	Notify(title, message string) error
}

// Speaker is the spoken feedback channel. *synth.Queue satisfies it.
type Speaker interface {
	Speak(text string, opts synth.Options) *synth.Result
}

// Outcome describes how one transcript was handled.
type Outcome struct {
	Consumer string
	// Result is set when the interpreter handled the transcript.
	Result command.Result
	// Step is set when the dictation dialogue handled the transcript.
	Step *dictation.Step
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithHost sets the host. See also [Dispatcher.SetHost].
func WithHost(h Host) Option {
	return func(d *Dispatcher) { d.host = h }
}

// WithRecorder stores completed forms.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithNotifier raises desktop notifications for saved forms and
// microphone problems.
func WithNotifier(n Notifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithMetrics records transcript, result and submission counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithAutoDictation starts the matching dictation dialogue whenever the
// interpreter opens a form.
func WithAutoDictation(on bool) Option {
	return func(d *Dispatcher) { d.autoDictation = on }
}

// Dispatcher is the command dispatcher. All methods are safe for concurrent
// use.
type Dispatcher struct {
	speaker   Speaker
	dictation *dictation.Controller
	recorder  Recorder
	notifier  Notifier
	metrics   *observe.Metrics

	mu            sync.RWMutex
	interp        *command.Interpreter
	host          Host
	autoDictation bool

	// serial orders transcript handling and dialogue start/stop.
	serial   sync.Mutex
	dialogue bool
}

// New creates a Dispatcher. speaker may be nil.
func New(interp *command.Interpreter, dict *dictation.Controller, speaker Speaker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		interp:    interp,
		dictation: dict,
		speaker:   speaker,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetHost replaces the host.
func (d *Dispatcher) SetHost(h Host) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.host = h
}

// SetInterpreter swaps the interpreter, e.g. after the route table was
// reloaded. Transcripts already being handled finish with the old one.
func (d *Dispatcher) SetInterpreter(i *command.Interpreter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interp = i
}

// Interpreter returns the current interpreter.
func (d *Dispatcher) Interpreter() *command.Interpreter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.interp
}

// SetAutoDictation toggles automatic dictation for opened forms.
func (d *Dispatcher) SetAutoDictation(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoDictation = on
}

func (d *Dispatcher) snapshot() (*command.Interpreter, Host, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.interp, d.host, d.autoDictation
}

// HandleTranscript routes one final transcript.
func (d *Dispatcher) HandleTranscript(ctx context.Context, t types.Transcript) Outcome {
	d.serial.Lock()
	defer d.serial.Unlock()

	ctx, span := observe.StartSpan(ctx, "dispatch.transcript", attribute.Float64("confidence", t.Confidence))
	defer span.End()
	log := observe.Logger(ctx)

	if d.dictation != nil && d.dictation.Active() {
		span.SetAttributes(attribute.String("consumer", ConsumerDictation))
		d.countTranscript(ctx, ConsumerDictation)
		step := d.dictation.HandleInput(ctx, t.Text)
		log.Debug("dispatch: dictation step", "outcome", step.Outcome, "field", step.Field)
		if step.Completion != nil {
			d.complete(ctx, *step.Completion)
		}
		d.trackDialogue(ctx)
		return Outcome{Consumer: ConsumerDictation, Step: &step}
	}

	interp, host, auto := d.snapshot()
	span.SetAttributes(attribute.String("consumer", ConsumerInterpreter))
	d.countTranscript(ctx, ConsumerInterpreter)

	res := interp.Interpret(t.Text)
	d.countResult(ctx, res)
	log.Info("dispatch: command", "kind", res.Kind(), "text", t.Text)
	d.say(res.Feedback())

	switch r := res.(type) {
	case command.Navigation:
		if host != nil {
			if err := host.Navigate(ctx, r); err != nil {
				log.Warn("dispatch: navigate failed", "route", r.Route, "err", err)
			}
		}
	case command.Action:
		if host != nil {
			if err := host.Invoke(ctx, r); err != nil {
				log.Warn("dispatch: invoke failed", "function", r.FunctionName, "err", err)
			}
		}
		if form := r.FormType(); auto && form != "" && d.dictation != nil {
			if err := d.dictation.Start(ctx, form); err != nil {
				log.Warn("dispatch: auto dictation failed", "form", form, "err", err)
			}
			d.trackDialogue(ctx)
		}
	}
	return Outcome{Consumer: ConsumerInterpreter, Result: res}
}

// HandleText routes typed text through the same path as speech.
func (d *Dispatcher) HandleText(ctx context.Context, text string) Outcome {
	return d.HandleTranscript(ctx, types.Transcript{Text: text, IsFinal: true, Confidence: 1})
}

// HandleError forwards a recognition failure to the host. The recognition
// session has already announced it.
func (d *Dispatcher) HandleError(ctx context.Context, e *recognition.Error) {
	_, host, _ := d.snapshot()
	if host != nil {
		if err := host.Fail(ctx, e); err != nil {
			slog.Warn("dispatch: forward error failed", "code", e.Code, "err", err)
		}
	}
	if d.notifier != nil && (e.Code == recognition.CodePermissionDenied || e.Code == recognition.CodeAudioCapture) {
		if err := d.notifier.Notify("Microphone problem", e.Message()); err != nil {
			slog.Debug("dispatch: notify failed", "err", err)
		}
	}
}

// StartDictation starts a dialogue for formType.
func (d *Dispatcher) StartDictation(ctx context.Context, formType string) error {
	d.serial.Lock()
	defer d.serial.Unlock()
	err := d.dictation.Start(ctx, formType)
	d.trackDialogue(ctx)
	return err
}

// CancelDictation abandons the active dialogue silently. It reports whether
// one was active.
func (d *Dispatcher) CancelDictation(ctx context.Context) bool {
	d.serial.Lock()
	defer d.serial.Unlock()
	ok := d.dictation.Cancel()
	d.trackDialogue(ctx)
	return ok
}

// complete hands a finished form to the host, the recorder and the
// notifier. Failures are logged; the dialogue is already over.
func (d *Dispatcher) complete(ctx context.Context, c dictation.Completion) {
	log := observe.Logger(ctx)
	if d.metrics != nil {
		d.metrics.RecordFormSubmission(ctx, c.FormType)
	}
	_, host, _ := d.snapshot()
	if host != nil {
		if err := host.Submit(ctx, c); err != nil {
			log.Warn("dispatch: submit failed", "event", c.Event, "err", err)
		}
	}
	if d.recorder != nil {
		if err := d.recorder.RecordSubmission(ctx, c); err != nil {
			log.Error("dispatch: record submission failed", "event", c.Event, "err", err)
		}
	}
	if d.notifier != nil {
		if err := d.notifier.Notify("Saved", "Your "+c.FormType+" was saved."); err != nil {
			log.Debug("dispatch: notify failed", "err", err)
		}
	}
}

// trackDialogue keeps the active-dialogue gauge in step with the
// controller. Callers hold serial.
func (d *Dispatcher) trackDialogue(ctx context.Context) {
	active := d.dictation.Active()
	if active == d.dialogue {
		return
	}
	d.dialogue = active
	if d.metrics == nil {
		return
	}
	if active {
		d.metrics.ActiveDialogues.Add(ctx, 1)
	} else {
		d.metrics.ActiveDialogues.Add(ctx, -1)
	}
}

func (d *Dispatcher) countTranscript(ctx context.Context, consumer string) {
	if d.metrics != nil {
		d.metrics.RecordTranscript(ctx, consumer)
	}
}

func (d *Dispatcher) countResult(ctx context.Context, res command.Result) {
	if d.metrics == nil {
		return
	}
	var name string
	switch r := res.(type) {
	case command.Navigation:
		name = r.RouteName
	case command.Action:
		name = r.FunctionName
	case command.Failure:
		name = string(r.Code)
	}
	d.metrics.RecordCommandResult(ctx, string(res.Kind()), name)
}

func (d *Dispatcher) say(text string) {
	if d.speaker != nil && text != "" {
		d.speaker.Speak(text, synth.Options{})
	}
}
