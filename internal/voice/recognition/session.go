// Package recognition owns the microphone-to-transcript lifecycle.
//
// A [Session] captures audio, streams it to a speech-to-text engine and hands
// the first final transcript of every capture cycle to exactly one handler.
// In continuous mode it restarts itself after each cycle once spoken feedback
// has finished. Engine and device failures are classified, announced through
// the [Speaker] and reported to the error handler; none of them is fatal.
//
// The process holds a single Session; the composition root hands the same
// instance to every consumer.
package recognition

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

const (
	DefaultRestartDelay = 300 * time.Millisecond
	DefaultStartGrace   = 300 * time.Millisecond
	DefaultGreeting     = "Hi! I'm listening. You can say things like go to tasks, or add a task."
)

// DefaultFormat is 16 kHz mono PCM.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Speaker is the spoken feedback channel. *synth.Queue satisfies it.
type Speaker interface {
	Speak(text string, opts synth.Options) *synth.Result
	Cancel()
	Idle() <-chan struct{}
}

// Config holds the tunables of a Session. Zero durations select defaults.
type Config struct {
	EnableGreeting      bool
	Greeting            string
	ContinuousListening bool

	RestartDelay time.Duration
	StartGrace   time.Duration
	// MaxDuration ends a capture cycle after this long. Zero means no limit.
	MaxDuration time.Duration

	Language string
	Keywords []types.KeywordBoost
	Format   audio.Format
}

func (c Config) withDefaults() Config {
	if c.RestartDelay <= 0 {
		c.RestartDelay = DefaultRestartDelay
	}
	if c.StartGrace <= 0 {
		c.StartGrace = DefaultStartGrace
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.Format.SampleRate == 0 {
		c.Format = DefaultFormat
	}
	return c
}

// Option configures a [Session].
type Option func(*Session)

// WithMetrics records cycle durations and error codes.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// cycle is one capture-and-recognise run.
type cycle struct {
	gen     uint64
	cancel  context.CancelFunc
	stream  audio.CaptureStream
	handle  stt.SessionHandle
	timer   *time.Timer
	started time.Time
}

func (c *cycle) release() {
	c.cancel()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.stream != nil {
		_ = c.stream.Close()
	}
	if c.handle != nil {
		_ = c.handle.Close()
	}
}

// Session is the recognition session. All exported methods are safe for
// concurrent use. Callbacks run on session goroutines and must not block for
// long; they may call back into the Session.
type Session struct {
	provider stt.Provider
	capture  audio.Capture
	speaker  Speaker
	metrics  *observe.Metrics

	mu            sync.Mutex
	cfg           Config
	initialized   bool
	state         State
	want          bool   // the user asked to listen and has not stopped
	greeted       bool   // greeting already played in this process
	gen           uint64 // bumped on every start and stop; stale cycles compare against it
	cur           *cycle
	restartCancel context.CancelFunc

	onTranscript func(types.Transcript)
	onError      func(*Error)
	onState      func(State)
}

// New creates a Session. provider or capture may be nil, in which case
// Initialize reports ErrUnsupported. speaker may be nil to run silently.
func New(provider stt.Provider, capture audio.Capture, speaker Speaker, cfg Config, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		capture:  capture,
		speaker:  speaker,
		cfg:      cfg.withDefaults(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnTranscript registers the single transcript handler, replacing any
// previous one.
func (s *Session) OnTranscript(fn func(types.Transcript)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = fn
}

// OnError registers the error handler. It runs after the apology has been
// spoken and the session is back in StateIdle.
func (s *Session) OnError(fn func(*Error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// OnStateChange registers a hook called on every state transition.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// SetContinuous toggles continuous listening.
func (s *Session) SetContinuous(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ContinuousListening = on
}

// SetGreeting toggles the one-time greeting.
func (s *Session) SetGreeting(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.EnableGreeting = on
}

// SetKeywords replaces the vocabulary hints used from the next cycle on.
func (s *Session) SetKeywords(kw []types.KeywordBoost) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Keywords = kw
}

// Initialize checks that an engine and a microphone are configured. It is
// idempotent.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if s.provider == nil || s.capture == nil {
		return ErrUnsupported
	}
	s.initialized = true
	observe.Logger(ctx).Info("recognition: initialized", "language", s.cfg.Language, "continuous", s.cfg.ContinuousListening)
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening reports whether the microphone is capturing right now.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// StartListening starts a capture cycle. A running cycle is stopped first
// and the microphone is given StartGrace to settle. Pending synthesis is
// cancelled, and the greeting is spoken (once per process) before capture
// opens. Without an engine or a microphone ErrUnsupported is announced and
// returned.
func (s *Session) StartListening(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return s.announce(ctx, ErrUnsupported)
	}

	s.mu.Lock()
	if s.cur != nil {
		s.stopLocked()
		grace := s.cfg.StartGrace
		s.mu.Unlock()
		select {
		case <-time.After(grace):
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.want = true
	s.cancelRestartLocked()
	gen := s.nextGenLocked()
	greet := s.cfg.EnableGreeting && !s.greeted && s.speaker != nil
	if greet {
		s.greeted = true
	}
	greeting := s.cfg.Greeting
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Cancel()
		if greet {
			if err := s.speaker.Speak(greeting, synth.Options{}).Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("recognition: greeting failed", "err", err)
			}
		}
	}
	return s.startCycle(ctx, gen)
}

// StopListening ends the current cycle, drops a pending continuous restart
// and cancels spoken feedback. It is always allowed and idempotent.
func (s *Session) StopListening() {
	s.mu.Lock()
	s.want = false
	s.cancelRestartLocked()
	s.stopLocked()
	notify := s.setStateLocked(StateIdle)
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Cancel()
	}
	notify()
}

// Cleanup stops listening, clears every callback and resets the greeting and
// continuous flags. It may be called any number of times.
func (s *Session) Cleanup() {
	s.mu.Lock()
	s.want = false
	s.cancelRestartLocked()
	s.stopLocked()
	s.state = StateIdle
	s.onTranscript, s.onError, s.onState = nil, nil, nil
	s.greeted = false
	s.cfg.ContinuousListening = false
	s.initialized = false
	s.mu.Unlock()
}

// stopLocked invalidates and releases the current cycle.
func (s *Session) stopLocked() {
	s.nextGenLocked()
	if c := s.cur; c != nil {
		s.cur = nil
		go c.release()
	}
}

func (s *Session) nextGenLocked() uint64 {
	s.gen++
	return s.gen
}

func (s *Session) cancelRestartLocked() {
	if s.restartCancel != nil {
		s.restartCancel()
		s.restartCancel = nil
	}
}

// setStateLocked records st and returns a function that runs the state hook.
// Call the returned function after releasing the lock.
func (s *Session) setStateLocked(st State) func() {
	if s.state == st {
		return func() {}
	}
	s.state = st
	fn := s.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(st) }
}

// startCycle opens the microphone and the engine stream for generation gen.
func (s *Session) startCycle(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if gen != s.gen || !s.want {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.mu.Unlock()

	cctx, cancel := context.WithCancel(context.Background())
	c := &cycle{gen: gen, cancel: cancel, started: time.Now()}

	stream, err := s.capture.Open(cctx, cfg.Format)
	if err != nil {
		c.release()
		return s.fail(ctx, gen, err)
	}
	c.stream = stream

	handle, err := s.provider.StartStream(cctx, stt.StreamConfig{
		SampleRate: cfg.Format.SampleRate,
		Channels:   cfg.Format.Channels,
		Language:   cfg.Language,
		Keywords:   cfg.Keywords,
	})
	if err != nil {
		c.release()
		return s.fail(ctx, gen, err)
	}
	c.handle = handle

	s.mu.Lock()
	if gen != s.gen || !s.want {
		s.mu.Unlock()
		c.release()
		return nil
	}
	s.cur = c
	if cfg.MaxDuration > 0 {
		c.timer = time.AfterFunc(cfg.MaxDuration, func() { s.finish(gen, nil, nil) })
	}
	notify := s.setStateLocked(StateListening)
	s.mu.Unlock()
	notify()

	observe.Logger(ctx).Debug("recognition: listening", "generation", gen)
	go s.pump(c)
	go s.collect(c)
	return nil
}

// pump forwards microphone frames to the engine.
func (s *Session) pump(c *cycle) {
	for frame := range c.stream.Frames() {
		if err := c.handle.SendAudio(frame.Data); err != nil {
			return
		}
	}
	if err := c.stream.Err(); err != nil {
		s.finish(c.gen, nil, err)
	}
}

// collect waits for the first non-empty final transcript of the cycle.
func (s *Session) collect(c *cycle) {
	go func() {
		for p := range c.handle.Partials() {
			slog.Debug("recognition: partial", "text", p.Text)
		}
	}()

	for t := range c.handle.Finals() {
		t.Text = strings.TrimSpace(t.Text)
		if t.Text == "" {
			continue
		}
		s.finish(c.gen, &t, nil)
		return
	}
	s.finish(c.gen, nil, c.handle.Err())
}

// finish ends cycle gen exactly once. Whichever of transcript, failure, max
// duration or engine end arrives first wins; later calls and calls for stale
// generations are ignored.
func (s *Session) finish(gen uint64, t *types.Transcript, err error) {
	s.mu.Lock()
	c := s.cur
	if c == nil || c.gen != gen {
		s.mu.Unlock()
		return
	}
	s.cur = nil
	s.nextGenLocked()
	elapsed := time.Since(c.started)
	s.mu.Unlock()

	go c.release()
	if s.metrics != nil {
		s.metrics.RecognitionCycleDuration.Record(context.Background(), elapsed.Seconds())
	}

	if err != nil {
		_ = s.announce(context.Background(), Classify(err))
		return
	}

	s.mu.Lock()
	handler := s.onTranscript
	restart := s.want && s.cfg.ContinuousListening
	var notify func()
	if restart {
		notify = s.setStateLocked(StateRestarting)
		s.scheduleRestartLocked()
	} else {
		s.want = false
		notify = s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	notify()

	if t != nil && handler != nil {
		handler(*t)
	}
}

// scheduleRestartLocked starts a new cycle after RestartDelay, once spoken
// feedback has drained. StopListening or a manual start cancels it.
func (s *Session) scheduleRestartLocked() {
	s.cancelRestartLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.restartCancel = cancel
	delay := s.cfg.RestartDelay
	speaker := s.speaker

	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if speaker != nil {
			select {
			case <-speaker.Idle():
			case <-ctx.Done():
				return
			}
		}

		s.mu.Lock()
		if ctx.Err() != nil || !s.want {
			s.mu.Unlock()
			return
		}
		s.restartCancel = nil
		gen := s.nextGenLocked()
		s.mu.Unlock()
		cancel()

		if err := s.startCycle(context.Background(), gen); err != nil {
			slog.Warn("recognition: continuous restart failed", "err", err)
		}
	}()
}

// fail handles a failure to open a cycle and returns the classified error.
func (s *Session) fail(ctx context.Context, gen uint64, err error) error {
	s.mu.Lock()
	stale := gen != s.gen || !s.want
	s.mu.Unlock()
	if stale {
		return nil
	}
	return s.announce(ctx, Classify(err))
}

// announce speaks the apology for e, returns to idle and reports e.
func (s *Session) announce(ctx context.Context, e *Error) *Error {
	s.mu.Lock()
	s.want = false
	s.cancelRestartLocked()
	notify := s.setStateLocked(StateError)
	s.mu.Unlock()
	notify()

	observe.Logger(ctx).Warn("recognition: failed", "code", e.Code, "err", e.Err)
	if s.metrics != nil {
		s.metrics.RecordRecognitionError(ctx, string(e.Code))
	}
	if s.speaker != nil {
		<-s.speaker.Speak(e.Message(), synth.Options{}).Done()
	}

	s.mu.Lock()
	handler := s.onError
	notify = func() {}
	if s.state == StateError {
		notify = s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	notify()

	if handler != nil {
		handler(e)
	}
	return e
}
