// Package dictation runs a spoken, one-field-at-a-time dialogue that fills
// in a form.
//
// A [Controller] holds at most one dialogue. [Controller.Start] speaks the
// first question; every [Controller.HandleInput] parses the answer against
// the current field, then either asks again (the field index does not move)
// or stores the value, acknowledges it and asks the next question. After the
// last field the controller emits a [Completion] named "submit<Form>Form"
// and returns to the inactive state.
//
// The controller has no timeout. A dialogue ends by completing, by the user
// saying "cancel" or "stop dictation", or by an external [Controller.Cancel].
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/phonetic"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
)

// ErrUnknownForm is returned by Start for a form type not in the catalogue.
var ErrUnknownForm = errors.New("dictation: unknown form type")

const (
	cancelledSpeech = "Okay, I stopped filling in the form."
	clarifyPrefix   = "Sorry, I didn't get that. "
)

// Speaker is the spoken output of the controller. *synth.Queue satisfies it.
type Speaker interface {
	Speak(text string, opts synth.Options) *synth.Result
}

// State is a snapshot of the active dialogue.
type State struct {
	FormType   string
	FieldIndex int
	Fields     []FieldSpec
	Values     map[string]any
}

// Completion is emitted when the last field has been answered. Skipped
// optional fields are present with a nil value.
type Completion struct {
	Event       string
	FormType    string
	Values      map[string]any
	CompletedAt time.Time
}

// Outcome classifies the effect of one input.
type Outcome int

const (
	// Inactive means no dialogue was running; the input was ignored.
	Inactive Outcome = iota
	// Clarify means the answer did not parse and the question was repeated.
	Clarify
	// Advanced means the value was stored and the next question was asked.
	Advanced
	// Completed means the form is done; Step.Completion is set.
	Completed
	// Cancelled means the user abandoned the dialogue.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Inactive:
		return "inactive"
	case Clarify:
		return "clarify"
	case Advanced:
		return "advanced"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Step reports what HandleInput did.
type Step struct {
	Outcome Outcome
	// Field is the field the input was parsed against.
	Field string
	// Value is the stored value for Advanced and Completed steps.
	Value any
	// Speech lists the sentences queued for this step in order.
	Speech     []string
	Completion *Completion
}

// Option configures a [Controller].
type Option func(*Controller)

// WithClock replaces time.Now for relative dates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithCatalogue replaces the form catalogue.
func WithCatalogue(forms map[string]Form) Option {
	return func(c *Controller) { c.catalogue = maps.Clone(forms) }
}

// WithSelectMatcher enables phonetic matching of select options after the
// exact and substring passes failed.
func WithSelectMatcher(m *phonetic.Matcher) Option {
	return func(c *Controller) { c.matcher = m }
}

// Controller is the form dictation controller. All methods are safe for
// concurrent use.
type Controller struct {
	speaker   Speaker
	now       func() time.Time
	catalogue map[string]Form
	matcher   *phonetic.Matcher

	mu     sync.Mutex
	active *State
}

// New creates a Controller over [DefaultCatalogue]. speaker may be nil.
func New(speaker Speaker, opts ...Option) *Controller {
	c := &Controller{
		speaker:   speaker,
		now:       time.Now,
		catalogue: DefaultCatalogue(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Forms returns the catalogue's form types in sorted order.
func (c *Controller) Forms() []string {
	return slices.Sorted(maps.Keys(c.catalogue))
}

// Form returns the catalogue entry for formType.
func (c *Controller) Form(formType string) (Form, bool) {
	f, ok := c.catalogue[formType]
	return f, ok
}

// Start begins a dialogue for formType, replacing any active one, and speaks
// the first question.
func (c *Controller) Start(ctx context.Context, formType string) error {
	form, ok := c.catalogue[formType]
	if !ok || len(form.Fields) == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownForm, formType)
	}

	log := observe.Logger(ctx)
	c.mu.Lock()
	if c.active != nil {
		log.Info("dictation: replacing active dialogue", "previous", c.active.FormType, "form", formType)
	}
	c.active = &State{
		FormType: formType,
		Fields:   slices.Clone(form.Fields),
		Values:   make(map[string]any, len(form.Fields)),
	}
	c.mu.Unlock()

	log.Info("dictation: started", "form", formType, "fields", len(form.Fields))
	c.say(fmt.Sprintf("Let's add a new %s. %s", formTitle(form), form.Fields[0].Question()))
	return nil
}

// HandleInput applies one spoken answer to the active dialogue.
func (c *Controller) HandleInput(ctx context.Context, text string) Step {
	norm := normalize(text)
	log := observe.Logger(ctx)

	c.mu.Lock()
	st := c.active
	if st == nil {
		c.mu.Unlock()
		return Step{Outcome: Inactive}
	}
	field := st.Fields[st.FieldIndex]

	if norm == "cancel" || norm == "stop dictation" || norm == "cancel dictation" {
		c.active = nil
		c.mu.Unlock()
		log.Info("dictation: cancelled by user", "form", st.FormType, "field", field.Name)
		return c.speak(Step{Outcome: Cancelled, Field: field.Name, Speech: []string{cancelledSpeech}})
	}

	value, ok := c.parse(field, text, norm)
	if !ok {
		c.mu.Unlock()
		log.Debug("dictation: unresolved answer", "form", st.FormType, "field", field.Name, "text", text)
		return c.speak(Step{Outcome: Clarify, Field: field.Name, Speech: []string{clarifyPrefix + field.Question()}})
	}

	st.Values[field.Name] = value
	st.FieldIndex++
	step := Step{Outcome: Advanced, Field: field.Name, Value: value}
	step.Speech = append(step.Speech, acknowledge(field, value))

	if st.FieldIndex < len(st.Fields) {
		step.Speech = append(step.Speech, st.Fields[st.FieldIndex].Question())
		c.mu.Unlock()
		return c.speak(step)
	}

	c.active = nil
	c.mu.Unlock()

	form := c.catalogue[st.FormType]
	step.Outcome = Completed
	step.Completion = &Completion{
		Event:       EventName(st.FormType),
		FormType:    st.FormType,
		Values:      st.Values,
		CompletedAt: c.now(),
	}
	step.Speech = append(step.Speech, fmt.Sprintf("All done. Your %s is ready.", formTitle(form)))
	log.Info("dictation: completed", "form", st.FormType, "event", step.Completion.Event)
	return c.speak(step)
}

// Cancel abandons the active dialogue without speaking. It reports whether
// a dialogue was active.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	slog.Info("dictation: cancelled", "form", c.active.FormType)
	c.active = nil
	return true
}

// Active reports whether a dialogue is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// FormType returns the active form type or "".
func (c *Controller) FormType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.FormType
}

// State returns a copy of the active dialogue.
func (c *Controller) State() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return State{}, false
	}
	return State{
		FormType:   c.active.FormType,
		FieldIndex: c.active.FieldIndex,
		Fields:     slices.Clone(c.active.Fields),
		Values:     maps.Clone(c.active.Values),
	}, true
}

// parse resolves one answer. Optional fields take an empty answer or "skip"
// as nil.
func (c *Controller) parse(f FieldSpec, raw, norm string) (any, bool) {
	if !f.Required && (norm == "" || norm == "skip") {
		return nil, true
	}
	if norm == "" {
		return nil, false
	}

	switch f.Type {
	case FieldSelect:
		if v, ok := parseSelect(norm, f.Options, c.matcher); ok {
			return v, true
		}
	case FieldDate:
		if v, ok := parseDate(norm, c.now()); ok {
			return v, true
		}
	case FieldTime:
		if v, ok := parseTime(norm); ok {
			return v, true
		}
	default:
		return strings.TrimSpace(raw), true
	}
	return nil, false
}

func (c *Controller) speak(step Step) Step {
	for _, s := range step.Speech {
		c.say(s)
	}
	return step
}

func (c *Controller) say(text string) {
	if c.speaker != nil {
		c.speaker.Speak(text, synth.Options{})
	}
}

func acknowledge(f FieldSpec, v any) string {
	if v == nil {
		return fmt.Sprintf("Okay, skipping %s.", strings.ToLower(f.Label))
	}
	if f.Type == FieldText {
		return "Got it."
	}
	return fmt.Sprintf("Got it, %s.", v)
}

func formTitle(f Form) string {
	if f.Title != "" {
		return f.Title
	}
	return f.Type
}
