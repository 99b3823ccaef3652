package command

import "fmt"

// Kind tags the variant of a [Result].
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindAction     Kind = "action"
	KindFailure    Kind = "failure"
)

// Action function names understood by the UI layer.
const (
	OpenTaskForm     = "openTaskForm"
	OpenHomeworkForm = "openHomeworkForm"
	OpenJournalForm  = "openJournalForm"
	SetFormField     = "setFormField"
	StartMeditation  = "startMeditation"
	StartBreathing   = "startBreathing"
)

// FailureCode identifies why an utterance produced no command.
type FailureCode string

const (
	EmptyCommand         FailureCode = "EmptyCommand"
	CommandNotRecognized FailureCode = "CommandNotRecognized"
)

// Result is the outcome of interpreting one utterance. It is one of
// [Navigation], [Action] or [Failure].
type Result interface {
	Kind() Kind
	// Feedback is the sentence spoken back to the user.
	Feedback() string
	sealed()
}

// Navigation asks the host router to show a route.
type Navigation struct {
	Route     string
	RouteName string
}

func (Navigation) Kind() Kind { return KindNavigation }

func (n Navigation) Feedback() string { return fmt.Sprintf("Going to %s.", n.RouteName) }

func (Navigation) sealed() {}

// Action asks the UI layer to run a named handler.
type Action struct {
	FunctionName string
	Parameters   map[string]any
	// Confirmation is the spoken feedback for this action.
	Confirmation string
}

func (Action) Kind() Kind { return KindAction }

func (a Action) Feedback() string { return a.Confirmation }

func (Action) sealed() {}

// FormType returns the form an open*Form action refers to, or "".
func (a Action) FormType() string {
	if s, ok := a.Parameters["formType"].(string); ok {
		return s
	}
	return ""
}

// Failure reports an utterance that did not map to a command. It is not an
// error condition.
type Failure struct {
	Code    FailureCode
	Message string
}

func (Failure) Kind() Kind { return KindFailure }

func (f Failure) Feedback() string { return f.Message }

func (Failure) sealed() {}
