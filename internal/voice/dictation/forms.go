package dictation

import (
	"fmt"
	"strings"
	"unicode"
)

// FieldType selects how a spoken answer is parsed.
type FieldType int

const (
	FieldText FieldType = iota
	FieldDate
	FieldSelect
	FieldTime
)

func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldDate:
		return "date"
	case FieldSelect:
		return "select"
	case FieldTime:
		return "time"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// ParseFieldType is the inverse of [FieldType.String].
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(s) {
	case "text":
		return FieldText, nil
	case "date":
		return FieldDate, nil
	case "select":
		return FieldSelect, nil
	case "time":
		return FieldTime, nil
	}
	return 0, fmt.Errorf("dictation: unknown field type %q", s)
}

// FieldSpec describes one question of a form.
type FieldSpec struct {
	Name     string
	Label    string
	Type     FieldType
	Options  []string
	Required bool
	// Prompt overrides the generated question.
	Prompt string
}

// Question returns the sentence that asks for this field. Select fields
// list their options; optional fields mention that they can be skipped.
func (f FieldSpec) Question() string {
	q := f.Prompt
	if q == "" {
		q = fmt.Sprintf("What's the %s?", strings.ToLower(f.Label))
	}
	if f.Type == FieldSelect && len(f.Options) > 0 {
		q += " Say " + orList(f.Options) + "."
	}
	if !f.Required {
		q += " You can say skip."
	}
	return q
}

// Form is one entry of the catalogue.
type Form struct {
	Type   string
	Title  string
	Fields []FieldSpec
}

// Event is the completion event name, e.g. "submitTaskForm".
func (f Form) Event() string {
	return EventName(f.Type)
}

// EventName returns "submit<FormType>Form" for formType.
func EventName(formType string) string {
	r := []rune(formType)
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return "submit" + string(r) + "Form"
}

var priority = FieldSpec{
	Name: "priority", Label: "Priority", Type: FieldSelect, Required: true,
	Options: []string{"high", "medium", "low"},
	Prompt:  "How important is it?",
}

// DefaultCatalogue returns the built-in forms keyed by form type.
func DefaultCatalogue() map[string]Form {
	return map[string]Form{
		"task": {Type: "task", Title: "task", Fields: []FieldSpec{
			{Name: "title", Label: "Title", Type: FieldText, Required: true, Prompt: "What's the task?"},
			{Name: "description", Label: "Description", Type: FieldText, Prompt: "Any details to add?"},
			{Name: "dueDate", Label: "Due date", Type: FieldDate, Prompt: "When is it due? Say tomorrow or next week."},
			priority,
		}},
		"homework": {Type: "homework", Title: "homework assignment", Fields: []FieldSpec{
			{Name: "subject", Label: "Subject", Type: FieldText, Required: true, Prompt: "Which subject is it for?"},
			{Name: "title", Label: "Title", Type: FieldText, Required: true, Prompt: "What's the assignment?"},
			{Name: "dueDate", Label: "Due date", Type: FieldDate, Prompt: "When is it due? Say tomorrow or next week."},
			priority,
		}},
		"journal": {Type: "journal", Title: "journal entry", Fields: []FieldSpec{
			{
				Name: "mood", Label: "Mood", Type: FieldSelect, Required: true,
				Options: []string{"great", "good", "okay", "bad", "awful"},
				Prompt:  "How are you feeling today?",
			},
			{Name: "title", Label: "Title", Type: FieldText, Prompt: "Do you want to give this entry a title?"},
			{Name: "content", Label: "Entry", Type: FieldText, Required: true, Prompt: "What's on your mind?"},
		}},
		"mindfulness": {Type: "mindfulness", Title: "mindfulness check-in", Fields: []FieldSpec{
			{
				Name: "exercise", Label: "Exercise", Type: FieldSelect, Required: true,
				Options: []string{"meditation", "breathing"},
				Prompt:  "Which exercise did you do?",
			},
			{
				Name: "feeling", Label: "Feeling", Type: FieldSelect, Required: true,
				Options: []string{"better", "same", "worse"},
				Prompt:  "How do you feel now compared to before?",
			},
			{Name: "notes", Label: "Notes", Type: FieldText, Prompt: "Anything you want to note?"},
		}},
	}
}

// orList joins items as "a, b, or c".
func orList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
	}
}
