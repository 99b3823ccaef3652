// Package command maps a transcript to an application command.
//
// The [Interpreter] walks an ordered rule table and returns the result of the
// first rule that matches:
//
//  1. form open ("add a task", "new journal entry")
//  2. form field set ("set title to buy milk")
//  3. mindfulness ("start meditation", "breathing exercise")
//  4. navigation by route alias ("go to my tasks", "calendar")
//
// Anything else is a [Failure] with code [CommandNotRecognized]. The order is
// a tie-break policy: "add task" opens the task form even though "task" would
// also select a navigation alias.
package command

import (
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/phonetic"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

const (
	emptyFeedback        = "I didn't catch that. Please try again."
	unrecognisedFeedback = "Sorry, I didn't understand that. You can say things like go to tasks, or add a task."
)

var (
	formOpenRe   = regexp.MustCompile(`(?i)(?:^|\s)(?:add|new|create)\s+(?:a\s+|an\s+)?(?:new\s+)?(task|homework|journal)\b`)
	fieldSetRe   = regexp.MustCompile(`(?i)(?:^|\s)set\s+(?:the\s+|my\s+)?([a-z]+(?:\s[a-z]+)?)\s+to\s+(.+)$`)
	meditationRe = regexp.MustCompile(`(?i)(?:^|\s)(?:start\s+(?:a\s+)?meditation|meditate)\b`)
	breathingRe  = regexp.MustCompile(`(?i)(?:^|\s)(?:start\s+(?:a\s+)?breathing|breathing\s+exercise)\b`)
	navVerbRe    = regexp.MustCompile(`^(?:please\s+)?(?:go\s+to|open|show(?:\s+me)?|take\s+me\s+to|navigate\s+to|switch\s+to)\s+(?:the\s+|my\s+)?`)
)

var formOpen = map[string]struct{ fn, speech string }{
	"task":     {OpenTaskForm, "Opening a new task."},
	"homework": {OpenHomeworkForm, "Opening a new homework assignment."},
	"journal":  {OpenJournalForm, "Opening a new journal entry."},
}

// utterance is one input in the two shapes the rules look at.
type utterance struct {
	// clean keeps the speaker's casing with surrounding punctuation removed.
	clean string
	// norm is lower-cased with punctuation folded to spaces.
	norm string
}

// rule is one row of the grammar. match returns the submatches or nil.
type rule struct {
	name  string
	match func(u utterance) []string
	build func(u utterance, m []string) Result
}

// Option configures an [Interpreter].
type Option func(*Interpreter)

// WithRoutes replaces the navigation table.
func WithRoutes(routes []Route) Option {
	return func(i *Interpreter) { i.routes = slices.Clone(routes) }
}

// WithFuzzyNavigation enables a phonetic fallback for navigation that runs
// after the alias pass found nothing.
func WithFuzzyNavigation(m *phonetic.Matcher) Option {
	return func(i *Interpreter) { i.fuzzy = m }
}

// Interpreter is immutable after New and safe for concurrent use.
type Interpreter struct {
	routes  []Route
	fuzzy   *phonetic.Matcher
	rules   []rule
	aliases map[string]int // normalised alias -> index into routes
	ordered []string       // normalised aliases in table order
}

// New builds an Interpreter over [DefaultRoutes] unless WithRoutes is given.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{routes: DefaultRoutes()}
	for _, o := range opts {
		o(i)
	}

	i.aliases = make(map[string]int)
	for idx, r := range i.routes {
		for _, a := range append([]string{r.Name}, r.Aliases...) {
			n := normalize(a)
			if _, dup := i.aliases[n]; dup || n == "" {
				continue
			}
			i.aliases[n] = idx
			i.ordered = append(i.ordered, n)
		}
	}

	i.rules = []rule{
		{name: "form-open", match: regexMatch(formOpenRe), build: buildFormOpen},
		{name: "field-set", match: regexMatch(fieldSetRe), build: buildFieldSet},
		{name: "meditation", match: regexMatch(meditationRe), build: fixedAction(StartMeditation, "Starting a meditation session.")},
		{name: "breathing", match: regexMatch(breathingRe), build: fixedAction(StartBreathing, "Starting a breathing exercise.")},
		{name: "navigation", match: i.matchRoute, build: i.buildNavigation},
	}
	if i.fuzzy != nil {
		i.rules = append(i.rules, rule{name: "navigation-phonetic", match: i.matchRouteFuzzy, build: i.buildNavigation})
	}
	return i
}

// Interpret maps text to a Result. It never returns nil.
func (i *Interpreter) Interpret(text string) Result {
	u := utterance{clean: clean(text), norm: normalize(text)}
	if u.norm == "" {
		return Failure{Code: EmptyCommand, Message: emptyFeedback}
	}

	for _, r := range i.rules {
		m := r.match(u)
		if m == nil {
			continue
		}
		res := r.build(u, m)
		slog.Debug("command: matched", "rule", r.name, "text", u.clean, "kind", res.Kind())
		return res
	}

	slog.Debug("command: not recognised", "text", u.clean)
	return Failure{Code: CommandNotRecognized, Message: unrecognisedFeedback}
}

// Routes returns a copy of the navigation table.
func (i *Interpreter) Routes() []Route {
	return slices.Clone(i.routes)
}

// Vocabulary returns the words and phrases the grammar depends on, for use as
// recognition keyword hints.
func (i *Interpreter) Vocabulary() []types.KeywordBoost {
	words := []string{"add", "new", "create", "task", "homework", "journal", "set", "meditation", "meditate", "breathing", "exercise", "cancel", "skip"}
	words = append(words, i.ordered...)

	seen := make(map[string]bool, len(words))
	out := make([]types.KeywordBoost, 0, len(words))
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, types.KeywordBoost{Keyword: w, Boost: 1.5})
	}
	return out
}

func (i *Interpreter) matchRoute(u utterance) []string {
	for _, a := range i.ordered {
		if contains(u.norm, a) {
			return []string{a}
		}
	}
	return nil
}

func (i *Interpreter) matchRouteFuzzy(u utterance) []string {
	rest := strings.TrimSpace(navVerbRe.ReplaceAllString(u.norm, ""))
	if rest == "" {
		return nil
	}
	m, ok := i.fuzzy.Best(rest, i.ordered)
	if !ok {
		return nil
	}
	return []string{m.Candidate}
}

func (i *Interpreter) buildNavigation(_ utterance, m []string) Result {
	r := i.routes[i.aliases[m[0]]]
	return Navigation{Route: r.Path, RouteName: r.Name}
}

func regexMatch(re *regexp.Regexp) func(utterance) []string {
	return func(u utterance) []string { return re.FindStringSubmatch(u.clean) }
}

func buildFormOpen(_ utterance, m []string) Result {
	form := strings.ToLower(m[1])
	f := formOpen[form]
	return Action{
		FunctionName: f.fn,
		Parameters:   map[string]any{"formType": form},
		Confirmation: f.speech,
	}
}

func buildFieldSet(_ utterance, m []string) Result {
	field := fieldName(m[1])
	value := strings.TrimSpace(m[2])
	return Action{
		FunctionName: SetFormField,
		Parameters:   map[string]any{"field": field, "value": value},
		Confirmation: "Setting " + strings.ToLower(m[1]) + " to " + value + ".",
	}
}

func fixedAction(fn, speech string) func(utterance, []string) Result {
	return func(utterance, []string) Result {
		return Action{FunctionName: fn, Parameters: map[string]any{}, Confirmation: speech}
	}
}

// fieldName turns a spoken field name into its form key ("due date" ->
// "dueDate").
func fieldName(spoken string) string {
	words := strings.Fields(strings.ToLower(spoken))
	for j := 1; j < len(words); j++ {
		r := []rune(words[j])
		r[0] = unicode.ToUpper(r[0])
		words[j] = string(r)
	}
	return strings.Join(words, "")
}

// clean trims whitespace and sentence punctuation and collapses inner runs
// of whitespace.
func clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?,;")
}

// normalize lower-cases s and folds every rune other than letters, digits,
// apostrophes and colons to a single space.
func normalize(s string) string {
	folded := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '\'', r == ':':
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(folded), " ")
}
