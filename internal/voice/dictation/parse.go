package dictation

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/phonetic"
)

// DateLayout and TimeLayout are the formats of parsed date and time values.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var clockRe = regexp.MustCompile(`^(?:at )?(\d{1,2})(?::(\d{2}))? ?(am|pm)?(?: o'clock)?$`)

// parseSelect matches an answer against options: exact first, then an option
// spoken inside a longer answer, then an answer that abbreviates an option,
// then the phonetic matcher when one is set.
func parseSelect(norm string, options []string, m *phonetic.Matcher) (string, bool) {
	for _, o := range options {
		if norm == normalize(o) {
			return o, true
		}
	}
	for _, o := range options {
		if contains(norm, normalize(o)) {
			return o, true
		}
	}
	if len(norm) >= 3 {
		for _, o := range options {
			if strings.HasPrefix(normalize(o), norm) {
				return o, true
			}
		}
	}
	if m != nil {
		if best, ok := m.Best(norm, options); ok {
			return best.Candidate, true
		}
	}
	return "", false
}

// parseDate resolves the relative phrases "tomorrow" and "next week" against
// now. Nothing else resolves.
func parseDate(norm string, now time.Time) (string, bool) {
	switch {
	case contains(norm, "tomorrow"):
		return now.AddDate(0, 0, 1).Format(DateLayout), true
	case contains(norm, "next week"):
		return now.AddDate(0, 0, 7).Format(DateLayout), true
	}
	return "", false
}

// parseTime accepts "noon", "midnight", "3 pm", "3:30 pm", "15:30" and
// "at 7".
func parseTime(norm string) (string, bool) {
	norm = strings.NewReplacer("a m", "am", "p m", "pm").Replace(norm)
	switch norm {
	case "noon", "midday":
		return "12:00", true
	case "midnight":
		return "00:00", true
	}

	m := clockRe.FindStringSubmatch(norm)
	if m == nil {
		return "", false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return "", false
	}
	switch m[3] {
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		hour %= 12
		if m[3] == "pm" {
			hour += 12
		}
	default:
		if hour > 23 {
			return "", false
		}
	}
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format(TimeLayout), true
}

// normalize lower-cases s and folds everything but letters, digits,
// apostrophes and colons to single spaces.
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

func contains(text, phrase string) bool {
	return phrase != "" && strings.Contains(" "+text+" ", " "+phrase+" ")
}
