// Package phonetic ranks spoken phrases against a closed vocabulary using
// Double Metaphone keys and Jaro-Winkler similarity.
//
// Speech engines mishear short words ("jurnal", "calender", "home work").
// A candidate whose phonetic keys overlap the input's keys is accepted at a
// lower similarity than one that only looks alike on paper. When no candidate
// sounds alike, the best purely textual match must clear a stricter
// threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a candidate that
// shares a phonetic key with the input.
func WithPhoneticThreshold(v float64) Option {
	return func(m *Matcher) { m.phoneticMin = v }
}

// WithFuzzyThreshold sets the minimum similarity for a candidate without any
// phonetic overlap.
func WithFuzzyThreshold(v float64) Option {
	return func(m *Matcher) { m.fuzzyMin = v }
}

// Match is the winning candidate of [Matcher.Best].
type Match struct {
	Candidate string
	Score     float64
	// Phonetic reports whether the candidate shared a phonetic key with the
	// input.
	Phonetic bool
}

// Matcher is immutable after New and safe for concurrent use.
type Matcher struct {
	phoneticMin float64
	fuzzyMin    float64
}

// New returns a Matcher with the default thresholds.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticMin: DefaultPhoneticThreshold,
		fuzzyMin:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Best returns the candidate closest to input. Phonetic matches always beat
// textual ones; among equals the higher score wins and ties keep the earlier
// candidate. The original casing of the candidate is preserved.
func (m *Matcher) Best(input string, candidates []string) (Match, bool) {
	in := newPhrase(input)
	if len(in.tokens) == 0 {
		return Match{}, false
	}

	var best Match
	found := false
	for _, c := range candidates {
		cp := newPhrase(c)
		if len(cp.tokens) == 0 {
			continue
		}
		score := similarity(in, cp)
		sounds := in.soundsLike(cp)

		switch {
		case sounds && score >= m.phoneticMin:
			if !best.Phonetic || score > best.Score {
				best, found = Match{Candidate: c, Score: score, Phonetic: true}, true
			}
		case !sounds && !best.Phonetic && score >= m.fuzzyMin:
			if !found || score > best.Score {
				best, found = Match{Candidate: c, Score: score}, true
			}
		}
	}
	return best, found
}

// phrase is a lower-cased, tokenised string with its phonetic keys.
type phrase struct {
	full   string
	tokens []string
	keys   map[string]struct{}
}

func newPhrase(s string) phrase {
	full := strings.ToLower(strings.TrimSpace(s))
	p := phrase{full: full, tokens: strings.Fields(full), keys: map[string]struct{}{}}
	for _, tok := range p.tokens {
		primary, alternate := matchr.DoubleMetaphone(tok)
		for _, k := range []string{primary, alternate} {
			if k != "" {
				p.keys[k] = struct{}{}
			}
		}
	}
	return p
}

func (p phrase) soundsLike(o phrase) bool {
	small, large := p.keys, o.keys
	if len(small) > len(large) {
		small, large = large, small
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the whole strings, the
// strings with spaces removed and every token pair.
func similarity(a, b phrase) float64 {
	score := matchr.JaroWinkler(a.full, b.full, false)
	if len(a.tokens) > 1 || len(b.tokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(a.tokens, ""), strings.Join(b.tokens, ""), false))
	}
	for _, x := range a.tokens {
		for _, y := range b.tokens {
			score = max(score, matchr.JaroWinkler(x, y, false))
		}
	}
	return score
}
