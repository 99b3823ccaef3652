package deepgram

import (
	"strings"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// utterance collects the is_final segments Deepgram emits during continuous
// speech. A segment is only a stable piece of the utterance; the utterance
// ends with speech_final, an UtteranceEnd event or the end of the stream.
type utterance struct {
	segments []types.Transcript
}

// add records a finalised segment. Empty segments are dropped.
func (u *utterance) add(t types.Transcript) {
	if strings.TrimSpace(t.Text) != "" {
		u.segments = append(u.segments, t)
	}
}

// empty reports whether no segment has been collected.
func (u *utterance) empty() bool { return len(u.segments) == 0 }

// preview joins the collected segments with an interim tail for live
// feedback. The result is never final.
func (u *utterance) preview(tail types.Transcript) types.Transcript {
	if u.empty() {
		return tail
	}
	joined := u.join()
	joined.IsFinal = false
	if text := strings.TrimSpace(tail.Text); text != "" {
		joined.Text += " " + text
		joined.Words = append(joined.Words, tail.Words...)
	}
	return joined
}

// flush returns the whole utterance as one final transcript and resets the
// collector. ok is false when nothing was collected.
func (u *utterance) flush() (types.Transcript, bool) {
	if u.empty() {
		return types.Transcript{}, false
	}
	t := u.join()
	u.segments = nil
	return t, true
}

// join merges the segments. The confidence is that of the least certain
// segment.
func (u *utterance) join() types.Transcript {
	first, last := u.segments[0], u.segments[len(u.segments)-1]
	texts := make([]string, 0, len(u.segments))
	var words []types.WordDetail
	conf := first.Confidence
	for _, s := range u.segments {
		texts = append(texts, strings.TrimSpace(s.Text))
		words = append(words, s.Words...)
		conf = min(conf, s.Confidence)
	}
	return types.Transcript{
		Text:       strings.Join(texts, " "),
		IsFinal:    true,
		Confidence: conf,
		Words:      words,
		Timestamp:  first.Timestamp,
		Duration:   last.Timestamp + last.Duration - first.Timestamp,
	}
}
