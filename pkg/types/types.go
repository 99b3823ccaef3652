// Package types defines the value types shared between the provider
// boundaries (pkg/provider/...) and the voice subsystem (internal/voice/...).
//
// Keeping them here avoids import cycles between the engine adapters and the
// managers that consume them.
package types

import "time"

// Transcript is one recognition result produced by a speech-to-text engine.
// Partial results drive UI indicators only; a final result is a completed
// utterance and is routed to exactly one consumer.
type Transcript struct {
	// Text is the recognised speech.
	Text string

	// IsFinal reports whether the engine has committed to this result.
	IsFinal bool

	// Confidence is the engine's confidence in the range [0, 1]. Zero when the
	// engine does not report one.
	Confidence float64

	// Words holds per-word timing when the engine provides it.
	Words []WordDetail

	// Timestamp marks the utterance start relative to stream start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// VoiceProfile describes one voice offered by a text-to-speech engine.
type VoiceProfile struct {
	// ID is the engine-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider names the engine that owns the voice.
	Provider string

	// Language is the BCP-47 tag of the voice (e.g. "en-US"). May be empty
	// when the engine does not report it.
	Language string

	// Gender is "female", "male" or empty when unknown.
	Gender string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds the remaining engine-specific labels.
	Metadata map[string]string
}

// KeywordBoost is a vocabulary hint for a speech-to-text engine. The command
// grammar's route names and verbs are passed this way so that short commands
// such as "journal" are recognised reliably.
type KeywordBoost struct {
	// Keyword is the word or phrase to boost.
	Keyword string

	// Boost is the engine-specific intensity.
	Boost float64
}
