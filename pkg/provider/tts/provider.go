// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface: SynthesizeStream accepts a channel
// of text fragments and returns a [Stream] of raw PCM audio as it becomes
// available. Feedback sentences are short, so callers usually send a single
// fragment and close the text channel.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// ErrVoiceNotFound is returned when the requested voice is not offered by the
// provider.
var ErrVoiceNotFound = errors.New("tts: voice not found")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments and returns a stream of
	// little-endian 16-bit PCM. The stream's audio channel is closed when all
	// text has been synthesised, the engine fails or ctx is cancelled; an
	// engine failure reported after setup is returned by [Stream.Err].
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*Stream, error)

	// ListVoices returns the voices currently offered. An empty list is valid
	// while a backend is still loading its catalogue.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
