// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. Once opened, a SessionHandle
// accepts raw PCM audio frames and emits two streams of transcripts: low
// latency partials for live feedback and authoritative finals that are routed
// as commands.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the speech default.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string

	// Keywords boosts recognition of the command vocabulary (route names,
	// form names, field names).
	Keywords []types.KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of PCM audio matching StreamConfig. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan types.Transcript

	// Err reports why the session ended. It is only meaningful after Finals
	// has been closed and returns nil for a session ended by Close. Non-nil
	// values should be (or wrap) a *PlatformError so callers can classify them.
	Err() error

	// SetKeywords replaces the active keyword list. Providers that cannot
	// update mid-session return ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session and releases its resources. After Close
	// returns, Partials and Finals are closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The returned
	// SessionHandle is ready to accept audio immediately. Connection failures
	// should be reported as a *PlatformError.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
