// Package audio defines the microphone and speaker boundaries of the voice
// subsystem.
//
// The two device abstractions are:
//
//   - [Capture]: opens the microphone and yields PCM frames on a channel.
//   - [Playback]: plays a stream of PCM chunks on the speaker.
//
// Both devices are process-wide resources. The composition root constructs
// exactly one of each and hands the same value to every consumer; nothing in
// the voice subsystem opens a device on its own.
//
// Concrete implementations live in sub-packages (audio/portaudio) and test
// doubles in audio/mock.
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Capture.Open] when the operating
	// system refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceUnavailable is returned when no suitable input or output device
	// exists, or the device is held by another process.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
)

// Format describes the sample rate and channel count of a PCM stream.
// All PCM handled by this package is little-endian signed 16-bit.
type Format struct {
	SampleRate int
	Channels   int
}

// FrameBytes returns the number of bytes occupied by d of audio in f.
func (f Format) FrameBytes(d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * 2
}

// AudioFrame is one chunk of captured PCM audio.
type AudioFrame struct {
	// Data is little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (16000 for speech recognition).
	SampleRate int

	// Channels is 1 for mono.
	Channels int

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// CaptureStream is an open microphone session.
//
// Frames is closed when the stream ends, either because Close was called or
// because the device failed. After Frames closes, Err reports the failure (or
// nil after a clean Close). Close is idempotent.
type CaptureStream interface {
	Frames() <-chan AudioFrame
	Err() error
	Close() error
}

// Capture opens microphone sessions. Implementations must return
// [ErrPermissionDenied] or [ErrDeviceUnavailable] (possibly wrapped) for the
// corresponding conditions so callers can classify them.
type Capture interface {
	Open(ctx context.Context, format Format) (CaptureStream, error)
}

// Playback plays PCM audio on the speaker.
type Playback interface {
	// Play consumes chunks in format until the channel is closed or ctx is
	// cancelled, and blocks until the audio has been handed to the device.
	// When ctx is cancelled Play stops immediately, drains chunks in the
	// background and returns ctx.Err().
	Play(ctx context.Context, format Format, chunks <-chan []byte) error
}

// Device is a microphone and speaker pair owned by one process. Close
// releases the underlying host audio API.
type Device interface {
	Capture
	Playback
	Close() error
}
