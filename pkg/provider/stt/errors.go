package stt

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned by optional SessionHandle operations that a
// provider does not implement.
var ErrNotSupported = errors.New("stt: operation not supported")

// Platform error codes reported by recognition engines. They mirror the codes
// of browser speech recognition so that every backend speaks one vocabulary.
const (
	CodeNoSpeech          = "no-speech"
	CodeAudioCapture      = "audio-capture"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeNetwork           = "network"
	CodeAborted           = "aborted"
)

// PlatformError is a failure reported by the recognition engine, tagged with
// a platform error code. Codes outside the constants above are allowed and are
// treated by consumers as a generic service failure.
type PlatformError struct {
	Code string
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Err == nil {
		return "stt: " + e.Code
	}
	return fmt.Sprintf("stt: %s: %v", e.Code, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// NewPlatformError is a convenience constructor.
func NewPlatformError(code string, err error) *PlatformError {
	return &PlatformError{Code: code, Err: err}
}

// CodeOf returns the platform code carried by err, or "" if err does not wrap
// a *PlatformError.
func CodeOf(err error) string {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
