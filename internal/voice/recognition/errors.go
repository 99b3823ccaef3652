package recognition

import (
	"context"
	"errors"
	"fmt"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
)

// Code classifies a recognition failure.
type Code string

const (
	CodeNoSpeech           Code = "no-speech"
	CodeAudioCapture       Code = "audio-capture"
	CodePermissionDenied   Code = "permission-denied"
	CodeNetwork            Code = "network"
	CodeAborted            Code = "aborted"
	CodeServiceUnavailable Code = "service-unavailable"
	CodeUnsupported        Code = "unsupported"
)

// Error is a classified recognition failure. Two Errors match under
// [errors.Is] when their codes are equal, so the sentinels below can be used
// as targets.
type Error struct {
	Code Code
	Err  error
}

var (
	// ErrUnsupported means no recognition engine or microphone is configured.
	ErrUnsupported = &Error{Code: CodeUnsupported}

	// ErrPermissionDenied means microphone access was refused.
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
)

func (e *Error) Error() string {
	if e.Err == nil {
		return "recognition: " + string(e.Code)
	}
	return fmt.Sprintf("recognition: %s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Message is the sentence announced to the user for this failure.
func (e *Error) Message() string {
	switch e.Code {
	case CodeNoSpeech:
		return "I didn't hear anything. Please try again."
	case CodeAudioCapture:
		return "I couldn't use your microphone. Please check that it is connected."
	case CodePermissionDenied:
		return "I don't have permission to use the microphone. Please allow microphone access and try again."
	case CodeNetwork:
		return "I'm having trouble connecting. Please check your internet connection and try again."
	case CodeAborted:
		return "Listening was interrupted. Please try again."
	case CodeUnsupported:
		return "Voice commands aren't available on this device."
	default:
		return "Voice recognition isn't available right now. Please try again in a moment."
	}
}

// Classify maps engine and device failures onto the error taxonomy. Unknown
// platform codes become CodeServiceUnavailable.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}

	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return &Error{Code: CodePermissionDenied, Err: err}
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return &Error{Code: CodeAudioCapture, Err: err}
	}

	switch stt.CodeOf(err) {
	case stt.CodeNoSpeech:
		return &Error{Code: CodeNoSpeech, Err: err}
	case stt.CodeAudioCapture:
		return &Error{Code: CodeAudioCapture, Err: err}
	case stt.CodeNotAllowed:
		return &Error{Code: CodePermissionDenied, Err: err}
	case stt.CodeNetwork:
		return &Error{Code: CodeNetwork, Err: err}
	case stt.CodeAborted:
		return &Error{Code: CodeAborted, Err: err}
	case "":
		if errors.Is(err, context.Canceled) {
			return &Error{Code: CodeAborted, Err: err}
		}
	}
	return &Error{Code: CodeServiceUnavailable, Err: err}
}
