package recognition_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/recognition"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want recognition.Code
	}{
		{name: "no speech", err: stt.NewPlatformError(stt.CodeNoSpeech, nil), want: recognition.CodeNoSpeech},
		{name: "audio capture", err: stt.NewPlatformError(stt.CodeAudioCapture, nil), want: recognition.CodeAudioCapture},
		{name: "not allowed", err: stt.NewPlatformError(stt.CodeNotAllowed, nil), want: recognition.CodePermissionDenied},
		{name: "service not allowed", err: stt.NewPlatformError(stt.CodeServiceNotAllowed, nil), want: recognition.CodeServiceUnavailable},
		{name: "network wrapped", err: fmt.Errorf("dial: %w", stt.NewPlatformError(stt.CodeNetwork, nil)), want: recognition.CodeNetwork},
		{name: "aborted", err: stt.NewPlatformError(stt.CodeAborted, nil), want: recognition.CodeAborted},
		{name: "unknown code", err: stt.NewPlatformError("language-not-supported", nil), want: recognition.CodeServiceUnavailable},
		{name: "plain error", err: errors.New("boom"), want: recognition.CodeServiceUnavailable},
		{name: "context canceled", err: context.Canceled, want: recognition.CodeAborted},
		{name: "mic denied", err: fmt.Errorf("open: %w", audio.ErrPermissionDenied), want: recognition.CodePermissionDenied},
		{name: "mic missing", err: audio.ErrDeviceUnavailable, want: recognition.CodeAudioCapture},
		{name: "already classified", err: recognition.ErrUnsupported, want: recognition.CodeUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := recognition.Classify(tc.err)
			if got.Code != tc.want {
				t.Errorf("Classify(%v).Code = %q, want %q", tc.err, got.Code, tc.want)
			}
			if got.Message() == "" || got.Message() == string(got.Code) {
				t.Errorf("Message() = %q, want a sentence", got.Message())
			}
		})
	}

	if recognition.Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}

func TestErrorIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("start: %w", &recognition.Error{Code: recognition.CodePermissionDenied, Err: audio.ErrPermissionDenied})
	if !errors.Is(err, recognition.ErrPermissionDenied) {
		t.Error("errors.Is does not match by code")
	}
	if errors.Is(err, recognition.ErrUnsupported) {
		t.Error("errors.Is matched a different code")
	}
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Error("Error does not unwrap to its cause")
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for s, want := range map[recognition.State]string{
		recognition.StateIdle:       "idle",
		recognition.StateListening:  "listening",
		recognition.StateRestarting: "restarting",
		recognition.StateError:      "error",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
