package coqui_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/coqui"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// wavOf returns n samples of 22.05 kHz mono audio as a WAV file.
func wavOf(n int) []byte {
	return audio.EncodeWAV(make([]byte, n*2), audio.Format{SampleRate: 22050, Channels: 1})
}

func textOf(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func collect(t *testing.T, s *tts.Stream) []byte {
	t.Helper()
	var pcm []byte
	timeout := time.After(3 * time.Second)
	for {
		select {
		case chunk, ok := <-s.Audio():
			if !ok {
				return pcm
			}
			pcm = append(pcm, chunk...)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	if _, err := coqui.New(""); err == nil {
		t.Error("expected error for empty serverURL")
	}
	if _, err := coqui.New("http://localhost:5002", coqui.WithAPIMode("bogus")); err == nil {
		t.Error("expected error for unknown API mode")
	}
}

func TestSynthesizeStream_Standard(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var sentences []string
	var speaker string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		sentences = append(sentences, r.URL.Query().Get("text"))
		speaker = r.URL.Query().Get("speaker_id")
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wavOf(2205))
	}))
	t.Cleanup(srv.Close)

	p, err := coqui.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	stream, err := p.SynthesizeStream(context.Background(),
		textOf("Time for ", "homework. Start with ", "maths!", " Then rest"),
		types.VoiceProfile{ID: "p225"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}

	pcm := collect(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	// Three sentences of 100 ms each, resampled to 16 kHz.
	if got, want := len(pcm), 3*1600*2; got != want {
		t.Errorf("got %d bytes, want %d", got, want)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"Time for homework.", "Start with maths!", "Then rest"}
	if !slices.Equal(sentences, want) {
		t.Errorf("sentences = %q, want %q", sentences, want)
	}
	if speaker != "p225" {
		t.Errorf("speaker_id = %q", speaker)
	}
}

func TestSynthesizeStream_XTTS(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tts_to_audio/" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(wavOf(100))
	}))
	t.Cleanup(srv.Close)

	p, _ := coqui.New(srv.URL, coqui.WithAPIMode(coqui.APIModeXTTS), coqui.WithLanguage("de"))

	if _, err := p.SynthesizeStream(context.Background(), textOf("Hallo."), types.VoiceProfile{}); !errors.Is(err, tts.ErrVoiceNotFound) {
		t.Errorf("empty voice: err = %v, want ErrVoiceNotFound", err)
	}

	stream, err := p.SynthesizeStream(context.Background(), textOf("Hallo."), types.VoiceProfile{ID: "Ana Florence"})
	if err != nil {
		t.Fatal(err)
	}
	if pcm := collect(t, stream); len(pcm) == 0 {
		t.Error("no audio")
	}
	if got["speaker_wav"] != "Ana Florence" || got["language"] != "de" || got["text"] != "Hallo." {
		t.Errorf("request body = %v", got)
	}
}

func TestSynthesizeStream_FailureEndsStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "model crashed", http.StatusInternalServerError) },
			wantErr: "status 500",
		},
		{
			name:    "not a wav",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("<html>oops</html>")) },
			wantErr: audio.ErrNotWAV.Error(),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			p, _ := coqui.New(srv.URL)
			stream, err := p.SynthesizeStream(context.Background(), textOf("One. Two."), types.VoiceProfile{})
			if err != nil {
				t.Fatal(err)
			}
			if pcm := collect(t, stream); len(pcm) != 0 {
				t.Errorf("got %d bytes of audio", len(pcm))
			}
			if err := stream.Err(); err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Err = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    coqui.APIMode
		path    string
		body    string
		wantIDs []string
	}{
		{
			name:    "multi speaker",
			mode:    coqui.APIModeStandard,
			path:    "/details",
			body:    `{"model_name":"vctk/vits","speakers":["p326","p225"]}`,
			wantIDs: []string{"p225", "p326"},
		},
		{
			name:    "single speaker",
			mode:    coqui.APIModeStandard,
			path:    "/details",
			body:    `{"model_name":"ljspeech/vits","speakers":[]}`,
			wantIDs: []string{"ljspeech/vits"},
		},
		{
			name:    "xtts studio speakers",
			mode:    coqui.APIModeXTTS,
			path:    "/studio_speakers",
			body:    `{"Claribel Dervla":{},"Ana Florence":{}}`,
			wantIDs: []string{"Ana Florence", "Claribel Dervla"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tc.path {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			p, _ := coqui.New(srv.URL, coqui.WithAPIMode(tc.mode))
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var ids []string
			for _, v := range voices {
				ids = append(ids, v.ID)
				if v.Provider != "coqui" {
					t.Errorf("voice %q provider = %q", v.ID, v.Provider)
				}
			}
			if !slices.Equal(ids, tc.wantIDs) {
				t.Errorf("ids = %q, want %q", ids, tc.wantIDs)
			}
		})
	}
}
