package synth_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	audiomock "github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio/mock"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/elevenlabs"
	ttsmock "github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/mock"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestProviderEngine_Speak(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(100, 200), pcm(300)}}
	playback := &audiomock.Playback{}
	e := synth.NewProviderEngine(provider, playback, synth.DefaultFormat)

	voice := types.VoiceProfile{ID: "v1"}
	err := e.Speak(context.Background(), synth.Utterance{Text: "Opening tasks", Options: synth.Options{Rate: 1.5, Volume: 0.5}}, voice)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}

	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("synthesize calls = %d, want 1", len(calls))
	}
	if calls[0].Text != "Opening tasks" {
		t.Errorf("text = %q", calls[0].Text)
	}
	if calls[0].Voice.ID != "v1" || calls[0].Voice.SpeedFactor != 1.5 || calls[0].Voice.PitchShift != 0 {
		t.Errorf("voice = %+v", calls[0].Voice)
	}

	plays := playback.Calls()
	if len(plays) != 1 || plays[0].Bytes != 6 || plays[0].Interrupted {
		t.Errorf("playback = %+v", plays)
	}
	if plays[0].Format != synth.DefaultFormat {
		t.Errorf("format = %+v", plays[0].Format)
	}
}

func TestProviderEngine_SourceFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		source    audio.Format
		chunk     []byte
		wantBytes int
	}{
		{name: "matching", source: synth.DefaultFormat, chunk: pcm(1, 2, 3, 4), wantBytes: 8},
		{name: "upsample", source: audio.Format{SampleRate: 8000, Channels: 1}, chunk: pcm(1, 2, 3, 4), wantBytes: 16},
		{name: "downsample", source: audio.Format{SampleRate: 32000, Channels: 1}, chunk: pcm(1, 2, 3, 4), wantBytes: 4},
		{name: "stereo", source: audio.Format{SampleRate: 16000, Channels: 2}, chunk: pcm(1, 3, 5, 7), wantBytes: 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			playback := &audiomock.Playback{}
			e := synth.NewProviderEngine(&ttsmock.Provider{SynthesizeChunks: [][]byte{tc.chunk}}, playback,
				synth.DefaultFormat, synth.WithSourceFormat(tc.source))
			if err := e.Speak(context.Background(), synth.Utterance{Text: "hi"}, types.VoiceProfile{ID: "v"}); err != nil {
				t.Fatalf("Speak: %v", err)
			}
			plays := playback.Calls()
			if len(plays) != 1 || plays[0].Bytes != tc.wantBytes {
				t.Errorf("playback = %+v, want %d bytes", plays, tc.wantBytes)
			}
		})
	}
}

func TestProviderEngine_SynthesizeError(t *testing.T) {
	t.Parallel()

	boom := errors.New("quota exceeded")
	e := synth.NewProviderEngine(&ttsmock.Provider{SynthesizeErr: boom}, &audiomock.Playback{}, synth.DefaultFormat)
	if err := e.Speak(context.Background(), synth.Utterance{Text: "hi"}, types.VoiceProfile{ID: "v"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestProviderEngine_StreamError(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine crashed")
	playback := &audiomock.Playback{}
	e := synth.NewProviderEngine(&ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(1, 2)}, StreamErr: boom},
		playback, synth.DefaultFormat)

	err := e.Speak(context.Background(), synth.Utterance{Text: "hi"}, types.VoiceProfile{ID: "v"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if plays := playback.Calls(); len(plays) != 1 || plays[0].Bytes != 4 {
		t.Errorf("audio before the failure was not played: %+v", plays)
	}
}

func TestProviderEngine_EmptyVoiceUsesFirstListed(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(1)}, Voices: catalogue}
	e := synth.NewProviderEngine(provider, &audiomock.Playback{}, synth.DefaultFormat)

	for range 2 {
		if err := e.Speak(context.Background(), synth.Utterance{Text: "hi"}, types.VoiceProfile{}); err != nil {
			t.Fatalf("Speak: %v", err)
		}
	}
	for i, c := range provider.Calls() {
		if c.Voice.ID != catalogue[0].ID {
			t.Errorf("call %d voice = %q, want %q", i, c.Voice.ID, catalogue[0].ID)
		}
	}
	if n := provider.ListVoicesCalls(); n != 1 {
		t.Errorf("ListVoices calls = %d, want 1", n)
	}
}

func TestQueue_InBandEngineErrorRejectsResult(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/voices", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"rachel","name":"Rachel"}]}`))
	})
	mux.HandleFunc("/v1/text-to-speech/{voice}/stream-input", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"error":"invalid_api_key"}`))
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider, err := elevenlabs.New("bad-key", elevenlabs.WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	q := synth.New(synth.NewProviderEngine(provider, &audiomock.Playback{}, synth.DefaultFormat))
	defer q.Close()
	if err := q.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	r := q.Speak("Opening tasks", synth.Options{})
	err = waitResult(t, r)
	if err == nil || !strings.Contains(err.Error(), "invalid_api_key") {
		t.Errorf("result err = %v, want the engine's invalid_api_key", err)
	}
	if r.Interrupted() {
		t.Error("a failed utterance must not be reported as interrupted")
	}
}

func TestProviderEngine_CancelStopsPlayback(t *testing.T) {
	t.Parallel()

	playback := &audiomock.Playback{Hold: true}
	started := playback.Started()
	e := synth.NewProviderEngine(&ttsmock.Provider{SynthesizeChunks: [][]byte{pcm(1)}}, playback, synth.DefaultFormat)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.Speak(ctx, synth.Utterance{Text: "long"}, types.VoiceProfile{ID: "v"}) }()

	<-started
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after cancel")
	}
}

func TestQueue_WithProviderEngine(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{pcm(1, 2)},
		Voices:           catalogue,
	}
	q := synth.New(synth.NewProviderEngine(provider, &audiomock.Playback{}, synth.DefaultFormat),
		synth.WithVoicePreference("de", ""))
	defer q.Close()

	if err := q.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := waitResult(t, q.Speak("Hallo", synth.Options{})); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if calls := provider.Calls(); len(calls) != 1 || calls[0].Voice.ID != "de-m" {
		t.Errorf("calls = %+v", calls)
	}
}
