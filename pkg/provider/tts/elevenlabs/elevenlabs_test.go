package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// ---- voice settings ----

func TestSettingsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		speed float64
		want  float64
	}{
		{name: "unset", speed: 0, want: 0},
		{name: "in range", speed: 1.1, want: 1.1},
		{name: "clamped low", speed: 0.5, want: minSpeed},
		{name: "clamped high", speed: 2, want: maxSpeed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			vs := settingsFor(types.VoiceProfile{SpeedFactor: tc.speed})
			if vs.Speed != tc.want {
				t.Errorf("Speed = %v, want %v", vs.Speed, tc.want)
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	u, err := url.Parse(p.streamURL("voice-abc123"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" {
		t.Errorf("scheme = %q, want wss", u.Scheme)
	}
	if u.Path != "/v1/text-to-speech/voice-abc123/stream-input" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("model_id"); got != "eleven_multilingual_v2" {
		t.Errorf("model_id = %q", got)
	}
	if got := u.Query().Get("output_format"); got != "pcm_24000" {
		t.Errorf("output_format = %q", got)
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Labels(t *testing.T) {
	t.Parallel()

	p, _ := New("key", WithDefaultLanguage("en-US"))
	raw := []byte(`{
		"voices": [
			{"voice_id": "abc123", "name": "Rachel", "category": "premade",
			 "labels": {"gender": "Female", "accent": "american"}},
			{"voice_id": "def456", "name": "Hans", "category": "cloned",
			 "labels": {"gender": "male", "language": "de"}},
			{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}
		]
	}`)

	profiles, err := p.parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("expected 3 profiles, got %d", len(profiles))
	}

	rachel := profiles[0]
	if rachel.ID != "abc123" || rachel.Provider != "elevenlabs" {
		t.Errorf("unexpected profile %+v", rachel)
	}
	if rachel.Gender != "female" {
		t.Errorf("Gender = %q, want female", rachel.Gender)
	}
	if rachel.Language != "en-US" {
		t.Errorf("Language = %q, want default en-US", rachel.Language)
	}
	if rachel.Metadata["accent"] != "american" || rachel.Metadata["category"] != "premade" {
		t.Errorf("Metadata = %v", rachel.Metadata)
	}

	if profiles[1].Language != "de" {
		t.Errorf("Language = %q, want de", profiles[1].Language)
	}
	if _, ok := profiles[2].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- HTTP / WebSocket round trips ----

func TestListVoices_HTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" || r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Aria","labels":{"gender":"female"}}]}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" || voices[0].Gender != "female" {
		t.Errorf("voices = %+v", voices)
	}

	bad, _ := New("wrong", WithBaseURLs("ws://unused", srv.URL))
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error for unauthorized request")
	}
}

func TestSynthesizeStream_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	gotText := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg struct {
				Text     string `json:"text"`
				XiAPIKey string `json:"xi_api_key"`
			}
			_ = json.Unmarshal(data, &msg)
			if msg.XiAPIKey != "" {
				continue
			}
			if msg.Text == "" {
				resp, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(pcm)})
				_ = conn.Write(ctx, websocket.MessageText, resp)
				final, _ := json.Marshal(audioResponse{IsFinal: true})
				_ = conn.Write(ctx, websocket.MessageText, final)
				return
			}
			gotText <- msg.Text
		}
	}))
	t.Cleanup(srv.Close)

	p, _ := New("key", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text := make(chan string, 1)
	text <- "Opening tasks"
	close(text)

	stream, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for chunk := range stream.Audio() {
		got = append(got, chunk...)
	}
	if string(got) != string(pcm) {
		t.Errorf("audio = %v, want %v", got, pcm)
	}
	if err := stream.Err(); err != nil {
		t.Errorf("Err = %v, want nil", err)
	}
	if txt := <-gotText; txt != "Opening tasks " {
		t.Errorf("text = %q", txt)
	}
}

// rejectingServer answers the handshake with an in-band error, the way
// ElevenLabs reports a bad key or an exhausted quota.
func rejectingServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(reply))
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesizeStream_InBandError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{name: "invalid key", reply: `{"error":"invalid_api_key","message":"Invalid API key"}`, wantErr: "invalid_api_key: Invalid API key"},
		{name: "quota", reply: `{"error":"quota_exceeded"}`, wantErr: "quota_exceeded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := rejectingServer(t, tc.reply)
			p, _ := New("bad-key", WithBaseURLs("ws"+strings.TrimPrefix(srv.URL, "http"), srv.URL))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			text := make(chan string, 1)
			text <- "Opening tasks"
			close(text)

			stream, err := p.SynthesizeStream(ctx, text, types.VoiceProfile{ID: "v1"})
			if err != nil {
				t.Fatalf("SynthesizeStream: %v", err)
			}
			n := 0
			for range stream.Audio() {
				n++
			}
			if n != 0 {
				t.Errorf("got %d audio chunks, want none", n)
			}
			err = stream.Err()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Err = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	_, err := p.SynthesizeStream(context.Background(), make(chan string), types.VoiceProfile{})
	if !errors.Is(err, tts.ErrVoiceNotFound) {
		t.Errorf("err = %v, want ErrVoiceNotFound", err)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
	if p.defaultLanguage != defaultLanguage {
		t.Errorf("expected defaultLanguage %q, got %q", defaultLanguage, p.defaultLanguage)
	}
}
