// Package coqui provides an offline TTS provider backed by a local Coqui TTS
// server. It implements the tts.Provider interface.
//
// Two server flavours are supported:
//
//   - [APIModeStandard] (default): the stock Coqui TTS server. Speech comes
//     from GET /api/tts and the voice catalogue from GET /details.
//   - [APIModeXTTS]: the XTTS v2 API server. Speech comes from
//     POST /tts_to_audio/ and voices from GET /studio_speakers.
//
// Both servers answer one sentence per request with a WAV file. The provider
// converts every answer to the configured output format so it can stand in
// for a streaming engine behind the same speaker.
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// APIMode selects the server API.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	chunkSize       = 4096
)

// defaultOutput matches the speaker format of the voice service.
var defaultOutput = audio.Format{SampleRate: 16000, Channels: 1}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language sent with each request.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithOutputSampleRate sets the sample rate of the emitted PCM. Output is
// always mono.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.output.SampleRate = rate }
}

// Provider implements tts.Provider against a Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	mode       APIMode
	output     audio.Format
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL, for example
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		mode:       APIModeStandard,
		output:     defaultOutput,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.mode)
	}
	return p, nil
}

// SynthesizeStream splits the text into sentences and synthesises them in
// order. A failed request ends the stream; its error is returned by the
// stream's Err method. Rate and pitch are not supported and are ignored.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*tts.Stream, error) {
	if voice.ID == "" && p.mode == APIModeXTTS {
		return nil, fmt.Errorf("coqui: %w: XTTS needs a speaker", tts.ErrVoiceNotFound)
	}

	stream := tts.NewStream(64)
	go func() {
		var pending strings.Builder
		speak := func(sentence string) error {
			if strings.TrimSpace(sentence) == "" {
				return nil
			}
			pcm, err := p.synthesize(ctx, strings.TrimSpace(sentence), voice)
			if err != nil {
				return err
			}
			for len(pcm) > 0 {
				n := min(chunkSize, len(pcm))
				if !stream.Send(ctx, pcm[:n]) {
					return ctx.Err()
				}
				pcm = pcm[n:]
			}
			return nil
		}

		for {
			select {
			case frag, ok := <-text:
				if !ok {
					stream.Finish(speak(pending.String()))
					return
				}
				pending.WriteString(frag)
				for {
					s := pending.String()
					i := sentenceEnd(s)
					if i < 0 {
						break
					}
					pending.Reset()
					pending.WriteString(s[i+1:])
					if err := speak(s[:i+1]); err != nil {
						stream.Finish(err)
						return
					}
				}
			case <-ctx.Done():
				stream.Finish(ctx.Err())
				return
			}
		}
	}()
	return stream, nil
}

// sentenceEnd returns the index of the first '.', '!' or '?' that ends s or
// is followed by whitespace, or -1.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 == len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}

// synthesize renders one sentence and converts it to the output format.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error
	if p.mode == APIModeXTTS {
		body, _ := json.Marshal(map[string]string{
			"text":        sentence,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/tts_to_audio/", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {sentence}}
		if voice.ID != "" && voice.Metadata["type"] != "single-speaker" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+"/api/tts?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	data, err := p.do(req)
	if err != nil {
		return nil, err
	}
	f, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, f.SampleRate, p.output.SampleRate), nil
}

func (p *Provider) do(req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read %s: %w", req.URL.Path, err)
	}
	return data, nil
}

// ListVoices returns the server's speakers. A single-speaker standard model
// is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	path := "/details"
	if p.mode == APIModeXTTS {
		path = "/studio_speakers"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	data, err := p.do(req)
	if err != nil {
		return nil, err
	}

	if p.mode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := json.Unmarshal(data, &speakers); err != nil {
			return nil, fmt.Errorf("coqui: decode speakers: %w", err)
		}
		names := make([]string, 0, len(speakers))
		for name := range speakers {
			names = append(names, name)
		}
		slices.Sort(names)
		voices := make([]types.VoiceProfile, 0, len(names))
		for _, name := range names {
			voices = append(voices, p.profile(name, "studio", ""))
		}
		return voices, nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("coqui: decode details: %w", err)
	}
	if len(details.Speakers) == 0 {
		name := cmp.Or(details.ModelName, "default")
		return []types.VoiceProfile{p.profile(name, "single-speaker", details.ModelName)}, nil
	}
	speakers := slices.Sorted(slices.Values(details.Speakers))
	voices := make([]types.VoiceProfile, 0, len(speakers))
	for _, spk := range speakers {
		voices = append(voices, p.profile(spk, "speaker", details.ModelName))
	}
	return voices, nil
}

func (p *Provider) profile(name, kind, model string) types.VoiceProfile {
	meta := map[string]string{"type": kind}
	if model != "" {
		meta["model_name"] = model
	}
	return types.VoiceProfile{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Language: p.language,
		Metadata: meta,
	}
}
