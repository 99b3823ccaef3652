// Package whisper provides an offline STT provider backed by a local
// whisper.cpp server (the whisper-server binary and its POST /inference
// endpoint). It implements the stt.Provider interface.
//
// whisper.cpp transcribes whole recordings, so a session buffers microphone
// audio, ends an utterance after a stretch of silence and submits it as one
// request. Each utterance produces a single final; there are no partials.
//
// Failures are reported as *stt.PlatformError so the recognition session
// treats an unreachable server like any other engine outage.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultSilence      = 700 * time.Millisecond
	defaultMaxUtterance = 15 * time.Second
	defaultNoSpeech     = 8 * time.Second

	// Level below which a chunk counts as silence; 16-bit full scale is 32767.
	defaultSpeechLevel = 300.0
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the whisper Provider.
type Option func(*Provider)

// WithModel names the model the server should use. Empty keeps the model the
// server was started with.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language sent with each request.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilence sets how much trailing silence ends an utterance.
func WithSilence(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance forces a request once this much speech has been buffered.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithNoSpeechTimeout ends a session with no-speech when nothing louder than
// the speech level arrives within d. Zero disables the timeout.
func WithNoSpeechTimeout(d time.Duration) Option {
	return func(p *Provider) { p.noSpeech = d }
}

// WithSpeechLevel sets the RMS level above which a chunk counts as speech.
func WithSpeechLevel(rms float64) Option {
	return func(p *Provider) { p.speechLevel = rms }
}

// WithHTTPClient replaces the client used for inference requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp server.
type Provider struct {
	serverURL    string
	model        string
	language     string
	silence      time.Duration
	maxUtterance time.Duration
	noSpeech     time.Duration
	speechLevel  float64
	httpClient   *http.Client
}

// New creates a Provider for the server at serverURL, for example
// "http://localhost:8080".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:    strings.TrimRight(serverURL, "/"),
		language:     defaultLanguage,
		silence:      defaultSilence,
		maxUtterance: defaultMaxUtterance,
		noSpeech:     defaultNoSpeech,
		speechLevel:  defaultSpeechLevel,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a session. No request is made until the first utterance
// ends, so an unreachable server surfaces through Err after speech.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, stt.NewPlatformError(stt.CodeAborted, err)
	}
	f := audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}
	if f.SampleRate <= 0 {
		f.SampleRate = defaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	// whisper.cpp wants the bare language code.
	lang, _, _ = strings.Cut(lang, "-")

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		p:        p,
		format:   f,
		language: lang,
		cancel:   cancel,
		audio:    make(chan []byte, 256),
		partials: make(chan types.Transcript),
		finals:   make(chan types.Transcript, 16),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run(sctx)
	return s, nil
}

// ---- session ----

type session struct {
	p        *Provider
	format   audio.Format
	language string
	cancel   context.CancelFunc

	audio    chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }
func (s *session) Finals() <-chan types.Transcript   { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetKeywords always fails: whisper.cpp has no keyword boosting.
func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("whisper: set keywords: %w", stt.ErrNotSupported)
}

// Close stops the session. Audio buffered for an unfinished utterance is
// discarded.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// run segments incoming audio into utterances and transcribes each one.
func (s *session) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var noSpeech <-chan time.Time
	if s.p.noSpeech > 0 {
		timer := time.NewTimer(s.p.noSpeech)
		defer timer.Stop()
		noSpeech = timer.C
	}

	var (
		buf      []byte
		speech   time.Duration
		silence  time.Duration
		speaking bool
	)
	maxBytes := s.format.FrameBytes(s.p.maxUtterance)

	for {
		select {
		case <-s.done:
			return
		case <-noSpeech:
			s.fail(stt.NewPlatformError(stt.CodeNoSpeech, nil))
			return
		case chunk := <-s.audio:
			d := s.duration(chunk)
			loud := audio.RMS(chunk) >= s.p.speechLevel
			if !speaking && !loud {
				// Leading silence is not sent.
				continue
			}
			if loud {
				speaking, noSpeech = true, nil
				silence = 0
				speech += d
			} else {
				silence += d
			}
			buf = append(buf, chunk...)
			if silence < s.p.silence && (maxBytes <= 0 || len(buf) < maxBytes) {
				continue
			}

			text, err := s.transcribe(ctx, buf)
			spoken := speech
			buf, speech, silence, speaking = nil, 0, 0, false
			if err != nil {
				if ctx.Err() == nil {
					s.fail(err)
				}
				return
			}
			if text == "" {
				continue
			}
			select {
			case s.finals <- types.Transcript{Text: text, IsFinal: true, Duration: spoken}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) duration(chunk []byte) time.Duration {
	perSec := s.format.FrameBytes(time.Second)
	if perSec == 0 {
		return 0
	}
	return time.Duration(len(chunk)) * time.Second / time.Duration(perSec)
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// inferenceResponse is the JSON body of a successful /inference call.
type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// transcribe posts pcm as a WAV upload and returns the trimmed text.
func (s *session) transcribe(ctx context.Context, pcm []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio.EncodeWAV(pcm, s.format)); err != nil {
		return "", err
	}
	fields := map[string]string{"response_format": "json", "language": s.language, "model": s.p.model}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.p.serverURL+"/inference", &body)
	if err != nil {
		return "", stt.NewPlatformError(stt.CodeNetwork, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", stt.NewPlatformError(stt.CodeAborted, err)
		}
		return "", stt.NewPlatformError(stt.CodeNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", stt.NewPlatformError(stt.CodeServiceNotAllowed, fmt.Errorf("whisper: HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", stt.NewPlatformError(stt.CodeNetwork, fmt.Errorf("whisper: HTTP %d", resp.StatusCode))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", stt.NewPlatformError(stt.CodeNetwork, fmt.Errorf("whisper: decode response: %w", err))
	}
	if out.Error != "" {
		return "", stt.NewPlatformError(stt.CodeNetwork, errors.New(out.Error))
	}
	return cleanText(out.Text), nil
}

// cleanText drops the bracketed annotations whisper emits for non-speech,
// such as "[BLANK_AUDIO]" or "(wind blowing)".
func cleanText(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '[', '(':
			depth++
		case ']', ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
