// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Connection and stream failures are reported as *stt.PlatformError so the
// recognition session can map them onto its error taxonomy.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// Deepgram rejects utterance_end_ms below one second.
	defaultUtteranceEnd = time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the streaming endpoint. Used by tests and by
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithEndpointing sets the silence duration after which Deepgram finalises an
// utterance. Zero leaves the server default.
func WithEndpointing(d time.Duration) Option {
	return func(p *Provider) {
		p.endpointing = d
	}
}

// WithUtteranceEnd sets the gap in recognised words after which Deepgram
// sends an UtteranceEnd event. It ends an utterance whose speech_final was
// missed because of background noise.
func WithUtteranceEnd(d time.Duration) Option {
	return func(p *Provider) {
		p.utteranceEnd = max(d, defaultUtteranceEnd)
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey       string
	endpoint     string
	model        string
	language     string
	sampleRate   int
	endpointing  time.Duration
	utteranceEnd time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		endpoint:     deepgramEndpoint,
		model:        defaultModel,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		utteranceEnd: defaultUtteranceEnd,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// It respects cfg.SampleRate, cfg.Language, and cfg.Keywords.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", classifyDial(ctx, resp, err))
	}

	// The session outlives the StartStream call; it is bounded by Close.
	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		cancel:   cancel,
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(sctx)
	go sess.writeLoop(sctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.FormatInt(p.endpointing.Milliseconds(), 10))
	}
	q.Set("utterance_end_ms", strconv.FormatInt(p.utteranceEnd.Milliseconds(), 10))

	for _, kw := range cfg.Keywords {
		// Deepgram keyword format: word:boost (e.g., "homework:2")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// classifyDial maps a failed handshake onto a platform error code.
func classifyDial(ctx context.Context, resp *http.Response, err error) error {
	if ctx.Err() != nil {
		return stt.NewPlatformError(stt.CodeAborted, err)
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusPaymentRequired:
			return stt.NewPlatformError(stt.CodeServiceNotAllowed, err)
		case http.StatusBadRequest:
			return stt.NewPlatformError("bad-request", err)
		}
	}
	return stt.NewPlatformError(stt.CodeNetwork, err)
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// or Error event.
type deepgramResponse struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	partials chan types.Transcript
	finals   chan types.Transcript
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mu        sync.Mutex
	err       error
	heardText bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }

func (s *session) Finals() <-chan types.Transcript { return s.finals }

func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetKeywords always fails: Deepgram only accepts keywords at connect time.
func (s *session) SetKeywords([]types.KeywordBoost) error {
	return fmt.Errorf("deepgram: set keywords: %w", stt.ErrNotSupported)
}

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before the socket goes away.
		wctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				if !s.closing() {
					s.fail(stt.NewPlatformError(stt.CodeNetwork, err))
				}
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// partials and finals channels. Finalised segments are held back until the
// speaker is done, so each final is a whole utterance. When the server ends
// the stream on its own, the reason is recorded for Err before the channels
// close.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var utt utterance
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// CloseStream makes Deepgram finalise what it heard before
			// closing, so the last segments still form an utterance.
			if t, ok := utt.flush(); ok {
				s.emitFinal(t)
			}
			if !s.closing() {
				s.fail(s.classifyEnd(err))
			}
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		switch resp.Type {
		case "Error":
			s.fail(stt.NewPlatformError(stt.CodeNetwork, errors.New(resp.Description)))
			continue
		case "UtteranceEnd":
			if t, ok := utt.flush(); ok {
				s.emitFinal(t)
			}
			continue
		}

		t, ok := toTranscript(resp)
		if !ok {
			continue
		}
		if !t.IsFinal {
			s.emitPartial(utt.preview(t))
			continue
		}

		utt.add(t)
		if !resp.SpeechFinal {
			if !utt.empty() {
				s.emitPartial(utt.preview(types.Transcript{}))
			}
			continue
		}
		if whole, ok := utt.flush(); ok {
			s.emitFinal(whole)
		} else {
			s.emitFinal(t)
		}
	}
}

func (s *session) emitFinal(t types.Transcript) {
	if t.Text != "" {
		s.mu.Lock()
		s.heardText = true
		s.mu.Unlock()
	}
	select {
	case s.finals <- t:
	case <-s.done:
	}
}

func (s *session) emitPartial(t types.Transcript) {
	select {
	case s.partials <- t:
	case <-s.done:
	}
}

// classifyEnd decides what a server-side end of stream means. A clean close
// with nothing recognised is reported as no-speech.
func (s *session) classifyEnd(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure:
		s.mu.Lock()
		heard := s.heardText
		s.mu.Unlock()
		if heard {
			return nil
		}
		return stt.NewPlatformError(stt.CodeNoSpeech, nil)
	case websocket.StatusPolicyViolation:
		return stt.NewPlatformError(stt.CodeServiceNotAllowed, err)
	}
	if errors.Is(err, context.Canceled) {
		return stt.NewPlatformError(stt.CodeAborted, err)
	}
	return stt.NewPlatformError(stt.CodeNetwork, err)
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a Transcript.
// Returns (Transcript, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (types.Transcript, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false
	}
	return toTranscript(resp)
}

func toTranscript(resp deepgramResponse) (types.Transcript, bool) {
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, types.WordDetail{
			Word:       w.Word,
			Start:      secs(w.Start),
			End:        secs(w.End),
			Confidence: w.Confidence,
		})
	}

	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
		Timestamp:  secs(resp.Start),
		Duration:   secs(resp.Duration),
	}, true
}

func secs(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }
