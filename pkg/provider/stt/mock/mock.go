// Package mock provides test doubles for the stt package interfaces.
//
// Provider hands out a fresh Session on every StartStream call so that a
// consumer that restarts recognition gets one session per cycle. Tests drive
// a session with Emit, Partial and Fail and inspect what it received.
package mock

import (
	"context"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	Ctx context.Context
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// OnStart, if set, is called with every new session before it is returned.
	// Use it to script transcripts or failures per cycle.
	OnStart func(n int, s *Session)

	calls    []StartStreamCall
	sessions []*Session
	started  chan *Session
}

// StartStream records the call and returns a new Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		err := p.StartStreamErr
		p.mu.Unlock()
		return nil, err
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	n := len(p.sessions)
	hook := p.OnStart
	started := p.started
	p.mu.Unlock()

	if hook != nil {
		hook(n, s)
	}
	if started != nil {
		started <- s
	}
	return s, nil
}

// Started returns a channel that receives every session as it is started.
// Call it before the first StartStream. The channel holds 16 sessions;
// StartStream blocks beyond that until the test receives.
func (p *Provider) Started() <-chan *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started == nil {
		p.started = make(chan *Session, 16)
	}
	return p.started
}

// Calls returns a copy of the recorded StartStream calls.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Sessions returns every session handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	partials chan types.Transcript
	finals   chan types.Transcript
	ended    bool
	err      error

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SetKeywordsErr, if non-nil, is returned by every SetKeywords call.
	SetKeywordsErr error

	audioChunks    int
	keywordCalls   [][]types.KeywordBoost
	closeCallCount int
}

// NewSession returns a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.Transcript, 16),
		finals:   make(chan types.Transcript, 16),
	}
}

// Emit publishes a final transcript. It is a no-op after the session ended.
func (s *Session) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.finals <- types.Transcript{Text: text, IsFinal: true, Confidence: 0.9}
}

// Partial publishes an interim transcript.
func (s *Session) Partial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.partials <- types.Transcript{Text: text}
}

// Fail ends the session with err, as if the engine reported a failure.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(err)
}

// End ends the session without error, as if the engine stopped on its own.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end(nil)
}

func (s *Session) end(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.partials)
	close(s.finals)
}

// Ended reports whether the session has ended.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SendAudio counts the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioChunks++
	return s.SendAudioErr
}

// AudioChunks returns the number of SendAudio calls.
func (s *Session) AudioChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioChunks
}

func (s *Session) Partials() <-chan types.Transcript { return s.partials }

func (s *Session) Finals() <-chan types.Transcript { return s.finals }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SetKeywords records the call and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw := make([]types.KeywordBoost, len(keywords))
	copy(kw, keywords)
	s.keywordCalls = append(s.keywordCalls, kw)
	return s.SetKeywordsErr
}

// Close ends the session and records the call.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCallCount++
	s.end(nil)
	return nil
}

// CloseCallCount returns the number of Close calls.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCallCount
}

var _ stt.SessionHandle = (*Session)(nil)
