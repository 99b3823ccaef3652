// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which text and VoiceProfile reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    Voices:           []types.VoiceProfile{{ID: "v1", Language: "en-US"}},
//	}
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// SynthesizeCall records one SynthesizeStream invocation after its text
// channel was fully consumed.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the audio channel of every call.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// StreamErr, if non-nil, ends every stream after SynthesizeChunks, like an
	// engine that fails mid-synthesis.
	StreamErr error

	// Voices is returned by ListVoices once VoicesAfter calls have been made.
	Voices []types.VoiceProfile

	// VoicesAfter makes the first N ListVoices calls return an empty list,
	// like an engine that loads its catalogue asynchronously.
	VoicesAfter int

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	calls     []SynthesizeCall
	listCalls int
}

// SynthesizeStream collects the text, records the call and emits
// SynthesizeChunks, then ends the stream with StreamErr.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	err, streamErr := p.SynthesizeErr, p.StreamErr
	chunks := p.SynthesizeChunks
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := tts.NewStream(len(chunks))
	go func() {
		var sb strings.Builder
		for frag := range text {
			sb.WriteString(frag)
		}
		p.mu.Lock()
		p.calls = append(p.calls, SynthesizeCall{Text: sb.String(), Voice: voice})
		p.mu.Unlock()
		for _, c := range chunks {
			if !out.Send(ctx, c) {
				out.Finish(ctx.Err())
				return
			}
		}
		out.Finish(streamErr)
	}()
	return out, nil
}

// ListVoices returns Voices, or nothing for the first VoicesAfter calls.
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	if p.listCalls <= p.VoicesAfter {
		return nil, nil
	}
	out := make([]types.VoiceProfile, len(p.Voices))
	copy(out, p.Voices)
	return out, nil
}

// Calls returns a copy of the recorded synthesis calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// ListVoicesCalls returns how often ListVoices was called.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listCalls
}

var _ tts.Provider = (*Provider)(nil)
