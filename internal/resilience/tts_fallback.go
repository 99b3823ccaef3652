package resilience

import (
	"context"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple synthesis engines. Each engine has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred engine.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.Kind == "" {
		cfg.Kind = "tts"
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional engine.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Ping reports whether any synthesis engine is accepting requests.
func (f *TTSFallback) Ping(ctx context.Context) error { return f.group.Ping(ctx) }

// SynthesizeStream gathers the text and synthesises it on the first healthy
// engine. An engine whose stream fails before producing audio, such as one
// rejecting the API key in-band, counts as a failed attempt and the next
// engine is tried with the same text. Failures after the first chunk end the
// returned stream and are reported by its Err method.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (*tts.Stream, error) {
	var fragments []string
	for {
		select {
		case frag, ok := <-text:
			if !ok {
				return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Stream, error) {
					return firstAudio(ctx, p, fragments, voice)
				})
			}
			fragments = append(fragments, frag)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// firstAudio starts a stream on p and waits for its first chunk. A stream
// that ends before any audio returns its error; otherwise the chunk is
// replayed at the head of the returned stream.
func firstAudio(ctx context.Context, p tts.Provider, fragments []string, voice types.VoiceProfile) (*tts.Stream, error) {
	text := make(chan string, len(fragments))
	for _, frag := range fragments {
		text <- frag
	}
	close(text)

	in, err := p.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	first, ok := <-in.Audio()
	if !ok {
		if err := in.Err(); err != nil {
			return nil, err
		}
		out := tts.NewStream(0)
		out.Finish(nil)
		return out, nil
	}

	out := tts.NewStream(cap(in.Audio()))
	go func() {
		if !out.Send(ctx, first) {
			audio.Drain(in.Audio())
			out.Finish(ctx.Err())
			return
		}
		for c := range in.Audio() {
			if !out.Send(ctx, c) {
				audio.Drain(in.Audio())
				out.Finish(ctx.Err())
				return
			}
		}
		out.Finish(in.Err())
	}()
	return out, nil
}

// ListVoices returns the voice catalogue of the first healthy engine. An
// engine that is still loading answers with an empty list, which is passed
// through so the caller can poll again.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
