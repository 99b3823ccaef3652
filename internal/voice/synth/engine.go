package synth

import (
	"context"
	"fmt"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// DefaultFormat matches the PCM produced by the bundled TTS providers.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ProviderEngine speaks utterances through a streaming TTS provider and a
// speaker device.
type ProviderEngine struct {
	provider tts.Provider
	playback audio.Playback
	format   audio.Format
	source   audio.Format

	mu           sync.Mutex
	defaultVoice types.VoiceProfile
}

var _ Engine = (*ProviderEngine)(nil)

// EngineOption configures a [ProviderEngine].
type EngineOption func(*ProviderEngine)

// WithSourceFormat declares the PCM format the provider produces. Stereo
// output is downmixed and other sample rates are resampled to the playback
// format. By default provider output is assumed to match it.
func WithSourceFormat(f audio.Format) EngineOption {
	return func(e *ProviderEngine) { e.source = f }
}

// NewProviderEngine returns an Engine that plays provider output in format.
// A zero format selects [DefaultFormat].
func NewProviderEngine(provider tts.Provider, playback audio.Playback, format audio.Format, opts ...EngineOption) *ProviderEngine {
	if format.SampleRate == 0 {
		format = DefaultFormat
	}
	e := &ProviderEngine{provider: provider, playback: playback, format: format}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Voices lists the provider's voices.
func (e *ProviderEngine) Voices(ctx context.Context) ([]types.VoiceProfile, error) {
	return e.provider.ListVoices(ctx)
}

// Speak synthesises u and blocks until it has been played. Rate and pitch
// are passed to the provider through the voice profile; volume is applied to
// the PCM before playback. A voice without an ID is replaced by the first
// voice the provider lists. An engine failure reported during synthesis is
// returned once the audio received before it has been played.
func (e *ProviderEngine) Speak(ctx context.Context, u Utterance, voice types.VoiceProfile) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if voice.ID == "" {
		voice = e.fallbackVoice(ctx)
	}
	opts := u.Options.Normalize()
	voice.SpeedFactor = opts.Rate
	voice.PitchShift = (opts.Pitch - 1) * 10

	text := make(chan string, 1)
	text <- u.Text
	close(text)

	stream, err := e.provider.SynthesizeStream(ctx, text, voice)
	if err != nil {
		return fmt.Errorf("synth: synthesize: %w", err)
	}

	pcm := stream.Audio()
	chunks := make(chan []byte)
	go func() {
		defer close(chunks)
		for c := range pcm {
			select {
			case chunks <- e.convert(c, opts.Volume):
			case <-ctx.Done():
				audio.Drain(pcm)
				return
			}
		}
	}()

	if err := e.playback.Play(ctx, e.format, chunks); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("synth: play: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("synth: synthesize: %w", err)
	}
	return nil
}

// fallbackVoice returns the provider's first voice, remembered after the
// first successful listing. It returns the zero profile when none is known.
func (e *ProviderEngine) fallbackVoice(ctx context.Context) types.VoiceProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.defaultVoice.ID != "" {
		return e.defaultVoice
	}
	voices, err := e.provider.ListVoices(ctx)
	if err != nil || len(voices) == 0 {
		return types.VoiceProfile{}
	}
	e.defaultVoice = voices[0]
	return e.defaultVoice
}

// convert brings one provider chunk into the playback format.
func (e *ProviderEngine) convert(c []byte, gain float64) []byte {
	if e.source.Channels == 2 && e.format.Channels == 1 {
		c = audio.StereoToMono(c)
	}
	if e.source.SampleRate > 0 && e.format.Channels == 1 {
		c = audio.ResampleMono16(c, e.source.SampleRate, e.format.SampleRate)
	}
	return audio.ApplyGain(c, gain)
}
