package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/app"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/resilience"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio/portaudio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt/deepgram"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt/whisper"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/coqui"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/elevenlabs"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the engines that ship with focusvoice into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if s := optString(entry.Options, "endpointing"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("deepgram: endpointing: %w", err)
			}
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// whisper.cpp server; runs offline so it makes a good last fallback.
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if s := optString(entry.Options, "silence"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("whisper: silence: %w", err)
			}
			opts = append(opts, whisper.WithSilence(d))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, elevenlabs.WithDefaultLanguage(lang))
		}
		if entry.BaseURL != "" {
			ws := strings.Replace(entry.BaseURL, "http", "ws", 1)
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if s := optString(entry.Options, "timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("coqui: timeout: %w", err)
			}
			opts = append(opts, coqui.WithTimeout(d))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterAudio("portaudio", func(entry config.ProviderEntry) (audio.Device, error) {
		var opts []portaudio.Option
		if s := optString(entry.Options, "frame_duration"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("portaudio: frame_duration: %w", err)
			}
			opts = append(opts, portaudio.WithFrameDuration(d))
		}
		return portaudio.New(opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the providers named in cfg. Fallback engines
// are chained behind the primary with a circuit breaker each.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{Metrics: metrics}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := create(reg.CreateSTT, "stt", cfg.Providers.STT)
		if err != nil {
			return nil, err
		}
		if p != nil && len(cfg.Providers.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.STTFallbacks {
				fb, err := create(reg.CreateSTT, "stt", entry)
				if err != nil {
					return nil, err
				}
				if fb != nil {
					group.AddFallback(entry.Name, fb)
				}
			}
			p = group
		}
		ps.STT = p
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := create(reg.CreateTTS, "tts", cfg.Providers.TTS)
		if err != nil {
			return nil, err
		}
		if p != nil && len(cfg.Providers.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(p, name, fbCfg)
			for _, entry := range cfg.Providers.TTSFallbacks {
				fb, err := create(reg.CreateTTS, "tts", entry)
				if err != nil {
					return nil, err
				}
				if fb != nil {
					group.AddFallback(entry.Name, fb)
				}
			}
			p = group
		}
		ps.TTS = p
	}

	if cfg.Providers.Audio.Name != "" {
		d, err := create(reg.CreateAudio, "audio", cfg.Providers.Audio)
		if err != nil {
			return nil, err
		}
		ps.Audio = d
	}

	return ps, nil
}

// create builds one provider. An unregistered name is logged and yields the
// zero value so the service can still run with typed commands only.
func create[T any](fn func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	p, err := fn(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available; skipping", "kind", kind, "name", entry.Name)
		var zero T
		return zero, nil
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}
