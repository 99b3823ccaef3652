package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":   {"deepgram", "whisper"},
	"tts":   {"elevenlabs", "coqui"},
	"audio": {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero Config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}
	if cfg.Providers.STT.Name == "" || cfg.Providers.Audio.Name == "" {
		slog.Warn("providers.stt or providers.audio is not configured; voice commands will report unsupported")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; spoken feedback is disabled")
	}

	rec := cfg.Recognition
	for name, d := range map[string]int64{
		"recognition.restart_delay": int64(rec.RestartDelay),
		"recognition.start_grace":   int64(rec.StartGrace),
		"recognition.max_duration":  int64(rec.MaxDuration),
		"synthesis.voice_wait":      int64(cfg.Synthesis.VoiceWait),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	syn := cfg.Synthesis
	if !syn.Gender.IsValid() {
		errs = append(errs, fmt.Errorf("synthesis.gender %q is invalid; valid values: female, male", syn.Gender))
	}
	if syn.Rate != 0 && (syn.Rate < 0.1 || syn.Rate > 10) {
		errs = append(errs, fmt.Errorf("synthesis.rate %.2f is out of range [0.1, 10]", syn.Rate))
	}
	if syn.Pitch < 0 || syn.Pitch > 2 {
		errs = append(errs, fmt.Errorf("synthesis.pitch %.2f is out of range [0, 2]", syn.Pitch))
	}
	if syn.Volume < 0 || syn.Volume > 1 {
		errs = append(errs, fmt.Errorf("synthesis.volume %.2f is out of range [0, 1]", syn.Volume))
	}

	errs = append(errs, validateRoutes(cfg.Commands.Routes)...)
	errs = append(errs, validateForms(cfg.Dictation.Forms)...)

	return errors.Join(errs...)
}

func validateRoutes(routes []RouteConfig) []error {
	var errs []error
	seen := make(map[string]int, len(routes))
	for i, r := range routes {
		prefix := fmt.Sprintf("commands.routes[%d]", i)
		switch {
		case r.Path == "":
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		case !strings.HasPrefix(r.Path, "/"):
			errs = append(errs, fmt.Errorf("%s.path %q must start with /", prefix, r.Path))
		default:
			if prev, ok := seen[r.Path]; ok {
				errs = append(errs, fmt.Errorf("%s.path %q is a duplicate of commands.routes[%d]", prefix, r.Path, prev))
			}
			seen[r.Path] = i
		}
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if slices.Contains(r.Aliases, "") {
			errs = append(errs, fmt.Errorf("%s.aliases must not contain empty strings", prefix))
		}
	}
	return errs
}

func validateForms(forms []FormConfig) []error {
	var errs []error
	seen := make(map[string]int, len(forms))
	for i, f := range forms {
		prefix := fmt.Sprintf("dictation.forms[%d]", i)
		if f.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		} else {
			if prev, ok := seen[f.Type]; ok {
				errs = append(errs, fmt.Errorf("%s.type %q is a duplicate of dictation.forms[%d]", prefix, f.Type, prev))
			}
			seen[f.Type] = i
		}
		if len(f.Fields) == 0 {
			errs = append(errs, fmt.Errorf("%s.fields must not be empty", prefix))
		}
		for j, fld := range f.Fields {
			fp := fmt.Sprintf("%s.fields[%d]", prefix, j)
			if fld.Name == "" {
				errs = append(errs, fmt.Errorf("%s.name is required", fp))
			}
			if !fld.Kind.IsValid() {
				errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: text, date, select, time", fp, fld.Kind))
			}
			if fld.Kind == FieldSelect && len(fld.Options) == 0 {
				errs = append(errs, fmt.Errorf("%s.options are required for select fields", fp))
			}
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
