// Package app wires the voice subsystem into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run blocks while they serve, ApplyConfig hot-reloads what can
// change at runtime, and Shutdown tears everything down in order.
//
// The recognition session, synthesis queue, dictation controller and
// dispatcher are created once per App and shared by every bridge client.
// For testing, inject doubles via functional options (WithRecorder,
// WithNotifier, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/bridge"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/config"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/health"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/notify"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/store/postgres"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/command"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dictation"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/dispatch"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/phonetic"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/recognition"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/audio"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/stt"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by the command via the config
// registry.
type Providers struct {
	STT   stt.Provider
	TTS   tts.Provider
	Audio audio.Device
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	speaker    *synth.Queue
	session    *recognition.Session
	dictation  *dictation.Controller
	dispatcher *dispatch.Dispatcher
	bridge     *bridge.Server
	recorder   dispatch.Recorder
	notifier   dispatch.Notifier
	checkers   []health.Checker

	mu  sync.Mutex
	ctx context.Context // app lifetime; set by Run

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects the submission recorder instead of connecting to
// PostgreSQL.
func WithRecorder(r dispatch.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithNotifier injects the desktop notifier.
func WithNotifier(n dispatch.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithMetrics injects the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets ApplyConfig change the log level of the default logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		ctx:       context.Background(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Spoken feedback ───────────────────────────────────────────────
	a.initSpeaker()

	// ── 2. Persistence and notifications ─────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if a.notifier == nil {
		a.notifier = notify.New(cfg.Notify.Desktop, notify.WithIcon(cfg.Notify.AppIcon))
	}

	// ── 3. Interpreter, dictation and dispatcher ─────────────────────────
	catalogue, err := BuildCatalogue(cfg.Dictation.Forms)
	if err != nil {
		return nil, fmt.Errorf("app: build catalogue: %w", err)
	}
	dictOpts := []dictation.Option{dictation.WithCatalogue(catalogue)}
	if cfg.Dictation.PhoneticOptions {
		dictOpts = append(dictOpts, dictation.WithSelectMatcher(phonetic.New()))
	}
	a.dictation = dictation.New(a.speaker, dictOpts...)

	a.bridge = bridge.New(bridge.WithController(a), bridge.WithMetrics(a.metrics))

	interp := BuildInterpreter(cfg.Commands)
	dispOpts := []dispatch.Option{
		dispatch.WithHost(a.bridge),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithAutoDictation(cfg.Dictation.AutoStart),
		dispatch.WithNotifier(a.notifier),
	}
	if a.recorder != nil {
		dispOpts = append(dispOpts, dispatch.WithRecorder(a.recorder))
	}
	a.dispatcher = dispatch.New(interp, a.dictation, a.speaker, dispOpts...)

	// ── 4. Recognition session ───────────────────────────────────────────
	a.session = recognition.New(providers.STT, captureOf(providers.Audio), a.speaker,
		recognitionConfig(cfg.Recognition, interp),
		recognition.WithMetrics(a.metrics),
	)
	a.session.OnTranscript(func(t types.Transcript) {
		a.dispatcher.HandleTranscript(a.lifetime(), t)
	})
	a.session.OnError(func(e *recognition.Error) {
		a.dispatcher.HandleError(a.lifetime(), e)
	})
	a.session.OnStateChange(a.bridge.PublishState)
	a.closers = append(a.closers, func() error {
		a.session.Cleanup()
		return nil
	})
	a.closers = append(a.closers, a.speaker.Close)
	if providers.Audio != nil {
		a.closers = append(a.closers, providers.Audio.Close)
	}

	// ── 5. Readiness checks ──────────────────────────────────────────────
	a.checkers = append(a.checkers, health.Initialized("recognition", a.session))
	if p, ok := providers.STT.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("stt", p))
	}
	if p, ok := providers.TTS.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("tts", p))
	}
	if providers.TTS != nil && providers.Audio != nil {
		a.checkers = append(a.checkers, health.VoiceSelected(a.speaker))
	}
	if p, ok := a.recorder.(health.Pinger); ok {
		a.checkers = append(a.checkers, health.Ping("store", p))
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSpeaker builds the synthesis queue. Without a TTS provider or an
// output device the queue runs on a silent engine so feedback calls still
// resolve.
func (a *App) initSpeaker() {
	syn := a.cfg.Synthesis
	var engine synth.Engine = silentEngine{}
	if a.providers.TTS != nil && a.providers.Audio != nil {
		engine = synth.NewProviderEngine(a.providers.TTS, a.providers.Audio, synth.DefaultFormat,
			synth.WithSourceFormat(ttsSourceFormat(a.cfg.Providers.TTS)))
	}
	a.speaker = synth.New(engine,
		synth.WithVoicePreference(syn.Language, string(syn.Gender)),
		synth.WithVoiceWait(syn.VoiceWait, 0),
		synth.WithDefaultOptions(synth.Options{Rate: syn.Rate, Pitch: syn.Pitch, Volume: syn.Volume}),
		synth.WithMetrics(a.metrics),
	)
}

// initStore connects the PostgreSQL recorder when configured and not
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.recorder != nil || a.cfg.Store.PostgresDSN == "" {
		return nil
	}
	store, err := postgres.NewStore(ctx, a.cfg.Store.PostgresDSN)
	if err != nil {
		return err
	}
	a.recorder = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run selects the synthesis voice and initialises recognition, then blocks
// until ctx is cancelled. Capture cycles started by clients live until
// Shutdown, not until the request that started them ends.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = context.WithoutCancel(ctx)
	a.mu.Unlock()

	if a.providers.TTS != nil && a.providers.Audio != nil {
		if err := a.speaker.Init(ctx); err != nil {
			slog.Warn("app: no synthesis voice; using the engine default", "err", err)
		}
	}
	if err := a.session.Initialize(ctx); err != nil {
		slog.Warn("app: voice commands unavailable", "err", err)
	}

	slog.Info("app: running", "forms", a.dictation.Forms(), "routes", len(a.dispatcher.Interpreter().Routes()))
	<-ctx.Done()
	return nil
}

func (a *App) lifetime() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

// Handler returns the HTTP surface: the UI bridge on /ws, health endpoints and
// Prometheus metrics, wrapped in the observability middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.bridge.Register(mux)
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	return observe.Middleware(a.metrics)(mux)
}

// ApplyConfig hot-reloads the sections reported by [config.Diff]. Other
// changes need a restart and are logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		slog.Info("app: config changed but nothing is hot-reloadable; restart to apply")
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.CommandsChanged {
		a.dispatcher.SetInterpreter(BuildInterpreter(new.Commands))
		slog.Info("app: command routes reloaded", "custom_routes", len(new.Commands.Routes))
	}
	if d.CommandsChanged || d.RecognitionChanged {
		rec := new.Recognition
		a.session.SetContinuous(rec.Continuous)
		a.session.SetGreeting(rec.Greeting)
		a.session.SetKeywords(keywords(rec, a.dispatcher.Interpreter()))
	}
	if d.AutoDictationChanged {
		a.dispatcher.SetAutoDictation(new.Dictation.AutoStart)
	}
	if n, ok := a.notifier.(interface{ SetEnabled(bool) }); ok && d.NotifyChanged {
		n.SetEnabled(new.Notify.Desktop)
		slog.Info("app: desktop notifications toggled", "enabled", new.Notify.Desktop)
	}

	a.mu.Lock()
	a.cfg = new
	a.mu.Unlock()
}

// ─── bridge.Controller ───────────────────────────────────────────────────────

// StartListening starts a capture cycle.
func (a *App) StartListening(ctx context.Context) error {
	return a.session.StartListening(ctx)
}

// StopListening ends listening.
func (a *App) StopListening() { a.session.StopListening() }

// Focus resumes parked speech.
func (a *App) Focus() { a.speaker.Focus() }

// Blur parks speech while the UI is hidden.
func (a *App) Blur() { a.speaker.Blur() }

// HandleText routes a typed command like a spoken one.
func (a *App) HandleText(ctx context.Context, text string) {
	a.dispatcher.HandleText(ctx, text)
}

// StartForm starts dictation for formType.
func (a *App) StartForm(ctx context.Context, formType string) error {
	return a.dispatcher.StartDictation(ctx, formType)
}

// CancelForm abandons the active dictation dialogue.
func (a *App) CancelForm(ctx context.Context) bool {
	return a.dispatcher.CancelDictation(ctx)
}

var _ bridge.Controller = (*App)(nil)

// ─── Accessors ───────────────────────────────────────────────────────────────

// Dispatcher returns the command dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Session returns the recognition session.
func (a *App) Session() *recognition.Session { return a.session }

// Speaker returns the synthesis queue.
func (a *App) Speaker() *synth.Queue { return a.speaker }

// Dictation returns the dictation controller.
func (a *App) Dictation() *dictation.Controller { return a.dictation }

// Bridge returns the UI bridge.
func (a *App) Bridge() *bridge.Server { return a.bridge }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))
		var errs []error
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil && !errors.Is(err, synth.ErrClosed) {
				slog.Warn("app: closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		slog.Info("app: shutdown complete")
		shutdownErr = errors.Join(errs...)
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// captureOf keeps a missing device a nil interface.
func captureOf(d audio.Device) audio.Capture {
	if d == nil {
		return nil
	}
	return d
}

func recognitionConfig(rc config.RecognitionConfig, interp *command.Interpreter) recognition.Config {
	return recognition.Config{
		EnableGreeting:      rc.Greeting,
		Greeting:            rc.GreetingText,
		ContinuousListening: rc.Continuous,
		RestartDelay:        rc.RestartDelay,
		StartGrace:          rc.StartGrace,
		MaxDuration:         rc.MaxDuration,
		Language:            rc.Language,
		Keywords:            keywords(rc, interp),
	}
}

func keywords(rc config.RecognitionConfig, interp *command.Interpreter) []types.KeywordBoost {
	if !rc.KeywordBoost {
		return nil
	}
	return interp.Vocabulary()
}

// ttsSourceFormat reads the PCM rate from an output_format option such as
// "pcm_24000". Anything else is assumed to match the playback format.
func ttsSourceFormat(entry config.ProviderEntry) audio.Format {
	f, _ := entry.Options["output_format"].(string)
	rate, ok := strings.CutPrefix(f, "pcm_")
	if !ok {
		return audio.Format{}
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}
	}
	return audio.Format{SampleRate: n, Channels: 1}
}

// SlogLevel maps a config log level onto slog. The empty level is info.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// silentEngine stands in for a missing TTS provider or output device.
type silentEngine struct{}

func (silentEngine) Voices(context.Context) ([]types.VoiceProfile, error) { return nil, nil }

func (silentEngine) Speak(context.Context, synth.Utterance, types.VoiceProfile) error { return nil }
