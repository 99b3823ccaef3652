// Package synth implements the speech synthesis queue: a strict FIFO of
// utterances of which at most one is speaking at any time.
//
// The queue runs a single dispatch goroutine. Every utterance resolves its
// [Result] exactly once: completed, interrupted by [Queue.Cancel], or failed
// with the engine error. An engine failure never stalls the queue.
//
// [Queue.Blur] and [Queue.Focus] mirror the application losing and regaining
// foreground. An utterance cut off by blur is parked and replayed from the
// start on focus, before anything that was queued after it.
package synth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// ErrClosed is the rejection of utterances spoken after Close.
var ErrClosed = errors.New("synth: queue closed")

const (
	defaultVoiceWait = 3 * time.Second
	defaultVoicePoll = 100 * time.Millisecond
)

// Options controls how an utterance sounds. Zero fields mean the default of 1.
type Options struct {
	// Rate is the speaking rate multiplier (0.1–10).
	Rate float64
	// Pitch is the pitch multiplier (0–2).
	Pitch float64
	// Volume is the loudness in [0, 1].
	Volume float64
}

// Normalize fills zero fields with defaults and clamps to valid ranges.
func (o Options) Normalize() Options {
	if o.Rate <= 0 {
		o.Rate = 1
	}
	if o.Pitch <= 0 {
		o.Pitch = 1
	}
	if o.Volume <= 0 {
		o.Volume = 1
	}
	o.Rate = min(max(o.Rate, 0.1), 10)
	o.Pitch = min(o.Pitch, 2)
	o.Volume = min(o.Volume, 1)
	return o
}

// Utterance is one queued piece of text.
type Utterance struct {
	Text    string
	Options Options
}

// Engine speaks a single utterance. Speak blocks until playback finished and
// must return promptly with ctx.Err() when ctx is cancelled.
type Engine interface {
	Voices(ctx context.Context) ([]types.VoiceProfile, error)
	Speak(ctx context.Context, u Utterance, voice types.VoiceProfile) error
}

// Result is the completion handle of one utterance.
type Result struct {
	done        chan struct{}
	err         error
	interrupted bool
}

func newResult() *Result { return &Result{done: make(chan struct{})} }

// Resolved returns a Result that is already finished with err. Speakers that
// stay silent use it.
func Resolved(err error) *Result {
	r := newResult()
	r.err = err
	close(r.done)
	return r
}

// Done is closed once the utterance has been resolved.
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the utterance finished and returns its engine error. An
// interrupted utterance returns nil; check Interrupted to tell it apart.
// Wait returns ctx.Err() if ctx ends first; the utterance is unaffected.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupted reports whether the utterance was cancelled before it finished.
// Only meaningful after Done is closed.
func (r *Result) Interrupted() bool {
	select {
	case <-r.done:
		return r.interrupted
	default:
		return false
	}
}

// Err returns the engine error once resolved.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

type stopReason int

const (
	stopNone stopReason = iota
	stopCancel
	stopBlur
)

type item struct {
	utt    Utterance
	result *Result
	stop   stopReason
}

// Option configures a [Queue].
type Option func(*Queue)

// WithVoicePreference sets the preferred voice language (BCP-47 prefix match)
// and gender ("female", "male", or empty for any).
func WithVoicePreference(language, gender string) Option {
	return func(q *Queue) {
		q.language = language
		q.gender = gender
	}
}

// WithVoiceWait bounds how long Init waits for the engine to report voices.
func WithVoiceWait(wait, poll time.Duration) Option {
	return func(q *Queue) {
		if wait > 0 {
			q.voiceWait = wait
		}
		if poll > 0 {
			q.voicePoll = poll
		}
	}
}

// WithDefaultOptions sets the options used for zero fields of a Speak call.
func WithDefaultOptions(o Options) Option {
	return func(q *Queue) { q.defaults = o }
}

// WithMetrics records utterance outcomes and queue depth.
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is the synthesis queue. All exported methods are safe for concurrent
// use.
type Queue struct {
	engine    Engine
	language  string
	gender    string
	voiceWait time.Duration
	voicePoll time.Duration
	defaults  Options
	metrics   *observe.Metrics

	mu       sync.Mutex
	queue    []*item
	current  *item
	cancelFn context.CancelFunc
	parked   *item
	blurred  bool
	voice    types.VoiceProfile
	hasVoice bool
	idle     chan struct{} // closed while nothing is queued, parked or speaking

	notify chan struct{}
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New creates a Queue on top of engine and starts its dispatch goroutine.
// Call [Queue.Close] to stop it.
func New(engine Engine, opts ...Option) *Queue {
	idle := make(chan struct{})
	close(idle)
	q := &Queue{
		engine:    engine,
		voiceWait: defaultVoiceWait,
		voicePoll: defaultVoicePoll,
		idle:      idle,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.wg.Add(1)
	go q.dispatch()
	return q
}

// Init waits until the engine reports at least one voice, then selects one:
// first a voice matching both language and gender, then language only, then
// the first voice offered. Init gives up after the configured voice wait and
// returns an error. Speak still works afterwards: utterances carry no voice
// ID and the engine picks its own, which for [ProviderEngine] is the first
// voice the provider lists once it has any.
func (q *Queue) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, q.voiceWait)
	defer cancel()

	ticker := time.NewTicker(q.voicePoll)
	defer ticker.Stop()
	for {
		voices, err := q.engine.Voices(ctx)
		if err != nil {
			slog.Debug("synth: listing voices failed", "err", err)
		}
		if len(voices) > 0 {
			v := SelectVoice(voices, q.language, q.gender)
			q.mu.Lock()
			q.voice, q.hasVoice = v, true
			q.mu.Unlock()
			slog.Info("synth: voice selected", "voice", v.Name, "id", v.ID, "language", v.Language)
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("synth: no voices available")
		case <-ticker.C:
		}
	}
}

// SelectVoice applies the selection order used by Init.
func SelectVoice(voices []types.VoiceProfile, language, gender string) types.VoiceProfile {
	if language != "" {
		if gender != "" {
			for _, v := range voices {
				if matchLanguage(v.Language, language) && v.Gender == gender {
					return v
				}
			}
		}
		for _, v := range voices {
			if matchLanguage(v.Language, language) {
				return v
			}
		}
	}
	return voices[0]
}

// Voice returns the selected voice and whether Init succeeded.
func (q *Queue) Voice() (types.VoiceProfile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.voice, q.hasVoice
}

// Speak enqueues text and returns its completion handle. Empty text resolves
// immediately.
func (q *Queue) Speak(text string, opts Options) *Result {
	res := newResult()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		res.err = ErrClosed
		close(res.done)
		return res
	}
	if text == "" {
		close(res.done)
		return res
	}
	if opts.Rate == 0 {
		opts.Rate = q.defaults.Rate
	}
	if opts.Pitch == 0 {
		opts.Pitch = q.defaults.Pitch
	}
	if opts.Volume == 0 {
		opts.Volume = q.defaults.Volume
	}
	q.queue = append(q.queue, &item{utt: Utterance{Text: text, Options: opts.Normalize()}, result: res})
	q.queueDepth(1)
	q.busyLocked()
	q.wake()
	return res
}

// Cancel stops the current utterance and drops everything queued or parked.
// Every affected Result resolves as interrupted. Cancel is idempotent.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelLocked()
}

func (q *Queue) cancelLocked() {
	for _, it := range q.queue {
		q.resolve(it, nil, true)
	}
	q.queueDepth(-int64(len(q.queue)))
	q.queue = nil
	if q.parked != nil {
		q.resolve(q.parked, nil, true)
		q.parked = nil
	}
	if q.current != nil {
		if q.current.stop == stopNone {
			q.cancelFn()
		}
		q.current.stop = stopCancel
	}
	q.idleCheckLocked()
}

// Blur pauses the queue. An utterance in flight is stopped and parked; its
// Result stays pending until it is replayed.
func (q *Queue) Blur() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blurred = true
	if q.current != nil && q.current.stop == stopNone {
		q.current.stop = stopBlur
		q.cancelFn()
	}
}

// Focus resumes the queue, replaying a parked utterance first.
func (q *Queue) Focus() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blurred = false
	q.wake()
}

// Speaking reports whether an utterance is playing right now.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// Pending returns the number of utterances waiting, including a parked one.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.queue)
	if q.parked != nil {
		n++
	}
	return n
}

// Idle returns a channel that is closed once nothing is speaking, queued or
// parked. A new channel is handed out after the queue becomes busy again.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Close cancels everything and stops the dispatch goroutine. Close is
// idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cancelLocked()
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return nil
}

// dispatch pulls utterances until Close.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			it, ctx, ok := q.next()
			if !ok {
				break
			}
			q.play(ctx, it)
		}
	}
}

// next selects the parked utterance, then the queue head, and marks it
// current. Nothing is selected while blurred.
func (q *Queue) next() (*item, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.blurred {
		return nil, nil, false
	}
	var it *item
	switch {
	case q.parked != nil:
		it, q.parked = q.parked, nil
	case len(q.queue) > 0:
		it = q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.queueDepth(-1)
	default:
		return nil, nil, false
	}
	it.stop = stopNone
	ctx, cancel := context.WithCancel(context.Background())
	q.current, q.cancelFn = it, cancel
	return it, ctx, true
}

func (q *Queue) play(ctx context.Context, it *item) {
	q.mu.Lock()
	voice := q.voice
	q.mu.Unlock()

	start := time.Now()
	err := q.engine.Speak(ctx, it.utt, voice)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelFn()
	q.current, q.cancelFn = nil, nil

	switch it.stop {
	case stopBlur:
		q.parked = it
		slog.Debug("synth: utterance parked", "text", it.utt.Text)
	case stopCancel:
		q.resolve(it, nil, true)
		q.record("interrupted", start)
	default:
		if err != nil {
			slog.Warn("synth: utterance failed", "text", it.utt.Text, "err", err)
			q.resolve(it, err, false)
			q.record("failed", start)
		} else {
			q.resolve(it, nil, false)
			q.record("completed", start)
		}
	}
	q.idleCheckLocked()
}

// resolve settles an utterance exactly once. Must be called with q.mu held.
func (q *Queue) resolve(it *item, err error, interrupted bool) {
	select {
	case <-it.result.done:
		return
	default:
	}
	it.result.err = err
	it.result.interrupted = interrupted
	close(it.result.done)
}

// busyLocked replaces a closed idle channel with an open one.
func (q *Queue) busyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

// idleCheckLocked closes the idle channel when nothing is left to do.
func (q *Queue) idleCheckLocked() {
	if q.current != nil || q.parked != nil || len(q.queue) > 0 {
		return
	}
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) queueDepth(delta int64) {
	if q.metrics != nil && delta != 0 {
		q.metrics.QueuedUtterances.Add(context.Background(), delta)
	}
}

func (q *Queue) record(status string, start time.Time) {
	if q.metrics != nil {
		q.metrics.RecordUtterance(context.Background(), status, time.Since(start))
	}
}

// matchLanguage compares BCP-47 tags case-insensitively; "en" matches "en-US".
func matchLanguage(have, want string) bool {
	if have == "" || want == "" {
		return false
	}
	if strings.EqualFold(have, want) {
		return true
	}
	h, _, _ := strings.Cut(have, "-")
	w, _, _ := strings.Cut(want, "-")
	return strings.EqualFold(h, w) && (!strings.Contains(have, "-") || !strings.Contains(want, "-"))
}
