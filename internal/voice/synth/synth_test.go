package synth_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/voice/synth"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

// fakeEngine records every Speak call. In manual mode each call blocks until
// the test sends its outcome on release or the context is cancelled.
type fakeEngine struct {
	manual bool
	fail   map[string]error

	mu      sync.Mutex
	voices  []types.VoiceProfile
	spoken  []string
	options []synth.Options
	started chan string
	release chan error
}

func newFakeEngine(manual bool) *fakeEngine {
	return &fakeEngine{
		manual:  manual,
		started: make(chan string, 32),
		release: make(chan error),
	}
}

func (e *fakeEngine) Voices(context.Context) ([]types.VoiceProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.voices), nil
}

func (e *fakeEngine) Speak(ctx context.Context, u synth.Utterance, _ types.VoiceProfile) error {
	e.mu.Lock()
	e.spoken = append(e.spoken, u.Text)
	e.options = append(e.options, u.Options)
	e.mu.Unlock()
	e.started <- u.Text

	if err := e.fail[u.Text]; err != nil {
		return err
	}
	if !e.manual {
		return nil
	}
	select {
	case err := <-e.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEngine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.spoken)
}

func waitStarted(t *testing.T, e *fakeEngine, want string) {
	t.Helper()
	select {
	case got := <-e.started:
		if got != want {
			t.Fatalf("started %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("utterance %q never started", want)
	}
}

func waitResult(t *testing.T, r *synth.Result) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := r.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("result never resolved")
	}
	return err
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(false)
	q := synth.New(e)
	defer q.Close()

	results := []*synth.Result{
		q.Speak("one", synth.Options{}),
		q.Speak("two", synth.Options{}),
		q.Speak("three", synth.Options{}),
	}
	for _, r := range results {
		if err := waitResult(t, r); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if r.Interrupted() {
			t.Error("completed utterance reported as interrupted")
		}
	}
	if got, want := e.Spoken(), []string{"one", "two", "three"}; !slices.Equal(got, want) {
		t.Errorf("spoken = %v, want %v", got, want)
	}
}

func TestQueue_DefaultOptions(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(false)
	q := synth.New(e, synth.WithDefaultOptions(synth.Options{Rate: 1.2, Volume: 0.5}))
	defer q.Close()

	_ = waitResult(t, q.Speak("defaults", synth.Options{}))
	_ = waitResult(t, q.Speak("override", synth.Options{Rate: 2}))

	e.mu.Lock()
	defer e.mu.Unlock()
	want := []synth.Options{
		{Rate: 1.2, Pitch: 1, Volume: 0.5},
		{Rate: 2, Pitch: 1, Volume: 0.5},
	}
	if !slices.Equal(e.options, want) {
		t.Errorf("options = %+v, want %+v", e.options, want)
	}
}

func TestQueue_ErrorAdvancesQueue(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine exploded")
	e := newFakeEngine(false)
	e.fail = map[string]error{"bad": boom}
	q := synth.New(e)
	defer q.Close()

	bad := q.Speak("bad", synth.Options{})
	good := q.Speak("good", synth.Options{})

	if err := waitResult(t, bad); !errors.Is(err, boom) {
		t.Errorf("bad: err = %v, want %v", err, boom)
	}
	if err := waitResult(t, good); err != nil {
		t.Errorf("good: err = %v", err)
	}
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(true)
	q := synth.New(e)
	defer q.Close()

	first := q.Speak("first", synth.Options{})
	second := q.Speak("second", synth.Options{})
	waitStarted(t, e, "first")

	if !q.Speaking() {
		t.Error("Speaking() = false while an utterance plays")
	}
	q.Cancel()
	q.Cancel()

	for name, r := range map[string]*synth.Result{"first": first, "second": second} {
		if err := waitResult(t, r); err != nil {
			t.Errorf("%s: err = %v, want nil", name, err)
		}
		if !r.Interrupted() {
			t.Errorf("%s: Interrupted() = false", name)
		}
	}

	select {
	case <-q.Idle():
	case <-time.After(2 * time.Second):
		t.Fatal("queue not idle after Cancel")
	}
	if got := e.Spoken(); !slices.Equal(got, []string{"first"}) {
		t.Errorf("spoken = %v, want only first", got)
	}
}

func TestQueue_CancelWhenIdle(t *testing.T) {
	t.Parallel()

	q := synth.New(newFakeEngine(false))
	defer q.Close()
	q.Cancel()

	select {
	case <-q.Idle():
	default:
		t.Error("fresh queue is not idle")
	}
}

func TestQueue_BlurParksAndFocusReplays(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(true)
	q := synth.New(e)
	defer q.Close()

	first := q.Speak("first", synth.Options{Rate: 1.2})
	second := q.Speak("second", synth.Options{})
	waitStarted(t, e, "first")

	q.Blur()

	select {
	case <-first.Done():
		t.Fatal("parked utterance resolved on blur")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case text := <-e.started:
		t.Fatalf("%q started while blurred", text)
	case <-time.After(50 * time.Millisecond):
	}
	if q.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", q.Pending())
	}

	q.Focus()
	waitStarted(t, e, "first")
	e.release <- nil
	if err := waitResult(t, first); err != nil || first.Interrupted() {
		t.Fatalf("replayed utterance: err=%v interrupted=%v", err, first.Interrupted())
	}

	waitStarted(t, e, "second")
	e.release <- nil
	if err := waitResult(t, second); err != nil {
		t.Fatalf("second: %v", err)
	}

	if got, want := e.Spoken(), []string{"first", "first", "second"}; !slices.Equal(got, want) {
		t.Errorf("spoken = %v, want %v", got, want)
	}
}

func TestQueue_CancelWhileBlurredDropsParked(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(true)
	q := synth.New(e)
	defer q.Close()

	r := q.Speak("parked", synth.Options{})
	waitStarted(t, e, "parked")
	q.Blur()
	q.Cancel()

	if err := waitResult(t, r); err != nil || !r.Interrupted() {
		t.Fatalf("err=%v interrupted=%v, want nil/true", err, r.Interrupted())
	}

	q.Focus()
	select {
	case text := <-e.started:
		t.Fatalf("%q replayed after Cancel", text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueue_IdleTracksWork(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(true)
	q := synth.New(e)
	defer q.Close()

	r := q.Speak("hello", synth.Options{})
	idle := q.Idle()
	select {
	case <-idle:
		t.Fatal("Idle closed while an utterance is queued")
	default:
	}

	waitStarted(t, e, "hello")
	e.release <- nil
	waitResult(t, r)

	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("Idle never closed")
	}
}

func TestQueue_SpeakAfterClose(t *testing.T) {
	t.Parallel()

	q := synth.New(newFakeEngine(false))
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := waitResult(t, q.Speak("late", synth.Options{})); !errors.Is(err, synth.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestQueue_EmptyTextResolvesImmediately(t *testing.T) {
	t.Parallel()

	e := newFakeEngine(true)
	q := synth.New(e)
	defer q.Close()

	r := q.Speak("", synth.Options{})
	select {
	case <-r.Done():
	default:
		t.Fatal("empty utterance not resolved")
	}
	if len(e.Spoken()) != 0 {
		t.Error("engine called for empty text")
	}
}

func TestOptionsNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   synth.Options
		want synth.Options
	}{
		{name: "defaults", in: synth.Options{}, want: synth.Options{Rate: 1, Pitch: 1, Volume: 1}},
		{name: "kept", in: synth.Options{Rate: 1.5, Pitch: 0.8, Volume: 0.5}, want: synth.Options{Rate: 1.5, Pitch: 0.8, Volume: 0.5}},
		{name: "clamped", in: synth.Options{Rate: 20, Pitch: 3, Volume: 2}, want: synth.Options{Rate: 10, Pitch: 2, Volume: 1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.in.Normalize(); got != tc.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tc.want)
			}
		})
	}
}
