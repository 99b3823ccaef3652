package resilience

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
	ttsmock "github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/provider/tts/mock"
	"github.com/wmaitre1/teen-adhd-assistan-sub000/pkg/types"
)

func drain(ch <-chan []byte) [][]byte {
	var chunks [][]byte
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func textOf(s string) <-chan string {
	ch := make(chan string, 1)
	ch <- s
	close(ch)
	return ch
}

func TestTTSFallback_SynthesizeStream_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	stream, err := fb.SynthesizeStream(context.Background(), textOf("Going to Tasks."), types.VoiceProfile{
		ID:   "v1",
		Name: "TestVoice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks := drain(stream.Audio())
	if len(chunks) != 2 || string(chunks[0]) != "audio1" {
		t.Fatalf("chunks = %q, want [audio1 audio2]", chunks)
	}
	calls := primary.Calls()
	if len(calls) != 1 || calls[0].Text != "Going to Tasks." || calls[0].Voice.ID != "v1" {
		t.Fatalf("primary calls = %+v", calls)
	}
	if n := len(secondary.Calls()); n != 0 {
		t.Fatalf("secondary called %d times, want 0", n)
	}
}

func TestTTSFallback_SynthesizeStream_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	stream, err := fb.SynthesizeStream(context.Background(), textOf("hello"), types.VoiceProfile{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := drain(stream.Audio())
	if len(chunks) != 1 || string(chunks[0]) != "fallback-audio" {
		t.Fatalf("chunks = %q, want [fallback-audio]", chunks)
	}
}

func TestTTSFallback_SynthesizeStream_StreamErrors(t *testing.T) {
	rejected := errors.New("invalid_api_key")
	crashed := errors.New("connection reset")

	tests := []struct {
		name          string
		primary       *ttsmock.Provider
		wantChunks    []string
		wantErr       error
		wantSecondary int
	}{
		{
			name:          "failure before audio fails over",
			primary:       &ttsmock.Provider{StreamErr: rejected},
			wantChunks:    []string{"fallback-audio"},
			wantSecondary: 1,
		},
		{
			name:       "failure after audio ends the stream",
			primary:    &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("partial")}, StreamErr: crashed},
			wantChunks: []string{"partial"},
			wantErr:    crashed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("fallback-audio")}}
			fb := NewTTSFallback(tc.primary, "primary", FallbackConfig{
				CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
			})
			fb.AddFallback("secondary", secondary)

			stream, err := fb.SynthesizeStream(context.Background(), textOf("Opening tasks"), types.VoiceProfile{ID: "v1"})
			if err != nil {
				t.Fatalf("SynthesizeStream: %v", err)
			}
			var got []string
			for _, c := range drain(stream.Audio()) {
				got = append(got, string(c))
			}
			if len(got) != len(tc.wantChunks) || (len(got) > 0 && got[0] != tc.wantChunks[0]) {
				t.Errorf("chunks = %q, want %q", got, tc.wantChunks)
			}
			if err := stream.Err(); !errors.Is(err, tc.wantErr) {
				t.Errorf("Err = %v, want %v", err, tc.wantErr)
			}
			calls := secondary.Calls()
			if len(calls) != tc.wantSecondary {
				t.Fatalf("secondary calls = %d, want %d", len(calls), tc.wantSecondary)
			}
			if tc.wantSecondary > 0 && calls[0].Text != "Opening tasks" {
				t.Errorf("secondary text = %q, want the same text replayed", calls[0].Text)
			}
		})
	}
}

func TestTTSFallback_SynthesizeStream_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{SynthesizeErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	textCh := make(chan string)
	close(textCh)

	_, err := fb.SynthesizeStream(context.Background(), textCh, types.VoiceProfile{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{
		Voices: []types.VoiceProfile{
			{ID: "v1", Name: "Alice", Language: "en-US"},
			{ID: "v2", Name: "Bob", Language: "en-GB"},
		},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Fatalf("voices = %+v", voices)
	}
}

func TestTTSFallback_ListVoices_EmptyIsNotFailure(t *testing.T) {
	primary := &ttsmock.Provider{VoicesAfter: 1, Voices: []types.VoiceProfile{{ID: "v1"}}}
	secondary := &ttsmock.Provider{Voices: []types.VoiceProfile{{ID: "other"}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil || len(voices) != 0 {
		t.Fatalf("first call = %v, %v; want empty list from primary", voices, err)
	}
	voices, err = fb.ListVoices(context.Background())
	if err != nil || len(voices) != 1 || voices[0].ID != "v1" {
		t.Fatalf("second call = %v, %v; want primary catalogue", voices, err)
	}
	if n := secondary.ListVoicesCalls(); n != 0 {
		t.Errorf("secondary asked %d times, want 0", n)
	}
}

func TestTTSFallback_RecordsProviderRequests(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	primary := &ttsmock.Provider{ListVoicesErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{Voices: []types.VoiceProfile{{ID: "v1"}}}
	fb := NewTTSFallback(primary, "eleven", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
		Metrics:        met,
	})
	fb.AddFallback("backup", secondary)

	if _, err := fb.ListVoices(context.Background()); err != nil {
		t.Fatal(err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "focusvoice.provider.requests" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				p, _ := dp.Attributes.Value("provider")
				s, _ := dp.Attributes.Value("status")
				k, _ := dp.Attributes.Value("kind")
				if k.AsString() != "tts" {
					t.Errorf("kind = %q, want tts", k.AsString())
				}
				got[p.AsString()+"/"+s.AsString()] += dp.Value
			}
		}
	}
	if got["eleven/error"] != 1 || got["backup/ok"] != 1 {
		t.Errorf("provider requests = %v", got)
	}
}
