package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer registers an in-memory tracer provider globally for the
// duration of the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	setGlobalTracer(t, tp)
	return exp
}

// captureLogs points the default logger at a JSON buffer and returns a
// function decoding the last record.
func captureLogs(t *testing.T) func() map[string]any {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return func() map[string]any {
		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		var rec map[string]any
		if err := json.Unmarshal(lines[len(lines)-1], &rec); err != nil {
			t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
		}
		return rec
	}
}

func TestStartSpan(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "dispatch.transcript", attribute.String("consumer", "interpreter"))
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 {
		t.Errorf("CorrelationID = %q, want 32 hex digits", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "dispatch.transcript" {
		t.Fatalf("spans = %v", spans)
	}
	if spans[0].SpanContext.TraceID().String() != cid {
		t.Errorf("span trace id %s != correlation id %s", spans[0].SpanContext.TraceID(), cid)
	}
	var found bool
	for _, a := range spans[0].Attributes {
		found = found || (a.Key == "consumer" && a.Value.AsString() == "interpreter")
	}
	if !found {
		t.Errorf("attributes = %v", spans[0].Attributes)
	}
}

func TestCorrelationID_NoSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	installTracer(t)
	last := captureLogs(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    map[string]any
		missing []string
	}{
		{
			name:    "plain context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			missing: []string{"trace_id", "span_id", "remote"},
		},
		{
			name: "span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(context.Background(), "op")
				return ctx, func() { span.End() }
			},
			missing: []string{"remote"},
		},
		{
			name: "attached attributes accumulate",
			ctx: func() (context.Context, func()) {
				ctx := WithLogAttrs(context.Background(), slog.String("remote", "10.0.0.7:5000"))
				ctx = WithLogAttrs(ctx, slog.String("form", "task"))
				ctx = WithLogAttrs(ctx)
				return ctx, func() {}
			},
			want:    map[string]any{"remote": "10.0.0.7:5000", "form": "task"},
			missing: []string{"trace_id"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx, done := tc.ctx()
			defer done()

			Logger(ctx).Info("dispatch: command")
			rec := last()
			for k, v := range tc.want {
				if rec[k] != v {
					t.Errorf("%s = %v, want %v", k, rec[k], v)
				}
			}
			for _, k := range tc.missing {
				if _, ok := rec[k]; ok {
					t.Errorf("unexpected %s in %v", k, rec)
				}
			}
			if _, traced := rec["trace_id"]; traced != (CorrelationID(ctx) != "") {
				t.Errorf("trace_id presence = %v for ctx with correlation %q", traced, CorrelationID(ctx))
			}
		})
	}
}

func TestWithLogAttrs_DoesNotAlias(t *testing.T) {
	t.Parallel()

	base := WithLogAttrs(context.Background(), slog.String("remote", "a"))
	left := WithLogAttrs(base, slog.String("form", "task"))
	right := WithLogAttrs(base, slog.String("form", "journal"))

	l, _ := left.Value(logAttrsKey{}).([]slog.Attr)
	r, _ := right.Value(logAttrsKey{}).([]slog.Attr)
	if l[1].Value.String() != "task" || r[1].Value.String() != "journal" {
		t.Errorf("left = %v, right = %v", l, r)
	}
	if b, _ := base.Value(logAttrsKey{}).([]slog.Attr); len(b) != 1 {
		t.Errorf("base grew to %v", b)
	}
}
