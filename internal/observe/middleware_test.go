package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setGlobalTracer(t *testing.T, tp trace.TracerProvider) {
	t.Helper()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
}

// newMux builds a mux shaped like the service's: health endpoints, a failing route
// and a websocket endpoint, all behind Middleware.
func newMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := installTracer(t)
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /forms/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"type":"state"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return Middleware(m)(mux), reader, exp
}

// durations returns the histogram sample count per route label.
func durations(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	out := map[string]uint64{}
	met := findMetric(collect(t, reader), "focusvoice.http.request.duration")
	if met == nil {
		return out
	}
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		route, _ := dp.Attributes.Value("route")
		out[route.AsString()] += dp.Count
	}
	return out
}

func TestMiddleware_Requests(t *testing.T) {
	h, reader, exp := newMux(t)

	tests := []struct {
		path      string
		wantCode  int
		wantRoute string
	}{
		{path: "/healthz", wantCode: http.StatusOK, wantRoute: "GET /healthz"},
		{path: "/forms/task", wantCode: http.StatusInternalServerError, wantRoute: "GET /forms/{name}"},
		{path: "/forms/journal", wantCode: http.StatusInternalServerError, wantRoute: "GET /forms/{name}"},
		{path: "/nowhere", wantCode: http.StatusNotFound, wantRoute: unmatchedRoute},
	}
	for _, tc := range tests {
		exp.Reset()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))

		if rec.Code != tc.wantCode {
			t.Errorf("%s: code = %d, want %d", tc.path, rec.Code, tc.wantCode)
		}
		cid := rec.Header().Get("X-Correlation-ID")
		if len(cid) != 32 {
			t.Errorf("%s: X-Correlation-ID = %q", tc.path, cid)
		}
		spans := exp.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("%s: %d spans, want 1", tc.path, len(spans))
		}
		if want := "HTTP " + tc.wantRoute; spans[0].Name != want {
			t.Errorf("%s: span name = %q, want %q", tc.path, spans[0].Name, want)
		}
		var status int64
		for _, a := range spans[0].Attributes {
			if a.Key == "http.response.status_code" {
				status = a.Value.AsInt64()
			}
		}
		if status != int64(tc.wantCode) {
			t.Errorf("%s: span status attribute = %d", tc.path, status)
		}
	}

	got := durations(t, reader)
	want := map[string]uint64{"GET /healthz": 1, "GET /forms/{name}": 2, unmatchedRoute: 1}
	for route, n := range want {
		if got[route] != n {
			t.Errorf("duration samples for %q = %d, want %d (all: %v)", route, got[route], n, got)
		}
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, _ := newMux(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Seen-Correlation"); got != traceID {
		t.Errorf("handler saw correlation %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
	if got := rec.Header().Get("traceparent"); !strings.Contains(got, traceID) {
		t.Errorf("traceparent = %q, want it to carry %s", got, traceID)
	}
}

func TestMiddleware_WebSocketUpgrade(t *testing.T) {
	h, reader, _ := newMux(t)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"type":"state"}` {
		t.Errorf("got %q", data)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	srv.Close()

	if n := durations(t, reader)["GET /ws"]; n != 0 {
		t.Errorf("websocket session recorded %d duration samples, want 0", n)
	}
}
