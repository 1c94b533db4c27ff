package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// opsHandler wraps a handler answering status for every path, the way the
// ops server wraps its mux.
func opsHandler(t *testing.T, status int) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useTracer(t)

	h := Middleware(m, "/metrics", "/healthz", "/readyz")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	return h, reader, exp
}

func TestMiddleware_Spans(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		status   int
		wantSpan string
	}{
		{"known route", "/readyz", http.StatusServiceUnavailable, "HTTP GET /readyz"},
		{"scanner path", "/wp-admin", http.StatusNotFound, "HTTP GET other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, exp := opsHandler(t, tt.status)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 || spans[0].Name != tt.wantSpan {
				t.Fatalf("spans = %v, want one %q", spans, tt.wantSpan)
			}
			var code int64
			for _, a := range spans[0].Attributes {
				if a.Key == "http.response.status_code" {
					code = a.Value.AsInt64()
				}
			}
			if code != int64(tt.status) {
				t.Errorf("span status code = %d, want %d", code, tt.status)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != spans[0].SpanContext.TraceID().String() {
				t.Errorf("X-Correlation-ID = %q, want the span's trace id", got)
			}
		})
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	h, _, _ := opsHandler(t, http.StatusOK)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("X-Correlation-ID = %q, want the incoming trace id", got)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response carries no traceparent")
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _ := opsHandler(t, http.StatusOK)
	for _, p := range []string{"/healthz", "/healthz", "/.env", "/metrics"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "echovox.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration is %T, want a histogram", met.Data)
	}

	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		path, _ := dp.Attributes.Value("path")
		method, _ := dp.Attributes.Value("method")
		if method.AsString() != http.MethodGet {
			t.Errorf("method = %q, want GET", method.AsString())
		}
		counts[path.AsString()] += dp.Count
	}
	want := map[string]uint64{"/healthz": 2, "/metrics": 1, "other": 1}
	for p, n := range want {
		if counts[p] != n {
			t.Errorf("count[%s] = %d, want %d (all: %v)", p, counts[p], n, counts)
		}
	}
	if len(counts) != len(want) {
		t.Errorf("paths = %v, want %v", counts, want)
	}
}
