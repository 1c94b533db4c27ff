package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWhere returns the value of the int64 sum data point carrying key=value,
// or -1 if there is none.
func sumWhere(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return -1
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestCacheObserver(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.CacheResult(ctx, false)
	m.SynthesisDone(ctx, 1200*time.Millisecond, nil)
	m.CacheResult(ctx, true)
	m.CacheResult(ctx, true)
	m.CacheResult(ctx, false)
	m.SynthesisDone(ctx, 300*time.Millisecond, errors.New("quota"))

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "echovox.cache.lookups", "result", "hit"); got != 2 {
		t.Errorf("hits = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "echovox.cache.lookups", "result", "miss"); got != 2 {
		t.Errorf("misses = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "echovox.tts.synthesis.duration"); got != 2 {
		t.Errorf("synthesis samples = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "echovox.provider.errors", "provider", "tts"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestRecordProviderRequest_CancelIsNotAnError(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "complete", nil)
	m.RecordProviderRequest(ctx, "openai", "complete", context.Canceled)

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "echovox.provider.requests", "status", "cancelled"); got != 1 {
		t.Errorf("cancelled requests = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "echovox.provider.requests", "status", "ok"); got != 1 {
		t.Errorf("ok requests = %d, want 1", got)
	}
	if met := findMetric(rm, "echovox.provider.errors"); met != nil {
		if sum, ok := met.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
			t.Errorf("unexpected provider errors: %+v", sum.DataPoints)
		}
	}
}

func TestSessionObserver(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ConnectionsChanged(ctx, 1)
	m.ConnectionsChanged(ctx, 1)
	m.PlaybackDone(ctx, "g1", 4*time.Second, nil)
	m.IdleDisconnect(ctx, "g1")
	m.ConnectionsChanged(ctx, -1)

	rm := collect(t, reader)

	met := findMetric(rm, "echovox.active_sessions")
	if met == nil {
		t.Fatal("active_sessions not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active sessions = %+v, want 1", sum.DataPoints)
	}
	if got := histogramCount(t, rm, "echovox.playback.duration"); got != 1 {
		t.Errorf("playback samples = %d, want 1", got)
	}
	idle := findMetric(rm, "echovox.session.idle_disconnects").Data.(metricdata.Sum[int64])
	if len(idle.DataPoints) != 1 || idle.DataPoints[0].Value != 1 {
		t.Errorf("idle disconnects = %+v, want 1", idle.DataPoints)
	}
}

func TestRecordReplyAndBreaker(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReply(ctx, true)
	m.RecordReply(ctx, true)
	m.RecordReply(ctx, false)
	m.RecordBreakerTransition(ctx, "tts/elevenlabs", "open")

	rm := collect(t, reader)
	if got := sumWhere(t, rm, "echovox.replies", "result", "succeeded"); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if got := sumWhere(t, rm, "echovox.replies", "result", "failed"); got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	if got := sumWhere(t, rm, "echovox.breaker.transitions", "to", "open"); got != 1 {
		t.Errorf("breaker transitions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
