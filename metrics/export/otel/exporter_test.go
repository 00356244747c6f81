package otel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	hybridAuth "github.com/MrEthical07/hybridAuth"
)

type fakeSource struct {
	mu       sync.RWMutex
	counters map[hybridAuth.MetricID]uint64
	latency  []uint64
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() hybridAuth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := hybridAuth.MetricsSnapshot{
		Counters:   make(map[hybridAuth.MetricID]uint64, len(f.counters)),
		Histograms: map[hybridAuth.MetricID][]uint64{},
	}
	for k, v := range f.counters {
		out.Counters[k] = v
	}
	if f.latency != nil {
		out.Histograms[hybridAuth.MetricAuthorizeLatency] = append([]uint64(nil), f.latency...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestExporterObservesSnapshot(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{
		counters: map[hybridAuth.MetricID]uint64{hybridAuth.MetricLoginSuccess: 3},
		latency:  []uint64{1, 1, 1, 1, 1, 1, 1, 1},
		dropped:  2,
	}

	exp, err := NewFromSource(provider.Meter("hybridauth-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)

	login, ok := got["hybridauth_login_success_total"].Data.(metricdata.Sum[int64])
	if !ok || len(login.DataPoints) != 1 || login.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected login counter %+v", got["hybridauth_login_success_total"].Data)
	}

	dropped, ok := got["hybridauth_audit_dropped_total"].Data.(metricdata.Sum[int64])
	if !ok || dropped.DataPoints[0].Value != 2 {
		t.Fatalf("unexpected audit dropped %+v", got["hybridauth_audit_dropped_total"].Data)
	}

	buckets, ok := got["hybridauth_authorize_latency_seconds_bucket"].Data.(metricdata.Gauge[int64])
	if !ok || len(buckets.DataPoints) != 8 {
		t.Fatalf("unexpected bucket gauge %+v", got["hybridauth_authorize_latency_seconds_bucket"].Data)
	}
	for _, dp := range buckets.DataPoints {
		if le, _ := dp.Attributes.Value(attribute.Key("le")); le.AsString() == "+Inf" && dp.Value != 8 {
			t.Fatalf("+Inf bucket = %d, want 8", dp.Value)
		}
	}
}

func TestExporterSkipsDisabledHistogram(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[hybridAuth.MetricID]uint64{}}

	exp, err := NewFromSource(provider.Meter("hybridauth-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if m, ok := got["hybridauth_authorize_latency_seconds_bucket"]; ok {
		if g, _ := m.Data.(metricdata.Gauge[int64]); len(g.DataPoints) != 0 {
			t.Fatalf("expected no bucket points, got %d", len(g.DataPoints))
		}
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader(t)

	if _, err := NewFromSource(provider.Meter("hybridauth-test"), nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader(t)
	src := &fakeSource{counters: map[hybridAuth.MetricID]uint64{hybridAuth.MetricLoginSuccess: 1}}

	exp, err := NewFromSource(provider.Meter("hybridauth-test"), src)
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.counters[hybridAuth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
