// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// histogramCount extracts the sample count from a Prometheus histogram.
// testutil.ToFloat64 only handles counters and gauges.
func histogramCount(h prometheus.Histogram) uint64 {
	var m io_prometheus_client.Metric
	if err := h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRecordEventCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func()
	}{
		{"ingested recon", func() { RecordEventIngested("recon") }},
		{"ingested exfil", func() { RecordEventIngested("exfil") }},
		{"skipped malformed", func() { RecordEventSkipped("recon", "malformed") }},
		{"skipped duplicate", func() { RecordEventSkipped("exfil", "duplicate") }},
		{"clamped", func() { RecordEventClamped("exfil") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.record()
		})
	}

	if got := testutil.ToFloat64(EventsSkipped.WithLabelValues("recon", "malformed")); got < 1 {
		t.Errorf("events_skipped_total{recon,malformed} = %v, want >= 1", got)
	}
}

func TestRecordFinding(t *testing.T) {
	RecordFinding("high", "immediate")
	RecordFinding("medium", "delayed")
	RecordSuppression("benign_intent")
	RecordSuppression("excluded_actor")

	if got := testutil.ToFloat64(FindingsTotal.WithLabelValues("high", "immediate")); got < 1 {
		t.Errorf("findings_total{high,immediate} = %v, want >= 1", got)
	}
}

func TestRecordSweep(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		actors   int
		err      error
	}{
		{"successful sweep", 2 * time.Second, 40, nil},
		{"source failure", time.Second, 0, errors.New("source unavailable: reports API")},
		{"emission failure", 3 * time.Second, 12, errors.New("emission failed after retry")},
		{"canceled sweep", 500 * time.Millisecond, 5, errors.New("context canceled")},
		{"unclassified failure", time.Second, 1, errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordSweep(tt.duration, tt.actors, tt.err)
		})
	}

	if got := testutil.ToFloat64(SweepErrors.WithLabelValues("source")); got < 1 {
		t.Errorf("sweep_errors_total{source} = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(SweepLastSuccess); got == 0 {
		t.Error("sweep_last_success_timestamp = 0, want set after successful sweep")
	}
	if got := histogramCount(SweepDuration); got < uint64(len(tests)) {
		t.Errorf("sweep_duration_seconds observations = %v, want >= %v", got, len(tests))
	}
	if got := histogramCount(SweepActors); got < 1 {
		t.Errorf("sweep_actors observations = %v, want >= 1", got)
	}
}

func TestTrackWorker(t *testing.T) {
	before := testutil.ToFloat64(ActiveWorkers)
	TrackWorker(true)
	TrackWorker(true)
	if got := testutil.ToFloat64(ActiveWorkers); got != before+2 {
		t.Errorf("detection_active_workers = %v, want %v", got, before+2)
	}
	TrackWorker(false)
	TrackWorker(false)
	if got := testutil.ToFloat64(ActiveWorkers); got != before {
		t.Errorf("detection_active_workers = %v, want %v after release", got, before)
	}
}

func TestReconStoreMetrics(t *testing.T) {
	RecordReconObservation()
	RecordReconStoreError("redis", "put")
	RecordCASRetry()
	RecordReconEviction()

	if got := testutil.ToFloat64(ReconStoreErrors.WithLabelValues("redis", "put")); got < 1 {
		t.Errorf("recon_store_errors_total{redis,put} = %v, want >= 1", got)
	}
}

func TestRecordFileContextFetch(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, ""},
		{"timeout", errors.New("context deadline exceeded"), "timeout"},
		{"not found", errors.New("file not found: googleapi 404"), "not_found"},
		{"breaker open", errors.New("circuit breaker is open"), "breaker_open"},
		{"generic api", errors.New("backend exploded"), "api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordFileContextFetch(25*time.Millisecond, tt.err)
			if tt.want == "" {
				return
			}
			if got := testutil.ToFloat64(FileContextFetchErrors.WithLabelValues(tt.want)); got < 1 {
				t.Errorf("file_context_fetch_errors_total{%s} = %v, want >= 1", tt.want, got)
			}
		})
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	SetCircuitBreakerState("drive_metadata", 0)
	SetCircuitBreakerState("drive_metadata", 2)
	RecordCircuitBreakerTransition("drive_metadata", "closed", "open")

	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("drive_metadata")); got != 2 {
		t.Errorf("circuit_breaker_state{drive_metadata} = %v, want 2", got)
	}
}

func TestRecordSourceFetch(t *testing.T) {
	RecordSourceFetch("recon", 800*time.Millisecond, 3, nil)
	RecordSourceFetch("exfil", time.Second, 1, errors.New("googleapi: Error 401: unauthorized"))
	RecordSourceFetch("exfil", time.Second, 0, errors.New("service unavailable"))

	if got := testutil.ToFloat64(SourcePages.WithLabelValues("recon")); got < 3 {
		t.Errorf("source_pages_fetched_total{recon} = %v, want >= 3", got)
	}
	if got := testutil.ToFloat64(SourceFetchErrors.WithLabelValues("exfil", "auth")); got < 1 {
		t.Errorf("source_fetch_errors_total{exfil,auth} = %v, want >= 1", got)
	}
}

func TestAlertMetrics(t *testing.T) {
	RecordAlertSent("high", 120*time.Millisecond)
	RecordAlertFailure("http_status")

	if got := testutil.ToFloat64(AlertsSent.WithLabelValues("high")); got < 1 {
		t.Errorf("webhook_alerts_sent_total{high} = %v, want >= 1", got)
	}
}

func TestReportMetrics(t *testing.T) {
	RecordReportEmission(7)
	RecordReportRetry()
	RecordReportFailure()

	if got := testutil.ToFloat64(ReportEmissions); got < 1 {
		t.Errorf("report_emissions_total = %v, want >= 1", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	RecordCacheHit("file_context")
	RecordCacheMiss("file_context")
	RecordCacheEviction("file_context")
	UpdateCacheSize("file_context", 42)

	if got := testutil.ToFloat64(CacheSize.WithLabelValues("file_context")); got != 42 {
		t.Errorf("cache_entries{file_context} = %v, want 42", got)
	}
}

func TestBaselineMetrics(t *testing.T) {
	RecordBaselineUpdate()
	RecordBaselineError("load")

	if got := testutil.ToFloat64(BaselineErrors.WithLabelValues("load")); got < 1 {
		t.Errorf("baseline_errors_total{load} = %v, want >= 1", got)
	}
}

func TestSystemMetrics(t *testing.T) {
	SetAppInfo("test")
	UpdateUptime(time.Now().Add(-3 * time.Second))

	if got := testutil.ToFloat64(AppUptime); got < 2 {
		t.Errorf("app_uptime_seconds = %v, want >= 2", got)
	}
}

// TestConcurrentRecording exercises the helpers from multiple
// goroutines. Failures here surface as races under -race.
func TestConcurrentRecording(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				RecordEventIngested("recon")
				RecordFinding("low", "immediate")
				RecordReconObservation()
				RecordCacheHit("finding_dedup")
				TrackWorker(true)
				TrackWorker(false)
			}
		}()
	}
	wg.Wait()
}

// TestMetricGathering lints the registered metrics for naming and
// help-text consistency.
func TestMetricGathering(t *testing.T) {
	RecordEventIngested("recon")
	RecordFinding("high", "immediate")

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("Lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("Metric lint problem: %s", p.Text)
	}
}

func BenchmarkRecordEventIngested(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordEventIngested("recon")
	}
}

func BenchmarkRecordFinding(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordFinding("high", "immediate")
	}
}

func BenchmarkRecordSweep(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordSweep(2*time.Second, 40, nil)
	}
}
