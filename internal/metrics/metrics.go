// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package metrics exposes Prometheus instrumentation for the
// detection pipeline: event ingestion, correlation sweeps, recon
// state persistence, file context lookups and alert delivery.
package metrics

import (
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest Metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total number of audit events accepted into a sweep",
		},
		[]string{"kind"}, // "recon", "exfil"
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_skipped_total",
			Help: "Total number of audit events dropped before correlation",
		},
		[]string{"kind", "reason"}, // reason: "malformed", "duplicate"
	)

	EventsClamped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_clamped_total",
			Help: "Total number of events with future timestamps clamped to sweep time",
		},
		[]string{"kind"},
	)

	// Detection Metrics
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findings_total",
			Help: "Total number of findings produced",
		},
		[]string{"severity", "correlation"}, // correlation: "immediate", "delayed"
	)

	FindingsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findings_suppressed_total",
			Help: "Total number of candidate findings suppressed before emission",
		},
		[]string{"reason"}, // "benign_intent", "excluded_actor", "investigation_ou", "duplicate"
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Duration of detection sweeps in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	SweepActors = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_actors",
			Help:    "Number of distinct actors processed per sweep",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	SweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_errors_total",
			Help: "Total number of failed detection sweeps",
		},
		[]string{"error_type"}, // "source", "emission", "canceled", "other"
	)

	SweepLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful sweep",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "detection_active_workers",
			Help: "Current number of busy per-actor workers",
		},
	)

	// Recon Store Metrics
	ReconObservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_observations_total",
			Help: "Total number of recon events folded into actor scores",
		},
	)

	ReconStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_store_errors_total",
			Help: "Total number of recon state backend errors",
		},
		[]string{"backend", "operation"}, // operation: "get", "put", "delete"
	)

	ReconCASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_store_cas_retries_total",
			Help: "Total number of compare-and-swap retries on score updates",
		},
	)

	ReconEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recon_scores_evicted_total",
			Help: "Total number of actor scores evicted after decaying to noise",
		},
	)

	// File Context Metrics
	FileContextLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_context_lookups_total",
			Help: "Total number of document metadata lookups",
		},
		[]string{"result"}, // "hit", "miss", "negative", "synthetic"
	)

	FileContextFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "file_context_fetch_duration_seconds",
			Help:    "Duration of document metadata fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FileContextFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "file_context_fetch_errors_total",
			Help: "Total number of failed document metadata fetches",
		},
		[]string{"reason"}, // "timeout", "not_found", "breaker_open", "api"
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Baseline Metrics
	BaselineUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baseline_updates_total",
			Help: "Total number of actor baseline updates",
		},
	)

	BaselineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baseline_errors_total",
			Help: "Total number of baseline persistence errors",
		},
		[]string{"operation"}, // "load", "store"
	)

	// Source Metrics
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of audit log fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	SourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_errors_total",
			Help: "Total number of audit log fetch errors",
		},
		[]string{"kind", "error_type"},
	)

	SourcePages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_pages_fetched_total",
			Help: "Total number of result pages fetched from audit sources",
		},
		[]string{"kind"},
	)

	// Alert Delivery Metrics
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_alerts_sent_total",
			Help: "Total number of findings delivered to the webhook",
		},
		[]string{"severity"},
	)

	AlertFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_alert_failures_total",
			Help: "Total number of webhook deliveries that failed after retry",
		},
		[]string{"reason"}, // "network", "http_status", "timeout"
	)

	AlertDeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Duration of webhook deliveries in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Report Emission Metrics
	ReportEmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_emissions_total",
			Help: "Total number of findings files written",
		},
	)

	ReportFindingsWritten = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "report_findings_written",
			Help:    "Number of findings per emitted report",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		},
	)

	ReportEmissionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_emission_retries_total",
			Help: "Total number of report writes retried after an initial failure",
		},
	)

	ReportEmissionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "report_emission_failures_total",
			Help: "Total number of report writes that failed after retry",
		},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "file_context", "org_units", "finding_dedup"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (capacity or TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// RecordEventIngested records an accepted audit event.
func RecordEventIngested(kind string) {
	EventsIngested.WithLabelValues(kind).Inc()
}

// RecordEventSkipped records an event dropped before correlation.
func RecordEventSkipped(kind, reason string) {
	EventsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordEventClamped records a future-dated event clamped to now.
func RecordEventClamped(kind string) {
	EventsClamped.WithLabelValues(kind).Inc()
}

// RecordFinding records an emitted finding.
func RecordFinding(severity, correlation string) {
	FindingsTotal.WithLabelValues(severity, correlation).Inc()
}

// RecordSuppression records a candidate finding that was dropped.
func RecordSuppression(reason string) {
	FindingsSuppressed.WithLabelValues(reason).Inc()
}

// RecordSweep records a completed detection sweep. A nil error marks
// the sweep successful and refreshes the last-success timestamp.
func RecordSweep(duration time.Duration, actors int, err error) {
	SweepDuration.Observe(duration.Seconds())
	SweepActors.Observe(float64(actors))
	if err == nil {
		SweepLastSuccess.Set(float64(time.Now().Unix()))
		return
	}
	errorType := "other"
	msg := err.Error()
	switch {
	case strings.Contains(msg, "source"):
		errorType = "source"
	case strings.Contains(msg, "emission"), strings.Contains(msg, "writing findings"):
		errorType = "emission"
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "deadline exceeded"):
		errorType = "canceled"
	}
	SweepErrors.WithLabelValues(errorType).Inc()
}

// TrackWorker tracks per-actor worker occupancy.
func TrackWorker(busy bool) {
	if busy {
		ActiveWorkers.Inc()
	} else {
		ActiveWorkers.Dec()
	}
}

// RecordReconObservation records a recon event folded into a score.
func RecordReconObservation() {
	ReconObservations.Inc()
}

// RecordReconStoreError records a recon state backend failure.
func RecordReconStoreError(backend, operation string) {
	ReconStoreErrors.WithLabelValues(backend, operation).Inc()
}

// RecordCASRetry records a compare-and-swap conflict retry.
func RecordCASRetry() {
	ReconCASRetries.Inc()
}

// RecordReconEviction records a decayed score removed from the store.
func RecordReconEviction() {
	ReconEvictions.Inc()
}

// RecordFileContextLookup records the outcome of a metadata lookup.
func RecordFileContextLookup(result string) {
	FileContextLookups.WithLabelValues(result).Inc()
}

// RecordFileContextFetch records an upstream metadata fetch.
func RecordFileContextFetch(duration time.Duration, err error) {
	FileContextFetchDuration.Observe(duration.Seconds())
	if err == nil {
		return
	}
	reason := "api"
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		reason = "timeout"
	case strings.Contains(msg, "not found"), strings.Contains(msg, "404"):
		reason = "not_found"
	case strings.Contains(msg, "circuit breaker"):
		reason = "breaker_open"
	}
	FileContextFetchErrors.WithLabelValues(reason).Inc()
}

// SetCircuitBreakerState sets the state gauge for a named breaker.
func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordCircuitBreakerTransition records a breaker state change.
func RecordCircuitBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordBaselineUpdate records an actor baseline refresh.
func RecordBaselineUpdate() {
	BaselineUpdates.Inc()
}

// RecordBaselineError records a baseline persistence failure.
func RecordBaselineError(operation string) {
	BaselineErrors.WithLabelValues(operation).Inc()
}

// RecordSourceFetch records an audit log fetch and its page count.
func RecordSourceFetch(kind string, duration time.Duration, pages int, err error) {
	SourceFetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	SourcePages.WithLabelValues(kind).Add(float64(pages))
	if err != nil {
		errorType := "api"
		msg := err.Error()
		switch {
		case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
			errorType = "timeout"
		case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "403"), strings.Contains(msg, "401"):
			errorType = "auth"
		case strings.Contains(msg, "unavailable"):
			errorType = "unavailable"
		}
		SourceFetchErrors.WithLabelValues(kind, errorType).Inc()
	}
}

// RecordAlertSent records a successful webhook delivery.
func RecordAlertSent(severity string, duration time.Duration) {
	AlertsSent.WithLabelValues(severity).Inc()
	AlertDeliveryDuration.Observe(duration.Seconds())
}

// RecordAlertFailure records a webhook delivery that failed after
// retry.
func RecordAlertFailure(reason string) {
	AlertFailures.WithLabelValues(reason).Inc()
}

// RecordReportEmission records a findings file written to disk.
func RecordReportEmission(findings int) {
	ReportEmissions.Inc()
	ReportFindingsWritten.Observe(float64(findings))
}

// RecordReportRetry records a report write retried after failure.
func RecordReportRetry() {
	ReportEmissionRetries.Inc()
}

// RecordReportFailure records a report write abandoned after retry.
func RecordReportFailure() {
	ReportEmissionFailures.Inc()
}

// RecordCacheHit records a cache hit for the named cache.
func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the named cache.
func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

// UpdateCacheSize sets the entry gauge for the named cache.
func UpdateCacheSize(cacheType string, entries int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(entries))
}

// RecordCacheEviction records an eviction from the named cache.
func RecordCacheEviction(cacheType string) {
	CacheEvictions.WithLabelValues(cacheType).Inc()
}

// SetAppInfo publishes the build version pair.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// UpdateUptime refreshes the uptime gauge from the process start time.
func UpdateUptime(start time.Time) {
	AppUptime.Set(time.Since(start).Seconds())
}
