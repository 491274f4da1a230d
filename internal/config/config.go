// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package config loads and validates Vigilo's runtime configuration.
//
// Configuration is layered: hardcoded defaults, then an optional YAML
// file, then environment variables. Every knob that shapes detection
// behaviour (correlation window, decay half-life, intent thresholds,
// suppression lists) lives here so the detection packages stay pure.
package config

import (
	"runtime"
	"time"
)

// Config is the root configuration for a Vigilo run.
type Config struct {
	// Timezone is the IANA zone used for off-hours classification and
	// for rendering finding timestamps. Defaults to UTC.
	Timezone string `koanf:"timezone"`

	// WindowMinutes bounds the recon-to-exfil gap for an immediate
	// correlation. Findings outside the window fall back to the
	// delayed-correlation path.
	WindowMinutes int `koanf:"window_minutes"`

	// DelayedThreshold is the minimum decayed recon score required to
	// raise a delayed finding when no in-window recon event exists.
	DelayedThreshold float64 `koanf:"delayed_threshold"`

	// ReconHalfLifeHours controls exponential decay of accumulated
	// recon scores.
	ReconHalfLifeHours float64 `koanf:"recon_half_life_hours"`

	// FutureSkewToleranceMinutes is how far into the future an event
	// timestamp may sit before it is clamped to the current time.
	FutureSkewToleranceMinutes int `koanf:"future_skew_tolerance_minutes"`

	// Workers caps the per-actor worker pool. Zero means
	// min(NumCPU, 8).
	Workers int `koanf:"workers"`

	ReconState        ReconStateConfig        `koanf:"recon_state"`
	Sources           SourcesConfig           `koanf:"sources"`
	FileContext       FileContextConfig       `koanf:"file_context"`
	Baselines         BaselinesConfig         `koanf:"baselines"`
	Intent            IntentConfig            `koanf:"intent"`
	Suppressions      SuppressionsConfig      `koanf:"suppressions"`
	PartnerDomains    []string                `koanf:"partner_domains"`
	HighRiskFolders   []string                `koanf:"high_risk_folders"`
	SeverityOverrides SeverityOverridesConfig `koanf:"severity_overrides"`

	// CanaryDocIDs are tripwire documents. Any correlated exfil
	// touching one is forced to high severity.
	CanaryDocIDs []string `koanf:"canary_doc_ids"`

	// OrgUnits maps actor email to organizational unit path. It is a
	// static fallback used when no directory source is configured.
	OrgUnits map[string]string `koanf:"org_units"`

	Alerting AlertingConfig `koanf:"alerting"`
	Ops      OpsConfig      `koanf:"ops"`
	Logging  LoggingConfig  `koanf:"logging"`

	// LoadedFrom records which config file supplied the file layer,
	// empty when running on defaults and environment only.
	LoadedFrom string `koanf:"-"`
}

// ReconStateConfig selects and tunes the recon score store.
type ReconStateConfig struct {
	// Backend is one of memory, redis or badger.
	Backend string `koanf:"backend"`

	// RedisURL is the redis connection URL, required when Backend is
	// redis. Example: redis://localhost:6379/0.
	RedisURL string `koanf:"redis_url"`

	// BadgerPath is the on-disk database directory, required when
	// Backend is badger.
	BadgerPath string `koanf:"badger_path"`

	// TTLDays is the retention for per-actor score and baseline keys.
	TTLDays int `koanf:"ttl_days"`
}

// SourcesConfig selects where audit events come from.
type SourcesConfig struct {
	// Provider is one of google or file.
	Provider string `koanf:"provider"`

	Google GoogleSourceConfig `koanf:"google"`
	File   FileSourceConfig   `koanf:"file"`
}

// GoogleSourceConfig holds Workspace Admin SDK credentials and scope.
type GoogleSourceConfig struct {
	// ServiceAccountFile is the path to a service account JSON key
	// with domain-wide delegation.
	ServiceAccountFile string `koanf:"service_account_file"`

	// DelegatedUser is the admin account to impersonate for Reports
	// API calls.
	DelegatedUser string `koanf:"delegated_user"`

	// CustomerID scopes report queries. The literal "my_customer"
	// selects the service account's own customer.
	CustomerID string `koanf:"customer_id"`
}

// FileSourceConfig points at JSONL event dumps for offline replay.
type FileSourceConfig struct {
	ReconPath string `koanf:"recon_path"`
	ExfilPath string `koanf:"exfil_path"`

	// ContextsPath optionally points at a JSONL file of document
	// metadata records. Without it, file replays run with synthetic
	// (unknown) file contexts.
	ContextsPath string `koanf:"contexts_path"`
}

// FileContextConfig tunes the document metadata cache and fetcher.
type FileContextConfig struct {
	CacheSize           int           `koanf:"cache_size"`
	CacheTTL            time.Duration `koanf:"cache_ttl"`
	NegativeTTL         time.Duration `koanf:"negative_ttl"`
	FetchTimeout        time.Duration `koanf:"fetch_timeout"`
	Retries             int           `koanf:"retries"`
	RetryInitialBackoff time.Duration `koanf:"retry_initial_backoff"`
}

// BaselinesConfig tunes per-actor sharing history.
type BaselinesConfig struct {
	// MinHistory is the number of observed shares below which a
	// baseline is too thin to suppress anything.
	MinHistory int `koanf:"min_history"`

	// RoutineSharesPerDay is the historical share frequency above
	// which external sharing is considered routine for the actor.
	RoutineSharesPerDay float64 `koanf:"routine_shares_per_day"`
}

// IntentConfig holds the score cutoffs for intent classification.
type IntentConfig struct {
	MaliciousThreshold  float64 `koanf:"malicious_threshold"`
	SuspiciousThreshold float64 `koanf:"suspicious_threshold"`
}

// SuppressionsConfig lists actors and destinations that mute findings.
type SuppressionsConfig struct {
	// AllowedExternalDomains are sanctioned share destinations.
	AllowedExternalDomains []string `koanf:"allowed_external_domains"`

	// SecurityInvestigationOUs are org units whose activity is
	// excluded entirely, typically the security team's own tooling.
	SecurityInvestigationOUs []string `koanf:"security_investigation_ous"`

	// ExcludeActors are individual accounts excluded entirely.
	ExcludeActors []string `koanf:"exclude_actors"`
}

// SeverityOverridesConfig escalates findings on sensitive targets.
type SeverityOverridesConfig struct {
	// HighRiskOUs escalate any finding whose actor sits in one of
	// these org unit paths.
	HighRiskOUs []string `koanf:"high_risk_ous"`

	// SensitiveLabels mark a document as high sensitivity when file
	// metadata carries one of them.
	SensitiveLabels []string `koanf:"sensitive_labels"`
}

// AlertingConfig controls webhook alert delivery.
type AlertingConfig struct {
	// WebhookURL receives finding payloads. Empty disables alerting.
	WebhookURL string `koanf:"webhook_url"`

	// AlertOnSeverities filters which findings are delivered.
	AlertOnSeverities []string `koanf:"alert_on_severities"`

	// Headers are added to every webhook request, e.g. an auth token.
	Headers map[string]string `koanf:"headers"`

	// RateLimitPerSecond bounds outbound webhook calls.
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`

	// Timeout bounds a single webhook delivery attempt.
	Timeout time.Duration `koanf:"timeout"`
}

// OpsConfig configures the operational HTTP endpoint.
type OpsConfig struct {
	// Listen is the host:port for /healthz, /status and /metrics.
	Listen string `koanf:"listen"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Location resolves the configured timezone. Validate guarantees the
// zone loads, so callers after validation may ignore the error.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Window returns the immediate-correlation window as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// HalfLife returns the recon decay half-life as a duration.
func (c *Config) HalfLife() time.Duration {
	return time.Duration(c.ReconHalfLifeHours * float64(time.Hour))
}

// FutureSkewTolerance returns the clock skew clamp as a duration.
func (c *Config) FutureSkewTolerance() time.Duration {
	return time.Duration(c.FutureSkewToleranceMinutes) * time.Minute
}

// ReconTTL returns the persistence retention as a duration.
func (c *Config) ReconTTL() time.Duration {
	return time.Duration(c.ReconState.TTLDays) * 24 * time.Hour
}

// WorkerCount resolves the effective worker pool size.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}
