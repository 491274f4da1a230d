// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides config file discovery when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultConfigPaths lists locations probed for a config file when no
// explicit path is given and CONFIG_PATH is unset.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/vigilo/config.yaml",
	"/etc/vigilo/config.yml",
}

// defaultConfig returns the built-in defaults. File and environment
// layers override these.
func defaultConfig() Config {
	return Config{
		Timezone:                   "UTC",
		WindowMinutes:              30,
		DelayedThreshold:           5.0,
		ReconHalfLifeHours:         48,
		FutureSkewToleranceMinutes: 5,
		Workers:                    0,
		ReconState: ReconStateConfig{
			Backend: "memory",
			TTLDays: 35,
		},
		Sources: SourcesConfig{
			Provider: "file",
			Google: GoogleSourceConfig{
				CustomerID: "my_customer",
			},
		},
		FileContext: FileContextConfig{
			CacheSize:           10000,
			CacheTTL:            time.Hour,
			NegativeTTL:         5 * time.Minute,
			FetchTimeout:        5 * time.Second,
			Retries:             2,
			RetryInitialBackoff: 200 * time.Millisecond,
		},
		Baselines: BaselinesConfig{
			MinHistory:          5,
			RoutineSharesPerDay: 3.0,
		},
		Intent: IntentConfig{
			MaliciousThreshold:  0.7,
			SuspiciousThreshold: 0.4,
		},
		Alerting: AlertingConfig{
			AlertOnSeverities:  []string{"high", "medium"},
			RateLimitPerSecond: 2,
			Timeout:            10 * time.Second,
		},
		Ops: OpsConfig{
			Listen: "127.0.0.1:9113",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and
// environment variables, in that order of precedence, then validates
// it. An explicit path must exist; otherwise discovery falls back to
// CONFIG_PATH and DefaultConfigPaths, and running with no file at all
// is fine.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	cfgPath := path
	if cfgPath != "" {
		if _, err := os.Stat(cfgPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", cfgPath, err)
		}
	} else {
		cfgPath = findConfigFile()
	}
	if cfgPath != "" {
		if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", cfgPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	processSliceFields(k, &cfg)
	cfg.LoadedFrom = cfgPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// findConfigFile resolves the config file path from CONFIG_PATH or the
// default search list. Empty means run on defaults and environment.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings translates flat environment variable names to koanf
// config paths. Variables absent from this map are ignored, which
// keeps unrelated environment noise out of the config tree.
var envMappings = map[string]string{
	"timezone":                      "timezone",
	"window_minutes":                "window_minutes",
	"delayed_threshold":             "delayed_threshold",
	"recon_half_life_hours":         "recon_half_life_hours",
	"future_skew_tolerance_minutes": "future_skew_tolerance_minutes",
	"workers":                       "workers",

	"recon_state_backend":  "recon_state.backend",
	"redis_url":            "recon_state.redis_url",
	"badger_path":          "recon_state.badger_path",
	"recon_state_ttl_days": "recon_state.ttl_days",

	"sources_provider":            "sources.provider",
	"google_service_account_file": "sources.google.service_account_file",
	"google_delegated_user":       "sources.google.delegated_user",
	"google_customer_id":          "sources.google.customer_id",
	"recon_events_path":           "sources.file.recon_path",
	"exfil_events_path":           "sources.file.exfil_path",
	"file_contexts_path":          "sources.file.contexts_path",

	"file_context_cache_size":    "file_context.cache_size",
	"file_context_cache_ttl":     "file_context.cache_ttl",
	"file_context_negative_ttl":  "file_context.negative_ttl",
	"file_context_fetch_timeout": "file_context.fetch_timeout",
	"file_context_retries":       "file_context.retries",
	"file_context_retry_backoff": "file_context.retry_initial_backoff",

	"baseline_min_history":            "baselines.min_history",
	"baseline_routine_shares_per_day": "baselines.routine_shares_per_day",

	"intent_malicious_threshold":  "intent.malicious_threshold",
	"intent_suspicious_threshold": "intent.suspicious_threshold",

	"allowed_external_domains":   "suppressions.allowed_external_domains",
	"security_investigation_ous": "suppressions.security_investigation_ous",
	"exclude_actors":             "suppressions.exclude_actors",

	"partner_domains":   "partner_domains",
	"high_risk_folders": "high_risk_folders",
	"canary_doc_ids":    "canary_doc_ids",
	"high_risk_ous":     "severity_overrides.high_risk_ous",
	"sensitive_labels":  "severity_overrides.sensitive_labels",

	"webhook_url":                 "alerting.webhook_url",
	"alert_on_severities":         "alerting.alert_on_severities",
	"alert_rate_limit_per_second": "alerting.rate_limit_per_second",
	"alert_timeout":               "alerting.timeout",

	"ops_listen": "ops.listen",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf
// path. Returning empty drops the variable.
func envTransformFunc(s string) string {
	if mapped, ok := envMappings[strings.ToLower(s)]; ok {
		return mapped
	}
	return ""
}

// processSliceFields fixes up list-valued settings supplied through
// environment variables, where the raw value is a single
// comma-separated string rather than a YAML sequence.
func processSliceFields(k *koanf.Koanf, cfg *Config) {
	sliceFields := map[string]*[]string{
		"suppressions.allowed_external_domains":   &cfg.Suppressions.AllowedExternalDomains,
		"suppressions.security_investigation_ous": &cfg.Suppressions.SecurityInvestigationOUs,
		"suppressions.exclude_actors":             &cfg.Suppressions.ExcludeActors,
		"partner_domains":                         &cfg.PartnerDomains,
		"high_risk_folders":                       &cfg.HighRiskFolders,
		"canary_doc_ids":                          &cfg.CanaryDocIDs,
		"severity_overrides.high_risk_ous":        &cfg.SeverityOverrides.HighRiskOUs,
		"severity_overrides.sensitive_labels":     &cfg.SeverityOverrides.SensitiveLabels,
		"alerting.alert_on_severities":            &cfg.Alerting.AlertOnSeverities,
	}
	for path, field := range sliceFields {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		*field = out
	}
}
