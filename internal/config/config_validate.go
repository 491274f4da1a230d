// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package config

import (
	"fmt"
	"net"
	"net/url"
	"time"
)

// Validate checks the configuration for correctness and internal
// consistency. Error messages name the environment variable for the
// offending setting since that is the most common way values arrive
// in container deployments.
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	if err := c.validateReconState(); err != nil {
		return err
	}
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateFileContext(); err != nil {
		return err
	}
	if err := c.validateBaselines(); err != nil {
		return err
	}
	if err := c.validateIntent(); err != nil {
		return err
	}
	if err := c.validateAlerting(); err != nil {
		return err
	}
	if err := c.validateOps(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCore() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE must be a valid IANA zone name, got %q: %w", c.Timezone, err)
	}
	if c.WindowMinutes < 1 || c.WindowMinutes > 1440 {
		return fmt.Errorf("WINDOW_MINUTES must be between 1 and 1440, got %d", c.WindowMinutes)
	}
	if c.DelayedThreshold <= 0 {
		return fmt.Errorf("DELAYED_THRESHOLD must be positive, got %g", c.DelayedThreshold)
	}
	if c.ReconHalfLifeHours <= 0 {
		return fmt.Errorf("RECON_HALF_LIFE_HOURS must be positive, got %g", c.ReconHalfLifeHours)
	}
	if c.FutureSkewToleranceMinutes < 0 {
		return fmt.Errorf("FUTURE_SKEW_TOLERANCE_MINUTES must not be negative, got %d", c.FutureSkewToleranceMinutes)
	}
	if c.Workers < 0 {
		return fmt.Errorf("WORKERS must not be negative, got %d", c.Workers)
	}
	return nil
}

func (c *Config) validateReconState() error {
	switch c.ReconState.Backend {
	case "memory":
	case "redis":
		if c.ReconState.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RECON_STATE_BACKEND is redis")
		}
		u, err := url.Parse(c.ReconState.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("REDIS_URL must use the redis or rediss scheme, got %q", u.Scheme)
		}
	case "badger":
		if c.ReconState.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when RECON_STATE_BACKEND is badger")
		}
	default:
		return fmt.Errorf("RECON_STATE_BACKEND must be one of memory, redis, badger, got %q", c.ReconState.Backend)
	}
	if c.ReconState.TTLDays < 1 {
		return fmt.Errorf("RECON_STATE_TTL_DAYS must be at least 1, got %d", c.ReconState.TTLDays)
	}
	return nil
}

func (c *Config) validateSources() error {
	switch c.Sources.Provider {
	case "google":
		if c.Sources.Google.ServiceAccountFile == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_FILE is required when SOURCES_PROVIDER is google")
		}
		if c.Sources.Google.DelegatedUser == "" {
			return fmt.Errorf("GOOGLE_DELEGATED_USER is required when SOURCES_PROVIDER is google")
		}
		if c.Sources.Google.CustomerID == "" {
			return fmt.Errorf("GOOGLE_CUSTOMER_ID must not be empty")
		}
	case "file":
		if c.Sources.File.ReconPath == "" {
			return fmt.Errorf("RECON_EVENTS_PATH is required when SOURCES_PROVIDER is file")
		}
		if c.Sources.File.ExfilPath == "" {
			return fmt.Errorf("EXFIL_EVENTS_PATH is required when SOURCES_PROVIDER is file")
		}
	default:
		return fmt.Errorf("SOURCES_PROVIDER must be one of google, file, got %q", c.Sources.Provider)
	}
	return nil
}

func (c *Config) validateFileContext() error {
	if c.FileContext.CacheSize < 1 {
		return fmt.Errorf("FILE_CONTEXT_CACHE_SIZE must be at least 1, got %d", c.FileContext.CacheSize)
	}
	if c.FileContext.CacheTTL <= 0 {
		return fmt.Errorf("FILE_CONTEXT_CACHE_TTL must be positive, got %s", c.FileContext.CacheTTL)
	}
	if c.FileContext.NegativeTTL <= 0 {
		return fmt.Errorf("FILE_CONTEXT_NEGATIVE_TTL must be positive, got %s", c.FileContext.NegativeTTL)
	}
	if c.FileContext.FetchTimeout <= 0 {
		return fmt.Errorf("FILE_CONTEXT_FETCH_TIMEOUT must be positive, got %s", c.FileContext.FetchTimeout)
	}
	if c.FileContext.Retries < 0 {
		return fmt.Errorf("FILE_CONTEXT_RETRIES must not be negative, got %d", c.FileContext.Retries)
	}
	if c.FileContext.RetryInitialBackoff <= 0 {
		return fmt.Errorf("FILE_CONTEXT_RETRY_BACKOFF must be positive, got %s", c.FileContext.RetryInitialBackoff)
	}
	return nil
}

func (c *Config) validateBaselines() error {
	if c.Baselines.MinHistory < 0 {
		return fmt.Errorf("BASELINE_MIN_HISTORY must not be negative, got %d", c.Baselines.MinHistory)
	}
	if c.Baselines.RoutineSharesPerDay <= 0 {
		return fmt.Errorf("BASELINE_ROUTINE_SHARES_PER_DAY must be positive, got %g", c.Baselines.RoutineSharesPerDay)
	}
	return nil
}

func (c *Config) validateIntent() error {
	if c.Intent.SuspiciousThreshold <= 0 || c.Intent.SuspiciousThreshold >= 1 {
		return fmt.Errorf("INTENT_SUSPICIOUS_THRESHOLD must be between 0 and 1 exclusive, got %g", c.Intent.SuspiciousThreshold)
	}
	if c.Intent.MaliciousThreshold <= 0 || c.Intent.MaliciousThreshold > 1 {
		return fmt.Errorf("INTENT_MALICIOUS_THRESHOLD must be between 0 exclusive and 1 inclusive, got %g", c.Intent.MaliciousThreshold)
	}
	if c.Intent.SuspiciousThreshold >= c.Intent.MaliciousThreshold {
		return fmt.Errorf("INTENT_SUSPICIOUS_THRESHOLD (%g) must be below INTENT_MALICIOUS_THRESHOLD (%g)",
			c.Intent.SuspiciousThreshold, c.Intent.MaliciousThreshold)
	}
	return nil
}

var validAlertSeverities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

func (c *Config) validateAlerting() error {
	for _, s := range c.Alerting.AlertOnSeverities {
		if !validAlertSeverities[s] {
			return fmt.Errorf("ALERT_ON_SEVERITIES entries must be one of low, medium, high, got %q", s)
		}
	}
	if c.Alerting.WebhookURL == "" {
		return nil
	}
	if err := validateWebhookURL(c.Alerting.WebhookURL); err != nil {
		return fmt.Errorf("WEBHOOK_URL %w", err)
	}
	if c.Alerting.RateLimitPerSecond <= 0 {
		return fmt.Errorf("ALERT_RATE_LIMIT_PER_SECOND must be positive, got %g", c.Alerting.RateLimitPerSecond)
	}
	if c.Alerting.Timeout <= 0 {
		return fmt.Errorf("ALERT_TIMEOUT must be positive, got %s", c.Alerting.Timeout)
	}
	return nil
}

// validateWebhookURL accepts http and https URLs with an optional
// path, since webhook receivers commonly embed routing tokens in the
// path. Query strings and fragments are rejected to catch copy-paste
// of signed or session-scoped URLs into config.
func validateWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use the http or https scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not include a query string or fragment")
	}
	return nil
}

func (c *Config) validateOps() error {
	if c.Ops.Listen == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Ops.Listen); err != nil {
		return fmt.Errorf("OPS_LISTEN must be a host:port address: %w", err)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace":    true,
	"debug":    true,
	"info":     true,
	"warn":     true,
	"warning":  true,
	"error":    true,
	"fatal":    true,
	"disabled": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, disabled, got %q", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of json, console, got %q", c.Logging.Format)
	}
	return nil
}
