// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package alerting delivers findings to an external webhook endpoint.
// Delivery is filtered by severity, rate limited, and retried once per
// finding; the findings file on disk remains the source of truth, so a
// failed delivery degrades the run rather than losing data.
package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
	"github.com/tomtom215/vigilo/internal/report"
)

// deliveryRetryDelay is the pause before a finding's single retry.
const deliveryRetryDelay = 200 * time.Millisecond

// Notifier delivers findings to an external sink.
type Notifier interface {
	Notify(ctx context.Context, finding *models.Finding) error
	Enabled() bool
}

// payload is the webhook request body. The finding rides in the same
// stable wire form the findings file uses.
type payload struct {
	Finding   report.Record `json:"finding"`
	EventType string        `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// WebhookNotifier posts findings to a configured URL.
type WebhookNotifier struct {
	url        string
	headers    map[string]string
	severities map[models.Severity]bool
	client     *http.Client
	limiter    *rate.Limiter
	loc        *time.Location
}

// NewWebhookNotifier builds a notifier from the alerting config. The
// config is validated upstream, so severity values are trusted here.
// A nil loc falls back to UTC.
func NewWebhookNotifier(cfg config.AlertingConfig, loc *time.Location) *WebhookNotifier {
	if loc == nil {
		loc = time.UTC
	}

	severities := make(map[models.Severity]bool, len(cfg.AlertOnSeverities))
	for _, s := range cfg.AlertOnSeverities {
		if sev, err := models.ParseSeverity(s); err == nil {
			severities[sev] = true
		}
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = 2
	}

	return &WebhookNotifier{
		url:        cfg.WebhookURL,
		headers:    headers,
		severities: severities,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		loc:        loc,
	}
}

// Enabled reports whether the notifier has somewhere to deliver to.
func (n *WebhookNotifier) Enabled() bool {
	return n.url != ""
}

// Notify delivers one finding, waiting on the rate limiter first. Findings
// below the configured severities are skipped without a request. A failed
// delivery is retried once.
func (n *WebhookNotifier) Notify(ctx context.Context, finding *models.Finding) error {
	if !n.Enabled() || !n.severities[finding.Severity] {
		return nil
	}

	if err := n.limiter.Wait(ctx); err != nil {
		metrics.RecordAlertFailure("canceled")
		return fmt.Errorf("webhook rate wait: %w", err)
	}

	body, err := json.Marshal(payload{
		Finding:   report.NewRecord(finding, n.loc),
		EventType: "vigilo_finding",
		Timestamp: time.Now().UTC(),
		Source:    "vigilo",
	})
	if err != nil {
		metrics.RecordAlertFailure("marshal")
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	start := time.Now()
	if err := n.post(ctx, body); err != nil {
		logging.CtxWarn(ctx).
			Err(err).
			Str("actor", finding.Actor).
			Msg("Webhook delivery failed, retrying")

		select {
		case <-time.After(deliveryRetryDelay):
		case <-ctx.Done():
			metrics.RecordAlertFailure("canceled")
			return fmt.Errorf("webhook retry wait: %w", ctx.Err())
		}

		if err := n.post(ctx, body); err != nil {
			metrics.RecordAlertFailure("delivery")
			return fmt.Errorf("webhook delivery: %w", err)
		}
	}

	metrics.RecordAlertSent(string(finding.Severity), time.Since(start))
	return nil
}

// post sends one webhook request and treats any 4xx or 5xx as an error.
func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Deliver sends every matching finding in order. Per-finding failures do
// not stop the rest; the last failure is returned with a count so the
// caller can flag the run as degraded.
func Deliver(ctx context.Context, n Notifier, findings []models.Finding) error {
	if n == nil || !n.Enabled() {
		return nil
	}

	var failed int
	var last error
	for i := range findings {
		if err := n.Notify(ctx, &findings[i]); err != nil {
			failed++
			last = err
			logging.CtxWarn(ctx).
				Err(err).
				Str("actor", findings[i].Actor).
				Str("severity", string(findings[i].Severity)).
				Msg("Finding not delivered")
		}
	}
	if failed > 0 {
		return fmt.Errorf("webhook delivery failed for %d of %d findings: %w", failed, len(findings), last)
	}
	return nil
}
