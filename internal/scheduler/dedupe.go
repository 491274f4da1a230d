// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package scheduler

import (
	"time"

	"github.com/tomtom215/vigilo/internal/cache"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
)

const (
	// defaultDedupeCapacity bounds how many alerted exfil event IDs are
	// remembered across sweeps.
	defaultDedupeCapacity = 100_000

	// defaultDedupeTTL must outlive the sweep lookback so an event seen
	// by overlapping windows is only alerted once.
	defaultDedupeTTL = 72 * time.Hour
)

// Dedupe suppresses re-alerting on findings whose exfil event was
// already delivered by an earlier sweep. Scheduled sweeps use
// overlapping lookback windows, so without it every finding would be
// re-sent on every tick. The findings file is not filtered; it always
// reflects the full current sweep.
type Dedupe struct {
	seen *cache.LRU[struct{}]
}

// NewDedupe creates a dedupe filter with the given TTL. Zero or
// negative values fall back to defaults.
func NewDedupe(capacity int, ttl time.Duration) *Dedupe {
	if capacity <= 0 {
		capacity = defaultDedupeCapacity
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Dedupe{seen: cache.NewLRU[struct{}](capacity, ttl)}
}

// Filter returns the findings not yet seen by earlier sweeps, marking
// them seen. A nil Dedupe passes everything through, which is what
// one-shot runs use.
func (d *Dedupe) Filter(findings []models.Finding) []models.Finding {
	if d == nil {
		return findings
	}

	fresh := make([]models.Finding, 0, len(findings))
	for i := range findings {
		if d.seen.IsDuplicate(findings[i].Exfil.EventID) {
			metrics.RecordSuppression("repeat_sweep")
			continue
		}
		fresh = append(fresh, findings[i])
	}
	return fresh
}

// Len reports how many event IDs are currently remembered.
func (d *Dedupe) Len() int {
	if d == nil {
		return 0
	}
	return d.seen.Len()
}
