// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package filecontext enriches findings with document metadata: owner,
// classification labels, sharing history. Lookups never fail the
// correlation pipeline; when the upstream source is unavailable the
// provider degrades to a synthetic context with unknown sensitivity.
package filecontext

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tomtom215/vigilo/internal/cache"
	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
)

// ErrNotFound reports that the upstream source authoritatively answered
// that the document does not exist (deleted, or outside the corpus).
var ErrNotFound = errors.New("filecontext: document not found")

const cacheType = "file_context"

// MetadataSource fetches document metadata from an upstream system.
// Implementations return ErrNotFound for documents that do not exist
// and plain errors for transient failures.
type MetadataSource interface {
	Fetch(ctx context.Context, docID string) (models.FileContext, error)
	Name() string
}

// Provider serves document contexts from a bounded LRU cache, fetching
// misses through a circuit breaker with retry. Safe for concurrent use.
//
// The circuit breaker uses real time (via sony/gobreaker) for its
// interval and timeout calculations. Unit tests exercise the closed and
// open states, which transition on request counts alone; recovery
// timing is left to the breaker.
type Provider struct {
	source MetadataSource
	cache  *cache.LRU[models.FileContext]
	cb     *gobreaker.CircuitBreaker[models.FileContext]

	fetchTimeout time.Duration
	retries      int
	retryDelay   time.Duration
	negativeTTL  time.Duration

	sensitiveLabels []string
	orgs            OrgResolver
	highRiskOUs     []string

	now func() time.Time
}

// NewProvider creates a caching context provider over source.
// sensitiveLabels extends the built-in high tier with deployment
// specific classification labels (Drive label IDs or plain names).
func NewProvider(source MetadataSource, cfg config.FileContextConfig, sensitiveLabels []string) *Provider {
	cbName := source.Name() + "-metadata"

	// 0 = closed
	metrics.SetCircuitBreakerState(cbName, 0)

	cb := gobreaker.NewCircuitBreaker[models.FileContext](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,                // Allow 3 concurrent requests in half-open state
		Interval:    time.Minute,      // Reset counts after 1 minute in closed state
		Timeout:     30 * time.Second, // Wait 30 seconds before transitioning from open to half-open

		// Opens when failure rate >= 60% with minimum 10 requests
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Str("breaker", cbName).Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.SetCircuitBreakerState(name, stateToInt(to))
			metrics.RecordCircuitBreakerTransition(name, fromStr, toStr)
		},

		// A definitive "no such document" is a working upstream, and a
		// canceled caller says nothing about upstream health. Neither
		// should push the breaker toward open.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})

	return &Provider{
		source:          source,
		cache:           cache.NewLRU[models.FileContext](cfg.CacheSize, cfg.CacheTTL),
		cb:              cb,
		fetchTimeout:    cfg.FetchTimeout,
		retries:         cfg.Retries,
		retryDelay:      cfg.RetryInitialBackoff,
		negativeTTL:     cfg.NegativeTTL,
		sensitiveLabels: sensitiveLabels,
		now:             time.Now,
	}
}

// UseOrgResolver enables owner org-unit checks during sensitivity
// derivation: documents owned by anyone under one of highRiskOUs are
// high sensitivity regardless of labels. Call before the first Lookup;
// derived sensitivities are cached with the context.
func (p *Provider) UseOrgResolver(orgs OrgResolver, highRiskOUs []string) {
	p.orgs = orgs
	p.highRiskOUs = highRiskOUs
}

// Lookup returns the context for docID. It never returns an error:
// unknown documents and upstream failures both degrade to a synthetic
// context so the caller can keep correlating.
func (p *Provider) Lookup(ctx context.Context, docID string) models.FileContext {
	if docID == "" {
		return models.SyntheticFileContext("", p.now())
	}

	if fc, ok := p.cache.Get(docID); ok {
		metrics.RecordFileContextLookup("hit")
		metrics.RecordCacheHit(cacheType)
		return fc
	}
	metrics.RecordCacheMiss(cacheType)

	fc, err := p.cb.Execute(func() (models.FileContext, error) {
		return p.fetchWithRetry(ctx, docID)
	})

	switch {
	case err == nil:
		fc.DocID = docID
		fc.Sensitivity = p.deriveSensitivity(ctx, fc)
		fc.FetchedAt = p.now()
		if fc.Labels == nil {
			fc.Labels = []string{}
		}
		p.cache.Set(docID, fc)
		metrics.RecordFileContextLookup("miss")
		metrics.UpdateCacheSize(cacheType, p.cache.Len())
		return fc

	case errors.Is(err, ErrNotFound):
		// Authoritative miss. Remember it briefly so repeated findings
		// against a deleted document do not re-fetch every time.
		synth := models.SyntheticFileContext(docID, p.now())
		p.cache.SetWithTTL(docID, synth, p.negativeTTL)
		metrics.RecordFileContextLookup("negative")
		logging.Debug().Str("doc_id", docID).Msg("Document not found upstream, caching synthetic context")
		return synth

	default:
		// Transient failure or open breaker. Do not cache: the breaker
		// already shields the upstream, and the next sweep should see
		// real metadata as soon as the source recovers.
		metrics.RecordFileContextLookup("degraded")
		logging.Warn().Err(err).Str("doc_id", docID).Str("source", p.source.Name()).Msg("File context degraded to unknown")
		return models.SyntheticFileContext(docID, p.now())
	}
}

// CacheLen reports the number of cached contexts.
func (p *Provider) CacheLen() int {
	return p.cache.Len()
}

// fetchWithRetry executes the upstream fetch with exponential backoff
// on failure. ErrNotFound is authoritative and never retried. The
// context is used for cancellation during backoff waits.
func (p *Provider) fetchWithRetry(ctx context.Context, docID string) (models.FileContext, error) {
	var fc models.FileContext
	var err error
	delay := p.retryDelay

	attempts := p.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		// Check context before attempting operation
		if ctx.Err() != nil {
			return fc, ctx.Err()
		}

		fc, err = p.fetchOnce(ctx, docID)
		if err == nil || errors.Is(err, ErrNotFound) {
			return fc, err
		}

		if attempt < attempts-1 {
			logging.Warn().Err(err).Str("doc_id", docID).Int("attempt", attempt+1).Int("max_attempts", attempts).Dur("delay", delay).Msg("Metadata fetch retry")
			// Use cancellable wait instead of time.Sleep
			select {
			case <-time.After(delay):
				// Continue to next attempt
			case <-ctx.Done():
				return fc, ctx.Err()
			}
			delay *= 2
		}
	}

	return fc, fmt.Errorf("max retry attempts reached: %w", err)
}

// fetchOnce runs a single upstream call under the per-call timeout.
func (p *Provider) fetchOnce(ctx context.Context, docID string) (models.FileContext, error) {
	fetchCtx := ctx
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	fc, err := p.source.Fetch(fetchCtx, docID)
	metrics.RecordFileContextFetch(time.Since(start), err)
	return fc, err
}

// Built-in classification tiers. Deployment-specific labels from
// sensitive_labels join the high tier.
var builtinHighLabels = []string{"confidential", "restricted", "secret"}

// deriveSensitivity resolves the final sensitivity for a fetched
// context. Any classification label at all means someone bothered to
// mark the file, so a labelled document is at least medium; labels in
// the high set (built-in or configured) make it high, as does an owner
// under a high-risk org unit when a resolver is wired. Label-derived
// sensitivity can only raise what the source reported: a fixture
// marked high with no labels stays high, and a confidential label
// overrides a stale low.
func (p *Provider) deriveSensitivity(ctx context.Context, fc models.FileContext) models.Sensitivity {
	derived := models.SensitivityLow
	if len(fc.Labels) > 0 {
		derived = models.SensitivityMedium
	}
	for _, label := range fc.Labels {
		if matchesAny(label, p.sensitiveLabels) || matchesAny(label, builtinHighLabels) {
			derived = models.SensitivityHigh
			break
		}
	}
	if derived != models.SensitivityHigh && p.orgs != nil && fc.Owner != "" {
		if OUWithin(p.orgs.OrgUnit(ctx, fc.Owner), p.highRiskOUs) {
			derived = models.SensitivityHigh
		}
	}

	if sensitivityRank(fc.Sensitivity) > sensitivityRank(derived) {
		return fc.Sensitivity
	}
	return derived
}

func matchesAny(label string, set []string) bool {
	for _, s := range set {
		if strings.EqualFold(label, s) {
			return true
		}
	}
	return false
}

func sensitivityRank(s models.Sensitivity) int {
	switch s {
	case models.SensitivityHigh:
		return 3
	case models.SensitivityMedium:
		return 2
	case models.SensitivityLow:
		return 1
	default:
		return 0
	}
}

// stateToInt converts circuit breaker state to a numeric value for metrics
func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
