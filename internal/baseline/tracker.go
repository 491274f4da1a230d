// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/reconstate"
)

// KeyPrefix namespaces baseline records in the shared backend.
const KeyPrefix = "baseline:"

// storeRetries bounds compare-and-swap merge attempts when another
// scheduler instance writes the same actor concurrently.
const storeRetries = 2

// Tracker loads and stores actor baselines on a reconstate backend.
type Tracker struct {
	backend reconstate.Backend
	ttl     time.Duration
}

// NewTracker wires a tracker over the shared state backend. ttl
// bounds how long an idle actor's history survives.
func NewTracker(backend reconstate.Backend, ttl time.Duration) *Tracker {
	return &Tracker{backend: backend, ttl: ttl}
}

func baselineKey(actor string) string {
	return KeyPrefix + actor
}

// Load fetches the actor's history, pruned to the window ending at
// now. Missing records yield an empty baseline. On backend failure it
// returns an empty baseline along with the error so callers can
// degrade instead of aborting the actor.
func (t *Tracker) Load(ctx context.Context, actor string, now time.Time) (*Baseline, error) {
	raw, found, err := t.backend.Get(ctx, baselineKey(actor))
	if err != nil {
		metrics.RecordBaselineError("load")
		return New(), fmt.Errorf("loading baseline for %s: %w", actor, err)
	}
	if !found {
		return New(), nil
	}

	b := New()
	if err := json.Unmarshal(raw, &b.rec); err != nil {
		metrics.RecordBaselineError("load")
		return New(), fmt.Errorf("decoding baseline for %s: %w", actor, err)
	}
	if b.rec.Days == nil {
		b.rec.Days = make(map[string]DayCounts)
	}
	if b.rec.Domains == nil {
		b.rec.Domains = make(map[string]int64)
	}
	b.snapshot = raw
	b.PruneTo(now)
	return b, nil
}

// Store persists the baseline with compare-and-swap against the bytes
// it was loaded from. A lost race re-reads, merges both histories and
// tries again a bounded number of times.
func (t *Tracker) Store(ctx context.Context, actor string, b *Baseline) error {
	key := baselineKey(actor)

	for attempt := 0; ; attempt++ {
		data, err := json.Marshal(b.rec)
		if err != nil {
			return fmt.Errorf("encoding baseline for %s: %w", actor, err)
		}

		err = t.backend.PutCAS(ctx, key, b.snapshot, data, t.ttl)
		if err == nil {
			b.snapshot = data
			metrics.RecordBaselineUpdate()
			return nil
		}
		if !errors.Is(err, reconstate.ErrCASConflict) || attempt >= storeRetries {
			metrics.RecordBaselineError("store")
			return fmt.Errorf("storing baseline for %s: %w", actor, err)
		}

		// Someone else advanced this actor's history; fold their view
		// into ours and retry on top of it.
		current, loadErr := t.Load(ctx, actor, time.Now())
		if loadErr != nil {
			metrics.RecordBaselineError("store")
			return fmt.Errorf("storing baseline for %s: %w", actor, loadErr)
		}
		current.merge(b)
		b.rec = current.rec
		b.snapshot = current.snapshot
	}
}
