// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/vigilo/internal/baseline"
	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/filecontext"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
	"github.com/tomtom215/vigilo/internal/reconstate"
)

// Stats counts what one sweep did with its input.
type Stats struct {
	ReconEvents int `json:"recon_events"`
	ExfilEvents int `json:"exfil_events"`
	Duplicates  int `json:"duplicates"`
	Malformed   int `json:"malformed"`
	Clamped     int `json:"clamped"`
	Actors      int `json:"actors"`
	Candidates  int `json:"candidates"`
	Suppressed  int `json:"suppressed"`
}

// Report is the outcome of one sweep: findings ordered by actor and
// exfil timestamp, plus processing counters.
type Report struct {
	Findings    []models.Finding `json:"findings"`
	Stats       Stats            `json:"stats"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// HasHigh reports whether any finding is high severity.
func (r *Report) HasHigh() bool {
	for i := range r.Findings {
		if r.Findings[i].Severity == models.SeverityHigh {
			return true
		}
	}
	return false
}

// Engine owns the correlation pipeline and every stateful dependency
// it consults. It is safe for concurrent sweeps, though sweeps over
// overlapping windows will observe each other's recon state.
type Engine struct {
	store      *reconstate.Store
	contexts   *filecontext.Provider
	baselines  *baseline.Tracker
	orgs       filecontext.OrgResolver
	classifier *Classifier
	resolver   *Resolver

	window        time.Duration
	halfLife      time.Duration
	skewTolerance time.Duration
	threshold     float64
	workers       int

	// Now supplies the engine's clock. Tests pin it to make clamping
	// and decay reproducible.
	Now func() time.Time
}

// NewEngine wires an engine from its dependencies and configuration.
func NewEngine(store *reconstate.Store, contexts *filecontext.Provider, baselines *baseline.Tracker, orgs filecontext.OrgResolver, cfg *config.Config) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving timezone: %w", err)
	}
	return &Engine{
		store:         store,
		contexts:      contexts,
		baselines:     baselines,
		orgs:          orgs,
		classifier:    NewClassifier(cfg, loc),
		resolver:      NewResolver(cfg),
		window:        cfg.Window(),
		halfLife:      cfg.HalfLife(),
		skewTolerance: cfg.FutureSkewTolerance(),
		threshold:     cfg.DelayedThreshold,
		workers:       cfg.WorkerCount(),
		Now:           time.Now,
	}, nil
}

// Run correlates one batch pair. Both batches are deduplicated,
// validated, and clamped, then grouped per actor and fanned out across
// a bounded worker pool; each actor is processed by exactly one worker
// so its recon state and baseline see sequential updates. Run never
// fails on event content. A canceled context stops dispatching new
// actors and returns the findings gathered so far alongside the
// context's error.
func (e *Engine) Run(ctx context.Context, recon []models.ReconEvent, exfil []models.ExfilEvent) (*Report, error) {
	start := time.Now()
	now := e.Now().UTC()
	var stats Stats

	recon = e.prepareRecon(ctx, recon, now, &stats)
	exfil = e.prepareExfil(ctx, exfil, now, &stats)
	stats.ReconEvents = len(recon)
	stats.ExfilEvents = len(exfil)

	markReverts(exfil)

	reconByActor := groupRecon(recon)
	exfilByActor := groupExfil(exfil)
	actors := actorsOf(reconByActor, exfilByActor)
	stats.Actors = len(actors)

	var (
		mu       sync.Mutex
		findings []models.Finding
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, e.workers)

dispatch:
	for _, actor := range actors {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			defer func() { <-sem }()
			metrics.TrackWorker(true)
			defer metrics.TrackWorker(false)

			res := e.processActor(ctx, actor, reconByActor[actor], exfilByActor[actor], now)

			mu.Lock()
			findings = append(findings, res.findings...)
			stats.Candidates += res.candidates
			stats.Suppressed += res.suppressed
			mu.Unlock()
		}(actor)
	}
	wg.Wait()

	sortFindings(findings)
	for i := range findings {
		correlation := "immediate"
		if findings[i].Delayed() {
			correlation = "delayed"
		}
		metrics.RecordFinding(string(findings[i].Severity), correlation)
	}

	err := ctx.Err()
	metrics.RecordSweep(time.Since(start), stats.Actors, err)
	logging.CtxInfo(ctx).
		Int("recon_events", stats.ReconEvents).
		Int("exfil_events", stats.ExfilEvents).
		Int("actors", stats.Actors).
		Int("findings", len(findings)).
		Int("suppressed", stats.Suppressed).
		Dur("elapsed", time.Since(start)).
		Msg("sweep complete")

	report := &Report{Findings: findings, Stats: stats, GeneratedAt: now}
	if err != nil {
		return report, err
	}
	return report, nil
}

type actorResult struct {
	findings   []models.Finding
	candidates int
	suppressed int
}

// processActor runs the per-actor sequence: recon ingestion first,
// then each exfil event in timestamp order. The recon score at each
// exfil instant is reconstructed locally by folding the persisted
// prior record forward through the batch, so the store is touched at
// most twice however many events the actor produced.
func (e *Engine) processActor(ctx context.Context, actor string, recon []models.ReconEvent, exfil []models.ExfilEvent, now time.Time) actorResult {
	var res actorResult

	prior, err := e.store.ObserveBatch(ctx, actor, recon)
	degraded := false
	if err != nil {
		logging.CtxWarn(ctx).Err(err).Str("actor", actor).
			Msg("recon state unavailable, degrading to zero score")
		prior, degraded = reconstate.ScoreRecord{}, true
	}

	if len(exfil) == 0 {
		e.maybeEvict(ctx, actor, prior, recon, degraded, now)
		return res
	}

	bl, err := e.baselines.Load(ctx, actor, now)
	if err != nil {
		logging.CtxWarn(ctx).Err(err).Str("actor", actor).
			Msg("baseline unavailable, classifying against empty history")
	}

	burst := BurstScore(reconTimestamps(recon))
	actorOU := e.orgs.OrgUnit(ctx, actor)

	rec := prior
	next := 0
	for _, ev := range exfil {
		if ctx.Err() != nil {
			break
		}

		for next < len(recon) && !recon[next].Timestamp.After(ev.Timestamp) {
			rec = e.store.Fold(rec, recon[next])
			next++
		}
		scoreAt := rec.At(ev.Timestamp, e.halfLife)

		if cand, ok := e.candidate(recon, ev, scoreAt); ok {
			res.candidates++
			fc := e.contexts.Lookup(ctx, ev.DocID)
			intent := e.classifier.Classify(ClassifyInput{
				Event:      ev,
				Context:    fc,
				Baseline:   bl,
				ReconScore: scoreAt,
				BurstScore: burst,
			})
			resolution := e.resolver.Resolve(cand, intent, fc, actorOU)
			if resolution.Drop {
				res.suppressed++
				metrics.RecordSuppression(resolution.DropReason)
				logging.CtxDebug(ctx).
					Str("actor", actor).
					Str("exfil_event_id", ev.EventID).
					Str("reason", resolution.DropReason).
					Msg("finding dropped")
			} else {
				res.findings = append(res.findings, models.Finding{
					Severity:     resolution.Severity,
					Actor:        actor,
					Exfil:        ev,
					Recon:        cand.Recon,
					DeltaMinutes: deltaMinutes(cand.Delta),
					ReconScore:   scoreAt,
					FileContext:  fc,
					Intent:       intent,
					Reason:       resolution.Reason,
				})
			}
		}

		// History moves regardless of outcome, but only after the
		// event was classified against the history that preceded it.
		bl.Update(ev, eventOwnerIsActor(ev))
	}

	if err := e.baselines.Store(ctx, actor, bl); err != nil {
		logging.CtxWarn(ctx).Err(err).Str("actor", actor).
			Msg("baseline store failed, history for this sweep lost")
	}

	for ; next < len(recon); next++ {
		rec = e.store.Fold(rec, recon[next])
	}
	e.maybeEvict(ctx, actor, rec, nil, degraded, now)

	return res
}

// candidate pairs an exfil event with its recon evidence: an immediate
// in-window match when one exists, otherwise a delayed candidate when
// the actor's decayed score clears the threshold.
func (e *Engine) candidate(recon []models.ReconEvent, ev models.ExfilEvent, scoreAt float64) (Candidate, bool) {
	if r := matchRecon(recon, ev, e.window); r != nil {
		delta := ev.Timestamp.Sub(r.Timestamp)
		return Candidate{Exfil: ev, Recon: r, Delta: &delta, ReconScore: scoreAt}, true
	}
	if scoreAt >= e.threshold {
		return Candidate{Exfil: ev, ReconScore: scoreAt}, true
	}
	return Candidate{}, false
}

// maybeEvict prunes the actor's score record when the whole batch has
// decayed under the eviction floor. The extra round-trip only happens
// for state that is about to disappear anyway.
func (e *Engine) maybeEvict(ctx context.Context, actor string, rec reconstate.ScoreRecord, recon []models.ReconEvent, degraded bool, now time.Time) {
	for _, ev := range recon {
		rec = e.store.Fold(rec, ev)
	}
	if degraded || rec.Score <= 0 {
		return
	}
	if rec.At(now, e.halfLife) >= reconstate.DefaultEvictBelow {
		return
	}
	if _, err := e.store.Prune(ctx, actor, now); err != nil {
		logging.CtxDebug(ctx).Err(err).Str("actor", actor).Msg("prune failed")
	}
}

func reconTimestamps(events []models.ReconEvent) []time.Time {
	ts := make([]time.Time, 0, len(events))
	for _, ev := range events {
		ts = append(ts, ev.Timestamp)
	}
	return ts
}

func deltaMinutes(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	m := d.Minutes()
	return &m
}

// eventOwnerIsActor decides ownership for baseline accounting from the
// event alone. Unknown owners count as the actor's own: audit rows for
// these event types normally carry the owner, and over-counting own
// shares is the conservative direction for the ratio.
func eventOwnerIsActor(ev models.ExfilEvent) bool {
	if ev.Owner == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(ev.Owner), strings.TrimSpace(ev.Actor))
}

// sortFindings orders findings by actor, then exfil timestamp, then
// exfil event id. Actor-major ordering keeps each actor's findings in
// ascending exfil time and makes the overall output reproducible.
func sortFindings(findings []models.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if a.Actor != b.Actor {
			return a.Actor < b.Actor
		}
		if !a.Exfil.Timestamp.Equal(b.Exfil.Timestamp) {
			return a.Exfil.Timestamp.Before(b.Exfil.Timestamp)
		}
		return a.Exfil.EventID < b.Exfil.EventID
	})
}
