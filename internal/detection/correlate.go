// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package detection

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
	"github.com/tomtom215/vigilo/internal/validation"
)

// prepareRecon deduplicates, validates, and clamps a recon batch.
// Duplicates share an event_id within the batch (adapter retries);
// malformed events are logged and skipped, never fatal.
func (e *Engine) prepareRecon(ctx context.Context, events []models.ReconEvent, now time.Time, stats *Stats) []models.ReconEvent {
	out := make([]models.ReconEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.EventID]; dup {
			stats.Duplicates++
			metrics.RecordEventSkipped("recon", "duplicate")
			continue
		}
		if verr := validation.ValidateStruct(ev); verr != nil {
			stats.Malformed++
			metrics.RecordEventSkipped("recon", "malformed")
			logging.CtxInfo(ctx).Err(verr).Str("event_id", ev.EventID).
				Msg("skipping malformed recon event")
			continue
		}
		seen[ev.EventID] = struct{}{}
		if ev.Timestamp.After(now.Add(e.skewTolerance)) {
			ev.Timestamp = now
			stats.Clamped++
			metrics.RecordEventClamped("recon")
		}
		metrics.RecordEventIngested("recon")
		out = append(out, ev)
	}
	return out
}

// prepareExfil is the exfil-side twin of prepareRecon. Event ids are
// deduplicated per kind, so a recon and an exfil event may legally
// share an id.
func (e *Engine) prepareExfil(ctx context.Context, events []models.ExfilEvent, now time.Time, stats *Stats) []models.ExfilEvent {
	out := make([]models.ExfilEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.EventID]; dup {
			stats.Duplicates++
			metrics.RecordEventSkipped("exfil", "duplicate")
			continue
		}
		if verr := validation.ValidateStruct(ev); verr != nil {
			stats.Malformed++
			metrics.RecordEventSkipped("exfil", "malformed")
			logging.CtxInfo(ctx).Err(verr).Str("event_id", ev.EventID).
				Msg("skipping malformed exfil event")
			continue
		}
		seen[ev.EventID] = struct{}{}
		if ev.Timestamp.After(now.Add(e.skewTolerance)) {
			ev.Timestamp = now
			stats.Clamped++
			metrics.RecordEventClamped("exfil")
		}
		metrics.RecordEventIngested("exfil")
		out = append(out, ev)
	}
	return out
}

// markReverts flags external-toggle-then-revert pairs: a visibility
// change to an external state followed within fastBand by a change
// back on the same document. Both sides of the pair are marked so the
// exposure and the cover-up each surface at high severity.
func markReverts(events []models.ExfilEvent) {
	byDoc := make(map[string][]int)
	for i, ev := range events {
		if ev.DocID != "" && ev.EventType == models.ExfilChangeVisibility {
			byDoc[ev.DocID] = append(byDoc[ev.DocID], i)
		}
	}

	for _, idxs := range byDoc {
		sort.Slice(idxs, func(a, b int) bool {
			return events[idxs[a]].Timestamp.Before(events[idxs[b]].Timestamp)
		})
		for i := 0; i < len(idxs)-1; i++ {
			curr, next := &events[idxs[i]], &events[idxs[i+1]]
			if next.Timestamp.Sub(curr.Timestamp) > fastBand {
				continue
			}
			if curr.Visibility.IsExternal() && !next.Visibility.IsExternal() {
				curr.IsRevert = true
				next.IsRevert = true
			}
		}
	}
}

// matchRecon selects the immediate recon match for an exfil event from
// the actor's timestamp-sorted recon events: the most recent eligible
// event, with same-document recon preferred over file-agnostic or
// other-document recon. Eligible means the recon precedes the exfil by
// at most the window (inclusive at both edges) and the doc ids do not
// contradict each other.
func matchRecon(recon []models.ReconEvent, ev models.ExfilEvent, window time.Duration) *models.ReconEvent {
	var bestSame, bestAny *models.ReconEvent
	for i := range recon {
		r := &recon[i]
		delta := ev.Timestamp.Sub(r.Timestamp)
		if delta < 0 || delta > window {
			continue
		}
		if r.DocID != "" && ev.DocID != "" && r.DocID != ev.DocID {
			continue
		}
		// Ascending order makes the last hit the most recent.
		if r.DocID != "" && r.DocID == ev.DocID {
			bestSame = r
		}
		bestAny = r
	}
	if bestSame != nil {
		return copyRecon(bestSame)
	}
	if bestAny != nil {
		return copyRecon(bestAny)
	}
	return nil
}

func copyRecon(r *models.ReconEvent) *models.ReconEvent {
	c := *r
	return &c
}

func groupRecon(events []models.ReconEvent) map[string][]models.ReconEvent {
	groups := make(map[string][]models.ReconEvent)
	for _, ev := range events {
		groups[ev.Actor] = append(groups[ev.Actor], ev)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })
	}
	return groups
}

func groupExfil(events []models.ExfilEvent) map[string][]models.ExfilEvent {
	groups := make(map[string][]models.ExfilEvent)
	for _, ev := range events {
		groups[ev.Actor] = append(groups[ev.Actor], ev)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].Timestamp.Before(g[j].Timestamp) })
	}
	return groups
}

// actorsOf returns the union of actors across both groupings in
// lexical order, pinning the dispatch order for deterministic runs.
func actorsOf(recon map[string][]models.ReconEvent, exfil map[string][]models.ExfilEvent) []string {
	set := make(map[string]struct{}, len(recon)+len(exfil))
	for a := range recon {
		set[a] = struct{}{}
	}
	for a := range exfil {
		set[a] = struct{}{}
	}
	actors := make([]string, 0, len(set))
	for a := range set {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	return actors
}
