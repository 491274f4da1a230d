// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package reconstate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
	"github.com/tomtom215/vigilo/internal/models"
)

// ScoreKeyPrefix namespaces per-actor score records in the backend.
const ScoreKeyPrefix = "recon_score:"

const (
	// MaxScore caps accumulated recon so one chatty actor cannot
	// dominate every delayed correlation forever.
	MaxScore = 100.0

	// DefaultEvictBelow is the decayed score under which a record is
	// deleted rather than kept as noise.
	DefaultEvictBelow = 0.1

	// casRetries bounds how often an Observe re-reads after losing a
	// compare-and-swap race.
	casRetries = 4
)

// actionWeights scores how strongly each assistant action signals
// targeted reconnaissance. Document-focused queries weigh most,
// routine writing assistance least.
var actionWeights = map[models.ReconAction]float64{
	models.ReconAskAboutFile:     2.0,
	models.ReconSummarizeFile:    2.0,
	models.ReconAnalyzeDocuments: 2.0,
	models.ReconCatchMeUp:        2.0,
	models.ReconReportFiles:      2.0,
	models.ReconHelpMeWrite:      0.5,
	models.ReconProofread:        0.5,
	models.ReconSearchWeb:        1.0,
}

// Weight returns the recon contribution of an assistant action.
// Unrecognized actions contribute nothing but remain visible to the
// correlator.
func Weight(action models.ReconAction) float64 {
	return actionWeights[action]
}

// ScoreRecord is the persisted per-actor state.
type ScoreRecord struct {
	Score        float64 `json:"score"`
	LastUpdateTS int64   `json:"last_update_ts"`
}

// At returns the record's score decayed to the given instant.
func (r ScoreRecord) At(at time.Time, halfLife time.Duration) float64 {
	return Decay(r.Score, time.Unix(r.LastUpdateTS, 0), at, halfLife)
}

// Decay applies exponential half-life decay to a score between two
// points in time. Non-positive elapsed time leaves the score as is,
// which keeps out-of-order observations from inflating state.
func Decay(score float64, last, now time.Time, halfLife time.Duration) float64 {
	if score <= 0 {
		return 0
	}
	dt := now.Sub(last)
	if dt <= 0 {
		return score
	}
	return score * math.Exp2(-dt.Seconds()/halfLife.Seconds())
}

// Store folds recon events into decaying per-actor scores on top of a
// Backend.
type Store struct {
	backend    Backend
	halfLife   time.Duration
	ttl        time.Duration
	evictBelow float64
}

// NewStore wires a Store over the given backend. ttl bounds how long
// idle records survive; evictBelow <= 0 selects DefaultEvictBelow.
func NewStore(backend Backend, halfLife, ttl time.Duration, evictBelow float64) *Store {
	if evictBelow <= 0 {
		evictBelow = DefaultEvictBelow
	}
	return &Store{
		backend:    backend,
		halfLife:   halfLife,
		ttl:        ttl,
		evictBelow: evictBelow,
	}
}

func scoreKey(actor string) string {
	return ScoreKeyPrefix + actor
}

// foldEvent applies one recon event to a record at the event's own
// timestamp: decay to the event, add the action weight, clamp.
func foldEvent(rec ScoreRecord, ev models.ReconEvent, halfLife time.Duration) ScoreRecord {
	next := rec.At(ev.Timestamp, halfLife) + Weight(ev.Action)
	if next > MaxScore {
		next = MaxScore
	}

	last := rec.LastUpdateTS
	if ts := ev.Timestamp.Unix(); ts > last {
		last = ts
	}
	return ScoreRecord{Score: next, LastUpdateTS: last}
}

// Observe folds one recon event into the actor's score and returns
// the updated value. Decay runs up to the event's own timestamp, so
// replaying a historical window produces the same scores every time.
// Lost CAS races are retried a few times before giving up.
func (s *Store) Observe(ctx context.Context, ev models.ReconEvent) (float64, error) {
	key := scoreKey(ev.Actor)

	for attempt := 0; ; attempt++ {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			metrics.RecordReconStoreError(s.backend.Name(), "get")
			return 0, fmt.Errorf("reading score for %s: %w", ev.Actor, err)
		}

		var rec ScoreRecord
		if found {
			if err := json.Unmarshal(raw, &rec); err != nil {
				// A corrupt record is unrecoverable state; start over
				// rather than failing every future observe.
				logging.CtxWarn(ctx).Err(err).Str("actor", ev.Actor).
					Msg("corrupt recon score record, resetting")
				rec = ScoreRecord{}
				raw = nil
				found = false
			}
		}

		next := foldEvent(rec, ev, s.halfLife)

		updated, err := json.Marshal(next)
		if err != nil {
			return 0, fmt.Errorf("encoding score for %s: %w", ev.Actor, err)
		}

		var old []byte
		if found {
			old = raw
		}
		err = s.backend.PutCAS(ctx, key, old, updated, s.ttl)
		if err == nil {
			metrics.RecordReconObservation()
			return next.Score, nil
		}
		if errors.Is(err, ErrCASConflict) && attempt < casRetries {
			metrics.RecordCASRetry()
			continue
		}
		if !errors.Is(err, ErrCASConflict) {
			metrics.RecordReconStoreError(s.backend.Name(), "put")
		}
		return 0, fmt.Errorf("writing score for %s: %w", ev.Actor, err)
	}
}

// Fold applies one recon event to a record without touching the
// backend: decay to the event timestamp, add the action weight, clamp.
// Callers replaying a batch use it to reconstruct the score the store
// would report at intermediate instants.
func (s *Store) Fold(rec ScoreRecord, ev models.ReconEvent) ScoreRecord {
	return foldEvent(rec, ev, s.halfLife)
}

// ObserveBatch folds a timestamp-sorted batch of recon events for one
// actor with a single read and a single CAS write, so a sweep touches
// the backend at most twice per actor whatever the batch size. It
// returns the record as it stood BEFORE the batch: combined with Fold,
// the caller can replay the score at any instant inside the batch,
// which a folded scalar on the backend cannot answer after the fact.
// An empty batch is a plain read.
func (s *Store) ObserveBatch(ctx context.Context, actor string, events []models.ReconEvent) (ScoreRecord, error) {
	key := scoreKey(actor)

	for attempt := 0; ; attempt++ {
		raw, found, err := s.backend.Get(ctx, key)
		if err != nil {
			metrics.RecordReconStoreError(s.backend.Name(), "get")
			return ScoreRecord{}, fmt.Errorf("reading score for %s: %w", actor, err)
		}

		var rec ScoreRecord
		if found {
			if err := json.Unmarshal(raw, &rec); err != nil {
				logging.CtxWarn(ctx).Err(err).Str("actor", actor).
					Msg("corrupt recon score record, resetting")
				rec = ScoreRecord{}
				raw = nil
				found = false
			}
		}
		if len(events) == 0 {
			return rec, nil
		}

		next := rec
		for _, ev := range events {
			next = foldEvent(next, ev, s.halfLife)
		}

		updated, err := json.Marshal(next)
		if err != nil {
			return ScoreRecord{}, fmt.Errorf("encoding score for %s: %w", actor, err)
		}

		var old []byte
		if found {
			old = raw
		}
		err = s.backend.PutCAS(ctx, key, old, updated, s.ttl)
		if err == nil {
			for range events {
				metrics.RecordReconObservation()
			}
			return rec, nil
		}
		if errors.Is(err, ErrCASConflict) && attempt < casRetries {
			metrics.RecordCASRetry()
			continue
		}
		if !errors.Is(err, ErrCASConflict) {
			metrics.RecordReconStoreError(s.backend.Name(), "put")
		}
		return ScoreRecord{}, fmt.Errorf("writing score for %s: %w", actor, err)
	}
}

// Score returns the actor's recon score decayed to the given instant.
// Backend failures degrade to zero with a warning so one unavailable
// store never blocks a sweep.
func (s *Store) Score(ctx context.Context, actor string, at time.Time) float64 {
	raw, found, err := s.backend.Get(ctx, scoreKey(actor))
	if err != nil {
		metrics.RecordReconStoreError(s.backend.Name(), "get")
		logging.CtxWarn(ctx).Err(err).Str("actor", actor).
			Msg("recon score read failed, treating as zero")
		return 0
	}
	if !found {
		return 0
	}

	var rec ScoreRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logging.CtxWarn(ctx).Err(err).Str("actor", actor).
			Msg("corrupt recon score record, treating as zero")
		return 0
	}
	return Decay(rec.Score, time.Unix(rec.LastUpdateTS, 0), at, s.halfLife)
}

// Prune evicts the actor's record once its decayed score has dropped
// under the eviction floor. Reports whether a record was removed.
func (s *Store) Prune(ctx context.Context, actor string, at time.Time) (bool, error) {
	deleted, err := s.backend.DeleteIfBelow(ctx, scoreKey(actor), s.evictBelow, s.halfLife, at)
	if err != nil {
		metrics.RecordReconStoreError(s.backend.Name(), "delete")
		return false, fmt.Errorf("pruning score for %s: %w", actor, err)
	}
	if deleted {
		metrics.RecordReconEviction()
	}
	return deleted, nil
}
