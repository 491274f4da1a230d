// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package scheduler drives repeated detection sweeps when vigilo runs
// as a long-lived service instead of a one-shot CLI. The Sweeper is a
// suture.Service: the supervisor restarts it if a sweep panics, and a
// failed sweep is logged and retried on the next tick rather than
// killing the loop.
package scheduler

import (
	"context"
	"time"

	"github.com/tomtom215/vigilo/internal/logging"
)

// defaultInterval is used when no sweep interval is configured.
const defaultInterval = 5 * time.Minute

// Outcome summarizes what one sweep produced.
type Outcome struct {
	// Findings is the total number of findings emitted.
	Findings int

	// HighFindings is how many of them were high severity.
	HighFindings int

	// Actors is the number of distinct actors processed.
	Actors int
}

// SweepFunc runs one full detection pass: ingest, correlate, emit.
// Implementations own their source and report plumbing; the scheduler
// only supplies timing, run IDs, and failure isolation.
type SweepFunc func(ctx context.Context) (Outcome, error)

// Result describes one completed sweep for observers such as the ops
// status endpoint.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome
	Err       error
}

// Sweeper runs a SweepFunc immediately on start and then on a fixed
// interval until its context is canceled.
type Sweeper struct {
	interval time.Duration
	run      SweepFunc
	onResult func(Result)
}

// NewSweeper creates a sweeper. onResult may be nil; when set it is
// called synchronously after every sweep, success or failure.
func NewSweeper(interval time.Duration, run SweepFunc, onResult func(Result)) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		interval: interval,
		run:      run,
		onResult: onResult,
	}
}

// Serve implements the suture.Service interface. It returns only when
// the context is canceled; individual sweep failures are recorded and
// absorbed so a flaky source cannot take the service down.
func (s *Sweeper) Serve(ctx context.Context) error {
	logging.CtxInfo(ctx).
		Dur("interval", s.interval).
		Msg("Sweep scheduler starting")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.CtxInfo(ctx).Msg("Sweep scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep executes one detection pass under a fresh run ID.
func (s *Sweeper) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	runCtx := logging.ContextWithNewRunID(ctx)
	start := time.Now()

	outcome, err := s.run(runCtx)
	elapsed := time.Since(start)

	if err != nil {
		logging.CtxErr(runCtx, err).
			Dur("duration", elapsed).
			Msg("Sweep failed")
	} else {
		logging.CtxInfo(runCtx).
			Dur("duration", elapsed).
			Int("findings", outcome.Findings).
			Int("high", outcome.HighFindings).
			Int("actors", outcome.Actors).
			Msg("Sweep complete")
	}

	if s.onResult != nil {
		s.onResult(Result{
			RunID:     logging.RunIDFromContext(runCtx),
			StartedAt: start,
			Duration:  elapsed,
			Outcome:   outcome,
			Err:       err,
		})
	}
}

// String returns the service name for supervisor logs.
func (s *Sweeper) String() string {
	return "sweeper"
}
