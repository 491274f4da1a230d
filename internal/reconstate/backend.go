// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package reconstate persists per-actor reconnaissance scores across
// detection runs. Scores accumulate as AI-assistant events arrive and
// decay exponentially between observations, so the store only ever
// holds a score and the timestamp it was last folded at.
//
// Three backends implement the same small KV contract: an in-memory
// map for tests and single-shot runs, Redis for shared state between
// schedulers, and BadgerDB for durable single-node deployments.
package reconstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigilo/internal/config"
)

// ErrCASConflict is returned by PutCAS when the stored value no longer
// matches the caller's snapshot. Callers re-read and retry.
var ErrCASConflict = errors.New("reconstate: compare-and-swap conflict")

// Backend is the storage contract shared by all recon state stores.
// Values are opaque byte slices; the baseline package reuses the same
// backend under its own key prefix.
type Backend interface {
	// Get returns the raw value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// PutCAS writes new only if the current value matches old. A nil
	// old means create-if-absent. On mismatch it returns
	// ErrCASConflict. A positive ttl refreshes expiry on every write.
	PutCAS(ctx context.Context, key string, old, new []byte, ttl time.Duration) error

	// DeleteIfBelow atomically removes a score record once its
	// decayed value has dropped under threshold. Missing keys are not
	// an error. Reports whether a delete happened.
	DeleteIfBelow(ctx context.Context, key string, threshold float64, halfLife time.Duration, now time.Time) (bool, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// OpenBackend constructs the backend selected by configuration.
func OpenBackend(ctx context.Context, cfg config.ReconStateConfig) (Backend, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryBackend(), nil
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL)
	case "badger":
		return OpenBadger(cfg.BadgerPath)
	default:
		return nil, fmt.Errorf("unknown recon state backend %q", cfg.Backend)
	}
}
