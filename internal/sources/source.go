// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package sources ingests recon and exfil events from the Workspace
// Admin Reports API or from JSONL replay files. Adapters normalize raw
// audit records into the canonical event model; individual malformed
// records are skipped and counted, a failed fetch aborts the run.
package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/models"
)

// ErrSourceUnavailable wraps any fetch failure: auth, quota, network,
// or a missing replay file. The run aborts with a configuration exit.
var ErrSourceUnavailable = errors.New("source unavailable")

// Source fetches both event streams for a sweep window. Returned slices
// are finite and unordered; the correlator dedupes and sorts.
type Source interface {
	FetchRecon(ctx context.Context, start, end time.Time) ([]models.ReconEvent, error)
	FetchExfil(ctx context.Context, start, end time.Time) ([]models.ExfilEvent, error)
}

// New builds the configured source adapter.
func New(ctx context.Context, cfg config.SourcesConfig) (Source, error) {
	switch cfg.Provider {
	case "google":
		svc, err := NewReportsService(ctx, cfg.Google)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return NewGoogleSource(svc, cfg.Google.CustomerID), nil
	case "file":
		return NewFileSource(cfg.File), nil
	default:
		return nil, fmt.Errorf("unknown source provider %q", cfg.Provider)
	}
}
