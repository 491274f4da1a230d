// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package googleauth builds delegated Workspace API clients from a
// service account key with domain-wide delegation.
package googleauth

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2/google"
)

// Client returns an HTTP client authenticated as the service account,
// impersonating subject via domain-wide delegation. The subject must be
// a real user in the Workspace domain; Google rejects delegated calls
// made as the bare service account identity.
func Client(ctx context.Context, keyFile, subject string, scopes ...string) (*http.Client, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}

	cfg, err := google.JWTConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing service account key: %w", err)
	}
	if subject != "" {
		cfg.Subject = subject
	}

	return cfg.Client(ctx), nil
}
