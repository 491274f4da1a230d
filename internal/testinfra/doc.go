// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package testinfra provides container-backed infrastructure for integration
// tests, built on testcontainers-go.
//
// Unit tests cover the Redis recon-state backend with miniredis; the
// integration suite in this package runs the same backend against a real
// Redis server to exercise Lua script evaluation and TTL behavior that an
// in-process fake cannot fully reproduce.
//
// All files carry the integration build tag. Run with:
//
//	go test -tags=integration ./internal/reconstate/...
//
// Tests skip themselves when no Docker daemon is reachable, so the
// integration tag is safe to enable in environments without Docker.
package testinfra
