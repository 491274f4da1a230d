// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigilo/internal/config"
)

func testServer() (*Server, *Status) {
	status := NewStatus()
	srv := New(config.OpsConfig{Listen: "127.0.0.1:0"}, status, "1.2.3")
	return srv, status
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["version"] != "1.2.3" {
		t.Errorf("version field = %v, want 1.2.3", body["version"])
	}
}

func TestStatusReflectsRecordedSweep(t *testing.T) {
	t.Parallel()

	srv, status := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	status.Record(Summary{
		State:        "ok",
		RunID:        "run-42",
		StartedAt:    time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC),
		DurationMS:   321,
		Findings:     3,
		HighFindings: 1,
	})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var got Summary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.RunID != "run-42" || got.Findings != 3 || got.HighFindings != 1 {
		t.Errorf("summary = %+v, want run-42 with 3 findings (1 high)", got)
	}
	if got.Sweeps != 1 {
		t.Errorf("sweeps = %d, want 1", got.Sweeps)
	}
}

func TestStatusSweepCounterAccumulates(t *testing.T) {
	t.Parallel()

	status := NewStatus()
	status.Record(Summary{State: "ok"})
	status.Record(Summary{State: "error", Error: "backend down"})

	got := status.Snapshot()
	if got.Sweeps != 2 {
		t.Errorf("sweeps = %d, want 2", got.Sweeps)
	}
	if got.State != "error" || got.Error != "backend down" {
		t.Errorf("summary = %+v, want latest error state", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := testServer()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "# HELP") {
		t.Error("metrics body missing exposition format")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv, _ := testServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// Give the listener a moment to come up before canceling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
