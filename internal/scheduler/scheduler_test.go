// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockSweep counts invocations and returns a configurable outcome.
type mockSweep struct {
	mu      sync.Mutex
	calls   int
	outcome Outcome
	err     error
}

func (m *mockSweep) run(_ context.Context) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.outcome, m.err
}

func (m *mockSweep) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestSweeper_String(t *testing.T) {
	s := NewSweeper(time.Hour, nil, nil)
	if got := s.String(); got != "sweeper" {
		t.Errorf("String() = %q, want %q", got, "sweeper")
	}
}

func TestSweeper_RunsImmediatelyOnStart(t *testing.T) {
	sweep := &mockSweep{}
	// Long interval so only the startup sweep fires.
	s := NewSweeper(time.Hour, sweep.run, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	if got := sweep.callCount(); got != 1 {
		t.Errorf("sweep called %d times, want 1", got)
	}
}

func TestSweeper_TicksOnInterval(t *testing.T) {
	sweep := &mockSweep{}
	s := NewSweeper(40*time.Millisecond, sweep.run, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	// Startup sweep plus at least one tick.
	if got := sweep.callCount(); got < 2 {
		t.Errorf("sweep called %d times, want at least 2", got)
	}
}

func TestSweeper_SurvivesSweepErrors(t *testing.T) {
	sweep := &mockSweep{err: errors.New("source unavailable")}
	s := NewSweeper(40*time.Millisecond, sweep.run, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.Serve(ctx)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve returned %v, want context.DeadlineExceeded", err)
	}
	// Failed sweeps must not stop the loop.
	if got := sweep.callCount(); got < 2 {
		t.Errorf("sweep called %d times after errors, want at least 2", got)
	}
}

func TestSweeper_ServeReturnsOnCancel(t *testing.T) {
	sweep := &mockSweep{}
	s := NewSweeper(time.Hour, sweep.run, nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestSweeper_ReportsResults(t *testing.T) {
	sweep := &mockSweep{outcome: Outcome{Findings: 4, HighFindings: 1, Actors: 2}}

	var mu sync.Mutex
	var results []Result
	onResult := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	s := NewSweeper(40*time.Millisecond, sweep.run, onResult)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	mu.Lock()
	defer mu.Unlock()

	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	first := results[0]
	if first.RunID == "" {
		t.Error("result missing run ID")
	}
	if first.Outcome != sweep.outcome {
		t.Errorf("outcome = %+v, want %+v", first.Outcome, sweep.outcome)
	}
	if first.Err != nil {
		t.Errorf("unexpected sweep error: %v", first.Err)
	}
	if results[1].RunID == first.RunID {
		t.Error("successive sweeps should carry distinct run IDs")
	}
}

func TestSweeper_ReportsFailures(t *testing.T) {
	wantErr := errors.New("backend down")
	sweep := &mockSweep{err: wantErr}

	var mu sync.Mutex
	var got Result
	onResult := func(r Result) {
		mu.Lock()
		got = r
		mu.Unlock()
	}

	s := NewSweeper(time.Hour, sweep.run, onResult)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	_ = s.Serve(ctx)

	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got.Err, wantErr) {
		t.Errorf("result error = %v, want %v", got.Err, wantErr)
	}
}

func TestSweeper_DefaultsInterval(t *testing.T) {
	s := NewSweeper(0, nil, nil)
	if s.interval != defaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, defaultInterval)
	}
}
