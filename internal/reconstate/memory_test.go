// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package reconstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestMemoryPutCASCreate(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.PutCAS(ctx, "recon_score:u@corp.com", nil, []byte(`{"score":1}`), 0); err != nil {
		t.Fatalf("create PutCAS() error = %v", err)
	}

	err := b.PutCAS(ctx, "recon_score:u@corp.com", nil, []byte(`{"score":2}`), 0)
	if !errors.Is(err, ErrCASConflict) {
		t.Errorf("create over existing key error = %v, want ErrCASConflict", err)
	}
}

func TestMemoryPutCASSwap(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	first := []byte(`{"score":1}`)
	if err := b.PutCAS(ctx, "k", nil, first, 0); err != nil {
		t.Fatalf("create PutCAS() error = %v", err)
	}

	if err := b.PutCAS(ctx, "k", first, []byte(`{"score":2}`), 0); err != nil {
		t.Fatalf("swap PutCAS() error = %v", err)
	}

	// The first snapshot is now stale.
	err := b.PutCAS(ctx, "k", first, []byte(`{"score":3}`), 0)
	if !errors.Is(err, ErrCASConflict) {
		t.Errorf("stale swap error = %v, want ErrCASConflict", err)
	}

	raw, found, err := b.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, %v", raw, found, err)
	}
	if string(raw) != `{"score":2}` {
		t.Errorf("Get() = %s, want the swapped value", raw)
	}
}

func TestMemoryPutCASMissingWithSnapshot(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()

	err := b.PutCAS(context.Background(), "absent", []byte(`{"score":1}`), []byte(`{"score":2}`), 0)
	if !errors.Is(err, ErrCASConflict) {
		t.Errorf("swap on missing key error = %v, want ErrCASConflict", err)
	}
}

func TestMemoryGetMissing(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()

	raw, found, err := b.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found || raw != nil {
		t.Errorf("Get(missing) = %v, %v, want nil, false", raw, found)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.PutCAS(ctx, "k", nil, []byte(`{"score":1}`), 20*time.Millisecond); err != nil {
		t.Fatalf("PutCAS() error = %v", err)
	}
	time.Sleep(40 * time.Millisecond)

	if _, found, _ := b.Get(ctx, "k"); found {
		t.Error("Get() found an expired entry")
	}

	// Expired entries must not block re-creation.
	if err := b.PutCAS(ctx, "k", nil, []byte(`{"score":2}`), 0); err != nil {
		t.Errorf("re-create after expiry error = %v", err)
	}
}

func TestMemoryDeleteIfBelow(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	put := func(key string, rec ScoreRecord) {
		t.Helper()
		raw, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := b.PutCAS(ctx, key, nil, raw, 0); err != nil {
			t.Fatalf("PutCAS(%s) error = %v", key, err)
		}
	}

	put("low", ScoreRecord{Score: 0.05, LastUpdateTS: baseTime.Unix()})
	put("high", ScoreRecord{Score: 5.0, LastUpdateTS: baseTime.Unix()})
	put("decaying", ScoreRecord{Score: 1.0, LastUpdateTS: baseTime.Unix()})

	deleted, err := b.DeleteIfBelow(ctx, "low", 0.1, testHalfLife, baseTime)
	if err != nil || !deleted {
		t.Errorf("DeleteIfBelow(low) = %v, %v, want true, nil", deleted, err)
	}

	deleted, err = b.DeleteIfBelow(ctx, "high", 0.1, testHalfLife, baseTime)
	if err != nil || deleted {
		t.Errorf("DeleteIfBelow(high) = %v, %v, want false, nil", deleted, err)
	}

	// 1.0 across ten half-lives is well under 0.1.
	deleted, err = b.DeleteIfBelow(ctx, "decaying", 0.1, testHalfLife, baseTime.Add(10*testHalfLife))
	if err != nil || !deleted {
		t.Errorf("DeleteIfBelow(decaying) = %v, %v, want true, nil", deleted, err)
	}

	deleted, err = b.DeleteIfBelow(ctx, "missing", 0.1, testHalfLife, baseTime)
	if err != nil || deleted {
		t.Errorf("DeleteIfBelow(missing) = %v, %v, want false, nil", deleted, err)
	}
}

func TestMemoryDeleteIfBelowCorrupt(t *testing.T) {
	t.Parallel()
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.PutCAS(ctx, "junk", nil, []byte("not json"), 0); err != nil {
		t.Fatalf("PutCAS() error = %v", err)
	}

	deleted, err := b.DeleteIfBelow(ctx, "junk", 0.1, testHalfLife, baseTime)
	if err != nil {
		t.Fatalf("DeleteIfBelow() error = %v", err)
	}
	if !deleted {
		t.Error("DeleteIfBelow() kept a corrupt record")
	}
}
