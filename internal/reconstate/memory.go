// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package reconstate

import (
	"bytes"
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const memoryStripes = 32

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryStripe struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

// MemoryBackend is a process-local Backend. State does not survive a
// restart, which is fine for one-shot CLI runs and tests. Keys are
// striped across independent locks so concurrent per-actor workers do
// not serialize on one mutex.
type MemoryBackend struct {
	stripes [memoryStripes]*memoryStripe
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.stripes {
		b.stripes[i] = &memoryStripe{items: make(map[string]memoryEntry)}
	}
	return b
}

func (b *MemoryBackend) stripe(key string) *memoryStripe {
	h := fnv.New32a()
	h.Write([]byte(key))
	return b.stripes[h.Sum32()%memoryStripes]
}

// Name identifies the backend in logs and metrics.
func (b *MemoryBackend) Name() string { return "memory" }

// Get returns the stored value, treating expired entries as absent.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	st := b.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.items[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(st.items, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true, nil
}

// PutCAS writes new if the current value matches old, nil old meaning
// create-if-absent.
func (b *MemoryBackend) PutCAS(ctx context.Context, key string, old, new []byte, ttl time.Duration) error {
	st := b.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	e, exists := st.items[key]
	if exists && !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(st.items, key)
		exists = false
	}

	if old == nil {
		if exists {
			return ErrCASConflict
		}
	} else {
		if !exists || !bytes.Equal(e.data, old) {
			return ErrCASConflict
		}
	}

	stored := make([]byte, len(new))
	copy(stored, new)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	st.items[key] = memoryEntry{data: stored, expiresAt: expiresAt}
	return nil
}

// DeleteIfBelow removes the record when its decayed score is under
// threshold. The stripe lock makes the read-check-delete atomic.
func (b *MemoryBackend) DeleteIfBelow(ctx context.Context, key string, threshold float64, halfLife time.Duration, now time.Time) (bool, error) {
	st := b.stripe(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	e, ok := st.items[key]
	if !ok {
		return false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(st.items, key)
		return false, nil
	}

	var rec ScoreRecord
	if err := json.Unmarshal(e.data, &rec); err != nil {
		// Unparseable records are junk; treat them as below any
		// threshold.
		delete(st.items, key)
		return true, nil
	}
	if Decay(rec.Score, time.Unix(rec.LastUpdateTS, 0), now, halfLife) >= threshold {
		return false, nil
	}
	delete(st.items, key)
	return true, nil
}

// Close is a no-op for the in-memory backend.
func (b *MemoryBackend) Close() error { return nil }
