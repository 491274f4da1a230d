// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package reconstate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BadgerBackend stores recon state in an embedded BadgerDB, giving a
// single-node deployment durable scores without external services.
type BadgerBackend struct {
	db *badger.DB
}

// OpenBadger opens the database at path. An empty path opens an
// in-memory instance, used by tests.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB logs
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for recon state: %w", err)
	}
	return &BadgerBackend{db: db}, nil
}

// Name identifies the backend in logs and metrics.
func (b *BadgerBackend) Name() string { return "badger" }

// Get returns the raw record for key. Badger handles TTL expiry
// internally, so expired entries simply come back as not found.
func (b *BadgerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("badger get: %w", err)
	}
	return out, true, nil
}

// PutCAS writes new inside a single transaction after verifying the
// current value matches old. Badger transactions give the
// read-compare-write atomicity directly.
func (b *BadgerBackend) PutCAS(ctx context.Context, key string, old, new []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if old != nil {
				return ErrCASConflict
			}
		case err != nil:
			return fmt.Errorf("badger get: %w", err)
		default:
			if old == nil {
				return ErrCASConflict
			}
			cur, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger value: %w", err)
			}
			if !bytes.Equal(cur, old) {
				return ErrCASConflict
			}
		}

		entry := badger.NewEntry([]byte(key), new)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil && !errors.Is(err, ErrCASConflict) {
		return fmt.Errorf("badger cas put: %w", err)
	}
	return err
}

// DeleteIfBelow removes the record when its decayed score is under
// threshold, all within one transaction.
func (b *BadgerBackend) DeleteIfBelow(ctx context.Context, key string, threshold float64, halfLife time.Duration, now time.Time) (bool, error) {
	deleted := false
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("badger get: %w", err)
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger value: %w", err)
		}

		var rec ScoreRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Junk records never decay on their own; clear them.
			deleted = true
			return txn.Delete([]byte(key))
		}
		if Decay(rec.Score, time.Unix(rec.LastUpdateTS, 0), now, halfLife) >= threshold {
			return nil
		}
		deleted = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Close flushes and closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
