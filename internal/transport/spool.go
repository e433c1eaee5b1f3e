// Playlytics - Embedded Playback Telemetry for Media Applications
// Copyright 2026 Playlytics contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playlytics/playlytics

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/playlytics/playlytics/internal/event"
	"github.com/playlytics/playlytics/internal/logging"
	"github.com/playlytics/playlytics/internal/metrics"
)

// batchKeyPrefix namespaces spooled batches in badger.
const batchKeyPrefix = "batch:"

// spoolEntry is the stored envelope for one undelivered batch.
type spoolEntry struct {
	CreatedAt time.Time      `json:"created_at"`
	Events    []*event.Event `json:"events"`
}

// Spool is a badger-backed store for batches that exhausted delivery while
// the engine was running. Spooled batches survive restarts and are replayed
// through a Transport on startup, bounded by the retention window.
type Spool struct {
	db  *badger.DB
	now func() time.Time
}

// OpenSpool opens (or creates) the spool at dir.
func OpenSpool(dir string) (*Spool, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	s := &Spool{db: db, now: time.Now}
	if n, err := s.Count(); err == nil {
		metrics.SpooledBatches.Set(float64(n))
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Save persists one batch. Keys sort chronologically so replay preserves
// the order batches were spooled in.
func (s *Spool) Save(events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	entry := spoolEntry{CreatedAt: s.now().UTC(), Events: events}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal spool entry: %w", err)
	}

	key := fmt.Sprintf("%s%020d:%s", batchKeyPrefix, entry.CreatedAt.UnixNano(), uuid.New().String())
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("save spooled batch: %w", err)
	}

	if n, err := s.Count(); err == nil {
		metrics.SpooledBatches.Set(float64(n))
	}
	logging.Debug().Int("count", len(events)).Msg("batch spooled for later delivery")
	return nil
}

// Replay hands spooled batches to the transport in spool order, deleting
// each on successful delivery. It stops at the first failure and returns
// how many batches were delivered.
func (s *Spool) Replay(ctx context.Context, t Transport) (int, error) {
	type pending struct {
		key   []byte
		entry spoolEntry
	}

	var batches []pending
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(batchKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var entry spoolEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return fmt.Errorf("decode spool entry %s: %w", key, err)
			}
			batches = append(batches, pending{key: key, entry: entry})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan spool: %w", err)
	}

	delivered := 0
	for _, b := range batches {
		if err := t.Send(ctx, b.entry.Events); err != nil {
			s.updateGauge()
			return delivered, fmt.Errorf("replay spooled batch: %w", err)
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(b.key)
		}); err != nil {
			s.updateGauge()
			return delivered, fmt.Errorf("delete delivered batch: %w", err)
		}
		delivered++
	}

	s.updateGauge()
	if delivered > 0 {
		logging.Info().Int("batches", delivered).Msg("spooled batches replayed")
	}
	return delivered, nil
}

// DeleteExpired removes batches spooled before the cutoff, enforcing the
// retention window. Returns the number of deleted batches.
func (s *Spool) DeleteExpired(olderThan time.Time) (int, error) {
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(batchKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var entry spoolEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				continue // unreadable entries are skipped, not fatal
			}
			if entry.CreatedAt.Before(olderThan) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan spool for expiry: %w", err)
	}

	for _, key := range expired {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return 0, fmt.Errorf("delete expired batch: %w", err)
		}
	}

	s.updateGauge()
	if len(expired) > 0 {
		logging.Info().Int("batches", len(expired)).Msg("expired spooled batches dropped")
	}
	return len(expired), nil
}

// Count returns the number of spooled batches.
func (s *Spool) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(batchKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count spool: %w", err)
	}
	return count, nil
}

func (s *Spool) updateGauge() {
	if n, err := s.Count(); err == nil {
		metrics.SpooledBatches.Set(float64(n))
	}
}
