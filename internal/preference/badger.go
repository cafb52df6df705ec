// POSSync - POS Sync Reliability and Tenant Resolution
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/possync

// Package preference persists active-location switches in BadgerDB.
//
// Key layout:
//
//	change:{userID}:{changeID}  JSON ActiveLocationChange, every state
//	pending:{changeID}          userID, present while the change is unresolved
//	confirmed:{userID}          location ID of the last confirmed switch
//
// The confirmed key is the rollback target when a later switch fails, and
// pending keys left behind by a crash are found by Pending at startup.
package preference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/possync/internal/config"
	"github.com/tomtom215/possync/internal/logging"
	"github.com/tomtom215/possync/internal/models"
)

const (
	prefixChange    = "change:"
	prefixPending   = "pending:"
	prefixConfirmed = "confirmed:"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("preference store is closed")

	// ErrChangeNotFound is returned when finishing an unknown change.
	ErrChangeNotFound = errors.New("active location change not found")
)

// BadgerStore is the durable preference store.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by cfg.
func Open(cfg *config.PreferencesConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("preference store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
		opts.SyncWrites = true
	}

	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Msg("Preference store opened")
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens a throwaway store for tests and demos.
func OpenInMemory() (*BadgerStore, error) {
	return Open(&config.PreferencesConfig{InMemory: true})
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func changeKey(userID, changeID string) []byte {
	return []byte(prefixChange + userID + ":" + changeID)
}

// SavePending records a new pending change.
func (s *BadgerStore) SavePending(_ context.Context, c models.ActiveLocationChange) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if c.State != models.ChangePending {
		return fmt.Errorf("save pending change %s: state is %q", c.ID, c.State)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(changeKey(c.UserID, c.ID), data); err != nil {
			return fmt.Errorf("write change: %w", err)
		}
		if err := txn.Set([]byte(prefixPending+c.ID), []byte(c.UserID)); err != nil {
			return fmt.Errorf("write pending index: %w", err)
		}
		return nil
	})
}

// Finish stores the final state of a pending change. A confirmed change
// also becomes the user's last confirmed location.
func (s *BadgerStore) Finish(_ context.Context, c models.ActiveLocationChange) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if c.State != models.ChangeConfirmed && c.State != models.ChangeRolledBack {
		return fmt.Errorf("finish change %s: state is %q", c.ID, c.State)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		pendingKey := []byte(prefixPending + c.ID)
		if _, err := txn.Get(pendingKey); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("change %s: %w", c.ID, ErrChangeNotFound)
			}
			return fmt.Errorf("read pending index: %w", err)
		}
		if err := txn.Delete(pendingKey); err != nil {
			return fmt.Errorf("delete pending index: %w", err)
		}
		if err := txn.Set(changeKey(c.UserID, c.ID), data); err != nil {
			return fmt.Errorf("write change: %w", err)
		}
		if c.State == models.ChangeConfirmed {
			if err := txn.Set([]byte(prefixConfirmed+c.UserID), []byte(c.LocationID)); err != nil {
				return fmt.Errorf("write confirmed location: %w", err)
			}
		}
		return nil
	})
}

// LastConfirmed returns the user's last confirmed location, if any.
func (s *BadgerStore) LastConfirmed(_ context.Context, userID string) (string, bool, error) {
	if err := s.checkOpen(); err != nil {
		return "", false, err
	}

	var locationID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixConfirmed + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			locationID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read confirmed location: %w", err)
	}
	return locationID, true, nil
}

// History returns a user's changes, newest first. A limit of zero or less
// returns everything.
func (s *BadgerStore) History(ctx context.Context, userID string, limit int) ([]models.ActiveLocationChange, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.ActiveLocationChange
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixChange + userID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var c models.ActiveLocationChange
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable location change")
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Pending returns every unresolved change, oldest first.
func (s *BadgerStore) Pending(ctx context.Context) ([]models.ActiveLocationChange, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var out []models.ActiveLocationChange
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			item := it.Item()
			changeID := string(item.Key()[len(prefix):])
			userID, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read pending index: %w", err)
			}

			changeItem, err := txn.Get(changeKey(string(userID), changeID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("read change %s: %w", changeID, err)
			}
			var c models.ActiveLocationChange
			if err := changeItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return fmt.Errorf("decode change %s: %w", changeID, err)
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending changes: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Close closes the database. It is safe to call more than once.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	start := time.Now()
	err := s.db.Close()
	logging.Debug().Dur("took", time.Since(start)).Msg("Preference store closed")
	return err
}
