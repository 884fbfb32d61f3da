// Package store wraps an embedded ordered key-value database (goleveldb)
// with atomic single-key writes and prefix scans (§2 "Persistence Store").
package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = leveldb.ErrNotFound

// Store is the single owner of the on-disk key-value database. Per §5
// "Shared-resource policy", only the State Worker holds a Store instance;
// no other actor touches it directly.
type Store struct {
	db *leveldb.DB
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads a single key. Returns ErrNotFound if absent.
func (s *Store) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

// Set writes a single key atomically.
func (s *Store) Set(key string, value []byte) error {
	return s.db.Put([]byte(key), value, nil)
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

// ScanPrefix iterates every key under prefix in ascending order, calling fn
// with each key/value pair. Iteration stops early if fn returns false.
func (s *Store) ScanPrefix(prefix string, fn func(key string, value []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		key := string(iter.Key())
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		if !fn(key, value) {
			break
		}
	}
	return iter.Error()
}

// CountPrefix returns the number of keys under prefix.
func (s *Store) CountPrefix(prefix string) (int, error) {
	count := 0
	err := s.ScanPrefix(prefix, func(string, []byte) bool {
		count++
		return true
	})
	return count, err
}

// Migrate copies every key from an older store into this one (§12
// supplemented feature, grounded on original_source/src/migrate.rs). It is
// additive: existing keys in the destination are left untouched if absent
// from the source, and the destination is never cleared first.
func (s *Store) Migrate(oldPath string) (int, error) {
	old, err := Open(oldPath)
	if err != nil {
		return 0, fmt.Errorf("open old store: %w", err)
	}
	defer old.Close()

	copied := 0
	var writeErr error
	scanErr := old.ScanPrefix("", func(key string, value []byte) bool {
		if werr := s.Set(key, value); werr != nil {
			writeErr = werr
			return false
		}
		copied++
		return true
	})
	if writeErr != nil {
		return copied, writeErr
	}
	return copied, scanErr
}
