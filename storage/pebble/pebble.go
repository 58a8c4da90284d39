// Package pebble implements storage.Store on a pebble database.
package pebble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/geanlabs/gravity/storage"
)

// Store persists bridge state in pebble. Updates are indexed batches
// committed with fsync, so a crash never exposes half of an operation.
// Updates are serialized so that a check inside one cannot race the
// commit of another.
type Store struct {
	db *pebble.DB

	updateMu sync.Mutex
}

// Open opens (or creates) a pebble database in dir.
func Open(dir string) (*Store, error) {
	cache := pebble.NewCache(8 << 20)
	defer cache.Unref()

	db, err := pebble.Open(dir, &pebble.Options{Cache: cache})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(key []byte) ([]byte, error) {
	return get(s.db, key)
}

func (s *Store) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return iterate(s.db, prefix, fn)
}

func (s *Store) Update(fn func(w storage.Writer) error) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&writer{batch: batch}); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type writer struct {
	batch *pebble.Batch
}

func (w *writer) Get(key []byte) ([]byte, error) {
	return get(w.batch, key)
}

func (w *writer) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	return iterate(w.batch, prefix, fn)
}

func (w *writer) Set(key, value []byte) error {
	if err := w.batch.Set(key, value, nil); err != nil {
		return fmt.Errorf("failed to stage value: %w", err)
	}
	return nil
}

func (w *writer) Delete(key []byte) error {
	if err := w.batch.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to stage delete: %w", err)
	}
	return nil
}

func get(r pebble.Reader, key []byte) ([]byte, error) {
	val, closer, err := r.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("could not load data: %w", err)
	}
	defer closer.Close()
	return append([]byte{}, val...), nil
}

func iterate(r pebble.Reader, prefix []byte, fn func(key, value []byte) error) error {
	it, err := r.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: storage.PrefixEnd(prefix),
	})
	if err != nil {
		return fmt.Errorf("create iterator: %w", err)
	}
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		key := append([]byte{}, it.Key()...)
		value := append([]byte{}, it.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return it.Error()
}
