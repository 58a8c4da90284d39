package memory

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/geanlabs/gravity/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (m *Store) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (m *Store) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	snapshot := make(map[string][]byte)
	for k, v := range m.data {
		if strings.HasPrefix(k, string(prefix)) {
			snapshot[k] = v
		}
	}
	m.mu.RUnlock()
	return iterateSorted(snapshot, nil, fn)
}

// Update stages writes in a transaction and applies them under the write
// lock only if fn succeeds. Concurrent Updates are serialized.
func (m *Store) Update(fn func(w storage.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &txn{base: m.data, writes: make(map[string][]byte), deletes: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	for k := range tx.deletes {
		delete(m.data, k)
	}
	for k, v := range tx.writes {
		m.data[k] = v
	}
	return nil
}

func (m *Store) Close() error { return nil }

// txn is a staged view over the store's map. It is only used while the
// store's write lock is held.
type txn struct {
	base    map[string][]byte
	writes  map[string][]byte
	deletes map[string]struct{}
}

func (t *txn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		return append([]byte{}, v...), nil
	}
	if _, ok := t.deletes[k]; ok {
		return nil, storage.ErrNotFound
	}
	v, ok := t.base[k]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte{}, v...), nil
}

func (t *txn) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	for k, v := range t.base {
		if strings.HasPrefix(k, string(prefix)) {
			merged[k] = v
		}
	}
	for k, v := range t.writes {
		if strings.HasPrefix(k, string(prefix)) {
			merged[k] = v
		}
	}
	return iterateSorted(merged, t.deletes, fn)
}

func (t *txn) Set(key, value []byte) error {
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte{}, value...)
	return nil
}

func (t *txn) Delete(key []byte) error {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func iterateSorted(entries map[string][]byte, skip map[string]struct{}, fn func(key, value []byte) error) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		if _, deleted := skip[k]; !deleted {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare([]byte(keys[i]), []byte(keys[j])) < 0
	})
	for _, k := range keys {
		if err := fn([]byte(k), append([]byte{}, entries[k]...)); err != nil {
			return err
		}
	}
	return nil
}
