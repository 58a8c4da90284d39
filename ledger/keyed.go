// Package ledger provides the check-then-act bookkeeping shared by the nonce
// ledgers and the attestation vote ledger.
//
// A ledger never owns a transaction. Callers pass the storage.Writer of the
// Update they are running, so the check and the write it guards land in the
// same atomic commit as every other effect of the operation.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v4"

	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

// Keyed maps K to V inside one storage namespace. Values are msgpack encoded.
type Keyed[K any, V any] struct {
	namespace string
	keyOf     func(K) []byte
}

// NewKeyed creates a ledger under namespace using keyOf to encode keys.
func NewKeyed[K any, V any](namespace string, keyOf func(K) []byte) *Keyed[K, V] {
	return &Keyed[K, V]{namespace: namespace, keyOf: keyOf}
}

// Namespace returns the storage namespace of the ledger.
func (l *Keyed[K, V]) Namespace() string { return l.namespace }

func (l *Keyed[K, V]) key(k K) []byte {
	return storage.Key(l.namespace, l.keyOf(k))
}

// Get returns the value stored for k. found is false when k has no entry.
func (l *Keyed[K, V]) Get(r storage.Reader, k K) (v V, found bool, err error) {
	raw, err := r.Get(l.key(k))
	if errors.Is(err, storage.ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("failed to decode %s entry: %w", l.namespace, err)
	}
	return v, true, nil
}

// Put stores v under k.
func (l *Keyed[K, V]) Put(w storage.Writer, k K, v V) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s entry: %w", l.namespace, err)
	}
	return w.Set(l.key(k), raw)
}

// Delete removes the entry for k, if any.
func (l *Keyed[K, V]) Delete(w storage.Writer, k K) error {
	return w.Delete(l.key(k))
}

// Apply reads the current value for k, passes it to fn and stores the value
// fn returns. If fn fails nothing is written and its error is returned as is.
func (l *Keyed[K, V]) Apply(w storage.Writer, k K, fn func(cur V, found bool) (V, error)) (V, error) {
	cur, found, err := l.Get(w, k)
	if err != nil {
		var zero V
		return zero, err
	}
	next, err := fn(cur, found)
	if err != nil {
		var zero V
		return zero, err
	}
	if err := l.Put(w, k, next); err != nil {
		var zero V
		return zero, err
	}
	return next, nil
}

// Each calls fn with every value in the ledger, in key order.
func (l *Keyed[K, V]) Each(r storage.Reader, fn func(v V) error) error {
	return r.Iterate(storage.Prefix(l.namespace), func(_, raw []byte) error {
		var v V
		if err := msgpack.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("failed to decode %s entry: %w", l.namespace, err)
		}
		return fn(v)
	})
}

// StringKey encodes string keys.
func StringKey(s string) []byte { return []byte(s) }

// Uint64Key encodes integer keys big-endian so that iteration follows
// numeric order.
func Uint64Key[T ~uint64](n T) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(n))
}

// AddressKey encodes address keys.
func AddressKey(a types.Address) []byte { return a.Bytes() }

// DigestKey encodes digest keys.
func DigestKey(d types.Digest) []byte { return d[:] }
