// Package storage defines the persistence boundary of the bridge core.
//
// Components read and write opaque values under namespaced keys. Every state
// change that goes with a check runs inside Update, which commits all of its
// writes or none of them.
package storage

import "github.com/geanlabs/gravity/types"

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = types.ErrNotFound

// Reader reads committed (or, inside Update, staged) values.
type Reader interface {
	// Get returns the value for key or ErrNotFound.
	Get(key []byte) ([]byte, error)
	// Iterate calls fn for every key with prefix in ascending key order.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// Writer stages changes inside an Update.
type Writer interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Store is an atomic key/value store.
type Store interface {
	Reader
	// Update runs fn against a staged view. If fn returns nil the staged
	// writes are committed atomically; otherwise they are discarded.
	Update(fn func(w Writer) error) error
	Close() error
}

// Key joins a namespace and a key suffix.
func Key(namespace string, suffix []byte) []byte {
	k := make([]byte, 0, len(namespace)+1+len(suffix))
	k = append(k, namespace...)
	k = append(k, '/')
	return append(k, suffix...)
}

// Prefix returns the iteration prefix of a namespace.
func Prefix(namespace string) []byte {
	return Key(namespace, nil)
}

// PrefixEnd returns the smallest key greater than every key with prefix, or
// nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
