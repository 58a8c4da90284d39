package ledger

import (
	"fmt"

	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

// Monotonic records the last accepted nonce per key and admits only strictly
// greater nonces. A key that was never advanced has last nonce 0.
type Monotonic[K any] struct {
	kv *Keyed[K, uint64]
}

// NewMonotonic creates a nonce ledger under namespace.
func NewMonotonic[K any](namespace string, keyOf func(K) []byte) *Monotonic[K] {
	return &Monotonic[K]{kv: NewKeyed[K, uint64](namespace, keyOf)}
}

// Last returns the last accepted nonce for k.
func (m *Monotonic[K]) Last(r storage.Reader, k K) (uint64, error) {
	n, _, err := m.kv.Get(r, k)
	return n, err
}

// Check returns ErrNonceNotIncreasing unless nonce is greater than the last
// accepted nonce for k.
func (m *Monotonic[K]) Check(r storage.Reader, k K, nonce uint64) error {
	last, err := m.Last(r, k)
	if err != nil {
		return err
	}
	return checkIncreasing(last, nonce)
}

// Advance checks nonce and records it as the last accepted nonce for k.
func (m *Monotonic[K]) Advance(w storage.Writer, k K, nonce uint64) error {
	_, err := m.kv.Apply(w, k, func(last uint64, _ bool) (uint64, error) {
		if err := checkIncreasing(last, nonce); err != nil {
			return 0, err
		}
		return nonce, nil
	})
	return err
}

func checkIncreasing(last, nonce uint64) error {
	if nonce <= last {
		return fmt.Errorf("%w: nonce %d, last %d", types.ErrNonceNotIncreasing, nonce, last)
	}
	return nil
}
