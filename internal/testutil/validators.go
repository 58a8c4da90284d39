// Package testutil builds keyed validator sets and signature bundles for tests.
package testutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/types"
)

// BridgeID is the bridge instance used across package tests.
var BridgeID = types.BridgeIDFromString("gravity-test")

// KeyedSet is a validator set together with the signing keys of its members.
type KeyedSet struct {
	Set     *types.ValidatorSet
	Signers []sigverify.Signer
}

// NewKeyedSet creates fresh secp256k1 keys, one per power.
func NewKeyedSet(t testing.TB, nonce uint64, powers ...types.Power) *KeyedSet {
	t.Helper()

	signers := make([]sigverify.Signer, len(powers))
	members := make([]types.Validator, len(powers))
	for i, p := range powers {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		s := sigverify.NewECDSASigner(key)
		signers[i] = s
		members[i] = types.Validator{Signer: s.Address(), Power: p}
	}
	set, err := types.NewValidatorSet(nonce, members)
	require.NoError(t, err)
	return &KeyedSet{Set: set, Signers: signers}
}

// WithNonce returns the same members and keys under a different nonce.
func (k *KeyedSet) WithNonce(t testing.TB, nonce uint64) *KeyedSet {
	t.Helper()
	set, err := types.NewValidatorSet(nonce, k.Set.Members)
	require.NoError(t, err)
	return &KeyedSet{Set: set, Signers: k.Signers}
}

// Bundle signs digest with the members at the given indices; every other slot
// abstains.
func (k *KeyedSet) Bundle(t testing.TB, digest types.Digest, indices ...int) *types.SignatureBundle {
	t.Helper()

	bundle := &types.SignatureBundle{
		Signers:    k.Set.Signers(),
		Signatures: make([]types.Signature, len(k.Set.Members)),
	}
	for _, i := range indices {
		sig, err := k.Signers[i].Sign(digest)
		require.NoError(t, err)
		bundle.Signatures[i] = sig
	}
	return bundle
}

// All returns every member index.
func (k *KeyedSet) All() []int {
	out := make([]int, len(k.Set.Members))
	for i := range out {
		out[i] = i
	}
	return out
}
