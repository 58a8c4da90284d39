package bridge_test

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/internal/testutil"
	"github.com/geanlabs/gravity/types"
)

func (e *env) confirm(t *testing.T, digest types.Digest, i int) error {
	t.Helper()
	sig, err := e.keyed.Signers[i].Sign(digest)
	require.NoError(t, err)
	return e.pool.Confirm(bridge.Confirm{Checkpoint: digest, Signer: e.keyed.Set.Members[i].Signer, Signature: sig})
}

func TestConfirmPoolAssemblesBundle(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.bridge.Deposit(token, uint256.NewInt(100)))

	batch := newBatch(1, types.Transfer{Destination: alice, Amount: u(10), Fee: u(1)})
	digest, err := e.pool.AddBatch(batch)
	require.NoError(t, err)

	signer0 := e.keyed.Set.Members[0].Signer
	pending, err := e.pool.Unconfirmed(signer0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, digest, pending[0].Checkpoint)
	require.Equal(t, bridge.KindBatch, pending[0].Kind)

	require.NoError(t, e.confirm(t, digest, 1))
	require.NoError(t, e.confirm(t, digest, 2))
	require.ErrorIs(t, e.confirm(t, digest, 2), types.ErrDuplicateVote)

	pending, err = e.pool.Unconfirmed(e.keyed.Set.Members[1].Signer)
	require.NoError(t, err)
	require.Empty(t, pending)

	bundle, err := e.pool.Bundle(digest, e.keyed.Set)
	require.NoError(t, err)
	require.Empty(t, bundle.Signatures[0])
	require.NotEmpty(t, bundle.Signatures[1])

	power, err := e.bridge.SubmitBatch(batch, e.keyed.Set, bundle, relayer)
	require.NoError(t, err)
	require.Equal(t, types.Power(20), power)

	// executed operations leave the pool
	_, err = e.pool.Pending(digest)
	require.ErrorIs(t, err, types.ErrNotFound)
	bundle, err = e.pool.Bundle(digest, e.keyed.Set)
	require.NoError(t, err)
	require.Empty(t, bundle.Signatures[1])
}

func TestConfirmPoolRejections(t *testing.T) {
	e := newEnv(t, nil)
	digest, err := e.pool.AddLogicCall(newCall("pool-a", 1))
	require.NoError(t, err)

	outsider := testutil.NewKeyedSet(t, 0, 1)
	sig, err := outsider.Signers[0].Sign(digest)
	require.NoError(t, err)
	err = e.pool.Confirm(bridge.Confirm{Checkpoint: digest, Signer: outsider.Set.Members[0].Signer, Signature: sig})
	require.ErrorIs(t, err, types.ErrUnknownVoter)

	// member address with someone else's signature
	err = e.pool.Confirm(bridge.Confirm{Checkpoint: digest, Signer: e.keyed.Set.Members[0].Signer, Signature: sig})
	require.ErrorIs(t, err, types.ErrSignatureMismatch)

	err = e.confirm(t, types.Digest{0x01}, 0)
	require.True(t, bridge.IsUnknownOperation(err))

	_, err = e.pool.AddBatch(&types.OutgoingBatch{BatchNonce: 1})
	require.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestConfirmPoolPrunesSuperseded(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.bridge.Deposit(token, uint256.NewInt(100)))
	require.NoError(t, e.bridge.Deposit(token2, uint256.NewInt(100)))

	older, err := e.pool.AddBatch(newBatch(1, types.Transfer{Destination: alice, Amount: u(1)}))
	require.NoError(t, err)
	otherToken := &types.OutgoingBatch{BatchNonce: 1, Token: token2, Timeout: 1000, Transactions: []types.Transfer{{Destination: bob, Amount: u(1)}}}
	kept, err := e.pool.AddBatch(otherToken)
	require.NoError(t, err)
	call, err := e.pool.AddLogicCall(newCall("pool-a", 1))
	require.NoError(t, err)

	require.NoError(t, e.submitBatch(t, newBatch(2, types.Transfer{Destination: alice, Amount: u(2)}), 1, 2))

	_, err = e.pool.Pending(older)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = e.pool.Pending(kept)
	require.NoError(t, err)
	_, err = e.pool.Pending(call)
	require.NoError(t, err)

	require.NoError(t, e.submitCall(t, newCall("pool-a", 2), 1, 2))
	_, err = e.pool.Pending(call)
	require.ErrorIs(t, err, types.ErrNotFound)
}
