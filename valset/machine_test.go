package valset_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/internal/testutil"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/storage/memory"
	"github.com/geanlabs/gravity/storage/pebble"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

func newMachine(t *testing.T, store storage.Store, genesis *testutil.KeyedSet) *valset.Machine {
	t.Helper()
	m, err := valset.New(store, valset.Config{BridgeID: testutil.BridgeID})
	require.NoError(t, err)
	require.NoError(t, m.Init(genesis.Set))
	return m
}

// update signs next's checkpoint with the given members of signer.
func update(t *testing.T, m *valset.Machine, next, signer *testutil.KeyedSet, indices ...int) error {
	t.Helper()
	digest := checkpoint.Valset(testutil.BridgeID, next.Set)
	_, err := m.Update(next.Set, signer.Set, signer.Bundle(t, digest, indices...))
	return err
}

func TestInit(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	store := memory.New()
	m := newMachine(t, store, genesis)

	cur, digest, err := m.Current()
	require.NoError(t, err)
	require.Equal(t, genesis.Set, cur)
	require.Equal(t, checkpoint.Valset(testutil.BridgeID, genesis.Set), digest)

	// same genesis on restart is fine
	require.NoError(t, m.Init(genesis.Set))

	other := testutil.NewKeyedSet(t, 0, 1)
	require.ErrorIs(t, m.Init(other.Set), valset.ErrGenesisMismatch)
}

func TestUninitialized(t *testing.T) {
	m, err := valset.New(memory.New(), valset.Config{BridgeID: testutil.BridgeID})
	require.NoError(t, err)

	_, _, err = m.Current()
	require.ErrorIs(t, err, valset.ErrNotInitialized)

	keyed := testutil.NewKeyedSet(t, 0, 1)
	require.ErrorIs(t, update(t, m, keyed.WithNonce(t, 1), keyed, 0), valset.ErrNotInitialized)
}

func TestUpdateReplayAfterNewerUpdate(t *testing.T) {
	set0 := testutil.NewKeyedSet(t, 0, 1, 1, 1)
	set1 := testutil.NewKeyedSet(t, 1, 2, 3)
	set2 := testutil.NewKeyedSet(t, 2, 7)
	m := newMachine(t, memory.New(), set0)

	// exactly two thirds of set0
	require.NoError(t, update(t, m, set1, set0, 0, 1))
	cur, _, err := m.Current()
	require.NoError(t, err)
	require.Equal(t, uint64(1), cur.Nonce)

	require.NoError(t, update(t, m, set2, set1, 0, 1))

	// the signed 0 -> 1 update is still valid cryptographically
	err = update(t, m, set1, set0, 0, 1, 2)
	require.ErrorIs(t, err, types.ErrStaleOrForgedCurrentSet)

	cur, _, err = m.Current()
	require.NoError(t, err)
	require.Equal(t, set2.Set, cur)

	old, err := m.ByNonce(1)
	require.NoError(t, err)
	require.Equal(t, set1.Set, old)
	_, err = m.ByNonce(9)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateForgedSetCannotSelfCertify(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	m := newMachine(t, memory.New(), genesis)

	forged := testutil.NewKeyedSet(t, 0, 100)
	next := testutil.NewKeyedSet(t, 1, 1)
	err := update(t, m, next, forged, 0)
	require.ErrorIs(t, err, types.ErrStaleOrForgedCurrentSet)

	// a set signing itself as its own successor is forged too
	self := forged.WithNonce(t, 1)
	err = update(t, m, self, forged, 0)
	require.ErrorIs(t, err, types.ErrStaleOrForgedCurrentSet)
}

func TestUpdateRejections(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 3, 5, 8, 12)
	m := newMachine(t, memory.New(), genesis)
	before, _, err := m.Current()
	require.NoError(t, err)

	tests := []struct {
		name    string
		next    *testutil.KeyedSet
		signers []int
		wantErr error
	}{
		{"same_nonce", genesis.WithNonce(t, 3), []int{1, 2}, types.ErrNonceNotIncreasing},
		{"lower_nonce", testutil.NewKeyedSet(t, 2, 1), []int{1, 2}, types.ErrNonceNotIncreasing},
		{"only_five", testutil.NewKeyedSet(t, 4, 1), []int{0}, types.ErrInsufficientPower},
		{"five_plus_eight", testutil.NewKeyedSet(t, 4, 1), []int{0, 1}, types.ErrInsufficientPower},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, update(t, m, tt.next, genesis, tt.signers...), tt.wantErr)
			cur, _, err := m.Current()
			require.NoError(t, err)
			require.Equal(t, before, cur)
		})
	}
}

func TestUpdateMalformed(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	m := newMachine(t, memory.New(), genesis)

	_, err := m.Update(nil, genesis.Set, &types.SignatureBundle{})
	require.ErrorIs(t, err, types.ErrMalformedInput)

	empty := &types.ValidatorSet{Nonce: 1}
	_, err = m.Update(empty, genesis.Set, genesis.Bundle(t, types.Digest{}, 0))
	require.ErrorIs(t, err, types.ErrMalformedInput)

	next := testutil.NewKeyedSet(t, 1, 1)
	digest := checkpoint.Valset(testutil.BridgeID, next.Set)
	bundle := genesis.Bundle(t, digest, 1, 2)
	bundle.Signatures = bundle.Signatures[:1]
	_, err = m.Update(next.Set, genesis.Set, bundle)
	require.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestUpdateReturnsSignedPower(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	m := newMachine(t, memory.New(), genesis)
	next := testutil.NewKeyedSet(t, 1, 1)

	power, err := m.Update(next.Set, genesis.Set, genesis.Bundle(t, checkpoint.Valset(testutil.BridgeID, next.Set), 1, 2))
	require.NoError(t, err)
	require.Equal(t, types.Power(20), power)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	genesis := testutil.NewKeyedSet(t, 0, 1, 1, 1)
	next := testutil.NewKeyedSet(t, 1, 4)

	store, err := pebble.Open(dir)
	require.NoError(t, err)
	m := newMachine(t, store, genesis)
	require.NoError(t, update(t, m, next, genesis, genesis.All()...))
	require.NoError(t, store.Close())

	store, err = pebble.Open(dir)
	require.NoError(t, err)
	defer store.Close()
	m, err = valset.New(store, valset.Config{BridgeID: testutil.BridgeID})
	require.NoError(t, err)

	cur, _, err := m.Current()
	require.NoError(t, err)
	require.Equal(t, next.Set, cur)
}

// failingCommit runs every update against a memory store and then fails it.
type failingCommit struct {
	*memory.Store
}

func (f failingCommit) Update(fn func(w storage.Writer) error) error {
	return f.Store.Update(func(w storage.Writer) error {
		if err := fn(w); err != nil {
			return err
		}
		return errors.New("disk full")
	})
}

func TestInitLogsOnlyCommittedGenesis(t *testing.T) {
	genesis := testutil.NewKeyedSet(t, 0, 5, 8, 12)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	broken, err := valset.New(failingCommit{memory.New()}, valset.Config{BridgeID: testutil.BridgeID, Logger: logger})
	require.NoError(t, err)
	require.Error(t, broken.Init(genesis.Set))
	require.NotContains(t, buf.String(), "validator set initialized")

	m, err := valset.New(memory.New(), valset.Config{BridgeID: testutil.BridgeID, Logger: logger})
	require.NoError(t, err)
	require.NoError(t, m.Init(genesis.Set))
	require.NoError(t, m.Init(genesis.Set))
	require.Equal(t, 1, strings.Count(buf.String(), "validator set initialized"))
}
