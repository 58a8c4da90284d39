package node_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/clock"
	"github.com/geanlabs/gravity/config"
	"github.com/geanlabs/gravity/node"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

var (
	token   = types.Address{0xa1}
	alice   = types.Address{0xb1}
	relayer = types.Address{0xc1}
)

type fixture struct {
	keys    []*ecdsa.PrivateKey
	signers []sigverify.Signer
	cfg     *config.Config
}

// newFixture writes a genesis of three validators with powers 5, 8 and 12.
// The key of the last one is the node's validator key.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{}
	var entries []string
	for i, power := range []int{5, 8, 12} {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		f.keys = append(f.keys, key)
		f.signers = append(f.signers, sigverify.NewECDSASigner(key))
		entries = append(entries, fmt.Sprintf(`{"signer": %q, "power": %d}`, f.signers[i].Address().Hex(), power))
	}
	genesis := filepath.Join(dir, "genesis.json")
	require.NoError(t, os.WriteFile(genesis, []byte(`{"nonce": 0, "validators": [`+strings.Join(entries, ",")+`]}`), 0o644))
	keyPath := filepath.Join(dir, "validator.key")
	require.NoError(t, crypto.SaveECDSA(keyPath, f.keys[2]))

	cfg := config.Default()
	cfg.BridgeID = "0x01"
	cfg.Genesis = genesis
	cfg.ValidatorKey = keyPath
	cfg.Query = ""
	cfg.Metrics = ""
	f.cfg = cfg
	return f
}

func (f *fixture) open(t *testing.T) *node.Node {
	t.Helper()
	n, err := node.New(context.Background(), f.cfg, node.Options{Clock: clock.NewManual(10)})
	require.NoError(t, err)
	return n
}

func TestNodeBatchLifecycle(t *testing.T) {
	f := newFixture(t)
	n := f.open(t)
	defer func() { require.NoError(t, n.Stop()) }()
	ctx := context.Background()

	require.NoError(t, n.Deposit(token, uint256.NewInt(100)))

	batch := &types.OutgoingBatch{
		BatchNonce:   1,
		Token:        token,
		Timeout:      50,
		Transactions: []types.Transfer{{Destination: alice, Amount: *uint256.NewInt(60), Fee: *uint256.NewInt(2)}},
	}
	digest, err := n.ProposeBatch(batch)
	require.NoError(t, err)

	require.NotNil(t, n.Duties())
	require.Equal(t, 1, n.Duties().ConfirmPending(ctx))
	require.Equal(t, 0, n.Duties().ConfirmPending(ctx))

	sig, err := f.signers[1].Sign(digest)
	require.NoError(t, err)
	require.NoError(t, n.Confirm(ctx, bridge.Confirm{Checkpoint: digest, Signer: f.signers[1].Address(), Signature: sig}))

	current, _, err := n.Valset().Current()
	require.NoError(t, err)
	bundle, err := n.Pool().Bundle(digest, current)
	require.NoError(t, err)

	power, err := n.SubmitBatch(batch, current, bundle, relayer)
	require.NoError(t, err)
	require.Equal(t, types.Power(20), power)

	_, err = n.SubmitBatch(batch, current, bundle, relayer)
	require.ErrorIs(t, err, types.ErrNonceNotIncreasing)

	credited, err := n.Bridge().Credited(token, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(60), credited.Uint64())

	_, err = n.Pool().Pending(digest)
	require.ErrorIs(t, err, storage.ErrNotFound)

	count, err := testutil.GatherAndCount(n.Registry(), "gravity_operations_total")
	require.NoError(t, err)
	require.Equal(t, 5, count) // deposit, propose, confirm, batch ok, batch idempotence
}

func TestNodeProposeLogicCall(t *testing.T) {
	f := newFixture(t)
	n := f.open(t)
	defer func() { require.NoError(t, n.Stop()) }()
	ctx := context.Background()

	call := &types.LogicCall{
		InvalidationScope: []byte("pool-a"),
		InvalidationNonce: 1,
		Timeout:           50,
		Transfers:         []types.TokenAmount{{Token: token, Amount: *uint256.NewInt(5)}},
		Target:            alice,
	}
	digest, err := n.ProposeLogicCall(call)
	require.NoError(t, err)
	require.Equal(t, checkpoint.LogicCall(n.Valset().BridgeID(), call), digest)

	op, err := n.Pool().Pending(digest)
	require.NoError(t, err)
	require.Equal(t, bridge.KindLogicCall, op.Kind)
	require.Equal(t, 1, n.Duties().ConfirmPending(ctx))

	_, err = n.ProposeLogicCall(nil)
	require.ErrorIs(t, err, types.ErrMalformedInput)
}

func TestNodeOracleProcessesOnThreshold(t *testing.T) {
	f := newFixture(t)
	var handled []types.ClaimID
	n, err := node.New(context.Background(), f.cfg, node.Options{
		Clock: clock.NewManual(10),
		Handler: func(_ storage.Writer, id types.ClaimID, _ types.Digest) error {
			handled = append(handled, id)
			return nil
		},
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, n.Stop()) }()
	ctx := context.Background()

	event := types.Digest{0xee}
	require.NoError(t, n.Duties().Observe(ctx, 3, event))
	require.Empty(t, handled)

	signed := checkpoint.OracleVote(n.Valset().BridgeID(), 3, event)
	sig, err := f.signers[1].Sign(signed)
	require.NoError(t, err)
	require.NoError(t, n.Vote(ctx, types.Vote{ClaimID: 3, EventDigest: event, Voter: f.signers[1].Address(), Signature: sig}))
	require.Equal(t, []types.ClaimID{3}, handled)

	_, err = n.Process(3)
	require.ErrorIs(t, err, types.ErrAlreadyProcessed)

	sig, err = f.signers[0].Sign(signed)
	require.NoError(t, err)
	err = n.Vote(ctx, types.Vote{ClaimID: 3, EventDigest: event, Voter: f.signers[0].Address(), Signature: sig})
	require.ErrorIs(t, err, types.ErrAlreadyProcessed)
}

func TestNodeReopensPebbleStore(t *testing.T) {
	f := newFixture(t)
	f.cfg.Storage = config.StorageConfig{Backend: config.BackendPebble, Path: filepath.Join(t.TempDir(), "db")}

	n := f.open(t)
	require.NoError(t, n.Deposit(token, uint256.NewInt(7)))
	require.NoError(t, n.Stop())

	n = f.open(t)
	n.Start()
	defer func() { require.NoError(t, n.Stop()) }()
	locked, err := n.Bridge().Locked(token)
	require.NoError(t, err)
	require.Equal(t, uint64(7), locked.Uint64())
}

func TestNodeRejectsDifferentGenesis(t *testing.T) {
	f := newFixture(t)
	f.cfg.Storage = config.StorageConfig{Backend: config.BackendPebble, Path: filepath.Join(t.TempDir(), "db")}
	n := f.open(t)
	require.NoError(t, n.Stop())

	other := newFixture(t)
	f.cfg.Genesis = other.cfg.Genesis
	_, err := node.New(context.Background(), f.cfg, node.Options{Clock: clock.NewManual(10)})
	require.Error(t, err)
}

type offlineSigner struct{ addr types.Address }

func (s offlineSigner) Address() types.Address { return s.addr }

func (s offlineSigner) Sign(types.Digest) (types.Signature, error) {
	return nil, errors.New("key store offline")
}

func TestDutiesLogSigningFailures(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	n, err := node.New(context.Background(), f.cfg, node.Options{
		Clock:  clock.NewManual(10),
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, n.Stop()) }()

	_, err = n.ProposeBatch(&types.OutgoingBatch{BatchNonce: 1, Token: token, Timeout: 50})
	require.NoError(t, err)

	n.Duties().Signer = offlineSigner{addr: f.signers[2].Address()}
	require.Zero(t, n.Duties().ConfirmPending(context.Background()))
	require.Contains(t, buf.String(), "sign confirmation")
	require.Contains(t, buf.String(), `error="key store offline"`)
}
