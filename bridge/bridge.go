// Package bridge executes signed outgoing batches and logic calls.
//
// Each submission is checked against the confirmed validator set, its
// stream's nonce, its timeout and its signatures, then executed against
// escrow. All of it commits in one storage update or not at all.
package bridge

import (
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/clock"
	"github.com/geanlabs/gravity/ledger"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

// Config configures a Bridge.
type Config struct {
	Clock    clock.Source
	Executor LogicExecutor // nil means NoopExecutor
	Pool     *ConfirmPool  // optional; executed operations are pruned from it
	Logger   *slog.Logger
}

// Bridge is the outgoing side of the bridge: it releases escrowed tokens for
// batches and logic calls signed by the current validator set.
type Bridge struct {
	store    storage.Store
	valset   *valset.Machine
	clock    clock.Source
	executor LogicExecutor
	pool     *ConfirmPool
	logger   *slog.Logger

	escrow     *Escrow
	batches    *ledger.Monotonic[types.Address]
	logicCalls *ledger.Monotonic[[]byte]
}

// New creates a Bridge.
func New(store storage.Store, machine *valset.Machine, cfg Config) (*Bridge, error) {
	if machine == nil {
		return nil, fmt.Errorf("bridge: validator set machine is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("bridge: chain clock is required")
	}
	if cfg.Executor == nil {
		cfg.Executor = NoopExecutor{}
	}
	return &Bridge{
		store:      store,
		valset:     machine,
		clock:      cfg.Clock,
		executor:   cfg.Executor,
		pool:       cfg.Pool,
		logger:     logging.OrDefault(cfg.Logger),
		escrow:     NewEscrow(),
		batches:    ledger.NewMonotonic[types.Address]("batch_nonce", ledger.AddressKey),
		logicCalls: ledger.NewMonotonic[[]byte]("logic_nonce", func(scope []byte) []byte { return scope }),
	}, nil
}

// Deposit locks value of token in escrow.
func (b *Bridge) Deposit(token types.Address, value *uint256.Int) error {
	if token == (types.Address{}) || value == nil || value.IsZero() {
		return fmt.Errorf("%w: deposit needs a token and a non-zero amount", types.ErrMalformedInput)
	}
	err := b.store.Update(func(w storage.Writer) error {
		return b.escrow.Lock(w, token, value)
	})
	if err == nil {
		b.logger.Info("deposit locked", "token", token.Hex(), "amount", value.Dec())
	}
	return err
}

// Locked returns the escrowed balance of token.
func (b *Bridge) Locked(token types.Address) (*uint256.Int, error) {
	return b.escrow.Locked(b.store, token)
}

// Credited returns what account has received in token from executed batches
// and logic calls, fees included.
func (b *Bridge) Credited(token, account types.Address) (*uint256.Int, error) {
	return b.escrow.Credited(b.store, token, account)
}

// Escrow returns the escrow ledger, for executors reading balances inside
// a submission.
func (b *Bridge) Escrow() *Escrow { return b.escrow }

// LastBatchNonce returns the nonce of the last executed batch of token.
func (b *Bridge) LastBatchNonce(token types.Address) (uint64, error) {
	return b.batches.Last(b.store, token)
}

// LastLogicCallNonce returns the last executed invalidation nonce of scope.
func (b *Bridge) LastLogicCallNonce(scope []byte) (uint64, error) {
	return b.logicCalls.Last(b.store, scope)
}

// SubmitBatch executes batch if current is the confirmed set and bundle
// carries enough of its power. Amounts go to destinations and fees to
// relayer. It returns the signed power.
func (b *Bridge) SubmitBatch(batch *types.OutgoingBatch, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	power, err := b.submitBatch(batch, current, bundle, relayer)
	attrs := []any{"signed_power", power}
	if batch != nil {
		attrs = append(attrs, "token", batch.Token.Hex(), "nonce", batch.BatchNonce, "txs", len(batch.Transactions))
	}
	logging.Outcome(b.logger, "batch", err, attrs...)
	return power, err
}

func (b *Bridge) submitBatch(batch *types.OutgoingBatch, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	if err := validateBatch(batch); err != nil {
		return 0, err
	}
	if bundle == nil {
		return 0, fmt.Errorf("%w: missing signatures", types.ErrMalformedInput)
	}
	digest := checkpoint.Batch(b.valset.BridgeID(), batch)

	payouts := make([]Payout, 0, 2*len(batch.Transactions))
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		payouts = append(payouts,
			Payout{Token: batch.Token, To: tx.Destination, Amount: &tx.Amount},
			Payout{Token: batch.Token, To: relayer, Amount: &tx.Fee},
		)
	}

	var power types.Power
	err := b.store.Update(func(w storage.Writer) error {
		if err := b.valset.Authorize(w, current); err != nil {
			return err
		}
		if err := b.batches.Check(w, batch.Token, batch.BatchNonce); err != nil {
			return err
		}
		if err := b.checkTimeout(batch.Timeout); err != nil {
			return err
		}
		var err error
		power, err = b.valset.Verifier().Verify(digest, current, bundle, b.valset.Threshold())
		if err != nil {
			return err
		}
		if err := b.escrow.Release(w, payouts); err != nil {
			return err
		}
		if err := b.batches.Advance(w, batch.Token, batch.BatchNonce); err != nil {
			return err
		}
		return b.prune(w, Pending{Kind: KindBatch, Checkpoint: digest, Batch: batch})
	})
	return power, err
}

// SubmitLogicCall executes call under the same rules as SubmitBatch, with
// the nonce kept per invalidation scope. Transfers go to the call target and
// fees to relayer; the executor runs last and its failure rejects the call.
func (b *Bridge) SubmitLogicCall(call *types.LogicCall, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	power, err := b.submitLogicCall(call, current, bundle, relayer)
	attrs := []any{"signed_power", power}
	if call != nil {
		attrs = append(attrs, "scope", call.ScopeKey(), "nonce", call.InvalidationNonce)
	}
	logging.Outcome(b.logger, "logic call", err, attrs...)
	return power, err
}

func (b *Bridge) submitLogicCall(call *types.LogicCall, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	if err := validateLogicCall(call); err != nil {
		return 0, err
	}
	if bundle == nil {
		return 0, fmt.Errorf("%w: missing signatures", types.ErrMalformedInput)
	}
	digest := checkpoint.LogicCall(b.valset.BridgeID(), call)

	payouts := make([]Payout, 0, len(call.Transfers)+len(call.Fees))
	for i := range call.Transfers {
		t := &call.Transfers[i]
		payouts = append(payouts, Payout{Token: t.Token, To: call.Target, Amount: &t.Amount})
	}
	for i := range call.Fees {
		f := &call.Fees[i]
		payouts = append(payouts, Payout{Token: f.Token, To: relayer, Amount: &f.Amount})
	}

	var power types.Power
	err := b.store.Update(func(w storage.Writer) error {
		if err := b.valset.Authorize(w, current); err != nil {
			return err
		}
		if err := b.logicCalls.Check(w, call.InvalidationScope, call.InvalidationNonce); err != nil {
			return err
		}
		if err := b.checkTimeout(call.Timeout); err != nil {
			return err
		}
		var err error
		power, err = b.valset.Verifier().Verify(digest, current, bundle, b.valset.Threshold())
		if err != nil {
			return err
		}
		if err := b.escrow.Release(w, payouts); err != nil {
			return err
		}
		if err := b.logicCalls.Advance(w, call.InvalidationScope, call.InvalidationNonce); err != nil {
			return err
		}
		if err := b.prune(w, Pending{Kind: KindLogicCall, Checkpoint: digest, LogicCall: call}); err != nil {
			return err
		}
		if err := b.executor.Execute(w, call); err != nil {
			return fmt.Errorf("%w: %v", types.ErrExecutionFailed, err)
		}
		return nil
	})
	return power, err
}

// checkTimeout rejects operations whose timeout height has been reached.
func (b *Bridge) checkTimeout(timeout uint64) error {
	if now := b.clock.Now(); now >= timeout {
		return fmt.Errorf("%w: timeout %d, chain height %d", types.ErrExpired, timeout, now)
	}
	return nil
}

func (b *Bridge) prune(w storage.Writer, executed Pending) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.prune(w, executed)
}

func validateBatch(batch *types.OutgoingBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: missing batch", types.ErrMalformedInput)
	}
	if batch.Token == (types.Address{}) {
		return fmt.Errorf("%w: batch has no token", types.ErrMalformedInput)
	}
	for i, tx := range batch.Transactions {
		if tx.Destination == (types.Address{}) {
			return fmt.Errorf("%w: batch tx %d has no destination", types.ErrMalformedInput, i)
		}
	}
	_, _, err := batch.Totals()
	return err
}

func validateLogicCall(call *types.LogicCall) error {
	if call == nil {
		return fmt.Errorf("%w: missing logic call", types.ErrMalformedInput)
	}
	if len(call.InvalidationScope) == 0 {
		return fmt.Errorf("%w: logic call has no invalidation scope", types.ErrMalformedInput)
	}
	if call.Target == (types.Address{}) {
		return fmt.Errorf("%w: logic call has no target", types.ErrMalformedInput)
	}
	for i, t := range call.Transfers {
		if t.Token == (types.Address{}) {
			return fmt.Errorf("%w: logic call transfer %d has no token", types.ErrMalformedInput, i)
		}
	}
	for i, f := range call.Fees {
		if f.Token == (types.Address{}) {
			return fmt.Errorf("%w: logic call fee %d has no token", types.ErrMalformedInput, i)
		}
	}
	return nil
}
