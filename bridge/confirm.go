package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/ledger"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

// Kind of operation awaiting confirmations.
type Kind string

const (
	KindBatch     Kind = "batch"
	KindLogicCall Kind = "logic_call"
)

// Pending is an operation relayers may collect signatures for.
type Pending struct {
	Kind       Kind                 `json:"kind" msgpack:"kind"`
	Checkpoint types.Digest         `json:"checkpoint" msgpack:"checkpoint"`
	Batch      *types.OutgoingBatch `json:"batch,omitempty" msgpack:"batch"`
	LogicCall  *types.LogicCall     `json:"logic_call,omitempty" msgpack:"logic_call"`
}

// Confirm is one validator's signature over a pending operation's checkpoint.
type Confirm struct {
	Checkpoint types.Digest    `json:"checkpoint" msgpack:"checkpoint"`
	Signer     types.Address   `json:"signer" msgpack:"signer"`
	Signature  types.Signature `json:"signature" msgpack:"signature"`
}

type confirmKey struct {
	Checkpoint types.Digest
	Signer     types.Address
}

func confirmKeyBytes(k confirmKey) []byte {
	return append(append([]byte{}, k.Checkpoint[:]...), k.Signer.Bytes()...)
}

// ConfirmPool collects validator confirmations for pending batches and logic
// calls and assembles them into signature bundles.
type ConfirmPool struct {
	store  storage.Store
	valset *valset.Machine
	logger *slog.Logger

	pending  *ledger.Keyed[types.Digest, Pending]
	confirms *ledger.Keyed[confirmKey, Confirm]
}

// NewConfirmPool creates a pool that accepts confirmations from members of
// the set held by machine.
func NewConfirmPool(store storage.Store, machine *valset.Machine, logger *slog.Logger) *ConfirmPool {
	return &ConfirmPool{
		store:    store,
		valset:   machine,
		logger:   logging.OrDefault(logger),
		pending:  ledger.NewKeyed[types.Digest, Pending]("pending", ledger.DigestKey),
		confirms: ledger.NewKeyed[confirmKey, Confirm]("confirm", confirmKeyBytes),
	}
}

// AddBatch makes batch available for signing and returns its checkpoint.
func (p *ConfirmPool) AddBatch(batch *types.OutgoingBatch) (types.Digest, error) {
	if err := validateBatch(batch); err != nil {
		return types.Digest{}, err
	}
	digest := checkpoint.Batch(p.valset.BridgeID(), batch)
	return digest, p.add(Pending{Kind: KindBatch, Checkpoint: digest, Batch: batch})
}

// AddLogicCall makes call available for signing and returns its checkpoint.
func (p *ConfirmPool) AddLogicCall(call *types.LogicCall) (types.Digest, error) {
	if err := validateLogicCall(call); err != nil {
		return types.Digest{}, err
	}
	digest := checkpoint.LogicCall(p.valset.BridgeID(), call)
	return digest, p.add(Pending{Kind: KindLogicCall, Checkpoint: digest, LogicCall: call})
}

func (p *ConfirmPool) add(op Pending) error {
	return p.store.Update(func(w storage.Writer) error {
		return p.pending.Put(w, op.Checkpoint, op)
	})
}

// Pending returns the operation with the given checkpoint.
func (p *ConfirmPool) Pending(digest types.Digest) (*Pending, error) {
	op, found, err := p.pending.Get(p.store, digest)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: pending operation %s", types.ErrNotFound, digest.Short())
	}
	return &op, nil
}

// Confirm records c. The signer must be a member of the current set and the
// signature must recover to it over the pending operation's checkpoint.
func (p *ConfirmPool) Confirm(c Confirm) error {
	err := p.store.Update(func(w storage.Writer) error {
		if _, found, err := p.pending.Get(w, c.Checkpoint); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("%w: pending operation %s", types.ErrNotFound, c.Checkpoint.Short())
		}
		set, _, err := p.valset.CurrentIn(w)
		if err != nil {
			return err
		}
		if set.IndexOf(c.Signer) < 0 {
			return fmt.Errorf("%w: %s", types.ErrUnknownVoter, c.Signer.Hex())
		}
		key := confirmKey{Checkpoint: c.Checkpoint, Signer: c.Signer}
		if _, found, err := p.confirms.Get(w, key); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %s already confirmed %s", types.ErrDuplicateVote, c.Signer.Hex(), c.Checkpoint.Short())
		}
		if err := p.valset.Verifier().VerifyOne(c.Checkpoint, c.Signer, c.Signature); err != nil {
			return err
		}
		return p.confirms.Put(w, key, c)
	})
	logging.Outcome(p.logger, "confirm", err, "checkpoint", logging.Digest(c.Checkpoint), "signer", c.Signer.Hex())
	return err
}

// Unconfirmed returns the pending operations signer has not confirmed yet.
func (p *ConfirmPool) Unconfirmed(signer types.Address) ([]Pending, error) {
	var out []Pending
	err := p.pending.Each(p.store, func(op Pending) error {
		_, found, err := p.confirms.Get(p.store, confirmKey{Checkpoint: op.Checkpoint, Signer: signer})
		if err != nil {
			return err
		}
		if !found {
			out = append(out, op)
		}
		return nil
	})
	return out, err
}

// Bundle assembles the confirmations for digest into a bundle aligned with
// set. Members without a confirmation abstain.
func (p *ConfirmPool) Bundle(digest types.Digest, set *types.ValidatorSet) (*types.SignatureBundle, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: missing validator set", types.ErrMalformedInput)
	}
	bundle := &types.SignatureBundle{
		Signers:    set.Signers(),
		Signatures: make([]types.Signature, len(set.Members)),
	}
	for i, m := range set.Members {
		c, found, err := p.confirms.Get(p.store, confirmKey{Checkpoint: digest, Signer: m.Signer})
		if err != nil {
			return nil, err
		}
		if found {
			bundle.Signatures[i] = c.Signature
		}
	}
	return bundle, nil
}

// prune drops executed operations along with every pending operation that
// can no longer execute: batches of the same token, or logic calls of the
// same scope, at or below the executed nonce.
func (p *ConfirmPool) prune(w storage.Writer, executed Pending) error {
	var drop []types.Digest
	err := p.pending.Each(w, func(op Pending) error {
		if op.Checkpoint == executed.Checkpoint || superseded(op, executed) {
			drop = append(drop, op.Checkpoint)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, digest := range drop {
		if err := p.pending.Delete(w, digest); err != nil {
			return err
		}
		prefix := storage.Key(p.confirms.Namespace(), digest[:])
		var keys [][]byte
		err := w.Iterate(prefix, func(k, _ []byte) error {
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := w.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

func superseded(op, executed Pending) bool {
	switch {
	case op.Kind == KindBatch && executed.Kind == KindBatch:
		return op.Batch.Token == executed.Batch.Token && op.Batch.BatchNonce <= executed.Batch.BatchNonce
	case op.Kind == KindLogicCall && executed.Kind == KindLogicCall:
		return bytes.Equal(op.LogicCall.InvalidationScope, executed.LogicCall.InvalidationScope) &&
			op.LogicCall.InvalidationNonce <= executed.LogicCall.InvalidationNonce
	}
	return false
}

// IsUnknownOperation reports whether err means the confirmed operation is not
// pending.
func IsUnknownOperation(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
