// Package valset owns the confirmed validator set of the bridge.
//
// The only transition is a whole-set replacement authorized by a
// supermajority of the set it replaces.
package valset

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/ledger"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
)

var (
	ErrNotInitialized  = errors.New("validator set not initialized")     // Init has not stored a genesis set
	ErrGenesisMismatch = errors.New("stored set does not match genesis") // Init called with a different genesis
)

const currentKey = "current"

// record is the persisted current set together with its checkpoint.
type record struct {
	Set        types.ValidatorSet `msgpack:"set"`
	Checkpoint types.Digest       `msgpack:"checkpoint"`
}

// Config configures a Machine.
type Config struct {
	BridgeID  types.BridgeID
	Verifier  *sigverify.Verifier
	Threshold sigverify.Threshold // zero means two thirds
	Logger    *slog.Logger
}

// Machine stores the current validator set and its checkpoint.
type Machine struct {
	store     storage.Store
	bridgeID  types.BridgeID
	verifier  *sigverify.Verifier
	threshold sigverify.Threshold
	logger    *slog.Logger

	current *ledger.Keyed[string, record]
	history *ledger.Keyed[uint64, types.ValidatorSet]
}

// New creates a Machine over store.
func New(store storage.Store, cfg Config) (*Machine, error) {
	if cfg.Verifier == nil {
		cfg.Verifier = sigverify.NewVerifier(sigverify.ECDSARecoverer{})
	}
	if cfg.Threshold == (sigverify.Threshold{}) {
		cfg.Threshold = sigverify.TwoThirds
	}
	if err := cfg.Threshold.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		store:     store,
		bridgeID:  cfg.BridgeID,
		verifier:  cfg.Verifier,
		threshold: cfg.Threshold,
		logger:    logging.OrDefault(cfg.Logger),
		current:   ledger.NewKeyed[string, record]("valset", ledger.StringKey),
		history:   ledger.NewKeyed[uint64, types.ValidatorSet]("valset_history", ledger.Uint64Key[uint64]),
	}, nil
}

// BridgeID returns the bridge instance the machine checkpoints for.
func (m *Machine) BridgeID() types.BridgeID { return m.bridgeID }

// Threshold returns the fraction of power an update must carry.
func (m *Machine) Threshold() sigverify.Threshold { return m.threshold }

// Verifier returns the signature verifier.
func (m *Machine) Verifier() *sigverify.Verifier { return m.verifier }

// Init stores genesis as the current set if no set is stored yet. Restarting
// with the same genesis is a no-op.
func (m *Machine) Init(genesis *types.ValidatorSet) error {
	if err := genesis.Validate(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	digest := checkpoint.Valset(m.bridgeID, genesis)

	stored := false
	err := m.store.Update(func(w storage.Writer) error {
		rec, found, err := m.current.Get(w, currentKey)
		if err != nil {
			return err
		}
		if found {
			if rec.Checkpoint != digest {
				return fmt.Errorf("%w: stored nonce %d checkpoint %s", ErrGenesisMismatch, rec.Set.Nonce, rec.Checkpoint.Short())
			}
			return nil
		}
		stored = true
		return m.put(w, genesis, digest)
	})
	if err != nil {
		return err
	}
	if stored {
		m.logger.Info("validator set initialized", "nonce", genesis.Nonce, "members", len(genesis.Members), "checkpoint", logging.Digest(digest))
	}
	return nil
}

// Current returns a copy of the confirmed set and its checkpoint.
func (m *Machine) Current() (*types.ValidatorSet, types.Digest, error) {
	rec, err := m.load(m.store)
	if err != nil {
		return nil, types.Digest{}, err
	}
	return rec.Set.Copy(), rec.Checkpoint, nil
}

// CurrentIn is Current read through r, for callers already inside an Update.
func (m *Machine) CurrentIn(r storage.Reader) (*types.ValidatorSet, types.Digest, error) {
	rec, err := m.load(r)
	if err != nil {
		return nil, types.Digest{}, err
	}
	return &rec.Set, rec.Checkpoint, nil
}

// ByNonce returns a previously confirmed set.
func (m *Machine) ByNonce(nonce uint64) (*types.ValidatorSet, error) {
	set, found, err := m.history.Get(m.store, nonce)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: validator set nonce %d", types.ErrNotFound, nonce)
	}
	return &set, nil
}

// Authorize checks that claim hashes to the stored checkpoint. Operations
// signed by a claimed current set call it inside their own Update so the
// check commits with their effects.
func (m *Machine) Authorize(r storage.Reader, claim *types.ValidatorSet) error {
	if claim == nil {
		return fmt.Errorf("%w: missing current set claim", types.ErrMalformedInput)
	}
	rec, err := m.load(r)
	if err != nil {
		return err
	}
	if got := checkpoint.Valset(m.bridgeID, claim); got != rec.Checkpoint {
		return fmt.Errorf("%w: claimed nonce %d checkpoint %s, stored nonce %d checkpoint %s",
			types.ErrStaleOrForgedCurrentSet, claim.Nonce, got.Short(), rec.Set.Nonce, rec.Checkpoint.Short())
	}
	return nil
}

// Update replaces the current set with next. oldClaim must be the stored set
// and bundle must carry a supermajority of oldClaim's power over next's
// checkpoint.
func (m *Machine) Update(next, oldClaim *types.ValidatorSet, bundle *types.SignatureBundle) (types.Power, error) {
	power, err := m.update(next, oldClaim, bundle)
	attrs := []any{"signed_power", power}
	if next != nil {
		attrs = append(attrs, "nonce", next.Nonce)
	}
	logging.Outcome(m.logger, "valset update", err, attrs...)
	return power, err
}

func (m *Machine) update(next, oldClaim *types.ValidatorSet, bundle *types.SignatureBundle) (types.Power, error) {
	if next == nil || oldClaim == nil || bundle == nil {
		return 0, fmt.Errorf("%w: missing set or signatures", types.ErrMalformedInput)
	}
	if err := next.Validate(); err != nil {
		return 0, fmt.Errorf("new set: %w", err)
	}
	digest := checkpoint.Valset(m.bridgeID, next)

	var power types.Power
	err := m.store.Update(func(w storage.Writer) error {
		if err := m.Authorize(w, oldClaim); err != nil {
			return err
		}
		if next.Nonce <= oldClaim.Nonce {
			return fmt.Errorf("%w: new nonce %d, current nonce %d", types.ErrNonceNotIncreasing, next.Nonce, oldClaim.Nonce)
		}
		var err error
		power, err = m.verifier.Verify(digest, oldClaim, bundle, m.threshold)
		if err != nil {
			return err
		}
		return m.put(w, next, digest)
	})
	return power, err
}

func (m *Machine) put(w storage.Writer, set *types.ValidatorSet, digest types.Digest) error {
	if err := m.current.Put(w, currentKey, record{Set: *set, Checkpoint: digest}); err != nil {
		return err
	}
	return m.history.Put(w, set.Nonce, *set)
}

func (m *Machine) load(r storage.Reader) (record, error) {
	rec, found, err := m.current.Get(r, currentKey)
	if err != nil {
		return record{}, err
	}
	if !found {
		return record{}, ErrNotInitialized
	}
	return rec, nil
}
