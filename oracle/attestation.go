// Package oracle accumulates validator votes on foreign-chain events and
// processes each claim exactly once when its voters carry enough power.
package oracle

import (
	"fmt"
	"log/slog"

	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/ledger"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

// Handler applies an accepted claim. It runs inside the update that marks the
// claim processed, so its writes commit with it.
type Handler func(w storage.Writer, id types.ClaimID, digest types.Digest) error

// Config configures a Ledger.
type Config struct {
	Threshold sigverify.Threshold // zero means two thirds
	Handler   Handler
	Logger    *slog.Logger
}

// Ledger is the attestation ledger.
type Ledger struct {
	store     storage.Store
	valset    *valset.Machine
	threshold sigverify.Threshold
	handler   Handler
	logger    *slog.Logger

	claims *ledger.Keyed[types.ClaimID, types.Claim]
}

// New creates a Ledger whose voters and powers come from machine's current
// set.
func New(store storage.Store, machine *valset.Machine, cfg Config) (*Ledger, error) {
	if cfg.Threshold == (sigverify.Threshold{}) {
		cfg.Threshold = sigverify.TwoThirds
	}
	if err := cfg.Threshold.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		store:     store,
		valset:    machine,
		threshold: cfg.Threshold,
		handler:   cfg.Handler,
		logger:    logging.OrDefault(cfg.Logger),
		claims:    ledger.NewKeyed[types.ClaimID, types.Claim]("claim", ledger.Uint64Key[types.ClaimID]),
	}, nil
}

// Threshold returns the fraction of power a claim needs.
func (l *Ledger) Threshold() sigverify.Threshold { return l.threshold }

// Vote records v. The signature must cover checkpoint.OracleVote of the claim
// and event digest. It reports whether the voted digest now carries enough
// power to be processed; the vote itself never processes the claim.
func (l *Ledger) Vote(v types.Vote) (reached bool, err error) {
	err = l.store.Update(func(w storage.Writer) error {
		claim, _, err := l.claims.Get(w, v.ClaimID)
		if err != nil {
			return err
		}
		claim.ID = v.ClaimID
		if claim.Processed {
			return fmt.Errorf("%w: claim %d", types.ErrAlreadyProcessed, v.ClaimID)
		}
		if claim.HasVoted(v.Voter) {
			return fmt.Errorf("%w: %s on claim %d", types.ErrDuplicateVote, v.Voter.Hex(), v.ClaimID)
		}
		set, _, err := l.valset.CurrentIn(w)
		if err != nil {
			return err
		}
		if set.IndexOf(v.Voter) < 0 {
			return fmt.Errorf("%w: %s", types.ErrUnknownVoter, v.Voter.Hex())
		}
		signed := checkpoint.OracleVote(l.valset.BridgeID(), v.ClaimID, v.EventDigest)
		if err := l.valset.Verifier().VerifyOne(signed, v.Voter, v.Signature); err != nil {
			return err
		}
		claim.AddVote(v.EventDigest, v.Voter)

		for _, t := range tally(&claim, set) {
			if t.EventDigest == v.EventDigest {
				reached = l.threshold.Reached(t.Power, set.TotalPower)
			}
		}
		return l.claims.Put(w, v.ClaimID, claim)
	})
	if err != nil {
		logging.Outcome(l.logger, "oracle vote", err, "claim", v.ClaimID, "voter", v.Voter.Hex())
		return false, err
	}
	l.logger.Debug("oracle vote recorded", "claim", v.ClaimID, "voter", v.Voter.Hex(), "digest", logging.Digest(v.EventDigest), "reached", reached)
	return reached, nil
}

// Process marks claim id processed if one of its event digests is backed by
// enough power of the current set, and returns that digest. The first caller
// to succeed wins; every later call gets ErrAlreadyProcessed.
func (l *Ledger) Process(id types.ClaimID) (types.Digest, error) {
	var accepted types.Digest
	err := l.store.Update(func(w storage.Writer) error {
		claim, found, err := l.claims.Get(w, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: claim %d", types.ErrUnknownClaim, id)
		}
		if claim.Processed {
			return fmt.Errorf("%w: claim %d", types.ErrAlreadyProcessed, id)
		}
		set, _, err := l.valset.CurrentIn(w)
		if err != nil {
			return err
		}

		best := -1
		tallies := tally(&claim, set)
		for i, t := range tallies {
			if best < 0 || t.Power > tallies[best].Power {
				best = i
			}
		}
		if best < 0 || !l.threshold.Reached(tallies[best].Power, set.TotalPower) {
			var power types.Power
			if best >= 0 {
				power = tallies[best].Power
			}
			return fmt.Errorf("%w: claim %d has %d of %d power (threshold %s)",
				types.ErrInsufficientPower, id, power, set.TotalPower, l.threshold)
		}

		accepted = tallies[best].EventDigest
		claim.Processed = true
		claim.Accepted = accepted
		if l.handler != nil {
			if err := l.handler(w, id, accepted); err != nil {
				return fmt.Errorf("%w: claim %d: %v", types.ErrExecutionFailed, id, err)
			}
		}
		return l.claims.Put(w, id, claim)
	})
	logging.Outcome(l.logger, "oracle process", err, "claim", id, "digest", logging.Digest(accepted))
	return accepted, err
}

// ObservationPower is the power currently backing one event digest.
type ObservationPower struct {
	EventDigest types.Digest    `json:"event_digest"`
	Voters      []types.Address `json:"voters"`
	Power       types.Power     `json:"power"`
}

// Tally is a read projection of a claim against the current set.
type Tally struct {
	Claim        types.Claim        `json:"claim"`
	Observations []ObservationPower `json:"observations"`
	TotalPower   types.Power        `json:"total_power"`
	Threshold    string             `json:"threshold"`
}

// Tally returns the votes on claim id weighted by the current set.
func (l *Ledger) Tally(id types.ClaimID) (*Tally, error) {
	claim, found, err := l.claims.Get(l.store, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: claim %d", types.ErrUnknownClaim, id)
	}
	set, _, err := l.valset.Current()
	if err != nil {
		return nil, err
	}
	return &Tally{
		Claim:        claim,
		Observations: tally(&claim, set),
		TotalPower:   set.TotalPower,
		Threshold:    l.threshold.String(),
	}, nil
}

// tally weights each observation by the power its voters hold in set. Voters
// that left the set count for nothing.
func tally(claim *types.Claim, set *types.ValidatorSet) []ObservationPower {
	out := make([]ObservationPower, len(claim.Observations))
	for i, o := range claim.Observations {
		var power types.Power
		for _, v := range o.Voters {
			power += set.PowerOf(v)
		}
		out[i] = ObservationPower{EventDigest: o.EventDigest, Voters: o.Voters, Power: power}
	}
	return out
}
