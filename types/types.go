package types

import (
	"fmt"
	"math"
)

// Validator is a signer and its voting power.
type Validator struct {
	Signer Address `json:"signer" msgpack:"signer"`
	Power  Power   `json:"power" msgpack:"power"`
}

// ValidatorSet is an immutable snapshot of the bridge's signers. An accepted
// update replaces the whole set; members are never edited in place.
type ValidatorSet struct {
	Nonce      uint64      `json:"nonce" msgpack:"nonce"`
	Members    []Validator `json:"members" msgpack:"members"`
	TotalPower Power       `json:"total_power" msgpack:"total_power"`
}

// NewValidatorSet builds a set and caches its total power.
func NewValidatorSet(nonce uint64, members []Validator) (*ValidatorSet, error) {
	total, err := sumPower(members)
	if err != nil {
		return nil, err
	}
	cp := make([]Validator, len(members))
	copy(cp, members)
	set := &ValidatorSet{Nonce: nonce, Members: cp, TotalPower: total}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func sumPower(members []Validator) (Power, error) {
	var total uint64
	for i, m := range members {
		if uint64(m.Power) > math.MaxUint64-total {
			return 0, fmt.Errorf("%w: total power overflows at member %d", ErrMalformedInput, i)
		}
		total += uint64(m.Power)
	}
	return Power(total), nil
}

// Validate checks the structural invariants of the set: at least one member,
// no zero or duplicate signer, no zero power, and a cached total that equals
// the sum of member powers.
func (s *ValidatorSet) Validate() error {
	if s == nil || len(s.Members) == 0 {
		return fmt.Errorf("%w: empty validator set", ErrMalformedInput)
	}
	seen := make(map[Address]struct{}, len(s.Members))
	for i, m := range s.Members {
		if m.Signer == (Address{}) {
			return fmt.Errorf("%w: member %d has zero signer", ErrMalformedInput, i)
		}
		if m.Power == 0 {
			return fmt.Errorf("%w: member %d has zero power", ErrMalformedInput, i)
		}
		if _, dup := seen[m.Signer]; dup {
			return fmt.Errorf("%w: duplicate signer %s", ErrMalformedInput, m.Signer.Hex())
		}
		seen[m.Signer] = struct{}{}
	}
	total, err := sumPower(s.Members)
	if err != nil {
		return err
	}
	if total != s.TotalPower {
		return fmt.Errorf("%w: total power %d != sum of powers %d", ErrMalformedInput, s.TotalPower, total)
	}
	return nil
}

// Signers returns member addresses in set order.
func (s *ValidatorSet) Signers() []Address {
	out := make([]Address, len(s.Members))
	for i, m := range s.Members {
		out[i] = m.Signer
	}
	return out
}

// Powers returns member powers in set order.
func (s *ValidatorSet) Powers() []Power {
	out := make([]Power, len(s.Members))
	for i, m := range s.Members {
		out[i] = m.Power
	}
	return out
}

// IndexOf returns the position of signer in the set, or -1.
func (s *ValidatorSet) IndexOf(signer Address) int {
	for i, m := range s.Members {
		if m.Signer == signer {
			return i
		}
	}
	return -1
}

// PowerOf returns the power of signer, or 0 if it is not a member.
func (s *ValidatorSet) PowerOf(signer Address) Power {
	if i := s.IndexOf(signer); i >= 0 {
		return s.Members[i].Power
	}
	return 0
}

// Copy creates a deep copy of the set.
func (s *ValidatorSet) Copy() *ValidatorSet {
	cp := *s
	cp.Members = append([]Validator{}, s.Members...)
	return &cp
}
