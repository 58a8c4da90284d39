package sigverify

import (
	"errors"
	"fmt"

	"github.com/geanlabs/gravity/types"
)

// Verifier checks signature bundles. It holds no state beyond its recoverer;
// callers must confirm the claimed set against the stored checkpoint before
// trusting a successful result.
type Verifier struct {
	recoverer Recoverer
}

// NewVerifier creates a Verifier that recovers signers with r.
func NewVerifier(r Recoverer) *Verifier {
	return &Verifier{recoverer: r}
}

// Recoverer returns the verifier's recovery capability.
func (v *Verifier) Recoverer() Recoverer { return v.recoverer }

// Verify checks that bundle carries enough power of set, signed over digest.
//
// Signatures must be in the same order as set.Members; slot i is checked only
// against member i. Abstentions contribute no power. The accumulated signed
// power is returned alongside any threshold error so callers can audit it.
func (v *Verifier) Verify(digest types.Digest, set *types.ValidatorSet, bundle *types.SignatureBundle, threshold Threshold) (types.Power, error) {
	if set == nil || bundle == nil {
		return 0, fmt.Errorf("%w: nil validator set or bundle", types.ErrMalformedInput)
	}
	if err := set.Validate(); err != nil {
		return 0, err
	}
	n := len(set.Members)
	if len(bundle.Signatures) != n || len(bundle.Signers) != n {
		return 0, fmt.Errorf("%w: %d signatures and %d signers for %d members",
			types.ErrMalformedInput, len(bundle.Signatures), len(bundle.Signers), n)
	}

	var signed types.Power
	for i, member := range set.Members {
		if bundle.Signers[i] != member.Signer {
			return 0, fmt.Errorf("%w: signer %d is %s, set has %s",
				types.ErrMalformedInput, i, bundle.Signers[i].Hex(), member.Signer.Hex())
		}
		sig := bundle.Signatures[i]
		if v.recoverer.IsAbstain(sig) {
			continue
		}
		recovered, err := v.recoverer.Recover(digest, sig)
		if err != nil {
			if errors.Is(err, types.ErrMalformedInput) {
				return 0, fmt.Errorf("signature %d: %w", i, err)
			}
			return 0, fmt.Errorf("%w: signature %d: %v", types.ErrSignatureMismatch, i, err)
		}
		if recovered != member.Signer {
			return 0, fmt.Errorf("%w: signature %d recovers %s, want %s",
				types.ErrSignatureMismatch, i, recovered.Hex(), member.Signer.Hex())
		}
		// Validate bounds the total, so the sum cannot overflow.
		signed += member.Power
	}

	if !threshold.Reached(signed, set.TotalPower) {
		return signed, fmt.Errorf("%w: signed %d of %d, need %s",
			types.ErrInsufficientPower, signed, set.TotalPower, threshold)
	}
	return signed, nil
}

// VerifyOne checks a single signature by signer over digest, as used for
// incrementally collected votes and confirmations.
func (v *Verifier) VerifyOne(digest types.Digest, signer types.Address, sig types.Signature) error {
	if v.recoverer.IsAbstain(sig) {
		return fmt.Errorf("%w: empty signature", types.ErrMalformedInput)
	}
	recovered, err := v.recoverer.Recover(digest, sig)
	if err != nil {
		return err
	}
	if recovered != signer {
		return fmt.Errorf("%w: recovers %s, want %s", types.ErrSignatureMismatch, recovered.Hex(), signer.Hex())
	}
	return nil
}
