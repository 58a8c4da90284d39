// Package sigverify checks power-weighted multisignatures against a claimed
// validator set.
//
// Signature recovery is a capability behind the Recoverer interface so the
// threshold logic is independent of the signing scheme. ECDSA (secp256k1,
// Ethereum style) and Ed25519 (Cosmos style) recoverers are provided.
package sigverify

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/geanlabs/gravity/types"
)

const (
	// ECDSASignatureLength is r(32) || s(32) || v(1).
	ECDSASignatureLength = 65
	// recoveryIDIndex is the byte position of v in an ECDSA signature.
	recoveryIDIndex = 64

	// Ed25519SignatureLength is pubkey(32) || signature(64).
	Ed25519SignatureLength = 96
	ed25519PubKeyLength    = 32
)

// Scheme names accepted by NewRecoverer.
const (
	SchemeECDSA   = "ecdsa"
	SchemeEd25519 = "ed25519"
)

// Recoverer derives the signer identity of a signature over a digest.
type Recoverer interface {
	// Recover returns the address that produced sig over digest. Encoding
	// problems are reported as types.ErrMalformedInput; a well-formed
	// signature that does not verify is types.ErrSignatureMismatch.
	Recover(digest types.Digest, sig types.Signature) (types.Address, error)

	// IsAbstain reports whether sig is the sentinel for "did not sign".
	IsAbstain(sig types.Signature) bool
}

// NewRecoverer returns the recoverer for a scheme name.
func NewRecoverer(scheme string) (Recoverer, error) {
	switch strings.ToLower(scheme) {
	case SchemeECDSA, "":
		return ECDSARecoverer{}, nil
	case SchemeEd25519:
		return Ed25519Recoverer{}, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}

// ECDSARecoverer recovers Ethereum addresses from r||s||v signatures made over
// the personal-message hash of the digest, as an EVM contract's ecrecover
// check expects. v must be 27 or 28; an all-zero signature marks an abstention.
type ECDSARecoverer struct{}

// IsAbstain reports whether sig is empty or the 65-byte zero sentinel. A
// signature with v == 0 and a non-zero r or s is not an abstention; Recover
// rejects it as malformed.
func (ECDSARecoverer) IsAbstain(sig types.Signature) bool {
	if len(sig) == 0 {
		return true
	}
	if len(sig) != ECDSASignatureLength || sig[recoveryIDIndex] != 0 {
		return false
	}
	for _, b := range sig[:recoveryIDIndex] {
		if b != 0 {
			return false
		}
	}
	return true
}

func (ECDSARecoverer) Recover(digest types.Digest, sig types.Signature) (types.Address, error) {
	if len(sig) != ECDSASignatureLength {
		return types.Address{}, fmt.Errorf("%w: signature length %d, want %d",
			types.ErrMalformedInput, len(sig), ECDSASignatureLength)
	}

	normalized := make([]byte, ECDSASignatureLength)
	copy(normalized, sig)
	switch v := normalized[recoveryIDIndex]; v {
	case 27, 28:
		normalized[recoveryIDIndex] = v - 27
	default:
		return types.Address{}, fmt.Errorf("%w: recovery id %d", types.ErrMalformedInput, v)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(digest[:]), normalized)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: recover public key: %v", types.ErrSignatureMismatch, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Ed25519Recoverer handles signatures that carry their public key. The signer
// address is the first 20 bytes of sha256(pubkey), as Cosmos derives it.
type Ed25519Recoverer struct{}

func (Ed25519Recoverer) IsAbstain(sig types.Signature) bool {
	return len(sig) == 0
}

func (Ed25519Recoverer) Recover(digest types.Digest, sig types.Signature) (types.Address, error) {
	if len(sig) != Ed25519SignatureLength {
		return types.Address{}, fmt.Errorf("%w: signature length %d, want %d",
			types.ErrMalformedInput, len(sig), Ed25519SignatureLength)
	}
	rawPub := sig[:ed25519PubKeyLength]
	pub, err := p2pcrypto.UnmarshalEd25519PublicKey(rawPub)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: ed25519 public key: %v", types.ErrMalformedInput, err)
	}
	ok, err := pub.Verify(digest[:], sig[ed25519PubKeyLength:])
	if err != nil || !ok {
		return types.Address{}, fmt.Errorf("%w: ed25519 signature does not verify", types.ErrSignatureMismatch)
	}
	return Ed25519Address(rawPub), nil
}

// Ed25519Address derives the signer address of a raw Ed25519 public key.
func Ed25519Address(pub []byte) types.Address {
	sum := sha256.Sum256(pub)
	var a types.Address
	copy(a[:], sum[:20])
	return a
}
