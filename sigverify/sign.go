package sigverify

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"

	"github.com/geanlabs/gravity/types"
)

// Signer produces signatures over digests for one validator key. The core
// never signs on a validator's behalf; Signer is used by key holders and by
// tooling that emits confirmations and oracle votes.
type Signer interface {
	Address() types.Address
	Sign(digest types.Digest) (types.Signature, error)
}

// ECDSASigner signs in the format ECDSARecoverer accepts.
type ECDSASigner struct {
	key *ecdsa.PrivateKey
}

func NewECDSASigner(key *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{key: key}
}

func (s *ECDSASigner) Address() types.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *ECDSASigner) Sign(digest types.Digest) (types.Signature, error) {
	sig, err := crypto.Sign(accounts.TextHash(digest[:]), s.key)
	if err != nil {
		return nil, fmt.Errorf("ecdsa sign: %w", err)
	}
	sig[recoveryIDIndex] += 27
	return sig, nil
}

// Ed25519Signer signs in the format Ed25519Recoverer accepts.
type Ed25519Signer struct {
	key    p2pcrypto.PrivKey
	rawPub []byte
}

func NewEd25519Signer(key p2pcrypto.PrivKey) (*Ed25519Signer, error) {
	if key.Type() != p2pcrypto.Ed25519 {
		return nil, fmt.Errorf("key type %s is not ed25519", key.Type())
	}
	raw, err := key.GetPublic().Raw()
	if err != nil {
		return nil, fmt.Errorf("ed25519 public key: %w", err)
	}
	return &Ed25519Signer{key: key, rawPub: raw}, nil
}

func (s *Ed25519Signer) Address() types.Address {
	return Ed25519Address(s.rawPub)
}

func (s *Ed25519Signer) Sign(digest types.Digest) (types.Signature, error) {
	sig, err := s.key.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("ed25519 sign: %w", err)
	}
	out := make(types.Signature, 0, Ed25519SignatureLength)
	out = append(out, s.rawPub...)
	return append(out, sig...), nil
}

// LoadSigner reads a hex-encoded private key for scheme from path. ECDSA keys
// are raw secp256k1 scalars; Ed25519 keys are libp2p-marshalled.
func LoadSigner(scheme, path string) (Signer, error) {
	switch strings.ToLower(scheme) {
	case SchemeECDSA, "":
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, fmt.Errorf("load ecdsa key: %w", err)
		}
		return NewECDSASigner(key), nil
	case SchemeEd25519:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ed25519 key: %w", err)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("decode ed25519 key: %w", err)
		}
		key, err := p2pcrypto.UnmarshalPrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("unmarshal ed25519 key: %w", err)
		}
		return NewEd25519Signer(key)
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}
