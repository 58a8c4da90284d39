// Package types defines the entities shared by the bridge verification core.
package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Primitive types.
type (
	// Address is a 20-byte signer identity. Ethereum and Cosmos account
	// addresses share this width; the core treats it as opaque.
	Address = common.Address

	// Digest is a 32-byte keccak256 output.
	Digest [32]byte

	// Power is a validator's voting weight.
	Power uint64

	// BridgeID separates bridge deployments so signatures for one instance
	// are never valid for another.
	BridgeID [32]byte
)

func (d Digest) IsZero() bool { return d == Digest{} }

// Short returns a short hex representation of the digest (first 4 bytes).
func (d Digest) Short() string {
	return fmt.Sprintf("%x", d[:4])
}

func (d Digest) Hex() string {
	return fmt.Sprintf("0x%x", d[:])
}

// MarshalText encodes the digest as 0x-prefixed hex.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

func (d *Digest) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Digest", input, d[:])
}

// ParseBridgeID decodes a hex string (with or without 0x prefix) of at most
// 32 bytes. Shorter inputs are right-padded with zeros, matching how a
// bytes32 literal is written in Solidity.
func ParseBridgeID(s string) (BridgeID, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return BridgeID{}, fmt.Errorf("%w: empty bridge id", ErrMalformedInput)
	}
	b := common.FromHex(s)
	if len(b) == 0 || len(b) > 32 || len(s) != 2*len(b) {
		return BridgeID{}, fmt.Errorf("%w: bridge id %q is not 1-32 hex bytes", ErrMalformedInput, s)
	}
	var id BridgeID
	copy(id[:], b)
	return id, nil
}

// BridgeIDFromString right-pads an ASCII name into a BridgeID.
func BridgeIDFromString(name string) BridgeID {
	var id BridgeID
	copy(id[:], name)
	return id
}

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("%w: invalid address %q", ErrMalformedInput, s)
	}
	return common.HexToAddress(s), nil
}
