package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Signature is a scheme-specific recoverable signature. An empty signature,
// or one whose recovery component is zero, means the validator abstained.
type Signature []byte

// SignatureBundle carries signatures aligned index-for-index with the members
// of the validator set that is claimed to have produced them.
type SignatureBundle struct {
	Signers    []Address   `json:"signers"`
	Signatures []Signature `json:"signatures"`
}

// Len returns the number of signature slots.
func (b *SignatureBundle) Len() int { return len(b.Signatures) }

// Transfer is a single outgoing payment in a batch.
type Transfer struct {
	Destination Address     `json:"destination" msgpack:"destination"`
	Amount      uint256.Int `json:"amount" msgpack:"amount"`
	Fee         uint256.Int `json:"fee" msgpack:"fee"`
}

// OutgoingBatch is a nonce-ordered bundle of transfers of one token. Array
// order is execution order.
type OutgoingBatch struct {
	BatchNonce   uint64     `json:"batch_nonce" msgpack:"batch_nonce"`
	Token        Address    `json:"token" msgpack:"token"`
	Timeout      uint64     `json:"timeout" msgpack:"timeout"`
	Transactions []Transfer `json:"transactions" msgpack:"transactions"`
}

// Totals returns the sum of amounts and the sum of fees.
func (b *OutgoingBatch) Totals() (amount, fee *uint256.Int, err error) {
	amount, fee = new(uint256.Int), new(uint256.Int)
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if _, overflow := amount.AddOverflow(amount, &tx.Amount); overflow {
			return nil, nil, fmt.Errorf("%w: batch amount overflows at tx %d", ErrMalformedInput, i)
		}
		if _, overflow := fee.AddOverflow(fee, &tx.Fee); overflow {
			return nil, nil, fmt.Errorf("%w: batch fee overflows at tx %d", ErrMalformedInput, i)
		}
	}
	return amount, fee, nil
}

// TokenAmount is an amount of a specific token.
type TokenAmount struct {
	Token  Address     `json:"token" msgpack:"token"`
	Amount uint256.Int `json:"amount" msgpack:"amount"`
}

// LogicCall is an arbitrary cross-chain call. InvalidationScope partitions the
// nonce space so unrelated calls never block each other.
type LogicCall struct {
	InvalidationScope []byte        `json:"invalidation_scope" msgpack:"invalidation_scope"`
	InvalidationNonce uint64        `json:"invalidation_nonce" msgpack:"invalidation_nonce"`
	Timeout           uint64        `json:"timeout" msgpack:"timeout"`
	Transfers         []TokenAmount `json:"transfers" msgpack:"transfers"`
	Fees              []TokenAmount `json:"fees" msgpack:"fees"`
	Target            Address       `json:"target" msgpack:"target"`
	Payload           []byte        `json:"payload" msgpack:"payload"`
}

// ScopeKey returns the invalidation scope as a hex string for use as a map
// or storage key.
func (c *LogicCall) ScopeKey() string {
	return fmt.Sprintf("%x", c.InvalidationScope)
}
