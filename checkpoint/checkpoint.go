// Package checkpoint computes the domain-separated digests that validators sign.
//
// Every digest is keccak256 over the Solidity ABI encoding of its fields, so an
// EVM contract and this package produce identical bytes for the same logical
// data. ABI encoding length-prefixes dynamic arrays, which keeps distinct member
// lists from colliding.
package checkpoint

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/geanlabs/gravity/types"
)

// Method tags. Each is right-padded into a bytes32 before hashing.
const (
	TagValset     = "checkpoint"
	TagBatch      = "transactionBatch"
	TagLogicCall  = "logicCall"
	TagOracleVote = "oracleVote"
)

var (
	bytes32Type, _      = abi.NewType("bytes32", "", nil)
	uint256Type, _      = abi.NewType("uint256", "", nil)
	addressType, _      = abi.NewType("address", "", nil)
	bytesType, _        = abi.NewType("bytes", "", nil)
	addressArrayType, _ = abi.NewType("address[]", "", nil)
	uint256ArrayType, _ = abi.NewType("uint256[]", "", nil)

	valsetArgs = abi.Arguments{
		{Name: "bridgeId", Type: bytes32Type},
		{Name: "methodName", Type: bytes32Type},
		{Name: "nonce", Type: uint256Type},
		{Name: "validators", Type: addressArrayType},
		{Name: "powers", Type: uint256ArrayType},
	}

	batchArgs = abi.Arguments{
		{Name: "bridgeId", Type: bytes32Type},
		{Name: "methodName", Type: bytes32Type},
		{Name: "amounts", Type: uint256ArrayType},
		{Name: "destinations", Type: addressArrayType},
		{Name: "fees", Type: uint256ArrayType},
		{Name: "batchNonce", Type: uint256Type},
		{Name: "tokenContract", Type: addressType},
		{Name: "batchTimeout", Type: uint256Type},
	}

	logicCallArgs = abi.Arguments{
		{Name: "bridgeId", Type: bytes32Type},
		{Name: "methodName", Type: bytes32Type},
		{Name: "transferAmounts", Type: uint256ArrayType},
		{Name: "transferTokenContracts", Type: addressArrayType},
		{Name: "feeAmounts", Type: uint256ArrayType},
		{Name: "feeTokenContracts", Type: addressArrayType},
		{Name: "logicContractAddress", Type: addressType},
		{Name: "payload", Type: bytesType},
		{Name: "timeOut", Type: uint256Type},
		{Name: "invalidationScope", Type: bytesType},
		{Name: "invalidationNonce", Type: uint256Type},
	}

	oracleVoteArgs = abi.Arguments{
		{Name: "bridgeId", Type: bytes32Type},
		{Name: "methodName", Type: bytes32Type},
		{Name: "claimId", Type: uint256Type},
		{Name: "eventDigest", Type: bytes32Type},
	}
)

// Checkpoint hashes an ordered validator list under a method tag and nonce.
// It is a pure function: equal inputs always produce equal digests.
func Checkpoint(bridgeID types.BridgeID, tag string, nonce uint64, members []types.Validator) types.Digest {
	signers := make([]common.Address, len(members))
	powers := make([]*big.Int, len(members))
	for i, m := range members {
		signers[i] = m.Signer
		powers[i] = new(big.Int).SetUint64(uint64(m.Power))
	}
	return pack(valsetArgs,
		[32]byte(bridgeID),
		methodName(tag),
		new(big.Int).SetUint64(nonce),
		signers,
		powers,
	)
}

// Valset returns the checkpoint that identifies set as the confirmed set.
func Valset(bridgeID types.BridgeID, set *types.ValidatorSet) types.Digest {
	return Checkpoint(bridgeID, TagValset, set.Nonce, set.Members)
}

// Batch returns the digest validators sign to authorize batch.
func Batch(bridgeID types.BridgeID, batch *types.OutgoingBatch) types.Digest {
	n := len(batch.Transactions)
	amounts := make([]*big.Int, n)
	destinations := make([]common.Address, n)
	fees := make([]*big.Int, n)
	for i := range batch.Transactions {
		tx := &batch.Transactions[i]
		amounts[i] = tx.Amount.ToBig()
		destinations[i] = tx.Destination
		fees[i] = tx.Fee.ToBig()
	}
	return pack(batchArgs,
		[32]byte(bridgeID),
		methodName(TagBatch),
		amounts,
		destinations,
		fees,
		new(big.Int).SetUint64(batch.BatchNonce),
		batch.Token,
		new(big.Int).SetUint64(batch.Timeout),
	)
}

// LogicCall returns the digest validators sign to authorize call.
func LogicCall(bridgeID types.BridgeID, call *types.LogicCall) types.Digest {
	transferAmounts, transferTokens := splitTokenAmounts(call.Transfers)
	feeAmounts, feeTokens := splitTokenAmounts(call.Fees)
	return pack(logicCallArgs,
		[32]byte(bridgeID),
		methodName(TagLogicCall),
		transferAmounts,
		transferTokens,
		feeAmounts,
		feeTokens,
		call.Target,
		nonNil(call.Payload),
		new(big.Int).SetUint64(call.Timeout),
		nonNil(call.InvalidationScope),
		new(big.Int).SetUint64(call.InvalidationNonce),
	)
}

// OracleVote returns the digest a validator signs to vote that claim id is
// the event with eventDigest. Binding the claim id keeps a vote from being
// replayed on another claim.
func OracleVote(bridgeID types.BridgeID, id types.ClaimID, eventDigest types.Digest) types.Digest {
	return pack(oracleVoteArgs,
		[32]byte(bridgeID),
		methodName(TagOracleVote),
		new(big.Int).SetUint64(uint64(id)),
		[32]byte(eventDigest),
	)
}

func splitTokenAmounts(in []types.TokenAmount) ([]*big.Int, []common.Address) {
	amounts := make([]*big.Int, len(in))
	tokens := make([]common.Address, len(in))
	for i := range in {
		amounts[i] = in[i].Amount.ToBig()
		tokens[i] = in[i].Token
	}
	return amounts, tokens
}

func methodName(tag string) [32]byte {
	var out [32]byte
	copy(out[:], tag)
	return out
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// pack ABI-encodes values and hashes them. The argument lists are static and
// every value is built above with the matching Go type, so a Pack failure is
// a programming error.
func pack(args abi.Arguments, values ...interface{}) types.Digest {
	encoded, err := args.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("checkpoint: abi pack: %v", err))
	}
	return types.Digest(crypto.Keccak256Hash(encoded))
}
