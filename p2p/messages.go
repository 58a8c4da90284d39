package p2p

import (
	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/types"
)

// MaxSignatureSize bounds the signature list of gossip messages.
const MaxSignatureSize = sigverify.Ed25519SignatureLength

const (
	voteFixedSize    = 8 + 32 + 20 + 4
	confirmFixedSize = 32 + 20 + 4
)

// VoteMessage is the wire form of an oracle vote.
type VoteMessage struct {
	ClaimID     uint64
	EventDigest [32]byte `ssz-size:"32"`
	Voter       [20]byte `ssz-size:"20"`
	Signature   []byte   `ssz-max:"96"`
}

// NewVoteMessage converts a vote for gossip.
func NewVoteMessage(v *types.Vote) *VoteMessage {
	return &VoteMessage{
		ClaimID:     uint64(v.ClaimID),
		EventDigest: v.EventDigest,
		Voter:       v.Voter,
		Signature:   v.Signature,
	}
}

// Vote converts the message back.
func (m *VoteMessage) Vote() *types.Vote {
	return &types.Vote{
		ClaimID:     types.ClaimID(m.ClaimID),
		EventDigest: m.EventDigest,
		Voter:       m.Voter,
		Signature:   m.Signature,
	}
}

// SizeSSZ returns the ssz encoded size in bytes.
func (m *VoteMessage) SizeSSZ() int {
	return voteFixedSize + len(m.Signature)
}

// MarshalSSZ ssz marshals the VoteMessage.
func (m *VoteMessage) MarshalSSZ() ([]byte, error) {
	return m.MarshalSSZTo(make([]byte, 0, m.SizeSSZ()))
}

// MarshalSSZTo ssz marshals the VoteMessage to a target array.
func (m *VoteMessage) MarshalSSZTo(dst []byte) ([]byte, error) {
	if len(m.Signature) > MaxSignatureSize {
		return nil, ssz.ErrBytesLength
	}
	dst = ssz.MarshalUint64(dst, m.ClaimID)
	dst = append(dst, m.EventDigest[:]...)
	dst = append(dst, m.Voter[:]...)
	dst = ssz.WriteOffset(dst, voteFixedSize)
	dst = append(dst, m.Signature...)
	return dst, nil
}

// UnmarshalSSZ ssz unmarshals the VoteMessage.
func (m *VoteMessage) UnmarshalSSZ(buf []byte) error {
	if len(buf) < voteFixedSize {
		return ssz.ErrSize
	}
	m.ClaimID = ssz.UnmarshallUint64(buf[0:8])
	copy(m.EventDigest[:], buf[8:40])
	copy(m.Voter[:], buf[40:60])
	sig, err := readTail(buf, 60, voteFixedSize)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// ConfirmMessage is the wire form of a confirmation.
type ConfirmMessage struct {
	Checkpoint [32]byte `ssz-size:"32"`
	Signer     [20]byte `ssz-size:"20"`
	Signature  []byte   `ssz-max:"96"`
}

// NewConfirmMessage converts a confirmation for gossip.
func NewConfirmMessage(c *bridge.Confirm) *ConfirmMessage {
	return &ConfirmMessage{Checkpoint: c.Checkpoint, Signer: c.Signer, Signature: c.Signature}
}

// Confirm converts the message back.
func (m *ConfirmMessage) Confirm() *bridge.Confirm {
	return &bridge.Confirm{Checkpoint: m.Checkpoint, Signer: m.Signer, Signature: m.Signature}
}

// SizeSSZ returns the ssz encoded size in bytes.
func (m *ConfirmMessage) SizeSSZ() int {
	return confirmFixedSize + len(m.Signature)
}

// MarshalSSZ ssz marshals the ConfirmMessage.
func (m *ConfirmMessage) MarshalSSZ() ([]byte, error) {
	return m.MarshalSSZTo(make([]byte, 0, m.SizeSSZ()))
}

// MarshalSSZTo ssz marshals the ConfirmMessage to a target array.
func (m *ConfirmMessage) MarshalSSZTo(dst []byte) ([]byte, error) {
	if len(m.Signature) > MaxSignatureSize {
		return nil, ssz.ErrBytesLength
	}
	dst = append(dst, m.Checkpoint[:]...)
	dst = append(dst, m.Signer[:]...)
	dst = ssz.WriteOffset(dst, confirmFixedSize)
	dst = append(dst, m.Signature...)
	return dst, nil
}

// UnmarshalSSZ ssz unmarshals the ConfirmMessage.
func (m *ConfirmMessage) UnmarshalSSZ(buf []byte) error {
	if len(buf) < confirmFixedSize {
		return ssz.ErrSize
	}
	copy(m.Checkpoint[:], buf[0:32])
	copy(m.Signer[:], buf[32:52])
	sig, err := readTail(buf, 52, confirmFixedSize)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// readTail reads the single variable-size field whose offset is stored at
// buf[at:at+4]. The offset must point right after the fixed part.
func readTail(buf []byte, at, fixedSize int) ([]byte, error) {
	if o := ssz.ReadOffset(buf[at : at+4]); o != uint64(fixedSize) {
		return nil, ssz.ErrOffset
	}
	tail := buf[fixedSize:]
	if len(tail) > MaxSignatureSize {
		return nil, ssz.ErrBytesLength
	}
	return append([]byte{}, tail...), nil
}
