package p2p

import (
	"bytes"
	"context"
	"errors"
	"testing"

	ssz "github.com/ferranbt/fastssz"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/types"
)

func TestDefaultGossipsubParams(t *testing.T) {
	params := DefaultGossipsubParams()

	if params.D != 8 {
		t.Errorf("D = %d, want 8", params.D)
	}
	if params.DLow != 6 {
		t.Errorf("DLow = %d, want 6", params.DLow)
	}
	if params.DHigh != 12 {
		t.Errorf("DHigh = %d, want 12", params.DHigh)
	}
	if params.SeenTTL != 600 {
		t.Errorf("SeenTTL = %d, want 600", params.SeenTTL)
	}
}

func TestTopics(t *testing.T) {
	if got := VoteTopic("devnet"); got != "/gravity/devnet/oracle_vote/ssz_snappy" {
		t.Errorf("VoteTopic = %s", got)
	}
	if got := ConfirmTopic("devnet"); got != "/gravity/devnet/confirm/ssz_snappy" {
		t.Errorf("ConfirmTopic = %s", got)
	}
}

func TestComputeMessageID(t *testing.T) {
	topic := []byte(VoteTopic("devnet"))
	data := []byte{0x01, 0x02, 0x03, 0x04}

	valid := ComputeMessageID(topic, data, true)
	invalid := ComputeMessageID(topic, data, false)
	if bytes.Equal(valid[:], invalid[:]) {
		t.Error("expected different IDs for valid vs invalid snappy")
	}

	again := ComputeMessageID(topic, data, true)
	if valid != again {
		t.Error("expected same ID for same input")
	}

	if ComputeMessageID([]byte("topic1"), data, true) == ComputeMessageID([]byte("topic2"), data, true) {
		t.Error("expected different IDs for different topics")
	}
	if ComputeMessageID(topic, []byte{0x01}, true) == ComputeMessageID(topic, []byte{0x02}, true) {
		t.Error("expected different IDs for different data")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 300)
	out, err := DecompressMessage(CompressMessage(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatal("round trip mismatch")
	}
	if _, err := DecompressMessage([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected error for invalid snappy")
	}
}

func testVote() *types.Vote {
	return &types.Vote{
		ClaimID:     42,
		EventDigest: types.Digest{0xee, 0x01},
		Voter:       types.Address{0x0a},
		Signature:   bytes.Repeat([]byte{0x5c}, 65),
	}
}

func TestVoteMessageSSZ(t *testing.T) {
	msg := NewVoteMessage(testVote())
	buf, err := msg.MarshalSSZ()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(buf) != 64+65 {
		t.Fatalf("size = %d, want %d", len(buf), 64+65)
	}

	var got VoteMessage
	if err := got.UnmarshalSSZ(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	vote := got.Vote()
	if vote.ClaimID != 42 || vote.EventDigest != msg.EventDigest || vote.Voter != msg.Voter {
		t.Fatalf("decoded %+v", vote)
	}
	if !bytes.Equal(vote.Signature, msg.Signature) {
		t.Fatal("signature mismatch")
	}
}

func TestConfirmMessageSSZ(t *testing.T) {
	c := &bridge.Confirm{Checkpoint: types.Digest{0x01}, Signer: types.Address{0x02}, Signature: []byte{1, 2, 3}}
	buf, err := NewConfirmMessage(c).MarshalSSZ()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var msg ConfirmMessage
	if err := msg.UnmarshalSSZ(buf); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := msg.Confirm()
	if got.Checkpoint != c.Checkpoint || got.Signer != c.Signer || !bytes.Equal(got.Signature, c.Signature) {
		t.Fatalf("decoded %+v", got)
	}
}

func TestMessageSSZRejects(t *testing.T) {
	oversize := testVote()
	oversize.Signature = make([]byte, MaxSignatureSize+1)
	if _, err := NewVoteMessage(oversize).MarshalSSZ(); !errors.Is(err, ssz.ErrBytesLength) {
		t.Fatalf("oversize marshal: got %v", err)
	}

	buf, err := NewVoteMessage(testVote()).MarshalSSZ()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var msg VoteMessage
	if err := msg.UnmarshalSSZ(buf[:40]); !errors.Is(err, ssz.ErrSize) {
		t.Fatalf("truncated: got %v", err)
	}

	badOffset := append([]byte{}, buf...)
	badOffset[60] = 0x10
	if err := msg.UnmarshalSSZ(badOffset); !errors.Is(err, ssz.ErrOffset) {
		t.Fatalf("bad offset: got %v", err)
	}

	long := append(append([]byte{}, buf[:64]...), make([]byte, MaxSignatureSize+1)...)
	if err := msg.UnmarshalSSZ(long); !errors.Is(err, ssz.ErrBytesLength) {
		t.Fatalf("long tail: got %v", err)
	}

	var confirm ConfirmMessage
	if err := confirm.UnmarshalSSZ(make([]byte, 10)); !errors.Is(err, ssz.ErrSize) {
		t.Fatalf("short confirm: got %v", err)
	}
}

func TestHandleVoteMessage(t *testing.T) {
	var got *types.Vote
	h := &MessageHandlers{OnVote: func(_ context.Context, v *types.Vote) error {
		got = v
		return nil
	}}

	data, err := EncodeVote(testVote())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.HandleVoteMessage(context.Background(), data); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got == nil || got.ClaimID != 42 {
		t.Fatalf("handler got %+v", got)
	}

	if err := h.HandleVoteMessage(context.Background(), []byte{0x00}); err == nil {
		t.Fatal("expected error for garbage payload")
	}
}

func TestHandleConfirmMessagePropagatesError(t *testing.T) {
	h := &MessageHandlers{OnConfirm: func(context.Context, *bridge.Confirm) error {
		return types.ErrDuplicateVote
	}}
	data, err := EncodeConfirm(&bridge.Confirm{Checkpoint: types.Digest{1}, Signer: types.Address{2}, Signature: []byte{3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := h.HandleConfirmMessage(context.Background(), data); !errors.Is(err, types.ErrDuplicateVote) {
		t.Fatalf("got %v, want ErrDuplicateVote", err)
	}

	// Without handlers messages are decoded and dropped.
	if err := (&MessageHandlers{}).HandleConfirmMessage(context.Background(), data); err != nil {
		t.Fatalf("nil handler: %v", err)
	}
}
