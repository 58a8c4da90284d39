package p2p

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/types"
)

// VoteHandler processes incoming oracle votes from gossipsub.
type VoteHandler func(ctx context.Context, vote *types.Vote) error

// ConfirmHandler processes incoming confirmations from gossipsub.
type ConfirmHandler func(ctx context.Context, c *bridge.Confirm) error

// MessageHandlers holds handlers for different message types.
type MessageHandlers struct {
	OnVote    VoteHandler
	OnConfirm ConfirmHandler
	Logger    *slog.Logger
}

// HandleVoteMessage decodes and processes an incoming vote message.
func (h *MessageHandlers) HandleVoteMessage(ctx context.Context, data []byte) error {
	decoded, err := DecompressMessage(data)
	if err != nil {
		return fmt.Errorf("decompress vote: %w", err)
	}
	var msg VoteMessage
	if err := msg.UnmarshalSSZ(decoded); err != nil {
		return fmt.Errorf("unmarshal vote: %w", err)
	}
	vote := msg.Vote()

	if h.Logger != nil {
		h.Logger.Debug("received vote", "claim", vote.ClaimID, "voter", vote.Voter.Hex())
	}
	if h.OnVote != nil {
		return h.OnVote(ctx, vote)
	}
	return nil
}

// HandleConfirmMessage decodes and processes an incoming confirmation.
func (h *MessageHandlers) HandleConfirmMessage(ctx context.Context, data []byte) error {
	decoded, err := DecompressMessage(data)
	if err != nil {
		return fmt.Errorf("decompress confirm: %w", err)
	}
	var msg ConfirmMessage
	if err := msg.UnmarshalSSZ(decoded); err != nil {
		return fmt.Errorf("unmarshal confirm: %w", err)
	}
	c := msg.Confirm()

	if h.Logger != nil {
		h.Logger.Debug("received confirm", "checkpoint", c.Checkpoint.Short(), "signer", c.Signer.Hex())
	}
	if h.OnConfirm != nil {
		return h.OnConfirm(ctx, c)
	}
	return nil
}

// EncodeVote produces the gossip payload of a vote.
func EncodeVote(v *types.Vote) ([]byte, error) {
	data, err := NewVoteMessage(v).MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal vote: %w", err)
	}
	return CompressMessage(data), nil
}

// EncodeConfirm produces the gossip payload of a confirmation.
func EncodeConfirm(c *bridge.Confirm) ([]byte, error) {
	data, err := NewConfirmMessage(c).MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal confirm: %w", err)
	}
	return CompressMessage(data), nil
}
