package p2p

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/golang/snappy"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
)

// Message id domains, distinguishing payloads that decode as snappy from
// those that do not.
var (
	MessageDomainValidSnappy   = [4]byte{0x01, 0x00, 0x00, 0x00}
	MessageDomainInvalidSnappy = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// GossipsubParams holds the gossipsub mesh parameters.
type GossipsubParams struct {
	D                 int     // Target mesh peers
	DLow              int     // Low watermark
	DHigh             int     // High watermark
	DLazy             int     // Gossip-only peers
	HeartbeatInterval float64 // Seconds
	FanoutTTL         int     // Seconds
	MCacheLen         int     // Message cache windows
	MCacheGossip      int     // Gossip windows
	SeenTTL           int     // Seen message TTL (seconds)
}

// DefaultGossipsubParams returns the parameters validators run with.
func DefaultGossipsubParams() GossipsubParams {
	return GossipsubParams{
		D:                 8,
		DLow:              6,
		DHigh:             12,
		DLazy:             6,
		HeartbeatInterval: 0.7,
		FanoutTTL:         60,
		MCacheLen:         6,
		MCacheGossip:      3,
		SeenTTL:           600,
	}
}

// NewGossipSub creates a gossipsub router on h.
func NewGossipSub(ctx context.Context, h host.Host, params GossipsubParams) (*pubsub.PubSub, error) {
	gsParams := pubsub.DefaultGossipSubParams()
	gsParams.D = params.D
	gsParams.Dlo = params.DLow
	gsParams.Dhi = params.DHigh
	gsParams.Dlazy = params.DLazy
	gsParams.HeartbeatInterval = time.Duration(params.HeartbeatInterval * float64(time.Second))
	gsParams.FanoutTTL = time.Duration(params.FanoutTTL) * time.Second
	gsParams.HistoryLength = params.MCacheLen
	gsParams.HistoryGossip = params.MCacheGossip

	return pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageIdFn(computePubsubMessageID),
		pubsub.WithGossipSubParams(gsParams),
		pubsub.WithSeenMessagesTTL(time.Duration(params.SeenTTL)*time.Second),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithFloodPublish(false),
	)
}

// MessageID is a 20-byte gossipsub message identifier.
type MessageID [20]byte

// ComputeMessageID computes the message ID for a gossipsub message.
// ID = SHA256(domain + uint64_le(len(topic)) + topic + data)[:20]
func ComputeMessageID(topic []byte, data []byte, snappyValid bool) MessageID {
	domain := MessageDomainInvalidSnappy
	if snappyValid {
		domain = MessageDomainValidSnappy
	}

	var topicLen [8]byte
	binary.LittleEndian.PutUint64(topicLen[:], uint64(len(topic)))

	h := sha256.New()
	h.Write(domain[:])
	h.Write(topicLen[:])
	h.Write(topic)
	h.Write(data)

	var id MessageID
	copy(id[:], h.Sum(nil)[:20])
	return id
}

// computePubsubMessageID hashes the decompressed payload when it is valid
// snappy, so re-compressed copies of a message share one id.
func computePubsubMessageID(msg *pb.Message) string {
	data, err := snappy.Decode(nil, msg.Data)
	valid := err == nil
	if !valid {
		data = msg.Data
	}
	id := ComputeMessageID([]byte(msg.GetTopic()), data, valid)
	return string(id[:])
}

// CompressMessage compresses data using snappy for gossipsub.
func CompressMessage(data []byte) []byte {
	return snappy.Encode(nil, data)
}

// DecompressMessage decompresses snappy-compressed data.
func DecompressMessage(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}
