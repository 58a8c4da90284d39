package p2p

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	ssz "github.com/ferranbt/fastssz"
	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/types"
)

const (
	StatusProtocolV1 = "/gravity/req/status/1/" + TopicEncoding

	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	MaxMsgSize   = 1 << 10

	statusSize = 8 + 32
)

// Response codes
const (
	RespCodeSuccess     byte = 0x00
	RespCodeInvalidReq  byte = 0x01
	RespCodeServerError byte = 0x02
)

// Status is exchanged between peers to compare validator sets. It is
// informational: a peer's status never changes local state.
type Status struct {
	ValsetNonce uint64
	Checkpoint  [32]byte `ssz-size:"32"`
}

// SizeSSZ returns the ssz encoded size in bytes.
func (s *Status) SizeSSZ() int { return statusSize }

// MarshalSSZ ssz marshals the Status.
func (s *Status) MarshalSSZ() ([]byte, error) {
	return s.MarshalSSZTo(make([]byte, 0, statusSize))
}

// MarshalSSZTo ssz marshals the Status to a target array.
func (s *Status) MarshalSSZTo(dst []byte) ([]byte, error) {
	dst = ssz.MarshalUint64(dst, s.ValsetNonce)
	return append(dst, s.Checkpoint[:]...), nil
}

// UnmarshalSSZ ssz unmarshals the Status.
func (s *Status) UnmarshalSSZ(buf []byte) error {
	if len(buf) != statusSize {
		return ssz.ErrSize
	}
	s.ValsetNonce = ssz.UnmarshallUint64(buf[0:8])
	copy(s.Checkpoint[:], buf[8:40])
	return nil
}

// Sync states of a peer relative to the local node.
const (
	SyncInSync   = "in_sync"
	SyncBehind   = "peer_behind"
	SyncAhead    = "peer_ahead"
	SyncDiverged = "diverged"
)

// CompareStatus describes remote relative to local. Equal nonces with
// different checkpoints mean the peers follow different sets.
func CompareStatus(local, remote *Status) string {
	switch {
	case remote.ValsetNonce < local.ValsetNonce:
		return SyncBehind
	case remote.ValsetNonce > local.ValsetNonce:
		return SyncAhead
	case remote.Checkpoint != local.Checkpoint:
		return SyncDiverged
	default:
		return SyncInSync
	}
}

// StatusProvider returns the local status.
type StatusProvider func() (*Status, error)

// StatusHandler serves and requests the status protocol.
type StatusHandler struct {
	host     host.Host
	provider StatusProvider
	logger   *slog.Logger
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(h host.Host, provider StatusProvider, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{host: h, provider: provider, logger: logging.OrDefault(logger)}
}

// Register installs the stream handler on the host.
func (s *StatusHandler) Register() {
	s.host.SetStreamHandler(protocol.ID(StatusProtocolV1), s.handleStatusStream)
}

func (s *StatusHandler) handleStatusStream(stream network.Stream) {
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	data, err := readMessage(stream)
	if err != nil {
		s.logger.Debug("status: failed to read request", "error", err)
		_ = writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}
	var remote Status
	if err := remote.UnmarshalSSZ(data); err != nil {
		s.logger.Debug("status: failed to unmarshal request", "error", err)
		_ = writeErrorResponse(stream, RespCodeInvalidReq)
		return
	}

	local, err := s.provider()
	if err != nil {
		s.logger.Warn("status: local status unavailable", "error", err)
		_ = writeErrorResponse(stream, RespCodeServerError)
		return
	}
	s.logPeer(stream.Conn().RemotePeer(), local, &remote)

	resp, err := local.MarshalSSZ()
	if err != nil {
		_ = writeErrorResponse(stream, RespCodeServerError)
		return
	}
	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeSuccessResponse(stream, resp); err != nil {
		s.logger.Debug("status: failed to write response", "error", err)
	}
}

// Exchange sends the local status to p and returns the peer's.
func (s *StatusHandler) Exchange(ctx context.Context, p peer.ID) (*Status, error) {
	local, err := s.provider()
	if err != nil {
		return nil, err
	}
	data, err := local.MarshalSSZ()
	if err != nil {
		return nil, fmt.Errorf("marshal status: %w", err)
	}

	stream, err := s.host.NewStream(ctx, p, protocol.ID(StatusProtocolV1))
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	// Close write side to signal end of request
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close write: %w", err)
	}

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	code, resp, err := readResponse(stream)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if code != RespCodeSuccess {
		return nil, fmt.Errorf("peer returned error code %d", code)
	}
	var remote Status
	if err := remote.UnmarshalSSZ(resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	s.logPeer(p, local, &remote)
	return &remote, nil
}

func (s *StatusHandler) logPeer(p peer.ID, local, remote *Status) {
	state := CompareStatus(local, remote)
	level := slog.LevelDebug
	if state == SyncDiverged {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "peer status",
		"peer", p,
		"state", state,
		"peer_valset_nonce", remote.ValsetNonce,
		"peer_checkpoint", logging.Digest(types.Digest(remote.Checkpoint)),
	)
}

// Framed message I/O: varint uncompressed length, then snappy block data.

func readMessage(r io.Reader) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, MaxMsgSize+binary.MaxVarintLen64))
	if err != nil {
		return nil, err
	}
	if len(buf) < 2 {
		return nil, errors.New("message too short")
	}
	size, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, errors.New("invalid varint")
	}
	if size > MaxMsgSize {
		return nil, fmt.Errorf("message too large: %d", size)
	}
	decoded, err := snappy.Decode(nil, buf[n:])
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	if uint64(len(decoded)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d, got %d", size, len(decoded))
	}
	return decoded, nil
}

func writeMessage(w io.Writer, data []byte) error {
	prefix := binary.AppendUvarint(nil, uint64(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(snappy.Encode(nil, data))
	return err
}

func readResponse(r io.Reader) (byte, []byte, error) {
	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return 0, nil, err
	}
	if code[0] != RespCodeSuccess {
		return code[0], nil, nil
	}
	data, err := readMessage(r)
	return code[0], data, err
}

func writeSuccessResponse(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte{RespCodeSuccess}); err != nil {
		return err
	}
	return writeMessage(w, data)
}

func writeErrorResponse(w io.Writer, code byte) error {
	_, err := w.Write([]byte{code})
	return err
}
