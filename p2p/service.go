package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/types"
)

// Service gossips votes and confirmations for one bridge network.
type Service struct {
	host     host.Host
	pubsub   *pubsub.PubSub
	handlers *MessageHandlers
	status   *StatusHandler
	logger   *slog.Logger

	voteTopic    *pubsub.Topic
	voteSub      *pubsub.Subscription
	confirmTopic *pubsub.Topic
	confirmSub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServiceConfig holds configuration for the p2p service.
type ServiceConfig struct {
	Host      host.Host
	Network   string
	Params    *GossipsubParams // nil means DefaultGossipsubParams
	Handlers  *MessageHandlers
	Bootnodes []peer.AddrInfo
	Status    StatusProvider // nil disables the status protocol
	Logger    *slog.Logger
}

// NewService joins the vote and confirm topics of cfg.Network.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	logger := logging.OrDefault(cfg.Logger)

	params := DefaultGossipsubParams()
	if cfg.Params != nil {
		params = *cfg.Params
	}
	ps, err := NewGossipSub(ctx, cfg.Host, params)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create gossipsub: %w", err)
	}

	voteTopic, voteSub, err := join(ps, VoteTopic(cfg.Network))
	if err != nil {
		cancel()
		return nil, err
	}
	confirmTopic, confirmSub, err := join(ps, ConfirmTopic(cfg.Network))
	if err != nil {
		voteSub.Cancel()
		cancel()
		return nil, err
	}

	svc := &Service{
		host:         cfg.Host,
		pubsub:       ps,
		handlers:     cfg.Handlers,
		logger:       logger,
		voteTopic:    voteTopic,
		voteSub:      voteSub,
		confirmTopic: confirmTopic,
		confirmSub:   confirmSub,
		ctx:          ctx,
		cancel:       cancel,
	}

	if cfg.Status != nil {
		svc.status = NewStatusHandler(cfg.Host, cfg.Status, logger)
		svc.status.Register()
	}

	for _, pi := range cfg.Bootnodes {
		if err := cfg.Host.Connect(ctx, pi); err != nil {
			logger.Warn("failed to connect to bootnode", "peer", pi.ID, "error", err)
			continue
		}
		logger.Info("connected to bootnode", "peer", pi.ID)
		if svc.status != nil {
			if _, err := svc.status.Exchange(ctx, pi.ID); err != nil {
				logger.Debug("status exchange failed", "peer", pi.ID, "error", err)
			}
		}
	}
	return svc, nil
}

func join(ps *pubsub.PubSub, name string) (*pubsub.Topic, *pubsub.Subscription, error) {
	topic, err := ps.Join(name)
	if err != nil {
		return nil, nil, fmt.Errorf("join %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	return topic, sub, nil
}

// Start begins processing incoming messages.
func (s *Service) Start() {
	var onVote, onConfirm func(context.Context, []byte) error
	if s.handlers != nil {
		onVote = s.handlers.HandleVoteMessage
		onConfirm = s.handlers.HandleConfirmMessage
	}
	s.wg.Add(2)
	go s.process(s.voteSub, "vote", onVote)
	go s.process(s.confirmSub, "confirm", onConfirm)
	s.logger.Info("p2p service started", "peer_id", s.host.ID(), "addrs", s.host.Addrs())
}

// Stop shuts down the p2p service and closes the host.
func (s *Service) Stop() error {
	s.cancel()
	s.voteSub.Cancel()
	s.confirmSub.Cancel()
	s.wg.Wait()
	err := s.host.Close()
	s.logger.Info("p2p service stopped")
	return err
}

// PublishVote gossips an oracle vote.
func (s *Service) PublishVote(ctx context.Context, v *types.Vote) error {
	data, err := EncodeVote(v)
	if err != nil {
		return err
	}
	return s.voteTopic.Publish(ctx, data)
}

// PublishConfirm gossips a confirmation.
func (s *Service) PublishConfirm(ctx context.Context, c *bridge.Confirm) error {
	data, err := EncodeConfirm(c)
	if err != nil {
		return err
	}
	return s.confirmTopic.Publish(ctx, data)
}

// PeerCount returns the number of connected peers.
func (s *Service) PeerCount() int {
	return len(s.host.Network().Peers())
}

func (s *Service) process(sub *pubsub.Subscription, kind string, handle func(context.Context, []byte) error) {
	defer s.wg.Done()

	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return // context cancelled
			}
			s.logger.Error("subscription error", "topic", kind, "error", err)
			continue
		}

		// Skip self-published messages
		if msg.ReceivedFrom == s.host.ID() || handle == nil {
			continue
		}
		if err := handle(s.ctx, msg.Data); err != nil {
			s.logger.Log(s.ctx, logging.LevelFor(types.Classify(err)), "handle message", "topic", kind, "error", err)
		}
	}
}
