// Package node wires the bridge components into a running process: storage,
// the validator set machine, the bridge and confirmation pool, the oracle,
// gossip, and the query and metrics servers.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/clock"
	"github.com/geanlabs/gravity/config"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/observability/metrics"
	"github.com/geanlabs/gravity/oracle"
	"github.com/geanlabs/gravity/p2p"
	"github.com/geanlabs/gravity/query"
	"github.com/geanlabs/gravity/sigverify"
	"github.com/geanlabs/gravity/storage"
	"github.com/geanlabs/gravity/storage/memory"
	"github.com/geanlabs/gravity/storage/pebble"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

const shutdownTimeout = 5 * time.Second

// Options are the host-provided collaborators of a node.
type Options struct {
	Clock    clock.Source         // nil derives heights from the clock config
	Executor bridge.LogicExecutor // nil means bridge.NoopExecutor
	Handler  oracle.Handler       // applies processed claims
	Logger   *slog.Logger
}

type Node struct {
	config *config.Config
	store  storage.Store
	logger *slog.Logger

	valset *valset.Machine
	bridge *bridge.Bridge
	pool   *bridge.ConfirmPool
	oracle *oracle.Ledger

	registry *prometheus.Registry
	metrics  *metrics.Collector

	net     *p2p.Service
	duties  *Duties
	servers []*http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node from cfg. The genesis set is installed if storage is
// empty and must match the stored set otherwise.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)
	logger := logging.OrDefault(opts.Logger)

	store, err := openStore(cfg.Storage)
	if err != nil {
		cancel()
		return nil, err
	}

	n := &Node{
		config:   cfg,
		store:    store,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.metrics = metrics.NewCollector(n.registry)

	if err := n.build(opts); err != nil {
		cancel()
		store.Close()
		return nil, err
	}
	return n, nil
}

func (n *Node) build(opts Options) error {
	cfg := n.config
	bridgeID, err := cfg.ParsedBridgeID()
	if err != nil {
		return err
	}
	recoverer, err := sigverify.NewRecoverer(cfg.SignatureScheme)
	if err != nil {
		return err
	}
	cached, err := sigverify.NewCachingRecoverer(recoverer, cfg.RecoveryCacheSize)
	if err != nil {
		return err
	}

	n.valset, err = valset.New(n.store, valset.Config{
		BridgeID:  bridgeID,
		Verifier:  sigverify.NewVerifier(cached),
		Threshold: cfg.ValsetThreshold,
		Logger:    n.logger,
	})
	if err != nil {
		return fmt.Errorf("create valset machine: %w", err)
	}
	genesis, err := config.LoadGenesis(cfg.Genesis)
	if err != nil {
		return err
	}
	if err := n.valset.Init(genesis); err != nil {
		return fmt.Errorf("install genesis: %w", err)
	}
	current, _, err := n.valset.Current()
	if err != nil {
		return err
	}
	n.metrics.SetValsetNonce(current.Nonce)

	chainClock := opts.Clock
	if chainClock == nil {
		chainClock = clock.New(cfg.Clock.GenesisTime, cfg.Clock.BlockSeconds)
	}
	n.pool = bridge.NewConfirmPool(n.store, n.valset, n.logger)
	n.bridge, err = bridge.New(n.store, n.valset, bridge.Config{
		Clock:    chainClock,
		Executor: opts.Executor,
		Pool:     n.pool,
		Logger:   n.logger,
	})
	if err != nil {
		return err
	}
	n.oracle, err = oracle.New(n.store, n.valset, oracle.Config{
		Threshold: cfg.OracleThreshold,
		Handler:   opts.Handler,
		Logger:    n.logger,
	})
	if err != nil {
		return fmt.Errorf("create oracle: %w", err)
	}

	if cfg.ValidatorKey != "" {
		signer, err := sigverify.LoadSigner(cfg.SignatureScheme, cfg.ValidatorKey)
		if err != nil {
			return err
		}
		n.duties = &Duties{Signer: signer, Node: n, log: n.logger}
		n.logger.Info("validator duties enabled", "signer", signer.Address().Hex())
	}

	if cfg.P2P.Enabled {
		if err := n.buildNetwork(); err != nil {
			return err
		}
	}

	if cfg.Query != "" {
		srv := query.NewServer(query.Config{
			Valset: n.valset,
			Bridge: n.bridge,
			Pool:   n.pool,
			Oracle: n.oracle,
			Logger: n.logger,
		})
		n.servers = append(n.servers, &http.Server{Addr: cfg.Query, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second})
	}
	if cfg.Metrics != "" {
		n.servers = append(n.servers, &http.Server{Addr: cfg.Metrics, Handler: metrics.Handler(n.registry), ReadHeaderTimeout: 10 * time.Second})
	}
	return nil
}

func (n *Node) buildNetwork() error {
	cfg := n.config.P2P
	hostCfg := p2p.HostConfig{}
	if cfg.ListenAddr != "" {
		hostCfg.ListenAddrs = []string{cfg.ListenAddr}
	}
	if cfg.NodeKey != "" {
		key, err := p2p.LoadNodeKey(cfg.NodeKey)
		if err != nil {
			return err
		}
		hostCfg.PrivateKey = key
	}

	var addrs []string
	if cfg.Bootnodes != "" {
		var err error
		addrs, err = config.LoadBootnodes(cfg.Bootnodes)
		if err != nil {
			return err
		}
	}
	bootnodes, err := p2p.ParseBootnodes(addrs)
	if err != nil {
		return err
	}

	h, err := p2p.NewHost(n.ctx, hostCfg)
	if err != nil {
		return err
	}
	n.net, err = p2p.NewService(n.ctx, p2p.ServiceConfig{
		Host:    h,
		Network: n.config.Network,
		Handlers: &p2p.MessageHandlers{
			OnVote:    n.handleVote,
			OnConfirm: n.handleConfirm,
			Logger:    n.logger,
		},
		Bootnodes: bootnodes,
		Status:    n.status,
		Logger:    n.logger,
	})
	if err != nil {
		h.Close()
		return fmt.Errorf("create p2p service: %w", err)
	}
	return nil
}

// status reports the local validator set for the peer status protocol.
func (n *Node) status() (*p2p.Status, error) {
	set, digest, err := n.valset.Current()
	if err != nil {
		return nil, err
	}
	return &p2p.Status{ValsetNonce: set.Nonce, Checkpoint: digest}, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case config.BackendPebble:
		return pebble.Open(cfg.Path)
	case config.BackendMemory, "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Start begins gossip, validator duties, and the HTTP servers.
func (n *Node) Start() {
	if n.net != nil {
		n.net.Start()
	}
	for _, srv := range n.servers {
		n.wg.Add(1)
		go n.serve(srv)
	}
	if n.duties != nil {
		n.wg.Add(1)
		go n.duties.run(n.ctx, &n.wg)
	}

	set, digest, err := n.valset.Current()
	if err != nil {
		n.logger.Error("read validator set", "error", err)
		return
	}
	n.logger.Info("node started",
		"network", n.config.Network,
		"valset_nonce", set.Nonce,
		"validators", len(set.Members),
		"checkpoint", logging.Digest(digest),
	)
}

func (n *Node) serve(srv *http.Server) {
	defer n.wg.Done()
	n.logger.Info("http server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		n.logger.Error("http server failed", "addr", srv.Addr, "error", err)
	}
}

// Stop shuts everything down and closes storage. Every failure is reported.
func (n *Node) Stop() error {
	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range n.servers {
		if err := srv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	n.cancel()
	if n.net != nil {
		if err := n.net.Stop(); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop p2p: %w", err))
		}
	}
	n.wg.Wait()
	if err := n.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	n.logger.Info("node stopped")
	return result.ErrorOrNil()
}

// Registry returns the registry the node's metrics are registered with.
func (n *Node) Registry() *prometheus.Registry { return n.registry }

// Valset returns the validator set machine.
func (n *Node) Valset() *valset.Machine { return n.valset }

// Pool returns the confirmation pool.
func (n *Node) Pool() *bridge.ConfirmPool { return n.pool }

// Bridge returns the bridge.
func (n *Node) Bridge() *bridge.Bridge { return n.bridge }

// Oracle returns the attestation ledger.
func (n *Node) Oracle() *oracle.Ledger { return n.oracle }

// PeerCount returns the number of connected peers, or zero without gossip.
func (n *Node) PeerCount() int {
	if n.net == nil {
		return 0
	}
	return n.net.PeerCount()
}

// UpdateValset applies a validator set update.
func (n *Node) UpdateValset(next, oldClaim *types.ValidatorSet, bundle *types.SignatureBundle) (types.Power, error) {
	start := time.Now()
	power, err := n.valset.Update(next, oldClaim, bundle)
	n.metrics.Observe(metrics.OpValsetUpdate, start, err)
	if err == nil {
		n.metrics.SignedPower(metrics.OpValsetUpdate, power)
		n.metrics.SetValsetNonce(next.Nonce)
	}
	return power, err
}

// SubmitBatch executes a signed batch.
func (n *Node) SubmitBatch(batch *types.OutgoingBatch, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	start := time.Now()
	power, err := n.bridge.SubmitBatch(batch, current, bundle, relayer)
	n.observeSigned(metrics.OpBatch, start, power, err)
	return power, err
}

// SubmitLogicCall executes a signed logic call.
func (n *Node) SubmitLogicCall(call *types.LogicCall, current *types.ValidatorSet, bundle *types.SignatureBundle, relayer types.Address) (types.Power, error) {
	start := time.Now()
	power, err := n.bridge.SubmitLogicCall(call, current, bundle, relayer)
	n.observeSigned(metrics.OpLogicCall, start, power, err)
	return power, err
}

// Deposit locks value of token in escrow.
func (n *Node) Deposit(token types.Address, value *uint256.Int) error {
	start := time.Now()
	err := n.bridge.Deposit(token, value)
	n.metrics.Observe(metrics.OpDeposit, start, err)
	return err
}

// ProposeBatch queues batch for signing and returns its checkpoint. The
// local duties loop and every other validator's node confirm it from the
// pool; relayers collect the confirmations and submit the batch.
func (n *Node) ProposeBatch(batch *types.OutgoingBatch) (types.Digest, error) {
	start := time.Now()
	digest, err := n.pool.AddBatch(batch)
	n.metrics.Observe(metrics.OpPropose, start, err)
	logging.Outcome(n.logger, "propose batch", err, "checkpoint", logging.Digest(digest))
	return digest, err
}

// ProposeLogicCall queues call for signing and returns its checkpoint.
func (n *Node) ProposeLogicCall(call *types.LogicCall) (types.Digest, error) {
	start := time.Now()
	digest, err := n.pool.AddLogicCall(call)
	n.metrics.Observe(metrics.OpPropose, start, err)
	logging.Outcome(n.logger, "propose logic call", err, "checkpoint", logging.Digest(digest))
	return digest, err
}

// Confirm records a confirmation and gossips it.
func (n *Node) Confirm(ctx context.Context, c bridge.Confirm) error {
	if err := n.confirm(c); err != nil {
		return err
	}
	if n.net != nil {
		if err := n.net.PublishConfirm(ctx, &c); err != nil {
			n.logger.Warn("failed to publish confirm", "checkpoint", logging.Digest(c.Checkpoint), "error", err)
		}
	}
	return nil
}

// Vote records an oracle vote, gossips it, and processes the claim once the
// vote completes its threshold.
func (n *Node) Vote(ctx context.Context, v types.Vote) error {
	if err := n.vote(v); err != nil {
		return err
	}
	if n.net != nil {
		if err := n.net.PublishVote(ctx, &v); err != nil {
			n.logger.Warn("failed to publish vote", "claim", v.ClaimID, "error", err)
		}
	}
	return nil
}

// Process processes claim id.
func (n *Node) Process(id types.ClaimID) (types.Digest, error) {
	start := time.Now()
	digest, err := n.oracle.Process(id)
	n.metrics.Observe(metrics.OpOracleProcess, start, err)
	return digest, err
}

func (n *Node) confirm(c bridge.Confirm) error {
	start := time.Now()
	err := n.pool.Confirm(c)
	n.metrics.Observe(metrics.OpConfirm, start, err)
	return err
}

func (n *Node) vote(v types.Vote) error {
	start := time.Now()
	reached, err := n.oracle.Vote(v)
	n.metrics.Observe(metrics.OpOracleVote, start, err)
	if err != nil {
		return err
	}
	if reached {
		if _, err := n.Process(v.ClaimID); err != nil && !errors.Is(err, types.ErrAlreadyProcessed) {
			return err
		}
	}
	return nil
}

func (n *Node) observeSigned(op string, start time.Time, power types.Power, err error) {
	n.metrics.Observe(op, start, err)
	if err == nil {
		n.metrics.SignedPower(op, power)
	}
}

// handleVote processes a vote received from the network.
func (n *Node) handleVote(_ context.Context, v *types.Vote) error {
	if err := n.vote(*v); err != nil {
		return fmt.Errorf("process vote: %w", err)
	}
	return nil
}

// handleConfirm processes a confirmation received from the network.
func (n *Node) handleConfirm(_ context.Context, c *bridge.Confirm) error {
	if err := n.confirm(*c); err != nil {
		if bridge.IsUnknownOperation(err) {
			n.logger.Debug("confirm for unknown operation", "checkpoint", logging.Digest(c.Checkpoint))
			return nil
		}
		return fmt.Errorf("process confirm: %w", err)
	}
	return nil
}
