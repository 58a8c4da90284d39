// Package query serves read-only JSON projections of bridge state for
// relayers deciding what to sign and submit next. Nothing here authorizes
// anything; every write path goes through the verifying components.
package query

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/geanlabs/gravity/bridge"
	"github.com/geanlabs/gravity/checkpoint"
	"github.com/geanlabs/gravity/observability/logging"
	"github.com/geanlabs/gravity/oracle"
	"github.com/geanlabs/gravity/types"
	"github.com/geanlabs/gravity/valset"
)

// Config holds the components the server reads from.
type Config struct {
	Valset *valset.Machine
	Bridge *bridge.Bridge
	Pool   *bridge.ConfirmPool
	Oracle *oracle.Ledger
	Logger *slog.Logger
}

// Server routes query requests.
type Server struct {
	router *mux.Router
	cfg    Config
	logger *slog.Logger
}

// ValsetResponse is the current (or a historical) validator set.
type ValsetResponse struct {
	*types.ValidatorSet
	Checkpoint types.Digest `json:"checkpoint"`
}

// NonceResponse reports the last executed nonce of a token or scope.
type NonceResponse struct {
	LastNonce uint64 `json:"last_nonce"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string     `json:"error"`
	Kind  types.Kind `json:"kind"`
}

// NewServer creates a server with all routes registered.
func NewServer(cfg Config) *Server {
	s := &Server{
		router: mux.NewRouter(),
		cfg:    cfg,
		logger: logging.OrDefault(cfg.Logger),
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/valset/current", s.handleCurrentValset).Methods(http.MethodGet)
	s.router.HandleFunc("/valset/{nonce:[0-9]+}", s.handleValsetByNonce).Methods(http.MethodGet)

	s.router.HandleFunc("/batches/last_nonce/{token}", s.handleLastBatchNonce).Methods(http.MethodGet)
	s.router.HandleFunc("/logic_calls/last_nonce/{scope}", s.handleLastLogicCallNonce).Methods(http.MethodGet)
	s.router.HandleFunc("/confirms/unsigned/{address}", s.handleUnsigned).Methods(http.MethodGet)

	s.router.HandleFunc("/claims/{id:[0-9]+}", s.handleClaim).Methods(http.MethodGet)
}

func (s *Server) handleCurrentValset(w http.ResponseWriter, r *http.Request) {
	set, digest, err := s.cfg.Valset.Current()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ValsetResponse{ValidatorSet: set, Checkpoint: digest})
}

func (s *Server) handleValsetByNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := strconv.ParseUint(mux.Vars(r)["nonce"], 10, 64)
	if err != nil {
		s.writeError(w, malformed(err))
		return
	}
	set, err := s.cfg.Valset.ByNonce(nonce)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ValsetResponse{ValidatorSet: set, Checkpoint: checkpoint.Valset(s.cfg.Valset.BridgeID(), set)})
}

func (s *Server) handleLastBatchNonce(w http.ResponseWriter, r *http.Request) {
	token, err := types.ParseAddress(mux.Vars(r)["token"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	nonce, err := s.cfg.Bridge.LastBatchNonce(token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NonceResponse{LastNonce: nonce})
}

func (s *Server) handleLastLogicCallNonce(w http.ResponseWriter, r *http.Request) {
	scope, err := hex.DecodeString(strings.TrimPrefix(mux.Vars(r)["scope"], "0x"))
	if err != nil {
		s.writeError(w, malformed(err))
		return
	}
	nonce, err := s.cfg.Bridge.LastLogicCallNonce(scope)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NonceResponse{LastNonce: nonce})
}

func (s *Server) handleUnsigned(w http.ResponseWriter, r *http.Request) {
	signer, err := types.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	ops, err := s.cfg.Pool.Unconfirmed(signer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ops == nil {
		ops = []bridge.Pending{}
	}
	s.writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, malformed(err))
		return
	}
	tally, err := s.cfg.Oracle.Tally(types.ClaimID(id))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tally)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write query response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := types.Classify(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrUnknownClaim),
		errors.Is(err, valset.ErrNotInitialized):
		status = http.StatusNotFound
	case kind == types.KindMalformed:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("query failed", "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
}
