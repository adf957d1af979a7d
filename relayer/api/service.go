// Package api exposes the relayer's HTTP surface: deposit reveal
// intake, record inspection and diagnostics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/keep-network/tbtc-relayer/config/params"
	"github.com/keep-network/tbtc-relayer/relayer/chains"
	"github.com/keep-network/tbtc-relayer/relayer/db"
	"github.com/keep-network/tbtc-relayer/relayer/types"
)

var log = logrus.WithField("prefix", "api")

// Config carries the API service collaborators.
type Config struct {
	Port     int
	Registry *chains.Registry
	Store    db.Database
	Chains   map[string]*params.ChainConfig
}

// Service runs the HTTP API. It implements runtime.Service.
type Service struct {
	cfg    *Config
	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc
	failed error
}

// New builds the API service.
func New(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{cfg: cfg, ctx: ctx, cancel: cancel}

	router := mux.NewRouter()
	router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/reveal", s.handleReveal).Methods(http.MethodPost)
	router.HandleFunc("/api/{chainName}/deposit/{depositId}", s.handleDeposit).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/deposits", s.handleDeposits).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/operations", s.handleOperations(nil)).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/operations/queued", s.handleOperations(&queuedStatus)).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/operations/initialized", s.handleOperations(&initializedStatus)).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/operations/finalized", s.handleOperations(&finalizedStatus)).Methods(http.MethodGet)
	router.HandleFunc("/api/{chainName}/redemptions", s.handleRedemptions).Methods(http.MethodGet)
	router.HandleFunc("/api/diagnostics/audit/{depositId}", s.handleAudit).Methods(http.MethodGet)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves the API in the background.
func (s *Service) Start() {
	go func() {
		log.WithField("addr", s.server.Addr).Info("API listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.failed = err
			log.WithError(err).Error("API server failed")
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	s.cancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Status implements runtime.Service.
func (s *Service) Status() error {
	return s.failed
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "tbtc-relayer"})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	chainStates := make(map[string]string)
	for _, name := range s.cfg.Registry.Names() {
		state := "active"
		if cfg, ok := s.cfg.Chains[name]; ok && cfg.UseEndpoint {
			state = "endpoint-only"
		}
		chainStates[name] = state
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chains": chainStates,
	})
}

// revealResponse is the reveal endpoint payload. Existing reports
// whether the deposit was already known; the endpoint is idempotent by
// deposit id.
type revealResponse struct {
	Success   bool               `json:"success"`
	DepositID string             `json:"depositId"`
	Existing  bool               `json:"existing,omitempty"`
	Message   string             `json:"message,omitempty"`
	Receipt   *gethtypes.Receipt `json:"receipt,omitempty"`
}

func (s *Service) handleReveal(w http.ResponseWriter, r *http.Request) {
	chainName := mux.Vars(r)["chainName"]
	handler, ok := s.cfg.Registry.Handler(chainName)
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("unknown chain %s", chainName))
		return
	}
	cfg, ok := s.cfg.Chains[chainName]
	if !ok || !cfg.SupportsRevealDeposit {
		writeError(w, http.StatusForbidden, errors.Errorf("chain %s does not accept reveals", chainName))
		return
	}
	intake, ok := handler.(chains.RevealIntake)
	if !ok {
		writeError(w, http.StatusForbidden, errors.Errorf("chain %s does not accept reveals", chainName))
		return
	}

	var event types.L1OutputEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&event); err != nil {
		writeValidationError(w, errors.Wrap(err, "invalid reveal payload"))
		return
	}
	result, err := intake.AcceptReveal(r.Context(), &event)
	if err != nil {
		if chains.IsValidation(err) {
			writeValidationError(w, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := revealResponse{Success: true, DepositID: result.DepositID}
	if result.Existing {
		resp.Existing = true
	} else {
		resp.Message = "Deposit initialized successfully"
		resp.Receipt = result.Receipt
	}
	writeJSON(w, http.StatusOK, resp)
}

// depositResponse reports a deposit's status, preferring on-chain truth
// over the stored record.
type depositResponse struct {
	Success   bool                `json:"success"`
	DepositID string              `json:"depositId"`
	Status    types.DepositStatus `json:"status"`
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	handler, ok := s.cfg.Registry.Handler(vars["chainName"])
	if !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("unknown chain %s", vars["chainName"]))
		return
	}
	id, err := types.ParseDepositID(vars["depositId"])
	if err != nil {
		writeValidationError(w, err)
		return
	}
	deposit, err := s.cfg.Store.Deposit(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false,
				"message": "Deposit not found",
			})
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := deposit.Status
	chainStatus, err := handler.CheckDepositStatus(r.Context(), id)
	switch {
	case err == nil:
		status = chainStatus
	case errors.Is(err, chains.ErrStatusUnavailable):
		// The chain does not know the deposit yet; report the stored
		// status.
	default:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{Success: true, DepositID: id, Status: status})
}

func (s *Service) handleDeposits(w http.ResponseWriter, r *http.Request) {
	chainName := mux.Vars(r)["chainName"]
	if _, ok := s.cfg.Registry.Handler(chainName); !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("unknown chain %s", chainName))
		return
	}
	var (
		deposits []*types.Deposit
		err      error
	)
	if rawStatus := r.URL.Query().Get("status"); rawStatus != "" {
		value, parseErr := strconv.Atoi(rawStatus)
		if parseErr != nil || !types.KnownDepositStatus(uint8(value)) {
			writeError(w, http.StatusBadRequest, errors.Errorf("invalid status %q", rawStatus))
			return
		}
		deposits, err = s.cfg.Store.DepositsByStatus(r.Context(), types.DepositStatus(value), chainName)
	} else {
		deposits, err = s.cfg.Store.DepositsByChain(r.Context(), chainName)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if deposits == nil {
		deposits = []*types.Deposit{}
	}
	writeJSON(w, http.StatusOK, deposits)
}

var (
	queuedStatus      = types.StatusQueued
	initializedStatus = types.StatusInitialized
	finalizedStatus   = types.StatusFinalized
)

// handleOperations lists a chain's deposits sorted by creation time
// descending, optionally narrowed to one status.
func (s *Service) handleOperations(status *types.DepositStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chainName := mux.Vars(r)["chainName"]
		if _, ok := s.cfg.Registry.Handler(chainName); !ok {
			writeError(w, http.StatusNotFound, errors.Errorf("unknown chain %s", chainName))
			return
		}
		var (
			deposits []*types.Deposit
			err      error
		)
		if status != nil {
			deposits, err = s.cfg.Store.DepositsByStatus(r.Context(), *status, chainName)
		} else {
			deposits, err = s.cfg.Store.DepositsByChain(r.Context(), chainName)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if deposits == nil {
			deposits = []*types.Deposit{}
		}
		writeJSON(w, http.StatusOK, deposits)
	}
}

func (s *Service) handleRedemptions(w http.ResponseWriter, r *http.Request) {
	chainName := mux.Vars(r)["chainName"]
	if _, ok := s.cfg.Registry.Handler(chainName); !ok {
		writeError(w, http.StatusNotFound, errors.Errorf("unknown chain %s", chainName))
		return
	}
	all := make([]*types.Redemption, 0)
	for _, status := range []types.RedemptionStatus{
		types.RedemptionPending,
		types.RedemptionVaaFetched,
		types.RedemptionCompleted,
		types.RedemptionVaaFailed,
		types.RedemptionFailed,
	} {
		records, err := s.cfg.Store.RedemptionsByStatus(r.Context(), status, chainName)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		all = append(all, records...)
	}
	writeJSON(w, http.StatusOK, all)
}

func (s *Service) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseDepositID(mux.Vars(r)["depositId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.cfg.Store.AuditEntriesByDeposit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []*types.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Debug("Could not encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success": false,
		"error":   "validation failed",
		"details": err.Error(),
	})
}
