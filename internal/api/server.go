// Package api exposes the HTTP endpoints for registration, coin credits, the
// leaderboard, and health probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"tg_rewards_bot/internal/domain"
	"tg_rewards_bot/internal/ledger"
	"tg_rewards_bot/internal/logging"
	"tg_rewards_bot/internal/referral"
)

const (
	mongoPingTimeout  = 2 * time.Second
	readHeaderTimeout = 2 * time.Second
	listenPrefix      = ":"
)

// MongoChecker defines the subset of store behavior required for health.
type MongoChecker interface {
	Ping(ctx context.Context) error
}

// Server hosts the rewards API and owns the underlying HTTP server.
type Server struct {
	server       *http.Server
	logger       *logrus.Entry
	ledger       *ledger.Ledger
	engine       *referral.Engine
	mongoChecker MongoChecker
}

type registerRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type updateCoinsRequest struct {
	UserID string `json:"userId"`
	Coins  *int64 `json:"coins"`
}

type updateCoinsResponse struct {
	Success    bool  `json:"success"`
	CoinsAdded int64 `json:"coinsAdded"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Accounts int    `json:"accounts"`
	Mongo    string `json:"mongo,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer constructs the API server on the provided port. mongoChecker may
// be nil when durability is disabled; health then reports on memory state only.
func NewServer(port int, l *ledger.Ledger, engine *referral.Engine, mongoChecker MongoChecker, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger:       logger,
		ledger:       l,
		engine:       engine,
		mongoChecker: mongoChecker,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleRoot)
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/update-coins", srv.handleUpdateCoins)
	mux.HandleFunc("/leaderboard", srv.handleLeaderboard)
	mux.HandleFunc("/healthz", srv.handleHealth)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", listenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the API server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "api_listen",
		"addr":  s.server.Addr,
	}).Info("starting api server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "api_stopped").Info("api server stopped")
			return nil
		}

		return fmt.Errorf("api server listen: %w", err)
	}

	s.logger.WithField("event", "api_stopped").Info("api server stopped")
	return nil
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Bot is running"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	if req.UserID == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing userId"})
		return
	}

	s.ledger.GetOrCreate(req.UserID, req.Username, time.Now())
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleUpdateCoins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	var req updateCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}

	if req.UserID == "" || req.Coins == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing userId or coins"})
		return
	}

	granted, err := s.ledger.CreditWithDailyCap(req.UserID, *req.Coins, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAccountNotFound):
			s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "User not found"})
		case errors.Is(err, domain.ErrInvalidAmount):
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid coins amount"})
		default:
			s.logger.WithField("event", "update_coins_error").WithError(err).Error("credit failed")
			s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal error"})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, updateCoinsResponse{Success: true, CoinsAdded: granted})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.TopRanked(domain.LeaderboardLimit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
		return
	}

	resp := healthResponse{
		Status:   "ok",
		Accounts: s.ledger.Len(),
	}

	if s.mongoChecker != nil {
		ctx := r.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		pingCtx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
		err := s.mongoChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			resp.Status = "degraded"
			resp.Mongo = "error"
			s.logger.WithField("event", "health_mongo_error").WithError(err).Warn("mongo ping failed during health check")
		} else {
			resp.Mongo = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithField("event", "api_write_error").WithError(err).Error("failed to encode response")
	}
}
