// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/commitment-pool/internal/logging"
	"github.com/commitment-pool/internal/models"
	"github.com/commitment-pool/internal/registry"
	"github.com/commitment-pool/internal/service"
)

// PoolServiceInterface defines the pool operations the handlers call
type PoolServiceInterface interface {
	CreatePool(ctx context.Context, params *registry.CreateParams) (*service.PoolView, error)
	JoinPool(ctx context.Context, poolID, wallet string) (*service.PoolView, error)
	GetPool(ctx context.Context, poolID string) (*service.PoolView, error)
	ListPools(ctx context.Context, status string, limit, offset int) ([]*service.PoolView, error)
	ListParticipants(ctx context.Context, poolID string) ([]*service.ParticipantView, error)
	ListVerifications(ctx context.Context, poolID, wallet string, day int) ([]*models.VerificationRecord, error)
	ListPayouts(ctx context.Context, poolID string) ([]*service.PayoutView, error)
	SubmitEvidence(ctx context.Context, req *service.EvidenceRequest) (*models.EvidenceSubmission, error)
	BindIdentity(ctx context.Context, wallet, provider, identityRef string) (*models.IdentityBinding, error)
	ListIdentityBindings(ctx context.Context, wallet string) ([]*models.IdentityBinding, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	pools      PoolServiceInterface
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FreeTierRPS     int
	BasicTierRPS    int
	PremiumTierRPS  int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, pools PoolServiceInterface) *Server {
	s := &Server{
		router: mux.NewRouter(),
		pools:  pools,
		config: config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.FreeTierRPS, s.config.BasicTierRPS, s.config.PremiumTierRPS)

	// Middleware order matters: recovery wraps everything that can panic,
	// rate limiting runs after CORS so preflights stay cheap
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Pool endpoints
	api.HandleFunc("/pools", s.handleCreatePool).Methods("POST")
	api.HandleFunc("/pools", s.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{id}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{id}/join", s.handleJoinPool).Methods("POST")
	api.HandleFunc("/pools/{id}/participants", s.handleListParticipants).Methods("GET")
	api.HandleFunc("/pools/{id}/verifications", s.handleListVerifications).Methods("GET")
	api.HandleFunc("/pools/{id}/payouts", s.handleListPayouts).Methods("GET")

	// Evidence endpoint for honor-system goals
	api.HandleFunc("/evidence", s.handleSubmitEvidence).Methods("POST")

	// Identity binding endpoints, written by the trusted linking flow
	api.HandleFunc("/identity-bindings", s.handleBindIdentity).Methods("POST")
	api.HandleFunc("/identity-bindings/{wallet}", s.handleListIdentityBindings).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "commitment-pool",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests
func (s *Server) Router() http.Handler {
	return s.router
}
