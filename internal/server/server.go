package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/raakeshmj/activationplane/internal/audit"
	"github.com/raakeshmj/activationplane/internal/auth"
	"github.com/raakeshmj/activationplane/internal/config"
	"github.com/raakeshmj/activationplane/internal/metrics"
	"github.com/raakeshmj/activationplane/internal/middleware"
	"github.com/raakeshmj/activationplane/internal/nonce"
	"github.com/raakeshmj/activationplane/internal/repository"
	"github.com/raakeshmj/activationplane/internal/repository/memory"
	"github.com/raakeshmj/activationplane/internal/repository/postgres"
	"github.com/raakeshmj/activationplane/internal/service"
)

type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	router *http.ServeMux

	verifySvc *service.VerifyService
	codeSvc   *service.CodeService
	adminSvc  *service.AdminService

	recorder  *audit.Recorder
	collector *metrics.Collector
	session   *middleware.SessionAuth

	redisClient *redis.Client // nil in dev mode
	pg          *postgres.Store
	memLedger   *nonce.MemoryLedger
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    http.NewServeMux(),
		collector: metrics.NewCollector(1000),
	}

	var (
		tenants repository.TenantRepository
		codes   repository.CodeRepository
		logs    repository.LogRepository
		ledger  nonce.Ledger
	)

	if cfg.DevMode {
		repo := memory.New()
		tenants, codes, logs = repo, repo, repo
		s.memLedger = nonce.NewMemoryLedger()
		ledger = s.memLedger
		logger.Warn("dev mode: using in-process stores, not suitable for multi-process deployments")
	} else {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.pg = pg
		tenants, codes, logs = pg, pg, pg

		s.redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ledger = nonce.NewRedisLedger(s.redisClient)
	}

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.SessionLifetime)

	s.verifySvc = service.NewVerifyService(tenants, codes, ledger)
	s.verifySvc.Configure(cfg.TimestampTolerance, cfg.NonceTTL)
	s.codeSvc = service.NewCodeService(codes)
	s.adminSvc = service.NewAdminService(tenants, tokens)
	s.recorder = audit.NewRecorder(logs, logger)
	s.session = middleware.NewSessionAuth(tokens)

	return s, nil
}

func (s *Server) routes() {
	// Liveness
	s.router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness: dependencies reachable
	s.router.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if s.redisClient != nil {
			if err := s.redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "Redis Unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		if s.pg != nil {
			if err := s.pg.Ping(ctx); err != nil {
				http.Error(w, "Database Unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	s.router.HandleFunc("GET /api/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.collector.GetStats())
	})

	// Consumer endpoint: signature-authenticated, no session
	s.router.HandleFunc("POST /api/v1/verify", s.VerifyHandler)

	// Admin surface
	s.router.HandleFunc("POST /admin/init", s.InitHandler)
	s.router.HandleFunc("POST /admin/login", s.LoginHandler)
	s.router.HandleFunc("POST /admin/logout", s.LogoutHandler)

	protected := func(h http.HandlerFunc) http.Handler {
		return s.session.Handle(h)
	}
	s.router.Handle("PUT /admin/password", protected(s.ChangePasswordHandler))
	s.router.Handle("GET /admin/api-keys", protected(s.GetKeysHandler))
	s.router.Handle("POST /admin/api-keys/regenerate", protected(s.RegenerateKeysHandler))
	s.router.Handle("POST /admin/codes", protected(s.CreateCodeHandler))
	s.router.Handle("GET /admin/codes", protected(s.ListCodesHandler))
	s.router.Handle("GET /admin/codes/{id}", protected(s.GetCodeHandler))
	s.router.Handle("PUT /admin/codes/{id}/revoke", protected(s.RevokeCodeHandler))
	s.router.Handle("DELETE /admin/codes/{id}", protected(s.DeleteCodeHandler))
}

// Handler builds the full middleware chain around the router. Split out so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	s.routes()
	return middleware.Chain(s.router,
		middleware.RequestLogger(s.logger, s.collector),
		middleware.SecureHeaders(),
	)
}

func (s *Server) Start() error {
	srv := &http.Server{
		Addr:    ":" + s.cfg.ServerPort,
		Handler: s.Handler(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("port", s.cfg.ServerPort))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("shutdown started", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	s.close()
	return nil
}

func (s *Server) close() {
	if s.pg != nil {
		s.pg.Close()
	}
	if s.redisClient != nil {
		s.redisClient.Close()
	}
	if s.memLedger != nil {
		s.memLedger.Close()
	}
}
