package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/config"
	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/cache"
	"github.com/libraryd/apiserver/internal/db"
	"github.com/libraryd/apiserver/internal/handlers"
	"github.com/libraryd/apiserver/internal/mq"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/storage"
	"github.com/libraryd/apiserver/internal/store"
)

// Dependencies are the collaborators the router is built from.
type Dependencies struct {
	Users   *services.UserService
	Books   *services.BookService
	Borrows *services.BorrowService
	Tokens  *auth.TokenManager
	Revoker auth.Revoker

	// Limiter throttles logins; nil disables throttling.
	Limiter handlers.RateLimiter
	// DB is pinged by /healthz; nil skips the check.
	DB handlers.Pinger

	Auth   config.AuthConfig
	Logger *zap.Logger
}

// NewRouter builds the chi router with middleware and all routes.
func NewRouter(deps Dependencies) *chi.Mux {
	authn := handlers.NewAuthenticator(deps.Tokens, deps.Revoker, deps.Users, deps.Logger)
	loginLimit := handlers.RateLimit(deps.Limiter, "login", deps.Auth.LoginRateLimit, deps.Auth.LoginRateWindow, deps.Logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(deps.Logger),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(deps.DB))

	handlers.AuthRouter(router, handlers.NewAuthHandler(deps.Users, deps.Tokens, deps.Revoker, deps.Logger), authn, loginLimit)
	handlers.AdminRouter(router, handlers.NewAdminHandler(deps.Users, deps.Revoker, deps.Logger), authn)
	handlers.LibrarianRouter(router, handlers.NewLibrarianHandler(deps.Books, deps.Borrows, deps.Logger), authn)
	handlers.StudentRouter(router, handlers.NewStudentHandler(deps.Borrows, deps.Logger), authn)
	handlers.CoverRouter(router, handlers.NewCoverHandler(deps.Books, deps.Logger), authn)
	return router
}

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	redis      *cache.RedisClient
	broker     mq.Backend
	logger     *zap.Logger
}

// New connects to every configured backend, seeds the roles and builds the
// router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{db: dbConn, logger: logger}

	deps := Dependencies{
		Tokens: auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		DB:     dbConn,
		Auth:   cfg.Auth,
		Logger: logger,
	}

	if cfg.Redis.Addr != "" {
		s.redis, err = cache.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		deps.Revoker = s.redis
		deps.Limiter = s.redis
	} else {
		logger.Warn("redis not configured, token revocation is kept in memory and logins are not rate limited")
		deps.Revoker = auth.NewMemoryRevoker()
	}

	s.broker, err = mq.NewBackend(ctx, cfg.MQ, logger)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect mq: %w", err)
	}

	covers, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("connect storage: %w", err)
	}
	if covers == nil {
		logger.Info("object storage not configured, book covers are disabled")
	}

	userRepo := store.NewUserRepository(dbConn)
	roleRepo := store.NewRoleRepository(dbConn)
	bookRepo := store.NewBookRepository(dbConn)
	borrowRepo := store.NewBorrowRepository(dbConn)

	deps.Users = services.NewUserService(userRepo, roleRepo, logger)
	deps.Books = services.NewBookService(bookRepo, covers, logger)

	var borrowOpts []services.BorrowServiceOption
	if s.broker != nil {
		borrowOpts = append(borrowOpts, services.WithEventPublisher(mq.NewBorrowEventPublisher(s.broker, cfg.MQ.BorrowEventsChannel)))
	}
	deps.Borrows = services.NewBorrowService(borrowRepo, bookRepo, logger, borrowOpts...)

	if err := deps.Users.SeedRoles(ctx); err != nil {
		s.close()
		return nil, fmt.Errorf("seed roles: %w", err)
	}

	s.router = NewRouter(deps)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.broker != nil {
		if err := s.broker.Close(); err != nil {
			s.logger.Warn("close mq", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", zap.Error(err))
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
