package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// RequestLogger logs one line per request at a level matching its status.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", r.RemoteAddr),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request", fields...)
			case status >= http.StatusBadRequest:
				logger.Warn("request", fields...)
			default:
				logger.Info("request", fields...)
			}
		})
	}
}

// UserLoader reloads the caller on every guarded request.
type UserLoader interface {
	GetByID(ctx context.Context, id int) (types.User, error)
}

// Authenticator verifies bearer tokens and guards routes by role.
type Authenticator struct {
	tokens  *auth.TokenManager
	revoker auth.Revoker
	users   UserLoader
	logger  *zap.Logger
}

func NewAuthenticator(tokens *auth.TokenManager, revoker auth.Revoker, users UserLoader, logger *zap.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, revoker: revoker, users: users, logger: logger}
}

var errRevoked = errors.New("token revoked")

func (a *Authenticator) identify(r *http.Request) (auth.Identity, error) {
	tokenString, err := bearerToken(r)
	if err != nil {
		return auth.Identity{}, err
	}
	id, err := a.tokens.Parse(tokenString)
	if err != nil {
		return auth.Identity{}, err
	}
	revoked, err := a.revoker.IsRevoked(r.Context(), id.TokenID)
	if err != nil {
		return auth.Identity{}, err
	}
	if revoked {
		return auth.Identity{}, errRevoked
	}
	return id, nil
}

// Optional places the caller's identity in the context when a valid token
// is presented and otherwise lets the request through anonymously.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// Require rejects requests without a valid, unrevoked token.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			if !errors.Is(err, auth.ErrTokenInvalid) && !errors.Is(err, auth.ErrTokenExpired) &&
				!errors.Is(err, errRevoked) && !errors.Is(err, errMissingToken) {
				a.logger.Error("token check failed", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "you need to be logged in to view this page")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// RequireRole authenticates the caller, reloads their account so role
// changes and deletions apply to tokens already issued, and admits only
// the given roles. No roles admits any authenticated caller.
func (a *Authenticator) RequireRole(roles ...types.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := a.refresh(r.Context())
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "you need to be logged in to view this page")
					return
				}
				a.logger.Error("load caller", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			switch auth.Authorize(ctx, roles...) {
			case auth.Allowed:
				next.ServeHTTP(w, r.WithContext(ctx))
			case auth.Unauthenticated:
				writeError(w, http.StatusUnauthorized, "you need to be logged in to view this page")
			default:
				writeError(w, http.StatusForbidden, "you do not have permission to view this page")
			}
		}))
	}
}

// refresh replaces the role carried by the token with the stored one.
func (a *Authenticator) refresh(ctx context.Context) (context.Context, error) {
	id, ok := auth.FromContext(ctx)
	if !ok {
		return ctx, nil
	}
	user, err := a.users.GetByID(ctx, id.UserID)
	if err != nil {
		return ctx, err
	}
	id.Role = user.Role
	return auth.WithIdentity(ctx, id), nil
}

// RateLimiter counts hits per key in a fixed window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit admits at most limit requests per client IP and window. A nil
// limiter disables the check; limiter failures let the request through.
func RateLimit(limiter RateLimiter, scope string, limit int, window time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + clientIP(r)
			ok, err := limiter.Allow(r.Context(), key, limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				writeError(w, http.StatusTooManyRequests, "too many attempts, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var errMissingToken = errors.New("missing authorization")

func bearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", auth.ErrTokenInvalid
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", auth.ErrTokenInvalid
	}
	return token, nil
}
