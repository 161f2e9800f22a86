package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// AuthHandler provides account and session endpoints.
type AuthHandler struct {
	users   *services.UserService
	tokens  *auth.TokenManager
	revoker auth.Revoker
	logger  *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(users *services.UserService, tokens *auth.TokenManager, revoker auth.Revoker, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:   users,
		tokens:  tokens,
		revoker: revoker,
		logger:  logger,
	}
}

// AuthRouter registers auth routes on the given router. loginLimit wraps the
// login endpoint.
func AuthRouter(r chi.Router, h *AuthHandler, authn *Authenticator, loginLimit func(http.Handler) http.Handler) {
	r.With(authn.Optional).Get("/", h.Home)
	r.Get("/register", h.RegisterForm)
	r.With(authn.Optional).Post("/register", h.Register)
	r.With(loginLimit).Post("/login", h.Login)
	r.With(authn.Require).Get("/logout", h.Logout)
	r.With(authn.Require).Post("/logout", h.Logout)
	r.With(authn.RequireRole()).Get("/me", h.Me)
}

// Home redirects the caller to the dashboard of their role.
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	target := "/login"
	if id, ok := auth.FromContext(r.Context()); ok {
		user, err := h.users.GetByID(r.Context(), id.UserID)
		if err == nil {
			target = dashboardPath(user.Role)
		} else if !errors.Is(err, store.ErrNotFound) {
			writeServiceError(w, h.logger, err, "user")
			return
		}
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func dashboardPath(role types.RoleName) string {
	switch role {
	case types.RoleAdministrator:
		return "/admin"
	case types.RoleLibrarian:
		return "/librarian_dashboard"
	case types.RoleStudent:
		return "/student_dashboard"
	default:
		return "/login"
	}
}

// RegisterForm lists the roles that can be selected at registration.
func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "roles")
		return
	}
	writeJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

// Register creates a new account. Registering an Administrator requires an
// Administrator caller.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var callerRole types.RoleName
	if id, ok := auth.FromContext(r.Context()); ok {
		caller, err := h.users.GetByID(r.Context(), id.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			writeServiceError(w, h.logger, err, "user")
			return
		}
		callerRole = caller.Role
	}

	user, err := h.users.Register(r.Context(), services.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     types.RoleName(strings.TrimSpace(req.Role)),
	}, callerRole)
	if err != nil {
		if errors.Is(err, services.ErrRoleNotFound) {
			writeError(w, http.StatusBadRequest, "role "+req.Role+" not found, please contact the administrator")
			return
		}
		writeServiceError(w, h.logger, err, "user")
		return
	}

	writeJSON(w, http.StatusCreated, UserResponse{Message: "Account created successfully! Please login.", User: user})
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}

	token, id, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("issue token", zap.Int("user_id", user.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     token,
		ExpiresAt: id.ExpiresAt,
		Redirect:  dashboardPath(user.Role),
		User:      user,
	})
}

// Logout revokes the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := revokeIdentity(r, h.revoker); err != nil {
		h.logger.Error("revoke token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "You have been logged out.", LoggedOut: true})
}

func revokeIdentity(r *http.Request, revoker auth.Revoker) error {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil
	}
	return revoker.Revoke(r.Context(), id.TokenID, time.Until(id.ExpiresAt))
}

// Me returns the current authenticated user.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), id.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (req *RegisterRequest) decodeForm(form url.Values) {
	req.Username = form.Get("username")
	req.Email = form.Get("email")
	req.Password = form.Get("password")
	req.Role = form.Get("role")
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (req *LoginRequest) decodeForm(form url.Values) {
	req.Email = form.Get("email")
	req.Password = form.Get("password")
}

type AuthResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
	Redirect  string     `json:"redirect"`
	User      types.User `json:"user"`
}

type UserResponse struct {
	Message   string     `json:"message"`
	User      types.User `json:"user"`
	LoggedOut bool       `json:"logged_out,omitempty"`
}

type RolesResponse struct {
	Roles []types.Role `json:"roles"`
}
