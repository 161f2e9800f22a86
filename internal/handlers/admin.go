package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/internal/auth"
	"github.com/libraryd/apiserver/internal/services"
	"github.com/libraryd/apiserver/types"
)

// AdminHandler serves user management for Administrators.
type AdminHandler struct {
	users   *services.UserService
	revoker auth.Revoker
	logger  *zap.Logger
}

func NewAdminHandler(users *services.UserService, revoker auth.Revoker, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{users: users, revoker: revoker, logger: logger}
}

// AdminRouter registers the Administrator routes.
func AdminRouter(r chi.Router, h *AdminHandler, authn *Authenticator) {
	r.Group(func(r chi.Router) {
		r.Use(authn.RequireRole(types.RoleAdministrator))

		r.Get("/admin", h.ListUsers)
		r.Get("/edit_user/{userID}", h.EditUserForm)
		r.Post("/edit_user/{userID}", h.EditUser)
		r.Post("/delete_user/{userID}", h.DeleteUser)
		r.Get("/admin/add_user_form", h.AddUserForm)
		r.Post("/admin/add_user", h.AddUser)
	})
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "users")
		return
	}
	if users == nil {
		users = []types.User{}
	}
	writeJSON(w, http.StatusOK, UsersResponse{Users: users})
}

func (h *AdminHandler) EditUserForm(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "roles")
		return
	}
	writeJSON(w, http.StatusOK, EditUserResponse{User: user, Roles: roles})
}

// EditUser updates username, email and role. An Administrator who changes
// their own role is logged out.
func (h *AdminHandler) EditUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req UserRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	before, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}
	role, err := h.resolveRole(r, req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err, "role")
		return
	}

	user, err := h.users.Update(r.Context(), id, services.UserUpdate{
		Username: req.Username,
		Email:    req.Email,
		Role:     role,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}

	resp := UserResponse{Message: "User updated successfully!", User: user}
	caller, _ := auth.FromContext(r.Context())
	if caller.UserID == id && user.Role != before.Role {
		if err := revokeIdentity(r, h.revoker); err != nil {
			h.logger.Error("revoke token", zap.Int("user_id", id), zap.Error(err))
		}
		resp.LoggedOut = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteUser removes an account. Deleting oneself logs the caller out.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}

	caller, _ := auth.FromContext(r.Context())
	if caller.UserID == id {
		if err := revokeIdentity(r, h.revoker); err != nil {
			h.logger.Error("revoke token", zap.Int("user_id", id), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: "You have been logged out.", LoggedOut: true})
		return
	}
	writeMessage(w, http.StatusOK, "User deleted successfully.")
}

func (h *AdminHandler) AddUserForm(w http.ResponseWriter, r *http.Request) {
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err, "roles")
		return
	}
	writeJSON(w, http.StatusOK, RolesResponse{Roles: roles})
}

// AddUser creates an account with any role.
func (h *AdminHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := h.resolveRole(r, req.Role)
	if err != nil {
		writeServiceError(w, h.logger, err, "role")
		return
	}

	user, err := h.users.CreateUser(r.Context(), services.NewUser{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "user")
		return
	}
	writeJSON(w, http.StatusCreated, UserResponse{Message: "User added successfully.", User: user})
}

// resolveRole accepts a role name or the numeric ID of a role.
func (h *AdminHandler) resolveRole(r *http.Request, raw string) (types.RoleName, error) {
	raw = strings.TrimSpace(raw)
	roleID, err := strconv.Atoi(raw)
	if err != nil {
		return types.RoleName(raw), nil
	}
	roles, err := h.users.ListRoles(r.Context())
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.ID == roleID {
			return role.Name, nil
		}
	}
	return "", services.ErrRoleNotFound
}

type UserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (req *UserRequest) decodeForm(form url.Values) {
	req.Username = form.Get("username")
	req.Email = form.Get("email")
	req.Password = form.Get("password")
	req.Role = form.Get("role")
}

type UsersResponse struct {
	Users []types.User `json:"users"`
}

type EditUserResponse struct {
	User  types.User   `json:"user"`
	Roles []types.Role `json:"roles"`
}
