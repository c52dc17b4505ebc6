package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/internal/util"
	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/store"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Active   bool   `json:"active"`
}

// CreateUser provisions an account with a role from the closed role set.
func (a *API) CreateUser(w http.ResponseWriter, r *http.Request) {
	caller := requestUser(r)
	if !a.require(w, caller, perms.UsersAdd) {
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	username := util.NormalizeUsername(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	if !perms.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	hash, salt, err := util.HashPassword(req.Password, util.DefaultArgon2idParams())
	if err != nil {
		mapError(w, err)
		return
	}
	u := &store.User{
		Username:     username,
		Role:         req.Role,
		Active:       true,
		PasswordHash: hash,
		PasswordSalt: salt,
	}
	if err := a.store.CreateUser(r.Context(), u); err != nil {
		mapError(w, err)
		return
	}

	a.audit.User(r.Context(), audit.UserCreated, caller.ID,
		slog.Int64("created_id", u.ID), slog.String("role", u.Role))
	writeJSON(w, http.StatusCreated, userResponse{
		ID: u.ID, Username: u.Username, Role: u.Role, Active: u.Active,
	})
}

// DeactivateUser disables an account and kills all of its sessions. An
// inactive user fails validation everywhere within the session cache TTL.
func (a *API) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	caller := requestUser(r)
	if !a.require(w, caller, perms.UsersAdmin) {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := a.store.SetUserActive(r.Context(), userID, false); err != nil {
		mapError(w, err)
		return
	}
	if err := a.sessions.InvalidateAll(r.Context(), userID); err != nil {
		mapError(w, err)
		return
	}

	a.audit.User(r.Context(), audit.UserDeactivated, caller.ID, slog.Int64("target_id", userID))
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSessions force-logs a user out of every device without disabling the
// account.
func (a *API) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	caller := requestUser(r)
	if !a.require(w, caller, perms.UsersAdmin) {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	if err := a.sessions.InvalidateAll(r.Context(), userID); err != nil {
		mapError(w, err)
		return
	}

	a.audit.User(r.Context(), audit.SessionsRevoked, caller.ID, slog.Int64("target_id", userID))
	w.WriteHeader(http.StatusNoContent)
}
