package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/internal/util"
	"github.com/slipway-hq/slipway/store"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Login authenticates a username/password pair and issues a session. The
// endpoint is rate limited per client IP; the failure message never reveals
// whether the username or the password was wrong.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if res := a.loginLimit(ip); !res.Allowed {
		a.audit.Log(r.Context(), audit.LoginRateLimited, slog.String("ip", ip))
		writeRateLimited(w, res.ResetAt, a.nowF())
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username := util.NormalizeUsername(req.Username)
	u, err := a.store.GetUserByUsername(r.Context(), username)
	if errors.Is(err, store.ErrNotFound) {
		a.audit.Log(r.Context(), audit.LoginFailure, slog.String("username", username), slog.String("ip", ip))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		mapError(w, err)
		return
	}
	if !util.VerifyPassword(req.Password, u.PasswordSalt, u.PasswordHash, util.DefaultArgon2idParams()) {
		a.audit.User(r.Context(), audit.LoginFailure, u.ID, slog.String("ip", ip))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if !u.Active {
		a.audit.User(r.Context(), audit.LoginFailure, u.ID, slog.String("ip", ip), slog.String("reason", "inactive"))
		writeError(w, http.StatusForbidden, "account disabled")
		return
	}

	token, err := a.sessions.Create(r.Context(), u.ID, r.UserAgent(), ip)
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.User(r.Context(), audit.LoginSuccess, u.ID, slog.String("ip", ip))
	a.setSessionCookie(w, token, a.nowF().Add(a.sessions.TTL()))
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: u.Username, Role: u.Role})
}

// Logout destroys the caller's session. Always succeeds, even with no valid
// session, so clients can log out unconditionally.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	token := requestToken(r)
	if token != "" {
		if err := a.sessions.Invalidate(r.Context(), token); err != nil {
			mapError(w, err)
			return
		}
		a.audit.Log(r.Context(), audit.Logout)
	}
	a.setSessionCookie(w, "", time.Unix(0, 0))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
