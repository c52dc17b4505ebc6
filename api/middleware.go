package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/session"
)

type contextKey int

const userKey contextKey = iota

const sessionCookieName = "slipway_session"

// AuthMiddleware resolves the session token from the cookie or an
// Authorization bearer header and stores the authenticated user on the
// request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.sessions.Validate(r.Context(), requestToken(r))
		if err != nil {
			mapError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestUser returns the authenticated user placed by AuthMiddleware.
func requestUser(r *http.Request) *session.User {
	u, _ := r.Context().Value(userKey).(*session.User)
	return u
}

func requestToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// require writes a 403 and returns false when the user lacks the capability.
func (a *API) require(w http.ResponseWriter, u *session.User, capability perms.Capability) bool {
	if !a.perms.Can(u.Role, capability) {
		mapError(w, perms.ErrForbidden)
		return false
	}
	return true
}
