package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/perms"
	"github.com/slipway-hq/slipway/session"
	"github.com/slipway-hq/slipway/store"
)

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClaimConflictResponse tells the caller who holds the lease and when it
// frees up, so the UI can render a countdown.
type ClaimConflictResponse struct {
	Error     string    `json:"error"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeRateLimited(w http.ResponseWriter, resetAt time.Time, now time.Time) {
	secs := int(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate limited; retry after "+strconv.Itoa(secs)+"s")
}

func mapError(w http.ResponseWriter, err error) {
	var conflict *claim.AlreadyClaimedError
	switch {
	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, session.ErrInactive):
		writeError(w, http.StatusForbidden, "account disabled")
	case errors.Is(err, perms.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ClaimConflictResponse{
			Error:     err.Error(),
			Holder:    conflict.Holder,
			ExpiresAt: conflict.ExpiresAt,
		})
	case errors.Is(err, store.ErrItemResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotHolder):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
