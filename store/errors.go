package store

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrItemResolved indicates the item already carries a verdict and can no
	// longer be claimed or decided.
	ErrItemResolved = errors.New("item already resolved")
	// ErrNotHolder indicates a release was attempted by someone other than
	// the current lease holder without force.
	ErrNotHolder = errors.New("not the lease holder")
	// ErrDuplicate indicates a unique constraint violation (username, token).
	ErrDuplicate = errors.New("duplicate record")
)

// ClaimConflictError reports a claim rejected because another holder's lease
// is still active. Callers surface the holder and expiry so the UI can render
// who holds the item and when it frees up.
type ClaimConflictError struct {
	HolderID  int64
	ExpiresAt time.Time
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("item claimed by user %d until %s", e.HolderID, e.ExpiresAt.UTC().Format(time.RFC3339))
}
