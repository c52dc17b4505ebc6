// Package audit writes structured records of security-relevant actions.
// Events go through slog so deployments route them with the rest of the
// process logs.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Event identifies the type of action being logged.
type Event string

const (
	LoginSuccess     Event = "login_success"
	LoginFailure     Event = "login_failure"
	LoginRateLimited Event = "login_rate_limited"
	Logout           Event = "logout"
	SessionsRevoked  Event = "sessions_revoked"
	UserCreated      Event = "user_created"
	UserDeactivated  Event = "user_deactivated"
	ItemClaimed      Event = "item_claimed"
	ClaimReleased    Event = "claim_released"
	ClaimOverride    Event = "claim_override"
	DecisionRecorded Event = "decision_recorded"
	DecisionOverride Event = "decision_override"
)

// Logger wraps slog.Logger for structured audit records.
type Logger struct {
	log  *slog.Logger
	nowF func() time.Time
}

// New returns a Logger writing through log. A nil log uses slog.Default.
func New(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{
		log:  log.With("component", "audit"),
		nowF: time.Now,
	}
}

// Log writes one audit record.
func (l *Logger) Log(ctx context.Context, event Event, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", l.nowF().UTC().Format(time.RFC3339)),
	}
	base = append(base, attrs...)
	l.log.LogAttrs(ctx, slog.LevelInfo, "audit", base...)
}

// User is a convenience for records attributed to a user ID.
func (l *Logger) User(ctx context.Context, event Event, userID int64, attrs ...slog.Attr) {
	l.Log(ctx, event, append([]slog.Attr{slog.Int64("user_id", userID)}, attrs...)...)
}
