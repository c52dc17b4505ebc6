// Package review records verdicts on queue items. Recording computes the
// payout for the deciding reviewer — base rate by project type, wait-time and
// verdict adjustments, the reviewer's leaderboard multiplier snapshotted at
// this instant, and a daily-volume bonus — and persists everything with the
// decision in one store transaction.
package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slipway-hq/slipway/audit"
	"github.com/slipway-hq/slipway/claim"
	"github.com/slipway-hq/slipway/leaderboard"
	"github.com/slipway-hq/slipway/store"
)

// Rates is the base payout per project type. Types not listed pay the
// default rate.
var Rates = map[string]float64{
	"Desktop App (Windows)": 1.5,
	"Desktop App (Linux)":   1.5,
	"Desktop App (macOS)":   1.5,
	"Android App":           1.5,
	"iOS App":               1.5,
	"Other":                 1.5,
	"CLI":                   1,
	"Cargo":                 1,
	"Minecraft Mods":        1,
	"Steam Games":           1,
	"PyPI":                  1,
	"Hardware":              1,
	"Extension":             1,
	"Web App":               0.6,
	"Chat Bot":              0.6,
}

const defaultRate = 1.0

// BaseRate returns the base payout for a project type.
func BaseRate(projectType string) float64 {
	if rate, ok := Rates[projectType]; ok {
		return rate
	}
	return defaultRate
}

// Wait-time adjustment. Items that sat in the queue pay more; brand-new
// items pay less, but only while a backlog of old items is waiting.
const (
	newItemAge        = 8 * time.Hour
	normalItemAge     = 24 * time.Hour
	oldItemAge        = 7 * 24 * time.Hour
	oldItemMult       = 1.2
	ancientItemMult   = 1.5
	freshPenaltyMult  = 0.8
	freshPenaltyCount = 7
)

// rejectedMult discounts rejections, which take less scrutiny than a full
// approval pass.
const rejectedMult = 0.8

// Daily-volume multipliers.
const (
	firstOfDayMult = 1.5
	heavyDayCount  = 15
	heavyDayMult   = 1.3
	steadyDayCount = 7
	steadyDayMult  = 1.2
)

// Service records decisions and their payouts.
type Service struct {
	store  store.Store
	ranker *leaderboard.Ranker
	audit  *audit.Logger
	lease  time.Duration
	nowF   func() time.Time
}

// NewService returns a decision Service. lease is the claim lease duration,
// used only to decide whether an override event should be logged.
func NewService(st store.Store, ranker *leaderboard.Ranker, auditLog *audit.Logger, lease time.Duration) *Service {
	if auditLog == nil {
		auditLog = audit.New(nil)
	}
	return &Service{
		store:  st,
		ranker: ranker,
		audit:  auditLog,
		lease:  lease,
		nowF:   time.Now,
	}
}

// Record applies a verdict to an item. The payout multipliers are computed
// against the queue and leaderboard as they stand right now, then persisted
// with the decision; the item is resolved and its lease cleared in the same
// transaction. Deciding on an item someone else currently holds is allowed
// and logged as an override.
func (s *Service) Record(ctx context.Context, itemID, reviewerID int64, verdict store.Verdict) (*store.Decision, error) {
	now := s.nowF()

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != store.StatusPending {
		return nil, store.ErrItemResolved
	}

	d, err := s.buildDecision(ctx, item, reviewerID, verdict, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.RecordDecision(ctx, d); err != nil {
		return nil, err
	}

	s.audit.User(ctx, audit.DecisionRecorded, reviewerID,
		slog.Int64("item_id", itemID),
		slog.String("verdict", string(verdict)),
		slog.Float64("payout", d.Payout))
	if item.ClaimantID != nil && *item.ClaimantID != reviewerID && claim.Active(item, now, s.lease) {
		s.audit.User(ctx, audit.DecisionOverride, reviewerID,
			slog.Int64("item_id", itemID),
			slog.Int64("holder_id", *item.ClaimantID))
	}
	return d, nil
}

func (s *Service) buildDecision(ctx context.Context, item *store.Item, reviewerID int64, verdict store.Verdict, now time.Time) (*store.Decision, error) {
	waitMult, err := s.waitMultiplier(ctx, item.CreatedAt, now)
	if err != nil {
		return nil, err
	}

	verdictMult := 1.0
	if verdict == store.VerdictRejected {
		verdictMult = rejectedMult
	}

	weekStart, weekEnd := leaderboard.WeekWindow(now)
	rankMult, err := s.ranker.SnapshotMultiplier(ctx, reviewerID, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}

	dailyMult, err := s.dailyMultiplier(ctx, reviewerID, now)
	if err != nil {
		return nil, err
	}

	base := BaseRate(item.ProjectType)
	payout := base*waitMult*verdictMult*rankMult*dailyMult + item.CustomBounty

	return &store.Decision{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		ReviewerID:  reviewerID,
		Verdict:     verdict,
		Base:        base,
		WaitMult:    waitMult,
		VerdictMult: verdictMult,
		Multiplier:  rankMult,
		DailyMult:   dailyMult,
		Bounty:      item.CustomBounty,
		Payout:      payout,
		DecidedAt:   now,
	}, nil
}

// waitMultiplier rewards clearing old items. Taking a brand-new item is
// penalized only when at least freshPenaltyCount older items are waiting.
func (s *Service) waitMultiplier(ctx context.Context, createdAt, now time.Time) (float64, error) {
	age := now.Sub(createdAt)
	switch {
	case age > oldItemAge:
		return ancientItemMult, nil
	case age > normalItemAge:
		return oldItemMult, nil
	case age >= newItemAge:
		return 1, nil
	}

	backlog, err := s.store.CountPendingOlderThan(ctx, now.Add(-newItemAge))
	if err != nil {
		return 0, err
	}
	if backlog >= freshPenaltyCount {
		return freshPenaltyMult, nil
	}
	return 1, nil
}

func (s *Service) dailyMultiplier(ctx context.Context, reviewerID int64, now time.Time) (float64, error) {
	dayStart, dayEnd := leaderboard.DayWindow(now)
	count, err := s.store.CountDecisionsByReviewer(ctx, reviewerID, dayStart, dayEnd)
	if err != nil {
		return 0, err
	}
	switch {
	case count == 0:
		return firstOfDayMult, nil
	case count >= heavyDayCount:
		return heavyDayMult, nil
	case count >= steadyDayCount:
		return steadyDayMult, nil
	default:
		return 1, nil
	}
}
