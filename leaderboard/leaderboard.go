// Package leaderboard ranks reviewers by completed decisions over a period
// and maps ranks to payout multipliers. Rankings are computed on demand from
// decision history; only the multiplier applied to a specific payout is ever
// persisted, as a snapshot taken when the decision is recorded.
package leaderboard

import (
	"context"
	"sort"
	"time"

	"github.com/slipway-hq/slipway/store"
)

// Rank multipliers for the top three places. Everyone else earns 1x.
const (
	FirstPlaceMultiplier  = 1.75
	SecondPlaceMultiplier = 1.5
	ThirdPlaceMultiplier  = 1.25
)

// Entry is one row of a computed ranking.
type Entry struct {
	ReviewerID     int64   `json:"reviewer_id"`
	CompletedCount int     `json:"completed_count"`
	Rank           int     `json:"rank"`
	Multiplier     float64 `json:"multiplier"`
}

// Ranker computes reviewer rankings from recorded decisions. The system
// reviewer, which auto-resolves stale items, is excluded from every ranking.
type Ranker struct {
	store          store.DecisionStore
	systemReviewer int64
}

// NewRanker returns a Ranker over st. systemReviewer is the automation
// identity to exclude; pass zero if none exists.
func NewRanker(st store.DecisionStore, systemReviewer int64) *Ranker {
	return &Ranker{store: st, systemReviewer: systemReviewer}
}

// Rank returns reviewers ordered by decisions completed in [start, end),
// most first. Ties break by lower reviewer ID so repeated runs over the same
// decisions produce the same order. Ranks are dense positions starting at 1.
func (r *Ranker) Rank(ctx context.Context, start, end time.Time) ([]Entry, error) {
	counts, err := r.store.DecisionCounts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(counts))
	for _, c := range counts {
		if r.systemReviewer != 0 && c.ReviewerID == r.systemReviewer {
			continue
		}
		entries = append(entries, Entry{ReviewerID: c.ReviewerID, CompletedCount: c.Count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompletedCount != entries[j].CompletedCount {
			return entries[i].CompletedCount > entries[j].CompletedCount
		}
		return entries[i].ReviewerID < entries[j].ReviewerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
		entries[i].Multiplier = MultiplierForRank(i + 1)
	}
	return entries, nil
}

// MultiplierForRank maps a ranking position to its payout multiplier.
// Rank 0 means unranked.
func MultiplierForRank(rank int) float64 {
	switch rank {
	case 1:
		return FirstPlaceMultiplier
	case 2:
		return SecondPlaceMultiplier
	case 3:
		return ThirdPlaceMultiplier
	default:
		return 1
	}
}

// SnapshotMultiplier returns the multiplier reviewerID holds in the ranking
// as it stands right now. Callers persist the result with the payout record;
// the stored value never changes when later decisions reshuffle the board.
func (r *Ranker) SnapshotMultiplier(ctx context.Context, reviewerID int64, start, end time.Time) (float64, error) {
	entries, err := r.Rank(ctx, start, end)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.ReviewerID == reviewerID {
			return e.Multiplier, nil
		}
	}
	return 1, nil
}

// WeekWindow returns the [start, end) of the calendar week containing now,
// weeks starting Monday 00:00 UTC.
func WeekWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -daysSinceMonday)
	return start, start.AddDate(0, 0, 7)
}

// DayWindow returns the [start, end) of the UTC day containing now.
func DayWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}
