package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slipway-hq/slipway/store"
)

// RecordDecision writes the decision row and resolves the item in one
// transaction. The item update is conditional on status = 'pending', so a
// concurrent decision on the same item loses with ErrItemResolved.
func (s *Store) RecordDecision(ctx context.Context, d *store.Decision) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE items
		 SET status = $2, reviewer_id = $3, decided_at = $4, claimant_id = NULL, claimed_at = NULL
		 WHERE id = $1 AND status = 'pending'`,
		d.ItemID, string(d.Verdict), d.ReviewerID, d.DecidedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetItem(ctx, d.ItemID); err != nil {
			return err
		}
		return store.ErrItemResolved
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO decisions (id, item_id, reviewer_id, verdict, base, wait_mult, verdict_mult, multiplier, daily_mult, bounty, payout, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.ItemID, d.ReviewerID, string(d.Verdict), d.Base, d.WaitMult, d.VerdictMult,
		d.Multiplier, d.DailyMult, d.Bounty, d.Payout, d.DecidedAt.UTC())
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetDecision(ctx context.Context, id string) (*store.Decision, error) {
	var d store.Decision
	var verdict string
	err := s.pool.QueryRow(ctx,
		`SELECT id, item_id, reviewer_id, verdict, base, wait_mult, verdict_mult, multiplier, daily_mult, bounty, payout, decided_at
		 FROM decisions WHERE id = $1`, id).Scan(
		&d.ID, &d.ItemID, &d.ReviewerID, &verdict, &d.Base, &d.WaitMult, &d.VerdictMult,
		&d.Multiplier, &d.DailyMult, &d.Bounty, &d.Payout, &d.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Verdict = store.Verdict(verdict)
	return &d, nil
}

func (s *Store) DecisionCounts(ctx context.Context, start, end time.Time) ([]store.ReviewerCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT reviewer_id, count(*)
		 FROM decisions
		 WHERE decided_at >= $1 AND decided_at < $2
		 GROUP BY reviewer_id`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ReviewerCount
	for rows.Next() {
		var rc store.ReviewerCount
		if err := rows.Scan(&rc.ReviewerID, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *Store) CountDecisionsByReviewer(ctx context.Context, reviewerID int64, start, end time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM decisions
		 WHERE reviewer_id = $1 AND decided_at >= $2 AND decided_at < $3`,
		reviewerID, start, end).Scan(&n)
	return n, err
}
