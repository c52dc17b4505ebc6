package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slipway-hq/slipway/store"
)

const itemColumns = `id, project_name, project_type, submitter, status, custom_bounty,
	claimant_id, claimed_at, reviewer_id, decided_at, created_at`

func scanItem(row pgx.Row) (*store.Item, error) {
	var it store.Item
	err := row.Scan(&it.ID, &it.ProjectName, &it.ProjectType, &it.Submitter, &it.Status,
		&it.CustomBounty, &it.ClaimantID, &it.ClaimedAt, &it.ReviewerID, &it.DecidedAt, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) CreateItem(ctx context.Context, it *store.Item) error {
	if it.Status == "" {
		it.Status = store.StatusPending
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO items (project_name, project_type, submitter, status, custom_bounty, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		it.ProjectName, it.ProjectType, it.Submitter, it.Status, it.CustomBounty, it.CreatedAt).Scan(&it.ID)
}

func (s *Store) GetItem(ctx context.Context, id int64) (*store.Item, error) {
	return scanItem(s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
}

func (s *Store) ListItems(ctx context.Context, f store.ItemFilter) ([]*store.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items WHERE ($1 = '' OR status = $1) AND ($2 = '' OR project_type = $2)`
	if f.OldestFirst {
		q += ` ORDER BY created_at ASC`
	} else {
		q += ` ORDER BY created_at DESC`
	}
	rows, err := s.pool.Query(ctx, q, string(f.Status), f.ProjectType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ClaimItem is a single conditional UPDATE: the claim succeeds only when the
// item is pending and unclaimed, the existing lease has expired, or the
// caller already holds it (in which case claimed_at is left untouched). When
// the update matches no row, a follow-up SELECT distinguishes not-found,
// already-resolved, and an active conflicting lease.
func (s *Store) ClaimItem(ctx context.Context, id, userID int64, now time.Time, lease time.Duration) (*store.Item, error) {
	expiredBefore := now.Add(-lease)
	it, err := scanItem(s.pool.QueryRow(ctx,
		`UPDATE items
		 SET claimant_id = $2,
		     claimed_at = CASE WHEN claimant_id = $2 AND claimed_at > $3 THEN claimed_at ELSE $4 END
		 WHERE id = $1
		   AND status = 'pending'
		   AND (claimant_id IS NULL OR claimed_at <= $3 OR claimant_id = $2)
		 RETURNING `+itemColumns, id, userID, expiredBefore, now.UTC()))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// The conditional update matched nothing; find out why.
	cur, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != store.StatusPending {
		return nil, store.ErrItemResolved
	}
	if cur.ClaimantID != nil && cur.ClaimedAt != nil {
		return nil, &store.ClaimConflictError{HolderID: *cur.ClaimantID, ExpiresAt: cur.ClaimedAt.Add(lease)}
	}
	// The item freed up between the two statements; report a transient
	// conflict rather than retrying internally.
	return nil, &store.ClaimConflictError{HolderID: 0, ExpiresAt: now}
}

func (s *Store) ReleaseItem(ctx context.Context, id, userID int64, force bool) error {
	var tagQuery string
	var args []any
	if force {
		tagQuery = `UPDATE items SET claimant_id = NULL, claimed_at = NULL WHERE id = $1`
		args = []any{id}
	} else {
		tagQuery = `UPDATE items SET claimant_id = NULL, claimed_at = NULL WHERE id = $1 AND claimant_id = $2`
		args = []any{id, userID}
	}
	tag, err := s.pool.Exec(ctx, tagQuery, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetItem(ctx, id); err != nil {
			return err
		}
		if force {
			return nil // item exists, lease already clear
		}
		return store.ErrNotHolder
	}
	return nil
}

func (s *Store) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM items WHERE status = 'pending' AND created_at < $1`, cutoff).Scan(&n)
	return n, err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (*store.QueueStats, error) {
	day := now.UTC()
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	st := &store.QueueStats{}
	err := s.pool.QueryRow(ctx,
		`SELECT
		   count(*) FILTER (WHERE status = 'pending'),
		   count(*) FILTER (WHERE status = 'approved'),
		   count(*) FILTER (WHERE status = 'rejected'),
		   count(*) FILTER (WHERE decided_at >= $1),
		   count(*) FILTER (WHERE created_at >= $1)
		 FROM items`, startOfDay).Scan(&st.Pending, &st.Approved, &st.Rejected, &st.DecisionsToday, &st.NewItemsToday)
	if err != nil {
		return nil, err
	}
	if judged := st.Approved + st.Rejected; judged > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(judged) * 100
	}
	return st, nil
}
