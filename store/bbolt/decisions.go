package bbolt

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/slipway-hq/slipway/store"
)

// RecordDecision writes the decision and resolves the item in one
// transaction: status, reviewer, and decided-at are set and the claim lease
// is cleared regardless of holder. A crash cannot leave a decision without
// its resolved item or a held lease on a decided item.
func (s *Store) RecordDecision(ctx context.Context, d *store.Decision) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		items := tx.Bucket(itemsBucket)
		var it store.Item
		if err := getJSON(items, itob(d.ItemID), &it); err != nil {
			return err
		}
		if it.Status != store.StatusPending {
			return store.ErrItemResolved
		}
		decidedAt := d.DecidedAt.UTC()
		it.Status = store.ItemStatus(d.Verdict)
		it.ReviewerID = &d.ReviewerID
		it.DecidedAt = &decidedAt
		it.ClaimantID = nil
		it.ClaimedAt = nil
		if err := putJSON(items, itob(d.ItemID), &it); err != nil {
			return err
		}
		return putJSON(tx.Bucket(decisionsBucket), []byte(d.ID), d)
	})
}

func (s *Store) GetDecision(ctx context.Context, id string) (*store.Decision, error) {
	var d store.Decision
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(decisionsBucket), []byte(id), &d)
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DecisionCounts(ctx context.Context, start, end time.Time) ([]store.ReviewerCount, error) {
	counts := make(map[int64]int)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(decisionsBucket).ForEach(func(_, v []byte) error {
			var d store.Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.DecidedAt.Before(start) || !d.DecidedAt.Before(end) {
				return nil
			}
			counts[d.ReviewerID]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]store.ReviewerCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, store.ReviewerCount{ReviewerID: id, Count: n})
	}
	return out, nil
}

func (s *Store) CountDecisionsByReviewer(ctx context.Context, reviewerID int64, start, end time.Time) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(decisionsBucket).ForEach(func(_, v []byte) error {
			var d store.Decision
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ReviewerID != reviewerID {
				return nil
			}
			if d.DecidedAt.Before(start) || !d.DecidedAt.Before(end) {
				return nil
			}
			n++
			return nil
		})
	})
	return n, err
}
