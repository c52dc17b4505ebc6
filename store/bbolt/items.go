package bbolt

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/slipway-hq/slipway/store"
)

func (s *Store) CreateItem(ctx context.Context, it *store.Item) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		id, err := nextSeq(tx, "items")
		if err != nil {
			return err
		}
		it.ID = id
		if it.Status == "" {
			it.Status = store.StatusPending
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now().UTC()
		}
		return putJSON(tx.Bucket(itemsBucket), itob(id), it)
	})
}

func (s *Store) GetItem(ctx context.Context, id int64) (*store.Item, error) {
	var it store.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(itemsBucket), itob(id), &it)
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Store) ListItems(ctx context.Context, f store.ItemFilter) ([]*store.Item, error) {
	var out []*store.Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(_, v []byte) error {
			var it store.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			if f.Status != "" && it.Status != f.Status {
				return nil
			}
			if f.ProjectType != "" && it.ProjectType != f.ProjectType {
				return nil
			}
			out = append(out, &it)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if f.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ClaimItem performs the conditional claim inside one update transaction, so
// two concurrent claimants serialize on the database write lock and exactly
// one wins.
func (s *Store) ClaimItem(ctx context.Context, id, userID int64, now time.Time, lease time.Duration) (*store.Item, error) {
	var claimed store.Item
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		var it store.Item
		if err := getJSON(b, itob(id), &it); err != nil {
			return err
		}
		if it.Status != store.StatusPending {
			return store.ErrItemResolved
		}
		if it.ClaimantID != nil && it.ClaimedAt != nil {
			expires := it.ClaimedAt.Add(lease)
			if expires.After(now) {
				if *it.ClaimantID == userID {
					claimed = it
					return nil
				}
				return &store.ClaimConflictError{HolderID: *it.ClaimantID, ExpiresAt: expires}
			}
		}
		claimedAt := now.UTC()
		it.ClaimantID = &userID
		it.ClaimedAt = &claimedAt
		if err := putJSON(b, itob(id), &it); err != nil {
			return err
		}
		claimed = it
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (s *Store) ReleaseItem(ctx context.Context, id, userID int64, force bool) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(itemsBucket)
		var it store.Item
		if err := getJSON(b, itob(id), &it); err != nil {
			return err
		}
		if !force && (it.ClaimantID == nil || *it.ClaimantID != userID) {
			return store.ErrNotHolder
		}
		it.ClaimantID = nil
		it.ClaimedAt = nil
		return putJSON(b, itob(id), &it)
	})
}

func (s *Store) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(_, v []byte) error {
			var it store.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			if it.Status == store.StatusPending && it.CreatedAt.Before(cutoff) {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (*store.QueueStats, error) {
	startOfDay := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	st := &store.QueueStats{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(itemsBucket).ForEach(func(_, v []byte) error {
			var it store.Item
			if err := json.Unmarshal(v, &it); err != nil {
				return err
			}
			switch it.Status {
			case store.StatusPending:
				st.Pending++
			case store.StatusApproved:
				st.Approved++
			case store.StatusRejected:
				st.Rejected++
			}
			if !it.CreatedAt.Before(startOfDay) {
				st.NewItemsToday++
			}
			if it.DecidedAt != nil && !it.DecidedAt.Before(startOfDay) {
				st.DecisionsToday++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if judged := st.Approved + st.Rejected; judged > 0 {
		st.ApprovalRate = float64(st.Approved) / float64(judged) * 100
	}
	return st, nil
}
