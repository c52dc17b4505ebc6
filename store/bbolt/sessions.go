package bbolt

import (
	"context"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"

	"github.com/slipway-hq/slipway/store"
)

func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b.Get([]byte(sess.Token)) != nil {
			return store.ErrDuplicate
		}
		return putJSON(b, []byte(sess.Token), sess)
	})
}

func (s *Store) GetSession(ctx context.Context, token string) (*store.Session, error) {
	var sess store.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(sessionsBucket), []byte(token), &sess)
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(token))
	})
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID int64) ([]*store.Session, error) {
	var out []*store.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			var sess store.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.UserID == userID {
				out = append(out, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ExtendSession(ctx context.Context, token string, expiresAt time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var sess store.Session
		if err := getJSON(b, []byte(token), &sess); err != nil {
			return err
		}
		sess.ExpiresAt = expiresAt
		return putJSON(b, []byte(token), &sess)
	})
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess store.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				// Corrupt entry — remove it.
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if !sess.ExpiresAt.After(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
