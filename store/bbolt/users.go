package bbolt

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"github.com/slipway-hq/slipway/store"
)

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(usernamesBucket)
		if names.Get([]byte(u.Username)) != nil {
			return store.ErrDuplicate
		}
		id, err := nextSeq(tx, "users")
		if err != nil {
			return err
		}
		u.ID = id
		if u.CreatedAt.IsZero() {
			u.CreatedAt = time.Now().UTC()
		}
		if err := names.Put([]byte(u.Username), itob(id)); err != nil {
			return err
		}
		return putJSON(tx.Bucket(usersBucket), itob(id), u)
	})
}

func (s *Store) GetUser(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(usersBucket), itob(id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var u store.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		idRaw := tx.Bucket(usernamesBucket).Get([]byte(username))
		if idRaw == nil {
			return store.ErrNotFound
		}
		return getJSON(tx.Bucket(usersBucket), idRaw, &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) updateUser(id int64, fn func(u *store.User)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usersBucket)
		var u store.User
		if err := getJSON(b, itob(id), &u); err != nil {
			return err
		}
		fn(&u)
		return putJSON(b, itob(id), &u)
	})
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) error {
	return s.updateUser(id, func(u *store.User) { u.Active = active })
}

func (s *Store) SetUserSessionMirror(ctx context.Context, id int64, token string, expires *time.Time) error {
	return s.updateUser(id, func(u *store.User) {
		u.SessionToken = token
		u.SessionExpires = expires
	})
}

func (s *Store) TouchLastSeen(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	return s.updateUser(id, func(u *store.User) { u.LastSeen = &at })
}
