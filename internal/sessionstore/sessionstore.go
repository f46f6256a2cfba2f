// Package sessionstore persists the authenticated session between runs so
// startup can re-authenticate silently with the stored token. The record is
// cleared on explicit logout and on any auth_error frame.
package sessionstore

import (
	"fmt"
	"time"

	"parley/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

// key for the single session record; one store holds one identity.
var recordKey = []byte("current")

type sessionRecord struct {
	Token       string `msgpack:"token"`
	Username    string `msgpack:"username"`
	LastContext string `msgpack:"lastContext"`
}

func (r *sessionRecord) MarshalBinary() ([]byte, error) {
	type alias sessionRecord
	return msgpack.Marshal((*alias)(r))
}

func (r *sessionRecord) UnmarshalBinary(data []byte) error {
	type alias sessionRecord
	return msgpack.Unmarshal(data, (*alias)(r))
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the session, keeping the previously saved context selection.
func (s *Store) Save(sess models.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)

		rec := sessionRecord{Token: sess.Token, Username: sess.Username}
		if prev := b.Get(recordKey); prev != nil {
			var old sessionRecord
			if err := old.UnmarshalBinary(prev); err == nil {
				rec.LastContext = old.LastContext
			}
		}

		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(recordKey, data)
	})
}

// Load returns the stored session; models.ErrNotFound when none exists.
func (s *Store) Load() (models.Session, models.Context, error) {
	var rec sessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(recordKey)
		if data == nil {
			return models.ErrNotFound
		}
		return rec.UnmarshalBinary(data)
	})
	if err != nil {
		return models.Session{}, models.GlobalContext(), err
	}
	return models.Session{Token: rec.Token, Username: rec.Username},
		models.ParseContextKey(rec.LastContext), nil
}

// SaveContext remembers the selected conversation for the next startup.
func (s *Store) SaveContext(ctx models.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)

		var rec sessionRecord
		if prev := b.Get(recordKey); prev != nil {
			if err := rec.UnmarshalBinary(prev); err != nil {
				return err
			}
		}
		rec.LastContext = ctx.Key()

		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(recordKey, data)
	})
}

// Clear removes the stored session.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(recordKey)
	})
}
