// Package boltstore implements the durable refresh-token store on bbolt.
// Records are keyed by token hash; a session index bucket supports bulk
// revocation. Every mutation runs inside a single update transaction, so
// revoke-on-read and rotation are atomic with respect to other instances
// sharing the file.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"time"

	"github.com/idplane/auth-core/token"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	storeFilePerm   = fs.FileMode(0o600)
	storeOpenTimout = 5 * time.Second
)

var (
	tokensBucket   = []byte("refresh_tokens")
	sessionsBucket = []byte("refresh_sessions")
)

// Store is a bbolt-backed token.RefreshTokenRepo.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimout})
	if err != nil {
		return nil, errors.Wrap(err, "[boltstore.Open] opening store")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tokensBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[boltstore.Open] creating buckets")
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert implements token.RefreshTokenRepo.
func (s *Store) Upsert(_ context.Context, rt *token.RefreshToken) error {
	value, err := json.Marshal(rt)
	if err != nil {
		return errors.Wrap(err, "[Store.Upsert] marshal")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(tokensBucket).Put([]byte(rt.TokenHash), value); err != nil {
			return err
		}
		if rt.SessionID == "" {
			return nil
		}
		return tx.Bucket(sessionsBucket).Put(sessionKey(rt.SessionID, rt.TokenHash), nil)
	})
	return errors.Wrap(err, "[Store.Upsert] update")
}

// Get implements token.RefreshTokenRepo.
func (s *Store) Get(_ context.Context, tokenHash string) (*token.RefreshToken, error) {
	var rt *token.RefreshToken
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(tokensBucket).Get([]byte(tokenHash))
		if value == nil {
			return token.ErrRefreshTokenNotFound
		}
		rt = &token.RefreshToken{}
		return json.Unmarshal(value, rt)
	})
	if err != nil {
		if errors.Is(err, token.ErrRefreshTokenNotFound) {
			return nil, token.ErrRefreshTokenNotFound
		}
		return nil, errors.Wrap(err, "[Store.Get] view")
	}
	return rt, nil
}

// Revoke implements token.RefreshTokenRepo. Revoking an absent or
// already-revoked record is a no-op.
func (s *Store) Revoke(_ context.Context, tokenHash string, at time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return revokeInTx(tx, tokenHash, at)
	})
	return errors.Wrap(err, "[Store.Revoke] update")
}

// RevokeSession implements token.RefreshTokenRepo. Walks the session index
// and revokes every active record in one transaction.
func (s *Store) RevokeSession(_ context.Context, sessionID string, at time.Time) (int, error) {
	revoked := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(sessionsBucket).Cursor()
		prefix := sessionKey(sessionID, "")
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			tokenHash := string(k[len(prefix):])
			wasActive, err := revokeActiveInTx(tx, tokenHash, at)
			if err != nil {
				return err
			}
			if wasActive {
				revoked++
			}
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "[Store.RevokeSession] update")
	}
	return revoked, nil
}

func revokeInTx(tx *bolt.Tx, tokenHash string, at time.Time) error {
	_, err := revokeActiveInTx(tx, tokenHash, at)
	return err
}

func revokeActiveInTx(tx *bolt.Tx, tokenHash string, at time.Time) (bool, error) {
	bucket := tx.Bucket(tokensBucket)
	value := bucket.Get([]byte(tokenHash))
	if value == nil {
		return false, nil
	}

	var rt token.RefreshToken
	if err := json.Unmarshal(value, &rt); err != nil {
		return false, err
	}
	if !rt.RevokedAt.IsZero() {
		return false, nil
	}

	rt.RevokedAt = at
	updated, err := json.Marshal(&rt)
	if err != nil {
		return false, err
	}
	return true, bucket.Put([]byte(tokenHash), updated)
}

func sessionKey(sessionID, tokenHash string) []byte {
	return []byte(sessionID + "/" + tokenHash)
}
