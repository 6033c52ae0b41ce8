// Package resume remembers which booking session to pick up after a restart.
// It holds bookkeeping only: the session itself lives on the backend.
package resume

import (
	"encoding/json"
	"errors"
	"time"

	bolt "github.com/boltdb/bolt"
)

const (
	bucketName = "resume"
	currentKey = "current"
)

var ErrNotFound = errors.New("no session to resume")

type Entry struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
}

// Store is a BoltDB-backed resume store. It satisfies checkout.ResumeStore.
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(sessionID string, expiresAt time.Time) error {
	data, err := json.Marshal(Entry{
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		SavedAt:   s.now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(currentKey), data)
	})
}

// Entry returns the stored entry, or ErrNotFound.
func (s *Store) Entry() (Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(currentKey))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	return e, err
}

// Load returns the session id to resume. An entry whose session has expired
// is removed and reported as empty.
func (s *Store) Load() (string, error) {
	e, err := s.Entry()
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(s.now()) {
		return "", s.Clear()
	}
	return e.SessionID, nil
}

// Clear is a no-op when nothing is stored.
func (s *Store) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(currentKey))
	})
}
