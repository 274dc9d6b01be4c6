package backend

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const markerFile = "markers.db"

// markerStore persists the last-read event id per room, bucketed per
// account, so a restart can restore read state before the first sync.
type markerStore struct {
	db *bolt.DB
}

func openMarkerStore(cacheDir string) (*markerStore, error) {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, err
	}

	db, err := bolt.Open(filepath.Join(cacheDir, markerFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	return &markerStore{db: db}, nil
}

func (s *markerStore) Set(uid, roomID, eventID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(uid))
		if err != nil {
			return err
		}

		return b.Put([]byte(roomID), []byte(eventID))
	})
}

func (s *markerStore) Get(uid, roomID string) (string, error) {
	var eventID string

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(uid))
		if b == nil {
			return nil
		}

		if v := b.Get([]byte(roomID)); v != nil {
			eventID = string(v)
		}

		return nil
	})

	return eventID, err
}

func (s *markerStore) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
	}
}
