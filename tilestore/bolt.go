package tilestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MickWest/Sitrec2/fetch"
	"github.com/MickWest/Sitrec2/tilekey"
	bolt "go.etcd.io/bbolt"
)

// BoltStore persists payloads in one bbolt file, one bucket per kind, keyed by the morton-coded tile key
// so tiles of one zoom that are close on the map are close on disk.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open tile store %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(_ context.Context, kind fetch.Kind, key tilekey.Key) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return ErrMiss
		}
		v := b.Get(key.Bytes())
		if v == nil {
			return ErrMiss
		}
		// v is only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *BoltStore) Put(_ context.Context, kind fetch.Kind, key tilekey.Key, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(kind))
		if err != nil {
			return err
		}
		return b.Put(key.Bytes(), data)
	})
}

// Keys lists the stored tiles of one kind in key order.
func (s *BoltStore) Keys(kind fetch.Kind) ([]tilekey.Key, error) {
	var keys []tilekey.Key
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			key, err := tilekey.FromBytes(k)
			if err != nil {
				return err
			}
			keys = append(keys, key)
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
