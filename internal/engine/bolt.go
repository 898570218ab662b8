package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// BoltFileName is the single database file the Bolt engine keeps inside
// its data directory.
const BoltFileName = "bolt.kvs"

var boltBucket = []byte("kv")

// Bolt adapts an embedded bbolt database to the Engine contract. It exists
// so the server can swap the log-structured store for a B+tree-backed one
// without either side knowing; bbolt's own errors never cross this
// boundary untranslated.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database file inside dir, which must be an
// existing directory.
func OpenBolt(dir string) (*Bolt, error) {
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, dir)
	}

	db, err := bbolt.Open(filepath.Join(dir, BoltFileName), 0644, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Set(key, value string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("bolt set: %w", err)
	}
	return nil
}

func (b *Bolt) Get(key string) (string, bool, error) {
	var value string
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get: %w", err)
	}
	return value, found, nil
}

func (b *Bolt) Remove(key string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		if bucket.Get([]byte(key)) == nil {
			return fmt.Errorf("remove %q: %w", key, ErrKeyNotFound)
		}
		return bucket.Delete([]byte(key))
	})
	return err
}

func (b *Bolt) Close() error {
	return b.db.Close()
}

var _ Engine = (*Bolt)(nil)
