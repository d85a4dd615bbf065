package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	bucketName = "idempotency_keys"
	// DefaultRetention is how long a stored response can be replayed.
	DefaultRetention = 24 * time.Hour
)

// ErrKeyReused is returned when a key is presented again with a different request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// Record is a stored response for a completed request.
type Record struct {
	RequestHash string    `json:"request_hash"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps replayable responses in a bolt file.
type Store struct {
	db        *bolt.DB
	retention time.Duration
	now       func() time.Time
}

// Open opens (or creates) the bolt database at path and drops records that
// expired while it was closed.
func Open(path string, retention time.Duration) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open idempotency db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists([]byte(bucketName))
		return createErr
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create idempotency bucket: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	store := &Store{db: db, retention: retention, now: time.Now}
	if _, err := store.Purge(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database file lock.
func (store *Store) Close() error {
	return store.db.Close()
}

// Lookup returns the live record for key. A record for a different request hash yields ErrKeyReused.
func (store *Store) Lookup(key string, requestHash string) (Record, bool, error) {
	var (
		record Record
		found  bool
	)
	err := store.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if value == nil {
			return nil
		}
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		found = store.now().Sub(record.CreatedAt) < store.retention
		return nil
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !found {
		return Record{}, false, nil
	}
	if record.RequestHash != requestHash {
		return Record{}, false, ErrKeyReused
	}
	return record, true, nil
}

// Save stores record under key unless a live record already exists, in which
// case the stored record is returned with created=false.
func (store *Store) Save(key string, record Record) (Record, bool, error) {
	var (
		result  Record
		created bool
	)
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if existing := bucket.Get([]byte(key)); existing != nil {
			var stored Record
			if err := json.Unmarshal(existing, &stored); err != nil {
				return err
			}
			if store.now().Sub(stored.CreatedAt) < store.retention {
				result = stored
				return nil
			}
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = store.now().UTC()
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		result = record
		created = true
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("save idempotency key: %w", err)
	}
	return result, created, nil
}

// Purge deletes records past retention and reports how many were removed.
func (store *Store) Purge() (int, error) {
	removed := 0
	err := store.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		var expired [][]byte
		err := bucket.ForEach(func(key, value []byte) error {
			var record Record
			if err := json.Unmarshal(value, &record); err != nil || store.now().Sub(record.CreatedAt) >= store.retention {
				expired = append(expired, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range expired {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return removed, nil
}

// RunPurger calls Purge every interval until ctx is done.
func (store *Store) RunPurger(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Purge()
			if err != nil {
				logger.Warn("idempotency purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Debug("idempotency keys purged", zap.Int("removed", removed))
			}
		}
	}
}
