package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/loykin/panelsweep/internal/store"
)

// DB keeps one JSON-encoded store.Record per key in a single bbolt bucket.
type DB struct {
	db     *bbolt.DB
	bucket []byte
	logger *slog.Logger
}

const defaultBucket = "server_state"

// New opens (creating if needed) the bbolt file at config.Path.
func New(config store.Config) (*DB, error) {
	p := strings.TrimSpace(config.Path)
	if p == "" {
		return nil, errors.New("empty bolt path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	d, err := bbolt.Open(p, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	s := &DB{db: d, bucket: []byte(config.TableOrDefault(defaultBucket)), logger: config.LoggerOrDefault()}
	if err := d.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return s, nil
}

func (s *DB) Load(_ context.Context) (store.Snapshot, error) {
	out := store.Snapshot{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec store.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				s.logger.Warn("dropping corrupt state entry", "server_id", string(k), "error", err)
				return nil
			}
			if !rec.Empty() {
				out[string(k)] = rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read bolt state: %w", err)
	}
	return out, nil
}

// Save recreates the bucket inside one update transaction.
func (s *DB) Save(_ context.Context, snap store.Snapshot) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(s.bucket) != nil {
			if err := tx.DeleteBucket(s.bucket); err != nil {
				return fmt.Errorf("clear bolt bucket: %w", err)
			}
		}
		b, err := tx.CreateBucket(s.bucket)
		if err != nil {
			return fmt.Errorf("create bolt bucket: %w", err)
		}
		for _, id := range snap.IDs() {
			rec := snap[id]
			if rec.Empty() {
				continue
			}
			v, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal state for %s: %w", id, err)
			}
			if err := b.Put([]byte(id), v); err != nil {
				return fmt.Errorf("put state for %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *DB) Close() error { return s.db.Close() }
