package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps the snapshot in a single JSON document keyed by server id:
//
//	{"42": {"inactive_since": "2025-01-01T00:00:00Z"}}
//
// Saves go through a temp file in the same directory followed by a rename, so
// a crash mid-write leaves either the previous or the new document.
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(config Config) (*FileStore, error) {
	p := strings.TrimSpace(config.Path)
	if p == "" {
		return nil, ErrNoPath
	}
	return &FileStore{path: filepath.Clean(p), logger: config.LoggerOrDefault()}, nil
}

// Path returns the location of the state document.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read state file %q: %w", s.path, err)
	}
	return decodeSnapshot(b, s.logger.With("path", s.path)), nil
}

// decodeSnapshot parses a state document leniently: an unreadable document
// yields an empty snapshot and an unreadable entry is dropped on its own.
func decodeSnapshot(b []byte, logger *slog.Logger) Snapshot {
	out := Snapshot{}
	if len(strings.TrimSpace(string(b))) == 0 {
		return out
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		logger.Warn("state document is corrupt, starting from empty state", "error", err)
		return out
	}
	for id, msg := range raw {
		var rec Record
		if err := json.Unmarshal(msg, &rec); err != nil {
			logger.Warn("dropping corrupt state entry", "server_id", id, "error", err)
			continue
		}
		out[id] = rec
	}
	return out
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	out := snap.Clone()
	out.Compact()
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temporary state file: %w", err)
	}
	tmpPath := tmp.Name()

	// Write, sync, close, rename. Any failure removes the temp file.
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temporary state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temporary state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temporary state file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state file %q: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
