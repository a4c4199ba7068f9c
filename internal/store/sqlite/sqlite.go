package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/panelsweep/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// Path is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.
type DB struct {
	store.SQLTable
}

var dialect = store.SQLDialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Schema: func(table string) []string {
		return []string{
			`CREATE TABLE IF NOT EXISTS ` + table + `(
				server_id TEXT PRIMARY KEY,
				inactive_since TEXT NULL,
				suspended_at TEXT NULL,
				suspended_by TEXT NOT NULL DEFAULT '',
				updated_at TEXT NOT NULL
			);`,
		}
	},
	EncodeTime: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
}

// New opens a SQLite database at config.Path and ensures the schema.
func New(config store.Config) (*DB, error) {
	p := strings.TrimSpace(config.Path)
	if strings.HasPrefix(strings.ToLower(p), "sqlite://") {
		p = p[len("sqlite://"):]
	}
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	table := config.TableOrDefault(store.DefaultTable)
	if err := store.ValidTable(table); err != nil {
		return nil, err
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")

	db := &DB{SQLTable: store.SQLTable{DB: d, Table: table, Dialect: dialect, Logger: config.LoggerOrDefault()}}
	if err := db.EnsureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}
