package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// SQLDialect captures the differences between the SQL backends.
type SQLDialect struct {
	Name string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Schema returns the CREATE statements for table.
	Schema func(table string) []string
	// EncodeTime converts a timestamp into a bind value.
	EncodeTime func(t time.Time) any
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name is safe to splice into SQL.
func ValidTable(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// SQLTable implements Load and Save over a single table for any dialect.
// Backend packages embed it and supply the connection.
type SQLTable struct {
	DB      *sql.DB
	Table   string
	Dialect SQLDialect
	Logger  *slog.Logger
}

func (t *SQLTable) EnsureSchema(ctx context.Context) error {
	for _, q := range t.Dialect.Schema(t.Table) {
		if _, err := t.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure %s schema: %w", t.Dialect.Name, err)
		}
	}
	return nil
}

func (t *SQLTable) Load(ctx context.Context) (Snapshot, error) {
	rows, err := t.DB.QueryContext(ctx,
		`SELECT server_id, inactive_since, suspended_at, suspended_by FROM `+t.Table+`;`)
	if err != nil {
		return nil, fmt.Errorf("query %s state: %w", t.Dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := Snapshot{}
	for rows.Next() {
		var (
			id          string
			inactive    any
			suspended   any
			suspendedBy sql.NullString
		)
		if err := rows.Scan(&id, &inactive, &suspended, &suspendedBy); err != nil {
			return nil, fmt.Errorf("scan %s state: %w", t.Dialect.Name, err)
		}
		rec := Record{SuspendedBy: Origin(suspendedBy.String)}
		if rec.InactiveSince, err = asTime(inactive); err != nil {
			t.Logger.Warn("dropping corrupt state row", "server_id", id, "error", err)
			continue
		}
		if rec.SuspendedAt, err = asTime(suspended); err != nil {
			t.Logger.Warn("dropping corrupt state row", "server_id", id, "error", err)
			continue
		}
		if rec.Empty() {
			continue
		}
		out[id] = rec
	}
	return out, rows.Err()
}

// Save replaces the table contents inside one transaction.
func (t *SQLTable) Save(ctx context.Context, snap Snapshot) error {
	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s transaction: %w", t.Dialect.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.Table+`;`); err != nil {
		return fmt.Errorf("clear %s state: %w", t.Dialect.Name, err)
	}
	p := t.Dialect.Placeholder
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s(server_id, inactive_since, suspended_at, suspended_by, updated_at) VALUES(%s, %s, %s, %s, %s);`,
		t.Table, p(1), p(2), p(3), p(4), p(5)))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", t.Dialect.Name, err)
	}
	defer func() { _ = stmt.Close() }()

	now := t.Dialect.EncodeTime(time.Now().UTC())
	for _, id := range snap.IDs() {
		rec := snap[id]
		if rec.Empty() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id,
			t.optTime(rec.InactiveSince), t.optTime(rec.SuspendedAt), string(rec.SuspendedBy), now); err != nil {
			return fmt.Errorf("insert %s state for %s: %w", t.Dialect.Name, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s state: %w", t.Dialect.Name, err)
	}
	return nil
}

func (t *SQLTable) Close() error { return t.DB.Close() }

func (t *SQLTable) optTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return t.Dialect.EncodeTime(v.UTC())
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp converts the usual driver representations of a timestamp.
// Values without a zone are taken as UTC.
func ParseTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return ParseTimestamp(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func asTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
