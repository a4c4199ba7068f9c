package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestRecordPhase(t *testing.T) {
	if p := (Record{}).Phase(); p != PhaseNone {
		t.Fatalf("empty record phase = %q", p)
	}
	if p := (Record{InactiveSince: ts("2025-01-01T00:00:00Z")}).Phase(); p != PhaseInactive {
		t.Fatalf("inactive record phase = %q", p)
	}
	both := Record{InactiveSince: ts("2025-01-01T00:00:00Z"), SuspendedAt: ts("2025-01-03T00:00:00Z")}
	if p := both.Phase(); p != PhaseSuspended {
		t.Fatalf("suspended wins over stale inactive, got %q", p)
	}
	if !(Record{}).External() {
		t.Fatalf("record without origin must count as external")
	}
	if (Record{SuspendedBy: OriginSweep}).External() {
		t.Fatalf("sweep origin is not external")
	}
}

func TestSnapshotCompactAndCount(t *testing.T) {
	s := Snapshot{
		"1": {},
		"2": {InactiveSince: ts("2025-01-01T00:00:00Z")},
		"3": {SuspendedAt: ts("2025-01-01T00:00:00Z")},
	}
	s.Compact()
	if len(s) != 2 {
		t.Fatalf("compact left %d records", len(s))
	}
	c := s.Count()
	if c[PhaseInactive] != 1 || c[PhaseSuspended] != 1 {
		t.Fatalf("unexpected counts: %v", c)
	}
	if ids := s.IDs(); len(ids) != 2 || ids[0] != "2" || ids[1] != "3" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	fs, err := NewFileStore(Config{Path: filepath.Join(t.TempDir(), "state.json")})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap)
	}
}

func TestFileStore_CorruptFileIsEmpty(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(p, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(Config{Path: p})
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("corrupt file must not fail load: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap)
	}
}

func TestFileStore_CorruptEntryDropped(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state.json")
	doc := `{"1": {"inactive_since": "yesterday"}, "2": {"suspended_at": "2025-01-02T03:04:05+00:00"}}`
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(Config{Path: p})
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := snap["1"]; ok {
		t.Fatalf("corrupt entry should be dropped")
	}
	if rec, ok := snap["2"]; !ok || rec.SuspendedAt == nil {
		t.Fatalf("valid entry lost: %+v", snap)
	}
}

// State documents written by the previous tool use python isoformat with
// microseconds and an explicit offset, and may contain empty objects.
func TestFileStore_ReadsLegacyDocument(t *testing.T) {
	p := filepath.Join(t.TempDir(), "server_state.json")
	doc := `{
    "12": {"inactive_since": "2025-03-01T10:00:00.123456+00:00"},
    "13": {"suspended_at": "2025-03-02T10:00:00.000001+00:00"},
    "14": {}
}`
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	fs, _ := NewFileStore(Config{Path: p})
	snap, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap["12"].InactiveSince == nil || snap["12"].InactiveSince.Nanosecond() != 123456000 {
		t.Fatalf("inactive_since not parsed: %+v", snap["12"])
	}
	if snap["13"].SuspendedAt == nil || !snap["13"].External() {
		t.Fatalf("suspended_at not parsed: %+v", snap["13"])
	}
}

func TestFileStore_SaveRoundTripAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "state.json")
	fs, _ := NewFileStore(Config{Path: p})
	ctx := context.Background()
	in := Snapshot{
		"1": {InactiveSince: ts("2025-01-01T00:00:00Z")},
		"2": {SuspendedAt: ts("2025-01-02T00:00:00Z"), SuspendedBy: OriginSweep},
		"3": {},
	}
	if err := fs.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(in) != 3 {
		t.Fatalf("save must not mutate the caller's snapshot")
	}
	out, err := fs.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if !out["1"].InactiveSince.Equal(*in["1"].InactiveSince) {
		t.Fatalf("inactive_since mismatch: %v", out["1"].InactiveSince)
	}
	if out["2"].SuspendedBy != OriginSweep {
		t.Fatalf("origin lost: %+v", out["2"])
	}
	entries, err := os.ReadDir(filepath.Dir(p))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the state file, found %d entries", len(entries))
	}

	// A second save fully replaces the first.
	if err := fs.Save(ctx, Snapshot{"9": {InactiveSince: ts("2025-02-01T00:00:00Z")}}); err != nil {
		t.Fatalf("save2: %v", err)
	}
	out, _ = fs.Load(ctx)
	if len(out) != 1 || out["9"].InactiveSince == nil {
		t.Fatalf("unexpected snapshot after replace: %+v", out)
	}
}

func TestFactory_DefaultsToFile(t *testing.T) {
	s, err := CreateStore(Config{Path: filepath.Join(t.TempDir(), "s.json")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Fatalf("expected *FileStore, got %T", s)
	}
	if _, err := CreateStore(Config{Type: "nope"}); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := CreateStore(Config{Type: "file"}); err == nil {
		t.Fatalf("expected error for missing path")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []any{
		"2025-01-02T03:04:05Z",
		"2025-01-02 03:04:05",
		[]byte("2025-01-02T03:04:05.5+00:00"),
		time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600)),
	}
	for _, c := range cases {
		got, err := ParseTimestamp(c)
		if err != nil {
			t.Fatalf("parse %v: %v", c, err)
		}
		if got.Location() != time.UTC {
			t.Fatalf("expected UTC, got %v", got.Location())
		}
	}
	if _, err := ParseTimestamp("last tuesday"); err == nil {
		t.Fatalf("expected error for garbage")
	}
}

func TestValidTable(t *testing.T) {
	if err := ValidTable("server_state"); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}
	if err := ValidTable("x; DROP TABLE y"); err == nil {
		t.Fatalf("expected rejection")
	}
}
