package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriter_Defaults(t *testing.T) {
	if w := (FileConfig{}).Writer(); w != nil {
		t.Fatalf("expected nil writer without a path")
	}
	w := FileConfig{Path: "x.log"}.Writer()
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != 10 || l.MaxBackups != 3 || l.MaxAge != 7 {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	_ = w.Close()
}

func TestFileWriter_Overrides(t *testing.T) {
	w := FileConfig{Path: "x2.log", MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}.Writer()
	l := w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("unexpected overrides: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	_ = w.Close()
}

func TestNew_JSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := NewWithWriter(Config{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = closer.Close() }()
	log.With("component", "test").Debug("hello", "n", 1)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if m["msg"] != "hello" || m["component"] != "test" {
		t.Fatalf("unexpected record: %v", m)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := NewWithWriter(Config{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("dropped")
	log.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestNew_WritesRotatingFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "logs", "sweep.log")
	var buf bytes.Buffer
	log, closer, err := NewWithWriter(Config{File: FileConfig{Path: p}}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info("to both")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(b), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Fatalf("record missing: file=%q console=%q", b, buf.String())
	}
	if strings.Contains(string(b), "\033[") {
		t.Fatalf("file output must not contain color codes")
	}
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	if _, _, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestColorTextHandler_KeepsColorOnDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewColorTextHandler(&buf, nil, false)).With("component", "x")
	log.Error("boom")
	out := buf.String()
	if !strings.Contains(out, "\033[31mERROR") {
		t.Fatalf("missing color prefix: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted: %q", out)
	}
	if !strings.Contains(out, "component=x") {
		t.Fatalf("attrs lost: %q", out)
	}
}
