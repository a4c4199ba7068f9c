package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/panelsweep/pkg/client"
)

func writeTOML(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "panelsweep.toml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

// baseConfig points at an unreachable panel; enough for commands that only
// touch the state store.
func baseConfig(dir, extra string) string {
	return fmt.Sprintf(`
[panel]
url = "http://127.0.0.1:1"
api_key = "k"

[activity]
dsn = %q

[state]
path = %q
%s`, "sqlite://"+filepath.Join(dir, "panel.db"), filepath.Join(dir, "server_state.json"), extra)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, name := range []string{"serve", "run", "state", "status", "trigger"} {
		if !strings.Contains(out, name) {
			t.Fatalf("help output misses %q: %s", name, out)
		}
	}
}

func TestCommandsRequireConfig(t *testing.T) {
	for _, name := range []string{"run", "state", "serve"} {
		_, err := execute(t, name)
		if err == nil || !strings.Contains(err.Error(), "config file required") {
			t.Fatalf("%s: expected missing config error, got %v", name, err)
		}
	}
}

func TestRunRejectsDryRunWithApply(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTOML(t, dir, baseConfig(dir, ""))
	if _, err := execute(t, "run", cfg, "--dry-run", "--apply"); err == nil {
		t.Fatal("expected --dry-run and --apply to be mutually exclusive")
	}
}

func writeState(t *testing.T, dir string) {
	t.Helper()
	state := `{
    "5": {"inactive_since": "2025-06-01T04:00:00Z"},
    "7": {"suspended_at": "2025-06-03T04:00:00Z", "suspended_by": "sweep"},
    "9": {"suspended_at": "2025-06-04T04:00:00Z", "suspended_by": "external"}
}`
	if err := os.WriteFile(filepath.Join(dir, "server_state.json"), []byte(state), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
}

func TestStatePrintsTable(t *testing.T) {
	dir := t.TempDir()
	writeState(t, dir)
	cfg := writeTOML(t, dir, baseConfig(dir, ""))

	out, err := execute(t, "--config", cfg, "state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "1 inactive, 2 suspended") {
		t.Fatalf("missing counts: %s", out)
	}
	if !strings.Contains(out, "2025-06-03T04:00:00Z") || !strings.Contains(out, "external") {
		t.Fatalf("missing record details: %s", out)
	}
}

func TestStateFiltersByPhaseAsJSON(t *testing.T) {
	dir := t.TempDir()
	writeState(t, dir)
	cfg := writeTOML(t, dir, baseConfig(dir, ""))

	out, err := execute(t, "state", cfg, "--phase", "suspended", "--json")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	var st client.State
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st.Inactive != 1 || st.Suspended != 2 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if len(st.Records) != 2 || st.Records[0].ID != "7" || st.Records[1].ID != "9" {
		t.Fatalf("unexpected records: %+v", st.Records)
	}
}

func TestStateRejectsUnknownPhase(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTOML(t, dir, baseConfig(dir, ""))
	if _, err := execute(t, "state", cfg, "--phase", "deleted"); err == nil {
		t.Fatal("expected unknown phase error")
	}
}

func TestRunPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	var actions atomic.Int32
	panelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			actions.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, `{"object":"list","data":[
			{"object":"server","attributes":{"id":1,"name":"main-hub","suspended":false}},
			{"object":"server","attributes":{"id":2,"name":"idle","suspended":false}}
		],"meta":{"pagination":{"current_page":1,"total_pages":1}}}`)
	}))
	defer panelSrv.Close()

	dbPath := filepath.Join(dir, "panel.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE activity_logs (subject_type TEXT, subject_id INTEGER, created_at TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	_ = db.Close()

	cfg := writeTOML(t, dir, fmt.Sprintf(`
[panel]
url = %q
api_key = "k"
requests_per_second = 100

[activity]
dsn = %q

[policy]
protected_keywords = ["hub"]
dry_run = false

[state]
path = %q
`, panelSrv.URL, "sqlite://"+dbPath, filepath.Join(dir, "server_state.json")))

	out, err := execute(t, "run", cfg, "--dry-run", "--json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var sum client.RunSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !sum.DryRun || sum.Total != 2 || sum.Protected != 1 || sum.Inactive != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if actions.Load() != 0 {
		t.Fatalf("dry run sent %d panel actions", actions.Load())
	}

	out, err = execute(t, "state", cfg)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "1 inactive, 0 suspended") {
		t.Fatalf("pass did not persist state: %s", out)
	}
}

func fakeDaemon(t *testing.T, triggerStatus int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"authentication required"}`)
			return
		}
		switch r.URL.Path {
		case "/api/status":
			_, _ = io.WriteString(w, `{"running":true,"next_run":"2025-06-09T04:00:00Z",
				"last_run":{"run_id":"r-1","total":4,"protected":1,"deleted":2}}`)
		case "/api/run":
			w.WriteHeader(triggerStatus)
			_, _ = io.WriteString(w, `{"error":"a reconciliation pass is already running"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}

func TestStatusPrintsDaemonState(t *testing.T) {
	url := fakeDaemon(t, http.StatusAccepted)
	out, err := execute(t, "status", "--api-url", url, "--token", "secret")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Scheduler: running", "2025-06-09T04:00:00Z", "r-1", "Deleted:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output misses %q: %s", want, out)
		}
	}
}

func TestStatusUsesTokenFromEnvironment(t *testing.T) {
	url := fakeDaemon(t, http.StatusAccepted)
	t.Setenv("PANELSWEEP_SERVER_TOKEN", "secret")
	if _, err := execute(t, "status", "--api-url", url); err != nil {
		t.Fatalf("status: %v", err)
	}
}

func TestTrigger(t *testing.T) {
	out, err := execute(t, "trigger", "--api-url", fakeDaemon(t, http.StatusAccepted), "--token", "secret")
	if err != nil || !strings.Contains(out, "pass started") {
		t.Fatalf("trigger: %v out=%s", err, out)
	}

	_, err = execute(t, "trigger", "--api-url", fakeDaemon(t, http.StatusConflict), "--token", "secret")
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected conflict error, got %v", err)
	}

	_, err = execute(t, "trigger", "--api-url", fakeDaemon(t, http.StatusAccepted))
	if err == nil || !strings.Contains(err.Error(), "authentication required") {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestServeStopsAndRemovesPidFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTOML(t, dir, baseConfig(dir, "\n[log]\nlevel = \"error\"\n"))
	pidFile := filepath.Join(dir, "panelsweep.pid")

	stop := make(chan struct{})
	done := make(chan error, 1)
	c := &command{out: io.Discard}
	go func() {
		done <- c.Serve(ServeFlags{ConfigPath: cfg, PidFile: pidFile, ShutdownTimeout: 5 * time.Second, stop: stop})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(pidFile); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pid file was not written")
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(stop)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed, stat err=%v", err)
	}
}

func TestChildArgsDropsParentFlags(t *testing.T) {
	got := childArgs([]string{"serve", "--daemonize", "--logfile", "/tmp/x.log", "--pidfile", "/run/p.pid", "--logfile=/tmp/y", "cfg.toml"})
	want := []string{"serve", "--pidfile", "/run/p.pid", "cfg.toml"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("childArgs = %v, want %v", got, want)
	}
}
