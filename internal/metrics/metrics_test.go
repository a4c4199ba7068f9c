package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegisterIdempotentAndHelpersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	ObservePass("ok", 3*time.Second)
	SetLastSuccess(time.Unix(1700000000, 0))
	SetScanned(2, 10)
	AddTransitions("suspended", 3)
	AddTransitions("deleted", 0)
	IncActionFailure("suspend")
	SetTracked("inactive", 4)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"panelsweep_pass_total":                          false,
		"panelsweep_pass_duration_seconds":               false,
		"panelsweep_pass_last_success_timestamp_seconds": false,
		"panelsweep_servers_scanned":                     false,
		"panelsweep_servers_transitions_total":           false,
		"panelsweep_servers_action_failures_total":       false,
		"panelsweep_state_tracked_records":               false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}

	if v := sample(mfs, "panelsweep_servers_transitions_total", "suspended"); v < 3 {
		t.Fatalf("suspended transitions = %v", v)
	}
	if v := sample(mfs, "panelsweep_state_tracked_records", "inactive"); v != 4 {
		t.Fatalf("tracked inactive = %v", v)
	}
}

// sample returns the value of the series of family name whose single label equals label.
func sample(mfs []*dto.MetricFamily, name, label string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if len(m.GetLabel()) == 1 && m.GetLabel()[0].GetValue() == label {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	ObservePass("failed", time.Second)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "panelsweep_pass_total") {
		t.Fatalf("metrics output missing pass_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	regOK.Store(false)
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			AddTransitions("inactive", 1)
			IncActionFailure("activity")
			ObservePass("skipped", 0)
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops, must not panic
	ObservePass("ok", time.Second)
	SetLastSuccess(time.Now())
	SetScanned(1, 1)
	AddTransitions("deleted", 1)
	IncActionFailure("delete")
	SetTracked("suspended", 1)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (errorRegisterer) MustRegister(...prometheus.Collector) {}

func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }
