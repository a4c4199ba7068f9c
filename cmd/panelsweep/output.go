package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/loykin/panelsweep"
	"github.com/loykin/panelsweep/internal/store"
	"github.com/loykin/panelsweep/pkg/client"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

func toRunSummary(s panelsweep.Summary) client.RunSummary {
	return client.RunSummary{
		RunID:      s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		DryRun:     s.DryRun,
		Total:      s.Total,
		Protected:  s.Protected,
		Inactive:   s.Inactive,
		Suspended:  s.Suspended,
		Deleted:    s.Deleted,
		Failed:     s.Failed,
		Recovered:  s.Recovered,
		Pruned:     s.Pruned,
		Tracked:    s.Tracked,
		Error:      s.Error,
	}
}

func toState(snap store.Snapshot, phase store.Phase) client.State {
	counts := snap.Count()
	out := client.State{
		Inactive:  counts[store.PhaseInactive],
		Suspended: counts[store.PhaseSuspended],
		Records:   []client.TrackedServer{},
	}
	for _, id := range snap.IDs() {
		rec := snap[id]
		if phase != store.PhaseNone && rec.Phase() != phase {
			continue
		}
		out.Records = append(out.Records, client.TrackedServer{
			ID:            id,
			Phase:         string(rec.Phase()),
			InactiveSince: rec.InactiveSince,
			SuspendedAt:   rec.SuspendedAt,
			SuspendedBy:   string(rec.SuspendedBy),
		})
	}
	return out
}

func printSummary(w io.Writer, s client.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	mode := "live"
	if s.DryRun {
		mode = "dry run"
	}
	_, _ = fmt.Fprintf(tw, "Run:\t%s (%s)\n", s.RunID, mode)
	if !s.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(tw, "Duration:\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	_, _ = fmt.Fprintf(tw, "Scanned:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(tw, "Protected:\t%d\n", s.Protected)
	_, _ = fmt.Fprintf(tw, "Marked inactive:\t%d\n", s.Inactive)
	_, _ = fmt.Fprintf(tw, "Suspended:\t%d\n", s.Suspended)
	_, _ = fmt.Fprintf(tw, "Deleted:\t%d\n", s.Deleted)
	_, _ = fmt.Fprintf(tw, "Recovered:\t%d\n", s.Recovered)
	_, _ = fmt.Fprintf(tw, "Pruned:\t%d\n", s.Pruned)
	_, _ = fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(tw, "Tracked:\t%d\n", s.Tracked)
	if s.Error != "" {
		_, _ = fmt.Fprintf(tw, "Error:\t%s\n", s.Error)
	}
	_ = tw.Flush()
}

func printState(w io.Writer, st client.State) {
	_, _ = fmt.Fprintf(w, "%d inactive, %d suspended\n", st.Inactive, st.Suspended)
	if len(st.Records) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tPHASE\tSINCE\tBY")
	for _, r := range st.Records {
		since := r.InactiveSince
		if r.SuspendedAt != nil {
			since = r.SuspendedAt
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Phase, formatTime(since), dash(r.SuspendedBy))
	}
	_ = tw.Flush()
}

func printStatus(w io.Writer, st client.Status) {
	state := "idle"
	if st.Running {
		state = "running"
	}
	_, _ = fmt.Fprintf(w, "Scheduler: %s\n", state)
	_, _ = fmt.Fprintf(w, "Next run:  %s\n", formatTime(st.NextRun))
	if st.LastRun == nil {
		_, _ = fmt.Fprintln(w, "Last run:  never")
		return
	}
	_, _ = fmt.Fprintln(w, "Last run:")
	var b strings.Builder
	printSummary(&b, *st.LastRun)
	for _, line := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
		_, _ = fmt.Fprintln(w, "  "+line)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
