// Package reconcile runs one lifecycle pass over every server in the panel:
// inactive servers are tracked, then suspended, then deleted once they have
// stayed suspended past the retention limit.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/panelsweep/internal/history"
	"github.com/loykin/panelsweep/internal/metrics"
	"github.com/loykin/panelsweep/internal/notify"
	"github.com/loykin/panelsweep/internal/panel"
	"github.com/loykin/panelsweep/internal/store"
)

// Directory enumerates every server known to the panel.
type Directory interface {
	ListServers(ctx context.Context) ([]panel.Server, error)
}

// Oracle reports the last recorded activity of a server. found is false when
// the server never had any activity.
type Oracle interface {
	LastActivity(ctx context.Context, id string) (last time.Time, found bool, err error)
}

// Actuator performs remote lifecycle actions.
type Actuator interface {
	Suspend(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Policy is fixed for the lifetime of an Engine.
type Policy struct {
	InactiveLimit             time.Duration
	SuspendedLimit            time.Duration
	ProtectedKeywords         []string
	DryRun                    bool
	DeleteExternallySuspended bool
	PruneOrphans              bool
	// CallTimeout bounds each oracle and actuator call; zero disables it.
	CallTimeout time.Duration
}

// Deps are the collaborators of a pass. Notifier and History are optional.
type Deps struct {
	Directory Directory
	Oracle    Oracle
	Actuator  Actuator
	Store     store.Store
	Notifier  notify.Notifier
	History   *history.Recorder
	Logger    *slog.Logger
}

// Summary reports the outcome of one pass.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	Total     int `json:"total"`
	Protected int `json:"protected"`
	Inactive  int `json:"inactive"`
	Suspended int `json:"suspended"`
	Deleted   int `json:"deleted"`
	Failed    int `json:"failed"`
	Recovered int `json:"recovered"`
	Pruned    int `json:"pruned"`
	// Tracked is the number of records persisted at the end of the pass.
	Tracked int `json:"tracked"`

	Error string `json:"error,omitempty"`
}

type Engine struct {
	policy   Policy
	keywords []string

	dir      Directory
	oracle   Oracle
	actuator Actuator
	store    store.Store
	notifier notify.Notifier
	history  *history.Recorder
	logger   *slog.Logger

	newRunID func() string
}

func New(policy Policy, deps Deps) (*Engine, error) {
	switch {
	case deps.Directory == nil:
		return nil, errors.New("reconcile: directory is required")
	case deps.Oracle == nil:
		return nil, errors.New("reconcile: activity oracle is required")
	case deps.Actuator == nil:
		return nil, errors.New("reconcile: actuator is required")
	case deps.Store == nil:
		return nil, errors.New("reconcile: state store is required")
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		policy:   policy,
		keywords: normalizeKeywords(policy.ProtectedKeywords),
		dir:      deps.Directory,
		oracle:   deps.Oracle,
		actuator: deps.Actuator,
		store:    deps.Store,
		notifier: n,
		history:  deps.History,
		logger:   logger.With("component", "reconcile"),
		newRunID: uuid.NewString,
	}, nil
}

func (e *Engine) Policy() Policy { return e.policy }

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// protectedBy returns the first keyword contained in name, ignoring case.
func (e *Engine) protectedBy(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, k := range e.keywords {
		if strings.Contains(lower, k) {
			return k, true
		}
	}
	return "", false
}

// pass carries the mutable state of one Run.
type pass struct {
	now  time.Time
	snap store.Snapshot
	sum  *Summary
	log  *slog.Logger
}

// Run executes one reconciliation pass against now. The store is read once
// and written once; a load, listing or save failure aborts the pass without
// persisting anything and is returned together with the partial summary.
func (e *Engine) Run(ctx context.Context, now time.Time) (Summary, error) {
	now = now.UTC()
	began := time.Now()
	sum := Summary{RunID: e.newRunID(), StartedAt: now, DryRun: e.policy.DryRun}
	log := e.logger.With("run_id", sum.RunID)
	log.Info("pass started", "dry_run", sum.DryRun, "protected_keywords", len(e.keywords))

	e.send(ctx, log, e.startMessage())

	snap, err := e.store.Load(ctx)
	if err != nil {
		return e.abort(ctx, log, sum, began, fmt.Errorf("load state: %w", err))
	}
	if snap == nil {
		snap = store.Snapshot{}
	}
	servers, err := e.dir.ListServers(ctx)
	if err != nil {
		return e.abort(ctx, log, sum, began, fmt.Errorf("list servers: %w", err))
	}
	sum.Total = len(servers)

	p := &pass{now: now, snap: snap, sum: &sum, log: log}
	present := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		if err := ctx.Err(); err != nil {
			return e.abort(ctx, log, sum, began, fmt.Errorf("pass interrupted: %w", err))
		}
		present[s.ID] = struct{}{}
		if kw, ok := e.protectedBy(s.Name); ok {
			sum.Protected++
			log.Debug("server protected", "server_id", s.ID, "name", s.Name, "keyword", kw)
			continue
		}
		e.evaluate(ctx, p, s)
	}
	if e.policy.PruneOrphans {
		e.prune(ctx, p, present)
	}

	snap.Compact()
	if err := e.store.Save(ctx, snap); err != nil {
		return e.abort(ctx, log, sum, began, fmt.Errorf("save state: %w", err))
	}
	sum.Tracked = len(snap)
	sum.FinishedAt = now.Add(time.Since(began))

	e.observe(sum, snap, time.Since(began))
	log.Info("pass finished",
		"total", sum.Total, "protected", sum.Protected, "inactive", sum.Inactive,
		"suspended", sum.Suspended, "deleted", sum.Deleted, "failed", sum.Failed,
		"recovered", sum.Recovered, "pruned", sum.Pruned, "tracked", sum.Tracked)
	e.send(ctx, log, e.summaryMessage(sum))
	return sum, nil
}

// evaluate classifies one unprotected server and updates the snapshot.
// On any per-server failure the stored record is left as it was.
func (e *Engine) evaluate(ctx context.Context, p *pass, s panel.Server) {
	rec, had := p.snap[s.ID]
	log := p.log.With("server_id", s.ID, "name", s.Name)

	// A dry-run suspension never reaches the panel; keep rehearsing from the
	// simulated state so deletion is reached as in a live run.
	if e.policy.DryRun && had && rec.SuspendedAt != nil && rec.SuspendedBy == store.OriginSweep {
		s.Suspended = true
	}

	if s.Suspended {
		if rec.SuspendedAt == nil {
			p.snap[s.ID] = store.Record{SuspendedAt: store.TimePtr(p.now), SuspendedBy: store.OriginExternal}
			log.Info("tracking suspended server")
			e.event(ctx, p, history.EventSuspensionTracked, s, "")
			return
		}
		if rec.InactiveSince != nil {
			rec.InactiveSince = nil
			p.snap[s.ID] = rec
		}
		age := p.now.Sub(*rec.SuspendedAt)
		if age <= e.policy.SuspendedLimit {
			return
		}
		if rec.External() && !e.policy.DeleteExternallySuspended {
			log.Debug("externally suspended server kept", "suspended_for", age)
			return
		}
		if err := e.call(ctx, func(ctx context.Context) error { return e.actuator.Delete(ctx, s.ID) }); err != nil {
			e.fail(ctx, p, s, "delete", err)
			return
		}
		delete(p.snap, s.ID)
		p.sum.Deleted++
		log.Info("server deleted", "suspended_for", age, "dry_run", e.policy.DryRun)
		e.event(ctx, p, history.EventDeleted, s, age.String())
		return
	}

	// Remotely active: a suspension timestamp left over from an earlier
	// suspension lifted outside this system no longer applies.
	rec.SuspendedAt, rec.SuspendedBy = nil, ""

	var (
		last  time.Time
		found bool
	)
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		last, found, err = e.oracle.LastActivity(ctx, s.ID)
		return err
	})
	if err != nil {
		e.fail(ctx, p, s, "activity", err)
		return
	}

	if found && p.now.Sub(last) <= e.policy.InactiveLimit {
		if had {
			delete(p.snap, s.ID)
			p.sum.Recovered++
			log.Info("server active again", "last_activity", last)
			e.event(ctx, p, history.EventRecovered, s, "")
		}
		return
	}

	if rec.InactiveSince == nil {
		rec.InactiveSince = store.TimePtr(p.now)
		p.snap[s.ID] = rec
		p.sum.Inactive++
		log.Info("server marked inactive", "has_activity", found)
		e.event(ctx, p, history.EventMarkedInactive, s, "")
		return
	}
	idle := p.now.Sub(*rec.InactiveSince)
	if idle <= e.policy.InactiveLimit {
		p.snap[s.ID] = rec
		return
	}
	if err := e.call(ctx, func(ctx context.Context) error { return e.actuator.Suspend(ctx, s.ID) }); err != nil {
		e.fail(ctx, p, s, "suspend", err)
		return
	}
	p.snap[s.ID] = store.Record{SuspendedAt: store.TimePtr(p.now), SuspendedBy: store.OriginSweep}
	p.sum.Suspended++
	log.Info("server suspended", "inactive_for", idle, "dry_run", e.policy.DryRun)
	e.event(ctx, p, history.EventSuspended, s, idle.String())
}

// prune drops records of servers the panel no longer lists.
func (e *Engine) prune(ctx context.Context, p *pass, present map[string]struct{}) {
	for _, id := range p.snap.IDs() {
		if _, ok := present[id]; ok {
			continue
		}
		delete(p.snap, id)
		p.sum.Pruned++
		p.log.Info("pruned record of unknown server", "server_id", id)
		e.event(ctx, p, history.EventPruned, panel.Server{ID: id}, "")
	}
}

func (e *Engine) call(ctx context.Context, fn func(context.Context) error) error {
	if e.policy.CallTimeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()
	return fn(cctx)
}

func (e *Engine) fail(ctx context.Context, p *pass, s panel.Server, action string, err error) {
	p.sum.Failed++
	metrics.IncActionFailure(action)
	p.log.Warn("server transition failed", "server_id", s.ID, "name", s.Name, "action", action, "error", err)
	e.event(ctx, p, history.EventFailed, s, action+": "+err.Error())
}

func (e *Engine) event(ctx context.Context, p *pass, t history.EventType, s panel.Server, detail string) {
	e.history.Record(ctx, history.Event{
		Type:       t,
		OccurredAt: p.now,
		RunID:      p.sum.RunID,
		ServerID:   s.ID,
		ServerName: s.Name,
		DryRun:     e.policy.DryRun,
		Detail:     detail,
	})
}

func (e *Engine) abort(ctx context.Context, log *slog.Logger, sum Summary, began time.Time, err error) (Summary, error) {
	sum.FinishedAt = sum.StartedAt.Add(time.Since(began))
	sum.Error = err.Error()
	metrics.ObservePass("error", time.Since(began))
	log.Error("pass aborted", "error", err)
	e.send(ctx, log, e.alertMessage(err))
	return sum, err
}

func (e *Engine) observe(sum Summary, snap store.Snapshot, d time.Duration) {
	metrics.ObservePass("success", d)
	metrics.SetLastSuccess(sum.FinishedAt)
	metrics.SetScanned(sum.Protected, sum.Total-sum.Protected)
	metrics.AddTransitions("inactive", sum.Inactive)
	metrics.AddTransitions("suspended", sum.Suspended)
	metrics.AddTransitions("deleted", sum.Deleted)
	metrics.AddTransitions("recovered", sum.Recovered)
	metrics.AddTransitions("pruned", sum.Pruned)
	metrics.AddTransitions("failed", sum.Failed)
	for phase, n := range snap.Count() {
		metrics.SetTracked(string(phase), n)
	}
}

// send delivers m without letting a failure reach the pass.
func (e *Engine) send(ctx context.Context, log *slog.Logger, m notify.Message) {
	if err := e.notifier.Notify(ctx, m); err != nil {
		log.Warn("notification failed", "title", m.Title, "error", err)
	}
}
