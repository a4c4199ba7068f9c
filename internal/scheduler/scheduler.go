// Package scheduler runs reconciliation passes on a cron schedule and on
// demand, never more than one at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/panelsweep/internal/metrics"
	"github.com/loykin/panelsweep/internal/reconcile"
)

// ErrPassRunning is returned when a pass is requested while another runs.
var ErrPassRunning = errors.New("a reconciliation pass is already running")

// PassFunc runs one pass against now.
type PassFunc func(ctx context.Context, now time.Time) (reconcile.Summary, error)

type Config struct {
	// Standard 5-field expression or descriptor such as @weekly.
	Cron       string
	Location   *time.Location
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler shares one singleton guard between cron ticks and manual
// triggers.
type Scheduler struct {
	pass   PassFunc
	cron   *cron.Cron
	entry  cron.EntryID
	logger *slog.Logger

	runOnStart bool
	running    atomic.Bool
	started    atomic.Bool

	mu   sync.RWMutex
	last *reconcile.Summary

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func New(cfg Config, pass PassFunc) (*Scheduler, error) {
	if pass == nil {
		return nil, errors.New("scheduler: pass function is required")
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		pass:       pass,
		cron:       cron.New(cron.WithLocation(loc)),
		logger:     logger.With("component", "scheduler"),
		runOnStart: cfg.RunOnStart,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	id, err := s.cron.AddFunc(cfg.Cron, s.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Cron, err)
	}
	s.entry = id
	return s, nil
}

// Start launches the cron loop and, when configured, one immediate pass.
func (s *Scheduler) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.Next())
	if s.runOnStart {
		if err := s.Trigger(); err != nil {
			s.logger.Warn("run on start skipped", "error", err)
		}
	}
	return nil
}

// Stop halts scheduling, cancels an in-flight pass and waits for it.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.started.Load() {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	if _, err := s.TryRun(s.ctx); errors.Is(err, ErrPassRunning) {
		metrics.ObservePass("skipped", 0)
		s.logger.Warn("scheduled pass skipped, previous pass still running")
	}
}

// TryRun runs a pass synchronously unless one is already running.
func (s *Scheduler) TryRun(ctx context.Context) (reconcile.Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return reconcile.Summary{}, ErrPassRunning
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(ctx)
}

// Trigger starts a pass in the background unless one is already running.
func (s *Scheduler) Trigger() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrPassRunning
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.ctx)
	}()
	return nil
}

func (s *Scheduler) execute(ctx context.Context) (reconcile.Summary, error) {
	defer s.running.Store(false)
	sum, err := s.pass(ctx, s.now())
	if err != nil && sum.Error == "" {
		sum.Error = err.Error()
	}
	s.mu.Lock()
	s.last = &sum
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("pass failed", "run_id", sum.RunID, "error", err)
	}
	return sum, err
}

func (s *Scheduler) Running() bool { return s.running.Load() }

// Last returns the most recent pass summary. Aborted passes carry their
// error in Summary.Error.
func (s *Scheduler) Last() (reconcile.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return reconcile.Summary{}, false
	}
	return *s.last, true
}

// Next returns the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}
