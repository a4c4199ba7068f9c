// Package panelsweep wires the lifecycle sweeper for game-server panels:
// inactive servers are tracked, suspended and finally deleted on a schedule.
package panelsweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/panelsweep/internal/activity"
	cfg "github.com/loykin/panelsweep/internal/config"
	"github.com/loykin/panelsweep/internal/history"
	historyfactory "github.com/loykin/panelsweep/internal/history/factory"
	"github.com/loykin/panelsweep/internal/metrics"
	"github.com/loykin/panelsweep/internal/notify"
	"github.com/loykin/panelsweep/internal/panel"
	"github.com/loykin/panelsweep/internal/reconcile"
	"github.com/loykin/panelsweep/internal/scheduler"
	iapi "github.com/loykin/panelsweep/internal/server"
	"github.com/loykin/panelsweep/internal/store"
	storefactory "github.com/loykin/panelsweep/internal/store/factory"
	itls "github.com/loykin/panelsweep/internal/tls"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Summary = reconcile.Summary

type Snapshot = store.Snapshot

type Record = store.Record

// EnvPrefix prefixes environment overrides of configuration keys.
const EnvPrefix = cfg.EnvPrefix

// ErrPassRunning is returned by RunOnce and Trigger while a pass runs.
var ErrPassRunning = scheduler.ErrPassRunning

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (*Config, error) {
	c, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

// Sweeper owns every component of a running sweeper.
type Sweeper struct {
	config *Config
	logger *slog.Logger

	engine  *reconcile.Engine
	sched   *scheduler.Scheduler
	store   store.Store
	oracle  *activity.DB
	history *history.Recorder

	servers []*http.Server
	errs    chan error
}

// New builds a Sweeper from a validated configuration. Nothing is scheduled
// until Start.
func New(c *Config, logger *slog.Logger) (_ *Sweeper, err error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{config: c, logger: logger, errs: make(chan error, 2)}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	pc := c.Panel
	pc.Logger = logger
	client, err := panel.New(pc)
	if err != nil {
		return nil, err
	}

	ac := c.Activity
	ac.Logger = logger
	if s.oracle, err = activity.New(ac); err != nil {
		return nil, fmt.Errorf("activity database: %w", err)
	}

	sc := c.State
	sc.Logger = logger
	if s.store, err = storefactory.New(sc); err != nil {
		return nil, fmt.Errorf("state store: %w", err)
	}

	var notifier notify.Notifier = notify.Log{Logger: logger}
	if c.Discord.WebhookURL != "" {
		dc := c.Discord
		dc.Logger = logger
		if notifier, err = notify.NewDiscord(dc); err != nil {
			return nil, err
		}
	}

	if c.History.Enabled {
		sinks := make([]history.Sink, 0, len(c.History.Sinks))
		for _, dsn := range c.History.Sinks {
			sink, err := historyfactory.NewSinkFromDSN(dsn)
			if err != nil {
				s.history = history.NewRecorder(logger, sinks...)
				return nil, fmt.Errorf("history sink: %w", err)
			}
			sinks = append(sinks, sink)
		}
		s.history = history.NewRecorder(logger, sinks...)
	}

	s.engine, err = reconcile.New(reconcile.Policy{
		InactiveLimit:             c.Policy.InactiveLimit(),
		SuspendedLimit:            c.Policy.SuspendedLimit(),
		ProtectedKeywords:         c.Policy.ProtectedKeywords,
		DryRun:                    c.Policy.DryRun,
		DeleteExternallySuspended: c.Policy.DeleteExternallySuspended,
		PruneOrphans:              c.Policy.PruneOrphans,
		CallTimeout:               c.Policy.CallTimeout,
	}, reconcile.Deps{
		Directory: client,
		Oracle:    s.oracle,
		Actuator:  panel.NewActuator(client, c.Policy.DryRun),
		Store:     s.store,
		Notifier:  notifier,
		History:   s.history,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	loc, err := c.Schedule.Location()
	if err != nil {
		return nil, err
	}
	s.sched, err = scheduler.New(scheduler.Config{
		Cron:       c.Schedule.Cron,
		Location:   loc,
		RunOnStart: c.Schedule.RunOnStart,
		Logger:     logger,
	}, s.engine.Run)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// RunOnce runs a pass now and waits for it.
func (s *Sweeper) RunOnce(ctx context.Context) (Summary, error) { return s.sched.TryRun(ctx) }

// Trigger starts a pass in the background.
func (s *Sweeper) Trigger() error { return s.sched.Trigger() }

func (s *Sweeper) Running() bool { return s.sched.Running() }

func (s *Sweeper) LastSummary() (Summary, bool) { return s.sched.Last() }

func (s *Sweeper) NextRun() time.Time { return s.sched.Next() }

// Tracked reads the persisted records.
func (s *Sweeper) Tracked(ctx context.Context) (Snapshot, error) { return s.store.Load(ctx) }

// Errors reports fatal listener failures of the metrics and API servers.
func (s *Sweeper) Errors() <-chan error { return s.errs }

// Start registers metrics, starts the configured HTTP servers and the
// schedule.
func (s *Sweeper) Start() error {
	if s.config.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		s.serve("metrics", iapi.NewServer(s.config.Metrics.Listen, mux, nil))
	}
	if s.config.Server.Enabled {
		tlsConf, err := itls.Setup(s.config.Server.TLS)
		if err != nil {
			return fmt.Errorf("api tls: %w", err)
		}
		router := iapi.NewRouter(s, iapi.Options{
			BasePath: s.config.Server.BasePath,
			Token:    s.config.Server.Token,
			Logger:   s.logger,
		})
		s.serve("api", iapi.NewServer(s.config.Server.Listen, router.Handler(), tlsConf))
	}
	return s.sched.Start()
}

func (s *Sweeper) serve(name string, srv *http.Server) {
	s.servers = append(s.servers, srv)
	s.logger.Info("listening", "server", name, "addr", srv.Addr, "tls", srv.TLSConfig != nil)
	go func() {
		if err := iapi.ListenAndServe(srv); err != nil {
			select {
			case s.errs <- fmt.Errorf("%s server: %w", name, err):
			default:
			}
		}
	}()
}

// Stop shuts down the HTTP servers and the schedule, waiting for an
// in-flight pass.
func (s *Sweeper) Stop(ctx context.Context) error {
	var errs []error
	for _, srv := range s.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.servers = nil
	if s.sched != nil {
		s.sched.Stop()
	}
	return errors.Join(errs...)
}

// Close releases the store, the activity database and the history sinks.
func (s *Sweeper) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.oracle != nil {
		errs = append(errs, s.oracle.Close())
	}
	errs = append(errs, s.history.Close())
	return errors.Join(errs...)
}
