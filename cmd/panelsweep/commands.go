package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/panelsweep"
	"github.com/loykin/panelsweep/internal/logger"
	"github.com/loykin/panelsweep/internal/store"
	storefactory "github.com/loykin/panelsweep/internal/store/factory"
	"github.com/loykin/panelsweep/pkg/client"
)

// command holds the shared output of every subcommand.
type command struct {
	out io.Writer
}

func loadConfig(path string) (*panelsweep.Config, error) {
	if path == "" {
		return nil, errors.New("config file required. Use --config=panelsweep.toml or provide it as argument")
	}
	cfg, err := panelsweep.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// Serve runs the scheduler until a signal, a listener failure or f.stop.
func (c *command) Serve(f ServeFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Daemonize {
		return daemonize(f.LogFile)
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	s, err := panelsweep.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(); err != nil {
		_ = s.Stop(context.Background())
		return err
	}
	log.Info("panelsweep started", "schedule", cfg.Schedule.Cron, "next_run", s.NextRun(), "dry_run", cfg.Policy.DryRun)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case runErr = <-s.Errors():
		log.Error("server failed", "error", runErr)
	case <-f.stop:
	}

	timeout := f.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Stop(sctx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
	log.Info("panelsweep stopped")
	return runErr
}

// Run performs one pass in the foreground.
func (c *command) Run(ctx context.Context, f RunFlags) error {
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	switch {
	case f.Apply:
		cfg.Policy.DryRun = false
	case f.DryRunSet:
		cfg.Policy.DryRun = f.DryRun
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	s, err := panelsweep.New(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	sum, err := s.RunOnce(ctx)
	rs := toRunSummary(sum)
	if f.JSON {
		printJSON(c.out, rs)
	} else {
		printSummary(c.out, rs)
	}
	return err
}

// State prints the tracked records read straight from the store.
func (c *command) State(ctx context.Context, f StateFlags) error {
	phase := store.Phase(f.Phase)
	if phase != store.PhaseNone && phase != store.PhaseInactive && phase != store.PhaseSuspended {
		return fmt.Errorf("unknown phase %q (want inactive or suspended)", f.Phase)
	}
	cfg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	sc := cfg.State
	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = closer.Close() }()
	sc.Logger = log

	st, err := storefactory.New(sc)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if ctx == nil {
		ctx = context.Background()
	}
	snap, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	out := toState(snap, phase)
	if f.JSON {
		printJSON(c.out, out)
		return nil
	}
	printState(c.out, out)
	return nil
}

// Status prints the scheduler state of a running daemon.
func (c *command) Status(ctx context.Context, f RemoteFlags) error {
	api, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if f.JSON {
		printJSON(c.out, st)
		return nil
	}
	printStatus(c.out, st)
	return nil
}

// Trigger asks a running daemon to start a pass.
func (c *command) Trigger(ctx context.Context, f RemoteFlags) error {
	api, err := newAPIClient(f)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := api.Trigger(ctx); err != nil {
		if errors.Is(err, client.ErrPassRunning) {
			return errors.New("a pass is already running on the daemon")
		}
		return fmt.Errorf("trigger: %w", err)
	}
	_, _ = fmt.Fprintln(c.out, "pass started")
	return nil
}

func newAPIClient(f RemoteFlags) (*client.Client, error) {
	token := f.Token
	if token == "" {
		token = os.Getenv(panelsweep.EnvPrefix + "_SERVER_TOKEN")
	}
	cfg := client.Config{
		BaseURL:  f.APIUrl,
		Token:    token,
		Timeout:  f.APITimeout,
		Insecure: f.Insecure,
	}
	if f.CACert != "" || f.ServerName != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert, ServerName: f.ServerName}
	}
	return client.New(cfg)
}
