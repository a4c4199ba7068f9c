package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// Flag structs decouple cobra from command logic for testing.

type ServeFlags struct {
	ConfigPath      string
	Daemonize       bool
	PidFile         string
	LogFile         string
	ShutdownTimeout time.Duration
	// tests stop the daemon through this channel instead of a signal
	stop <-chan struct{}
}

type RunFlags struct {
	ConfigPath string
	DryRun     bool
	DryRunSet  bool
	Apply      bool
	JSON       bool
}

type StateFlags struct {
	ConfigPath string
	Phase      string
	JSON       bool
}

// RemoteFlags selects and authenticates a running daemon.
type RemoteFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
	CACert     string
	ServerName string
	Insecure   bool
	JSON       bool
}
