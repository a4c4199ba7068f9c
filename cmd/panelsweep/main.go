package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmds := &command{out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(cmds, globalFlags),
		createRunCommand(cmds, globalFlags),
		createStateCommand(cmds, globalFlags),
		createStatusCommand(cmds),
		createTriggerCommand(cmds),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "panelsweep",
		Short: "Lifecycle sweeper for game-server panels",
		Long: `Panelsweep tracks idle game servers, suspends them after a grace
period and deletes them once they stayed suspended long enough.

Examples:
  panelsweep serve panelsweep.toml       # Start the scheduled daemon
  panelsweep run --dry-run               # One pass now, no panel actions
  panelsweep state --phase=suspended     # Inspect tracked servers
  panelsweep status --api-url=http://host:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func createServeCommand(c *command, globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the sweeper daemon",
		Long: `Start the scheduler and, when configured, the HTTP API and the metrics
endpoint. The daemon stops on SIGINT or SIGTERM and waits for a running pass.

Examples:
  panelsweep serve                       # uses --config
  panelsweep serve panelsweep.toml
  panelsweep serve panelsweep.toml --daemonize --pidfile=/run/panelsweep.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = configFromArgs(globalFlags.ConfigPath, args)
			return c.Serve(*serveFlags)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for a graceful stop")
	return cmd
}

func createRunCommand(c *command, globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run [config.toml]",
		Short: "Run one reconciliation pass now",
		Long: `Run one reconciliation pass in the foreground and print its summary.
--dry-run forces simulation regardless of the configuration, --apply forces
real suspend and delete calls.

Examples:
  panelsweep run --config=panelsweep.toml --dry-run
  panelsweep run panelsweep.toml --apply --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = configFromArgs(globalFlags.ConfigPath, args)
			runFlags.DryRunSet = cmd.Flags().Changed("dry-run")
			return c.Run(cmd.Context(), *runFlags)
		},
	}
	cmd.Flags().BoolVar(&runFlags.DryRun, "dry-run", false, "simulate panel actions")
	cmd.Flags().BoolVar(&runFlags.Apply, "apply", false, "perform panel actions even if the config enables dry_run")
	cmd.Flags().BoolVar(&runFlags.JSON, "json", false, "print the summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("dry-run", "apply")
	return cmd
}

func createStateCommand(c *command, globalFlags *GlobalFlags) *cobra.Command {
	stateFlags := &StateFlags{}
	cmd := &cobra.Command{
		Use:   "state [config.toml]",
		Short: "Print tracked servers from the state store",
		Long: `Read the configured state store and print every tracked server.

Examples:
  panelsweep state --config=panelsweep.toml
  panelsweep state panelsweep.toml --phase=inactive --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stateFlags.ConfigPath = configFromArgs(globalFlags.ConfigPath, args)
			return c.State(cmd.Context(), *stateFlags)
		},
	}
	cmd.Flags().StringVar(&stateFlags.Phase, "phase", "", "only show records in this phase (inactive, suspended)")
	cmd.Flags().BoolVar(&stateFlags.JSON, "json", false, "print records as JSON")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	remote := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running daemon",
		Long: `Ask a running daemon for its scheduler state and the last pass summary.

Examples:
  panelsweep status
  panelsweep status --api-url=https://host:8443/api --ca-cert=ca.crt --token=$TOKEN`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *remote)
		},
	}
	addRemoteFlags(cmd, remote)
	cmd.Flags().BoolVar(&remote.JSON, "json", false, "print the raw status as JSON")
	return cmd
}

func createTriggerCommand(c *command) *cobra.Command {
	remote := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a pass on a running daemon",
		Long: `Ask a running daemon to start a pass now. Fails if one is already running.

Examples:
  panelsweep trigger --api-url=http://host:8080/api`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Trigger(cmd.Context(), *remote)
		},
	}
	addRemoteFlags(cmd, remote)
	return cmd
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:8080/api", "daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&f.Token, "token", "", "bearer token (defaults to $PANELSWEEP_SERVER_TOKEN)")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for HTTPS")
	cmd.Flags().StringVar(&f.ServerName, "server-name", "", "expected TLS server name")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

func configFromArgs(flagPath string, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return flagPath
}
