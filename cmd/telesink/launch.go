package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/launcher"
)

var (
	daemonBinary string
	pidFile      string
	daemonLog    string
	stopGrace    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid-file", launcher.DefaultPIDFile(), "pid file of a daemon started by this CLI")

	startCmd.Flags().StringVar(&daemonBinary, "daemon", "telesinkd", "daemon binary to run")
	startCmd.Flags().StringVar(&daemonLog, "log-file", filepath.Join(os.TempDir(), "telesinkd.log"), "file receiving daemon output")
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 5*time.Second, "time to wait at each stop stage before escalating")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
}

func newLauncher() *launcher.Launcher {
	var args []string
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if rootCmd.PersistentFlags().Changed("socket") {
		args = append(args, "--socket", socketPath)
	}
	return &launcher.Launcher{
		Binary:  daemonBinary,
		Args:    args,
		PIDFile: pidFile,
		LogFile: daemonLog,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

// daemonOps are the launcher actions shared by the subcommands and the
// interactive shell.
type daemonOps interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (string, error)
	Clear(ctx context.Context, seq core.Sequence) (string, error)
	Status(ctx context.Context) (string, error)
}

type cliOps struct {
	launcher *launcher.Launcher
}

func newOps() *cliOps {
	return &cliOps{launcher: newLauncher()}
}

func (o *cliOps) Start(ctx context.Context) (string, error) {
	pid, err := o.launcher.Start()
	if errors.Is(err, launcher.ErrAlreadyRunning) {
		return fmt.Sprintf("telesinkd already running (pid %d)", pid), nil
	}
	if err != nil {
		return "", err
	}

	client := newClient()
	for i := 0; i < 30; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		err = client.Ping(pingCtx)
		cancel()
		if err == nil {
			return fmt.Sprintf("telesinkd started (pid %d) at %s", pid, client.Base()), nil
		}
		if !o.launcher.Running() {
			return "", fmt.Errorf("telesinkd exited during startup, see %s", o.launcher.LogFile)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Sprintf("telesinkd started (pid %d) but not answering at %s yet", pid, client.Base()), nil
}

// Stop shuts the daemon down cooperatively. A daemon this CLI did not
// start is still asked over HTTP.
func (o *cliOps) Stop(ctx context.Context) (string, error) {
	client := newClient()
	request := func(ctx context.Context) error {
		_, err := client.Shutdown(ctx)
		return err
	}

	err := o.launcher.Stop(ctx, request, stopGrace)
	if errors.Is(err, launcher.ErrNotRunning) {
		reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := request(reqCtx); err != nil {
			return "", fmt.Errorf("daemon not running: %w", err)
		}
		return "telesinkd stopping", nil
	}
	if err != nil {
		return "", err
	}
	return "telesinkd stopped", nil
}

func (o *cliOps) Clear(ctx context.Context, seq core.Sequence) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return newClient().Clear(ctx, seq)
}

func (o *cliOps) Status(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stats, err := newClient().Stats(ctx)
	if err != nil {
		if o.launcher.Running() {
			return "telesinkd process alive but not answering", nil
		}
		return "telesinkd not running", nil
	}
	return fmt.Sprintf("telesinkd %s: %d durable, %d display, %d samples",
		stats.State, stats.Durable, stats.Display, stats.Samples), nil
}

func printResult(w io.Writer, msg string, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(w, msg)
	return nil
}

// --- Start / Stop ---

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start telesinkd in the background",
	RunE: func(cmd *cobra.Command, _ []string) error {
		msg, err := newOps().Start(cmd.Context())
		return printResult(cmd.OutOrStdout(), msg, err)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop telesinkd (POST /shutdown, then signals)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		msg, err := newOps().Stop(cmd.Context())
		return printResult(cmd.OutOrStdout(), msg, err)
	},
}
