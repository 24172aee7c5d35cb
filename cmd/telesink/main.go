package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/telesink/internal/buildinfo"
	"github.com/modoterra/telesink/pkg/config"
	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/daemon/service"
	"github.com/modoterra/telesink/pkg/transport/httpapi"
	"github.com/modoterra/telesink/pkg/transport/uds"
)

var (
	serverAddr string
	socketPath string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "telesink",
	Short: "Launcher and operator CLI for the telesink daemon",
	Long: "telesink starts and stops telesinkd, queries and clears its logs and samples, " +
		"and opens a live terminal viewer.",
	SilenceUsage: true,
}

func init() {
	defaults := config.Default()
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://127.0.0.1:5000", "daemon HTTP address")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaults.Control.Socket, "daemon control socket path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "telesinkd config file passed to start and service install")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *httpapi.Client {
	return httpapi.NewClient(serverAddr)
}

func dialControl() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the daemon answers over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := newClient().Ping(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "pong ✓")
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "telesink %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running and how much it holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		stats, err := newClient().Stats(ctx)
		if statusJSON {
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		if err != nil {
			fmt.Fprintf(out, "daemon: not reachable at %s\n", serverAddr)
		} else {
			printStats(cmd, stats)
		}
		if client, err := dialControl(); err == nil {
			var pong uds.PingResponse
			if err := client.Call(ctx, uds.MethodPing, nil, &pong); err == nil {
				fmt.Fprintf(out, "control: telesinkd %s on %s\n", pong.Version, socketPath)
			}
			client.Close()
		}
		if pid, err := newLauncher().PID(); err == nil {
			fmt.Fprintf(out, "pid file: %d\n", pid)
		}
		fmt.Fprintln(out, service.Status(ctx, socketPath))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output stats as JSON")
}

func printStats(cmd *cobra.Command, stats core.Stats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "daemon: %s at %s (up %s)\n", stats.State, serverAddr,
		(time.Duration(stats.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(out, "%-10s %d\n", "durable", stats.Durable)
	fmt.Fprintf(out, "%-10s %d\n", "display", stats.Display)
	fmt.Fprintf(out, "%-10s %d\n", "samples", stats.Samples)
	fmt.Fprintf(out, "%-10s %d\n", "tailing", stats.Subscribers)
}
