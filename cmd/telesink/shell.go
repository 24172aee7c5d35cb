package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/modoterra/telesink/pkg/core"
)

const shellHelp = "commands: start, stop, clear_server_logs, clear_display_logs, clear_server_data, status, help, quit"

func init() {
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive launcher prompt",
	Long: "shell reads launcher commands from stdin, one per line:\n" +
		"start, stop, clear_server_logs, clear_display_logs, clear_server_data, status, quit.\n" +
		"quit also stops the daemon.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runShell(cmd.Context(), newOps(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// runShell executes commands until quit or end of input. Command failures
// are printed and do not end the session.
func runShell(ctx context.Context, ops daemonOps, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, shellHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "telesink> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}

		var (
			msg string
			err error
		)
		switch line {
		case "start":
			msg, err = ops.Start(ctx)
		case "stop":
			msg, err = ops.Stop(ctx)
		case "clear_server_logs":
			msg, err = ops.Clear(ctx, core.SequenceDurable)
		case "clear_display_logs":
			msg, err = ops.Clear(ctx, core.SequenceDisplay)
		case "clear_server_data":
			msg, err = ops.Clear(ctx, core.SequenceSamples)
		case "status":
			msg, err = ops.Status(ctx)
		case "help", "?":
			msg = shellHelp
		case "quit", "exit":
			if msg, err := ops.Stop(ctx); err == nil {
				fmt.Fprintln(out, msg)
			}
			fmt.Fprintln(out, "bye")
			return nil
		default:
			err = errors.New("unknown command: " + line)
		}

		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, msg)
	}
}
