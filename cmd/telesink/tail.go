package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/transport/uds"
	tuimodel "github.com/modoterra/telesink/pkg/tui/model"
)

var (
	tailSamples bool
	viewPoll    time.Duration
)

func init() {
	tailCmd.Flags().BoolVar(&tailSamples, "samples", false, "also print data samples")
	viewCmd.Flags().DurationVar(&viewPoll, "interval", 250*time.Millisecond, "polling interval")

	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(viewCmd)
}

// --- Tail ---

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream new entries from the control socket",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialControl()
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		client.OnEvent(func(msg uds.Message) {
			printEvent(out, msg, tailSamples)
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		var pong uds.PingResponse
		err = client.Call(pingCtx, uds.MethodPing, nil, &pong)
		cancel()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "tailing %s (telesinkd %s)\n", socketPath, pong.Version)

		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			fmt.Fprintln(cmd.ErrOrStderr(), "daemon closed the connection")
			return nil
		}
	},
}

func printEvent(w io.Writer, msg uds.Message, samples bool) {
	switch msg.Method {
	case uds.EventEntriesLog:
		var evt uds.LogEvent
		if err := msg.UnmarshalData(&evt); err != nil {
			return
		}
		fmt.Fprintln(w, evt.Entry.String())
	case uds.EventEntriesSample:
		if !samples {
			return
		}
		var evt uds.SampleEvent
		if err := msg.UnmarshalData(&evt); err != nil {
			return
		}
		fmt.Fprintf(w, "data %s\n", evt.Payload)
	case uds.EventEntriesCleared:
		var evt uds.ClearedEvent
		if err := msg.UnmarshalData(&evt); err != nil {
			return
		}
		if evt.Sequence == core.SequenceSamples && !samples {
			return
		}
		fmt.Fprintf(w, "-- %s cleared --\n", evt.Sequence)
	}
}

// --- View ---

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Open the live terminal viewer",
	RunE: func(_ *cobra.Command, _ []string) error {
		client := newClient()
		app := tuimodel.New(client, client.Base(), viewPoll)
		p := tea.NewProgram(app, tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}
