package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/telesink/pkg/core"
)

func init() {
	clearCmd.AddCommand(newClearCmd("logs", core.SequenceDurable, "Clear the durable log (clear_server_logs)"))
	clearCmd.AddCommand(newClearCmd("display", core.SequenceDisplay, "Clear the display log (clear_display_logs)"))
	clearCmd.AddCommand(newClearCmd("data", core.SequenceSamples, "Clear the stored samples (clear_server_data)"))

	sendCmd.AddCommand(sendLogCmd)
	sendCmd.AddCommand(sendDataCmd)
	getCmd.Flags().BoolVar(&getJSON, "json", false, "print the raw JSON array")

	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(getCmd)
}

// --- Clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear one of the daemon's sequences",
}

func newClearCmd(use string, seq core.Sequence, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			msg, err := newOps().Clear(cmd.Context(), seq)
			return printResult(cmd.OutOrStdout(), msg, err)
		},
	}
}

// --- Get ---

var getJSON bool

var getCmd = &cobra.Command{
	Use:   "get <logs|display|data>",
	Short: "Print the current contents of a sequence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := core.ParseSequence(args[0])
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		client := newClient()
		var items []string
		switch seq {
		case core.SequenceDurable:
			items, err = client.Logs(ctx)
		case core.SequenceDisplay:
			items, err = client.DisplayLogs(ctx)
		case core.SequenceSamples:
			var samples []json.RawMessage
			samples, err = client.Data(ctx)
			for _, s := range samples {
				items = append(items, string(s))
			}
		}
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if getJSON {
			if items == nil {
				items = []string{}
			}
			return json.NewEncoder(out).Encode(items)
		}
		for _, item := range items {
			fmt.Fprintln(out, item)
		}
		return nil
	},
}

// --- Send ---

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Post a log line or a data sample the way a device would",
}

var sendLogCmd = &cobra.Command{
	Use:   "log <text...>",
	Short: "Send a log line to /receive (reads stdin when no text is given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if len(args) == 0 {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = strings.TrimRight(string(data), "\n")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		msg, err := newClient().SendLog(ctx, text)
		return printResult(cmd.OutOrStdout(), msg, err)
	},
}

var sendDataCmd = &cobra.Command{
	Use:   "data <json-list|->",
	Short: "Send a JSON list to /receive_data (\"-\" reads stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(args[0])
		if args[0] == "-" {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			payload = data
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		msg, err := newClient().SendData(ctx, payload)
		return printResult(cmd.OutOrStdout(), msg, err)
	},
}
