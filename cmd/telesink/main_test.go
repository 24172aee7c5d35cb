package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/telesink/pkg/config"
	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/daemon"
	"github.com/modoterra/telesink/pkg/transport/uds"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetArgs(args)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.Execute()
	return buf.String(), err
}

func startSink(t *testing.T) string {
	t.Helper()
	t.Setenv("NOTIFY_SOCKET", "")

	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"
	cfg.Discovery.Enabled = false
	cfg.Control.Socket = ""

	d, err := daemon.New(daemon.Options{
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	select {
	case <-d.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon not ready")
	}
	return "http://" + d.Addr()
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "telesink ") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telesink.yaml")

	if _, err := execute(t, "config", "init", path); err != nil {
		t.Fatalf("init: %v", err)
	}
	out, err := execute(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Errorf("validate output = %q", out)
	}

	if _, err := execute(t, "config", "init", path); err == nil {
		t.Error("init over an existing file should fail without --force")
	}
}

func TestConfigValidateInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nreceive_policy: sometimes\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "config", "validate", path); err == nil {
		t.Error("expected validation error")
	}
}

func TestSendGetClear(t *testing.T) {
	addr := startSink(t)

	out, err := execute(t, "--addr", addr, "send", "log", "boot", "ok")
	if err != nil {
		t.Fatalf("send log: %v", err)
	}
	if strings.TrimSpace(out) != "Logs received" {
		t.Errorf("send log output = %q", out)
	}

	if _, err := execute(t, "--addr", addr, "send", "data", "[1,2,3]"); err != nil {
		t.Fatalf("send data: %v", err)
	}
	if _, err := execute(t, "--addr", addr, "send", "data", `{"a":1}`); err == nil {
		t.Error("non-list sample should be rejected")
	}

	out, err = execute(t, "--addr", addr, "get", "logs")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if !strings.Contains(out, "] boot ok") {
		t.Errorf("get logs = %q", out)
	}

	out, err = execute(t, "--addr", addr, "get", "data")
	if err != nil {
		t.Fatalf("get data: %v", err)
	}
	if strings.TrimSpace(out) != "[1,2,3]" {
		t.Errorf("get data = %q", out)
	}

	out, err = execute(t, "--addr", addr, "clear", "logs")
	if err != nil {
		t.Fatalf("clear logs: %v", err)
	}
	if strings.TrimSpace(out) != "Logs cleared" {
		t.Errorf("clear output = %q", out)
	}

	out, err = execute(t, "--addr", addr, "get", "display")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "boot ok") {
		t.Errorf("display log should survive durable clear: %q", out)
	}

	if _, err := execute(t, "--addr", addr, "ping"); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestGetUnknownSequence(t *testing.T) {
	if _, err := execute(t, "get", "bogus"); err == nil {
		t.Error("expected error for unknown sequence")
	}
}

type fakeOps struct {
	calls []string
	err   error
}

func (f *fakeOps) Start(context.Context) (string, error) {
	f.calls = append(f.calls, "start")
	return "started", f.err
}

func (f *fakeOps) Stop(context.Context) (string, error) {
	f.calls = append(f.calls, "stop")
	return "stopped", f.err
}

func (f *fakeOps) Clear(_ context.Context, seq core.Sequence) (string, error) {
	f.calls = append(f.calls, "clear:"+string(seq))
	return "cleared", f.err
}

func (f *fakeOps) Status(context.Context) (string, error) {
	f.calls = append(f.calls, "status")
	return "running", f.err
}

func TestShell(t *testing.T) {
	ops := &fakeOps{}
	in := strings.NewReader("start\n\nCLEAR_SERVER_LOGS\nclear_display_logs\nclear_server_data\nstatus\nfrobnicate\nquit\nstart\n")
	out := &bytes.Buffer{}

	if err := runShell(context.Background(), ops, in, out); err != nil {
		t.Fatal(err)
	}

	want := []string{"start", "clear:durable", "clear:display", "clear:samples", "status", "stop"}
	if strings.Join(ops.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", ops.calls, want)
	}
	if !strings.Contains(out.String(), "unknown command: frobnicate") {
		t.Errorf("missing unknown command message in %q", out.String())
	}
	if !strings.Contains(out.String(), "bye") {
		t.Error("quit should say bye")
	}
}

func TestShellErrorsContinue(t *testing.T) {
	ops := &fakeOps{err: errors.New("connection refused")}
	out := &bytes.Buffer{}

	if err := runShell(context.Background(), ops, strings.NewReader("stop\nstatus\n"), out); err != nil {
		t.Fatal(err)
	}
	if len(ops.calls) != 2 {
		t.Errorf("calls = %v, want both commands run", ops.calls)
	}
	if strings.Count(out.String(), "error: connection refused") != 2 {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	logMsg, err := uds.NewEvent(uds.EventEntriesLog, uds.LogEvent{
		Sequences: []core.Sequence{core.SequenceDurable},
		Entry:     core.LogEntry{Time: at, Text: "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	sampleMsg, err := uds.NewEvent(uds.EventEntriesSample, uds.SampleEvent{Payload: []byte(`[1]`)})
	if err != nil {
		t.Fatal(err)
	}
	clearMsg, err := uds.NewEvent(uds.EventEntriesCleared, uds.ClearedEvent{Sequence: core.SequenceDisplay})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printEvent(&buf, logMsg, false)
	printEvent(&buf, sampleMsg, false)
	printEvent(&buf, clearMsg, false)
	want := "[09:30:00] hello\n-- display cleared --\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	printEvent(&buf, sampleMsg, true)
	if buf.String() != "data [1]\n" {
		t.Errorf("sample output = %q", buf.String())
	}
}
