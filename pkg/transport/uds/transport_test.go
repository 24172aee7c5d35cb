package uds

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modoterra/telesink/pkg/core"
)

func startServer(t *testing.T, register func(*Server)) (*Server, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "test.sock")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	srv := NewServer(sock, logger)
	if register != nil {
		register(srv)
	}
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		<-done
	})
	return srv, sock
}

func dial(t *testing.T, sock string) *Client {
	t.Helper()
	client, err := Dial(sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitClients(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", srv.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPingRoundTrip(t *testing.T) {
	_, sock := startServer(t, func(s *Server) {
		s.Handle(MethodPing, func(_ context.Context, _ Message) (any, error) {
			return PingResponse{Pong: true, Version: "test"}, nil
		})
	})
	client := dial(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var pong PingResponse
	if err := client.Call(ctx, MethodPing, nil, &pong); err != nil {
		t.Fatalf("ping request: %v", err)
	}
	if !pong.Pong || pong.Version != "test" {
		t.Errorf("unexpected pong: %+v", pong)
	}
}

func TestRequestPayloadReachesHandler(t *testing.T) {
	_, sock := startServer(t, func(s *Server) {
		s.Handle(MethodClear, func(_ context.Context, req Message) (any, error) {
			var in ClearRequest
			if err := req.UnmarshalData(&in); err != nil {
				return nil, err
			}
			seq, err := core.ParseSequence(in.Sequence)
			if err != nil {
				return nil, err
			}
			return ClearResponse{Sequence: seq}, nil
		})
	})
	client := dial(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out ClearResponse
	if err := client.Call(ctx, MethodClear, ClearRequest{Sequence: "display_logs"}, &out); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if out.Sequence != core.SequenceDisplay {
		t.Errorf("sequence: got %q", out.Sequence)
	}

	if err := client.Call(ctx, MethodClear, ClearRequest{Sequence: "bogus"}, nil); err == nil {
		t.Error("expected handler error for unknown sequence")
	}
	if err := client.Call(ctx, MethodClear, nil, nil); err == nil {
		t.Error("expected handler error for empty payload")
	}
}

func TestUnknownMethod(t *testing.T) {
	_, sock := startServer(t, nil)
	client := dial(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.Request(ctx, "NoSuchMethod", nil); err == nil {
		t.Error("expected error for unknown method")
	}
}

func TestBroadcastEvent(t *testing.T) {
	srv, sock := startServer(t, func(s *Server) {
		s.Handle(MethodPing, func(_ context.Context, _ Message) (any, error) {
			return PingResponse{Pong: true}, nil
		})
	})
	client := dial(t, sock)

	evtCh := make(chan Message, 1)
	client.OnEvent(func(msg Message) {
		evtCh <- msg
	})

	// Ensure the server has registered the connection
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Request(ctx, MethodPing, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	evt, err := NewEvent(EventEntriesCleared, ClearedEvent{Sequence: core.SequenceSamples})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	srv.Broadcast(evt)

	select {
	case msg := <-evtCh:
		if msg.Method != EventEntriesCleared {
			t.Errorf("expected method %s, got %s", EventEntriesCleared, msg.Method)
		}
		var cleared ClearedEvent
		if err := msg.UnmarshalData(&cleared); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if cleared.Sequence != core.SequenceSamples {
			t.Errorf("sequence: got %q", cleared.Sequence)
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for broadcast event")
	}
}

func TestShutdownClosesClients(t *testing.T) {
	srv, sock := startServer(t, func(s *Server) {
		s.Handle(MethodPing, func(_ context.Context, _ Message) (any, error) {
			return PingResponse{Pong: true}, nil
		})
	})
	client := dial(t, sock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Request(ctx, MethodPing, nil); err != nil {
		t.Fatalf("ping: %v", err)
	}

	srv.Shutdown()
	srv.Shutdown()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not disconnected after shutdown")
	}
	if _, err := client.Request(ctx, MethodPing, nil); err == nil {
		t.Error("expected request on closed connection to fail")
	}
	if _, err := os.Stat(sock); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket file not removed: %v", err)
	}
}

func TestClientsTracksConnections(t *testing.T) {
	srv, sock := startServer(t, nil)
	waitClients(t, srv, 0)

	first := dial(t, sock)
	dial(t, sock)
	waitClients(t, srv, 2)

	first.Close()
	waitClients(t, srv, 1)
}

func TestBroadcastDoesNotWaitForStalledClient(t *testing.T) {
	srv, sock := startServer(t, nil)

	// A subscriber that connects and never reads.
	stalled, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stalled.Close()
	waitClients(t, srv, 1)

	evt, err := NewEvent(EventEntriesLog, LogEvent{Entry: core.LogEntry{Text: strings.Repeat("x", 64*1024)}})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}

	start := time.Now()
	for i := 0; i < clientQueue+64; i++ {
		srv.Broadcast(evt)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("broadcasts blocked on a stalled client: took %s", elapsed)
	}

	// The stalled client is disconnected rather than kept around.
	waitClients(t, srv, 0)
	stalled.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.Copy(io.Discard, stalled); err != nil {
		t.Errorf("stalled connection not closed by server: %v", err)
	}

	// Healthy subscribers still receive events afterwards.
	client := dial(t, sock)
	evtCh := make(chan Message, 1)
	client.OnEvent(func(msg Message) {
		select {
		case evtCh <- msg:
		default:
		}
	})
	waitClients(t, srv, 1)

	cleared, err := NewEvent(EventEntriesCleared, ClearedEvent{Sequence: core.SequenceDurable})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	srv.Broadcast(cleared)

	select {
	case msg := <-evtCh:
		if msg.Method != EventEntriesCleared {
			t.Errorf("method: got %s", msg.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event after stalled client was dropped")
	}
}
