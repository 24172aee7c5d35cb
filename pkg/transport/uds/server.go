package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// clientQueue bounds the messages waiting for one client. A client
	// that falls this far behind is disconnected.
	clientQueue = 256
	// writeTimeout bounds a single write to a client.
	writeTimeout = time.Second
)

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	logger     *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
	handlers map[string]HandlerFunc
	clients  map[*conn]struct{}
	closed   bool
}

// conn is one accepted client. Everything written to it goes through out
// and is drained by a dedicated writer goroutine.
type conn struct {
	net.Conn
	out  chan []byte
	gone chan struct{}
	once sync.Once
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*conn]struct{}),
		logger:     logger,
	}
}

// Handle registers a handler for a method. Register before Serve.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Path returns the socket path.
func (s *Server) Path() string { return s.socketPath }

// Listen binds the socket. It removes any stale socket file first.
func (s *Server) Listen() error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("control socket listening", "socket", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// Listen must have succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return errors.New("serve: not listening")
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", "err", err)
			continue
		}

		c := &conn{Conn: nc, out: make(chan []byte, clientQueue), gone: make(chan struct{})}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return nil
		}
		s.clients[c] = struct{}{}
		s.mu.Unlock()

		go s.writeLoop(c)
		go s.handleConn(ctx, c)
	}
}

// Broadcast queues an event for every connected client and returns
// without waiting for any of them. Clients whose queue is full are
// disconnected.
func (s *Server) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", "err", err)
		return
	}
	line := append(data, '\n')

	s.mu.RLock()
	targets := make([]*conn, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		s.send(c, line)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown cleanly stops the server. Safe to call more than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	clients := make([]*conn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.drop(c)
	}
	os.Remove(s.socketPath)
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) handleConn(ctx context.Context, c *conn) {
	defer s.drop(c)

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		s.mu.RLock()
		handler, ok := s.handlers[msg.Method]
		s.mu.RUnlock()
		if !ok {
			resp := NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
			s.writeMessage(c, resp)
			continue
		}

		result, err := handler(ctx, msg)
		var resp Message
		if err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		} else if resp, err = NewResponse(msg.ID, msg.Method, result); err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		}
		s.writeMessage(c, resp)
	}
}

func (s *Server) writeMessage(c *conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal response error", "err", err)
		return
	}
	s.send(c, append(data, '\n'))
}

// send queues one NDJSON line for c. It never blocks: a full queue
// disconnects the client.
func (s *Server) send(c *conn, line []byte) {
	select {
	case <-c.gone:
	case c.out <- line:
	default:
		s.logger.Warn("control client too slow, disconnecting", "queued", len(c.out))
		s.drop(c)
	}
}

func (s *Server) writeLoop(c *conn) {
	for {
		select {
		case <-c.gone:
			return
		case line := <-c.out:
			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.Write(line); err != nil {
				s.logger.Debug("control client write failed", "err", err)
				s.drop(c)
				return
			}
		}
	}
}

// drop disconnects c and forgets it. Safe to call more than once.
func (s *Server) drop(c *conn) {
	c.once.Do(func() {
		close(c.gone)
		c.Close()
	})
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
