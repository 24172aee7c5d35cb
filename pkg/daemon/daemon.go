package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/modoterra/telesink/internal/buildinfo"
	"github.com/modoterra/telesink/pkg/clock"
	"github.com/modoterra/telesink/pkg/config"
	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/daemon/service"
	"github.com/modoterra/telesink/pkg/discovery"
	"github.com/modoterra/telesink/pkg/mirror"
	"github.com/modoterra/telesink/pkg/store"
	"github.com/modoterra/telesink/pkg/transport/httpapi"
	"github.com/modoterra/telesink/pkg/transport/uds"
)

// Options wires a Daemon. Nil collaborators fall back to defaults: the
// real clock, a Nop announcer, a Nop mirror.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Clock     clock.Clock
	Announcer discovery.Announcer
	Mirror    mirror.Publisher
}

// Daemon is the main telesinkd process: it owns the event store, serves
// the HTTP API and the control socket, announces itself, and tears
// everything down once shutdown is requested.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	announcer discovery.Announcer
	mirror    mirror.Publisher

	store   *store.Store
	coord   *Coordinator
	sink    *Sink
	control *uds.Server
	http    *http.Server

	mu    sync.RWMutex
	addr  net.Addr
	ready chan struct{}
}

// New creates a daemon from opts. The config must already be valid.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	target, err := core.ParseTarget(opts.Config.ReceivePolicy)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	announcer := opts.Announcer
	if announcer == nil {
		announcer = discovery.Nop{}
	}
	pub := opts.Mirror
	if pub == nil {
		pub = mirror.Nop{}
	}

	d := &Daemon{
		cfg:       opts.Config,
		logger:    logger,
		announcer: announcer,
		mirror:    pub,
		store:     store.New(clk),
		coord:     NewCoordinator(),
		ready:     make(chan struct{}),
	}
	if opts.Config.Control.Socket != "" {
		d.control = uds.NewServer(opts.Config.Control.Socket, logger)
		d.registerHandlers()
	}
	d.sink = newSink(d.store, d.coord, pub, d.control, clk, logger)

	api := httpapi.New(httpapi.Options{
		Sink:          d.sink,
		Logger:        logger,
		ReceiveTarget: target,
		PollInterval:  opts.Config.Viewer.PollInterval,
	})
	d.http = &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return d, nil
}

// Store returns the daemon's event store.
func (d *Daemon) Store() *store.Store { return d.store }

// Coordinator returns the shutdown coordinator.
func (d *Daemon) Coordinator() *Coordinator { return d.coord }

// Ready is closed once the HTTP listener is serving.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Addr returns the bound HTTP address, or "" before Run has listened.
func (d *Daemon) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.addr == nil {
		return ""
	}
	return d.addr.String()
}

// Run listens, announces, serves, and blocks until ctx is cancelled or a
// shutdown is requested through the API or the control socket. Teardown
// runs once before Run returns. A registration failure aborts startup
// before anything is served.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		d.sink.close()
		d.mirror.Close()
		return fmt.Errorf("listen %s: %w", d.cfg.Listen, err)
	}
	d.mu.Lock()
	d.addr = ln.Addr()
	d.mu.Unlock()

	port := ln.Addr().(*net.TCPAddr).Port
	if err := d.announcer.Register(ctx, port); err != nil {
		ln.Close()
		d.closeAnnouncer()
		d.sink.close()
		d.mirror.Close()
		return fmt.Errorf("announce service: %w", err)
	}

	controlCtx, stopControl := context.WithCancel(ctx)
	defer stopControl()
	if d.control != nil {
		if err := d.control.Listen(); err != nil {
			ln.Close()
			d.unregister()
			d.closeAnnouncer()
			d.mirror.Close()
			return fmt.Errorf("control socket: %w", err)
		}
		go func() {
			if err := d.control.Serve(controlCtx); err != nil {
				d.logger.Error("control socket stopped", "err", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := d.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	d.logger.Info("telesink serving", "addr", ln.Addr().String(), "version", buildinfo.Version)
	if sent, err := service.NotifyReady(); err != nil {
		d.logger.Warn("sd_notify ready", "err", err)
	} else if sent {
		d.logger.Debug("notified systemd")
	}
	close(d.ready)

	var runErr error
	select {
	case <-ctx.Done():
		d.coord.Request()
		d.logger.Info("shutting down", "reason", "signal")
	case <-d.coord.Requested():
		d.logger.Info("shutting down", "reason", "shutdown request")
	case err := <-serveErr:
		d.coord.Request()
		runErr = fmt.Errorf("serve http: %w", err)
		d.logger.Error("http server failed", "err", err)
	}

	d.coord.Teardown(d.teardown)
	return runErr
}

// teardown withdraws the announcement before anything else so the device
// stops resolving a sink that is about to disappear.
func (d *Daemon) teardown() {
	if _, err := service.NotifyStopping(); err != nil {
		d.logger.Warn("sd_notify stopping", "err", err)
	}

	d.unregister()
	d.closeAnnouncer()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()
	if err := d.http.Shutdown(ctx); err != nil {
		d.logger.Error("http shutdown", "err", err)
		d.http.Close()
	}

	// Deliver what the last requests queued before the subscribers and
	// the mirror go away.
	d.sink.close()
	if d.control != nil {
		d.control.Shutdown()
	}
	if err := d.mirror.Close(); err != nil {
		d.logger.Error("close mirror", "err", err)
	}
	d.logger.Info("teardown complete")
}

func (d *Daemon) unregister() {
	if err := d.announcer.Unregister(); err != nil {
		d.logger.Error("unregister announcement", "err", err)
	}
}

func (d *Daemon) closeAnnouncer() {
	if err := d.announcer.Close(); err != nil {
		d.logger.Error("close announcer", "err", err)
	}
}

func (d *Daemon) registerHandlers() {
	d.control.Handle(uds.MethodPing, d.handlePing)
	d.control.Handle(uds.MethodStats, d.handleStats)
	d.control.Handle(uds.MethodClear, d.handleClear)
	d.control.Handle(uds.MethodShutdown, d.handleShutdown)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleStats(_ context.Context, _ uds.Message) (any, error) {
	return d.sink.Stats(), nil
}

func (d *Daemon) handleClear(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ClearRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	seq, err := core.ParseSequence(req.Sequence)
	if err != nil {
		return nil, err
	}
	if err := d.sink.Clear(ctx, seq); err != nil {
		return nil, err
	}
	return uds.ClearResponse{Sequence: seq}, nil
}

func (d *Daemon) handleShutdown(_ context.Context, _ uds.Message) (any, error) {
	accepted := d.sink.RequestShutdown()
	if accepted {
		d.logger.Info("shutdown requested", "via", "control socket")
	}
	return uds.ShutdownResponse{Accepted: accepted, State: d.coord.State().String()}, nil
}
