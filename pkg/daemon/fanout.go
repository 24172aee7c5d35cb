package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/modoterra/telesink/pkg/mirror"
	"github.com/modoterra/telesink/pkg/transport/uds"
)

const (
	mirrorTimeout = 2 * time.Second
	fanoutQueue   = 4096
)

// notice is one store mutation waiting to be forwarded.
type notice struct {
	evt    mirror.Event
	hasEvt bool
	method string
	data   any
}

// fanout forwards store mutations to the mirror and the control socket
// from a single goroutine, in the order they were queued. Queueing never
// blocks; when the queue is full the notice is dropped and counted.
type fanout struct {
	mirror  mirror.Publisher
	control *uds.Server
	logger  *slog.Logger

	queue   chan notice
	done    chan struct{}
	dropped atomic.Uint64
}

func newFanout(pub mirror.Publisher, control *uds.Server, logger *slog.Logger) *fanout {
	f := &fanout{
		mirror:  pub,
		control: control,
		logger:  logger,
		queue:   make(chan notice, fanoutQueue),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

// enqueue must not be called after close.
func (f *fanout) enqueue(n notice) {
	select {
	case f.queue <- n:
	default:
		if d := f.dropped.Add(1); d == 1 || d%1000 == 0 {
			f.logger.Warn("fanout queue full, dropping notifications", "dropped", d)
		}
	}
}

// close stops accepting notices and waits until the queued ones are
// delivered.
func (f *fanout) close() {
	close(f.queue)
	<-f.done
}

func (f *fanout) run() {
	defer close(f.done)
	for n := range f.queue {
		if n.hasEvt {
			f.publish(n.evt)
		}
		f.broadcast(n.method, n.data)
	}
}

func (f *fanout) publish(evt mirror.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	if err := f.mirror.Publish(ctx, evt); err != nil {
		f.logger.Warn("mirror publish failed", "kind", evt.Kind, "err", err)
	}
}

func (f *fanout) broadcast(method string, data any) {
	if f.control == nil {
		return
	}
	msg, err := uds.NewEvent(method, data)
	if err != nil {
		f.logger.Error("encode control event", "method", method, "err", err)
		return
	}
	f.control.Broadcast(msg)
}
