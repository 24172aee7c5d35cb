package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/telesink/pkg/clock"
	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/mirror"
	"github.com/modoterra/telesink/pkg/store"
	"github.com/modoterra/telesink/pkg/transport/uds"
)

// Sink is the store facade shared by the HTTP handlers and the control
// socket. Mutations go to the store first; the mirror and the control
// socket are notified afterwards, off the request path, in store order.
type Sink struct {
	store   *store.Store
	coord   *Coordinator
	control *uds.Server
	clock   clock.Clock
	started time.Time
	logger  *slog.Logger

	// mu orders store mutations with their notices.
	mu     sync.Mutex
	fanout *fanout
	closed bool
}

func newSink(st *store.Store, coord *Coordinator, pub mirror.Publisher, control *uds.Server, c clock.Clock, logger *slog.Logger) *Sink {
	return &Sink{
		store:   st,
		coord:   coord,
		control: control,
		clock:   c,
		started: c.Now(),
		logger:  logger,
		fanout:  newFanout(pub, control, logger),
	}
}

// AppendLog stores text in the sequences selected by target.
func (s *Sink) AppendLog(_ context.Context, text string, target core.Target) core.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.store.AppendLog(text, target)
	evt := mirror.LogEvent(entry, target)
	s.notify(notice{
		evt:    evt,
		hasEvt: true,
		method: uds.EventEntriesLog,
		data:   uds.LogEvent{Sequences: evt.Sequences, Entry: entry},
	})
	return entry
}

// AppendSample decodes body and stores it as a sample.
func (s *Sink) AppendSample(_ context.Context, body []byte, contentType string) (core.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, err := s.store.AppendSample(body, contentType)
	if err != nil {
		return core.Sample{}, err
	}

	n := notice{method: uds.EventEntriesSample, data: uds.SampleEvent{Payload: sample.Payload}}
	if evt, err := mirror.SampleEvent(sample, s.clock.Now()); err != nil {
		s.logger.Error("build mirror event", "err", err)
	} else {
		n.evt, n.hasEvt = evt, true
	}
	s.notify(n)
	return sample, nil
}

// Lines returns a log sequence in its served form.
func (s *Sink) Lines(seq core.Sequence) ([]string, error) {
	return s.store.Lines(seq)
}

// Samples returns a snapshot of the sample sequence.
func (s *Sink) Samples() []core.Sample {
	return s.store.Samples()
}

// Clear empties seq.
func (s *Sink) Clear(_ context.Context, seq core.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(seq); err != nil {
		return err
	}
	s.logger.Info("sequence cleared", "sequence", seq)
	s.notify(notice{
		evt:    mirror.ClearEvent(seq, s.clock.Now()),
		hasEvt: true,
		method: uds.EventEntriesCleared,
		data:   uds.ClearedEvent{Sequence: seq},
	})
	return nil
}

// Stats reports sequence lengths, coordinator state, uptime and the
// number of control socket subscribers.
func (s *Sink) Stats() core.Stats {
	st := s.store.Counts()
	st.State = s.coord.State().String()
	st.UptimeSeconds = s.clock.Now().Sub(s.started).Seconds()
	if s.control != nil {
		st.Subscribers = s.control.Clients()
	}
	return st
}

// RequestShutdown flips the shutdown flag.
func (s *Sink) RequestShutdown() bool {
	return s.coord.Request()
}

// close delivers the queued notices and stops notifying. Mutations after
// close still reach the store.
func (s *Sink) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.fanout.close()
}

// notify must be called with mu held.
func (s *Sink) notify(n notice) {
	if s.closed {
		return
	}
	s.fanout.enqueue(n)
}
