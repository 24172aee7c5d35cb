// Package store holds the sink's in-memory event store: two log
// sequences (durable and display) and one sample sequence, each
// append-only until cleared wholesale.
//
// A single RWMutex guards all three sequences. Appends and clears take
// the write lock, so a clear never loses an append that raced with it:
// the append is ordered either before the clear (and removed by it) or
// after (and visible). Reads take the read lock and return copies.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/modoterra/telesink/pkg/clock"
	"github.com/modoterra/telesink/pkg/core"
)

// ErrUnknownSequence is returned for a sequence name the store does not
// hold.
var ErrUnknownSequence = errors.New("unknown sequence")

// Store is the process-wide event store. The zero value is not usable;
// construct with New.
type Store struct {
	mu      sync.RWMutex
	durable []core.LogEntry
	display []core.LogEntry
	samples []core.Sample
	clock   clock.Clock
}

// New creates an empty store stamping entries with c.
func New(c clock.Clock) *Store {
	if c == nil {
		c = clock.Real()
	}
	return &Store{clock: c}
}

// AppendLog stamps text with the current time and appends it to every
// log sequence selected by target. Both appends happen under one lock
// acquisition, so dual-written sequences never disagree on order.
func (s *Store) AppendLog(text string, target core.Target) core.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := core.LogEntry{Time: s.clock.Now(), Text: text}
	if target.Has(core.SequenceDurable) {
		s.durable = append(s.durable, entry)
	}
	if target.Has(core.SequenceDisplay) {
		s.display = append(s.display, entry)
	}
	return entry
}

// AppendSample decodes body according to contentType (see
// core.ParseSample) and appends the result. Returns core.ErrInvalidShape
// (or a *core.ProcessingError) without mutating the store when the body
// is not a list.
func (s *Store) AppendSample(body []byte, contentType string) (core.Sample, error) {
	sample, err := core.ParseSample(body, contentType)
	if err != nil {
		return core.Sample{}, err
	}

	s.mu.Lock()
	s.samples = append(s.samples, sample)
	s.mu.Unlock()
	return sample, nil
}

// Logs returns a copy of a log sequence in arrival order.
func (s *Store) Logs(seq core.Sequence) ([]core.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src []core.LogEntry
	switch seq {
	case core.SequenceDurable:
		src = s.durable
	case core.SequenceDisplay:
		src = s.display
	default:
		return nil, fmt.Errorf("%w: %q is not a log sequence", ErrUnknownSequence, seq)
	}

	out := make([]core.LogEntry, len(src))
	copy(out, src)
	return out, nil
}

// Lines returns a log sequence rendered as "[HH:MM:SS] text" strings.
func (s *Store) Lines(seq core.Sequence) ([]string, error) {
	entries, err := s.Logs(seq)
	if err != nil {
		return nil, err
	}
	return core.Lines(entries), nil
}

// Samples returns a copy of the sample sequence in arrival order.
func (s *Store) Samples() []core.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Clear atomically empties one sequence. The other sequences are not
// touched.
func (s *Store) Clear(seq core.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch seq {
	case core.SequenceDurable:
		s.durable = nil
	case core.SequenceDisplay:
		s.display = nil
	case core.SequenceSamples:
		s.samples = nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSequence, seq)
	}
	return nil
}

// Len returns the current length of seq, or 0 for an unknown name.
func (s *Store) Len(seq core.Sequence) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch seq {
	case core.SequenceDurable:
		return len(s.durable)
	case core.SequenceDisplay:
		return len(s.display)
	case core.SequenceSamples:
		return len(s.samples)
	default:
		return 0
	}
}

// Counts returns the length of every sequence from one consistent view.
func (s *Store) Counts() core.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return core.Stats{
		Durable: len(s.durable),
		Display: len(s.display),
		Samples: len(s.samples),
	}
}
