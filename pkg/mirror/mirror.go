// Package mirror republishes store mutations to an external queue so
// consumers other than the polling viewers can follow the device. The
// in-memory store stays authoritative; a mirror failure never rejects a
// submission.
package mirror

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/telesink/pkg/core"
)

// Kind identifies what happened to the store.
type Kind string

const (
	KindLog    Kind = "log"
	KindSample Kind = "sample"
	KindClear  Kind = "clear"
)

// Event is the envelope pushed to the mirror, encoded as msgpack.
type Event struct {
	ID          string          `msgpack:"id"`
	Kind        Kind            `msgpack:"kind"`
	Sequences   []core.Sequence `msgpack:"sequences"`
	TimestampMs int64           `msgpack:"timestamp_ms"`
	Text        string          `msgpack:"text,omitempty"`
	Payload     []any           `msgpack:"payload,omitempty"`
}

// Publisher receives store mutations.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// LogEvent builds the event for an accepted log line.
func LogEvent(entry core.LogEntry, target core.Target) Event {
	var seqs []core.Sequence
	for _, seq := range []core.Sequence{core.SequenceDurable, core.SequenceDisplay} {
		if target.Has(seq) {
			seqs = append(seqs, seq)
		}
	}
	return Event{
		ID:          uuid.New().String(),
		Kind:        KindLog,
		Sequences:   seqs,
		TimestampMs: entry.Time.UnixMilli(),
		Text:        entry.Text,
	}
}

// SampleEvent builds the event for an accepted sample.
func SampleEvent(sample core.Sample, at time.Time) (Event, error) {
	values, err := sample.Values()
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          uuid.New().String(),
		Kind:        KindSample,
		Sequences:   []core.Sequence{core.SequenceSamples},
		TimestampMs: at.UnixMilli(),
		Payload:     values,
	}, nil
}

// ClearEvent builds the event for a cleared sequence.
func ClearEvent(seq core.Sequence, at time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Kind:        KindClear,
		Sequences:   []core.Sequence{seq},
		TimestampMs: at.UnixMilli(),
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
