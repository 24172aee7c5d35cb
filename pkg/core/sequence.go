package core

import (
	"fmt"
	"strings"
)

// Sequence names one of the store's append-only sequences.
type Sequence string

const (
	SequenceDurable Sequence = "durable"
	SequenceDisplay Sequence = "display"
	SequenceSamples Sequence = "samples"
)

// Sequences lists every sequence in a stable order.
func Sequences() []Sequence {
	return []Sequence{SequenceDurable, SequenceDisplay, SequenceSamples}
}

// ParseSequence accepts canonical names and the endpoint-style aliases
// used by the launcher (logs, server_logs, display_logs, data, ...).
func ParseSequence(s string) (Sequence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "durable", "logs", "server_logs":
		return SequenceDurable, nil
	case "display", "display_logs":
		return SequenceDisplay, nil
	case "samples", "data", "server_data":
		return SequenceSamples, nil
	default:
		return "", fmt.Errorf("unknown sequence %q", s)
	}
}

// Target selects which log sequences an ingested line is appended to.
type Target uint8

const (
	TargetDurable Target = 1 << iota
	TargetDisplay

	TargetBoth = TargetDurable | TargetDisplay
)

// ParseTarget parses a receive policy: "both" or "display".
func ParseTarget(s string) (Target, error) {
	switch s {
	case "both", "":
		return TargetBoth, nil
	case "display":
		return TargetDisplay, nil
	default:
		return 0, fmt.Errorf("receive policy must be both or display; got %q", s)
	}
}

// Has reports whether the target includes seq.
func (t Target) Has(seq Sequence) bool {
	switch seq {
	case SequenceDurable:
		return t&TargetDurable != 0
	case SequenceDisplay:
		return t&TargetDisplay != 0
	default:
		return false
	}
}

func (t Target) String() string {
	switch t {
	case TargetBoth:
		return "both"
	case TargetDisplay:
		return "display"
	case TargetDurable:
		return "durable"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// Stats summarizes the sink for status endpoints.
type Stats struct {
	Durable       int     `json:"durable"`
	Display       int     `json:"display"`
	Samples       int     `json:"samples"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Subscribers   int     `json:"subscribers"`
}
