package core

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the local wall-clock format prefixed to every
// stored log line.
const TimestampLayout = "15:04:05"

// LogEntry is one opaque text line received from the device, stamped
// with its time of receipt. Entries are never modified after creation.
type LogEntry struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// String returns the serialized form served to viewers:
// "[HH:MM:SS] text".
func (e LogEntry) String() string {
	return "[" + e.Time.Format(TimestampLayout) + "] " + e.Text
}

// MarshalJSON adds the rendered line next to the raw fields so that
// control-socket subscribers do not need to format timestamps.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	type plain LogEntry
	return json.Marshal(struct {
		plain
		Line string `json:"line"`
	}{plain(e), e.String()})
}

// DecodeText turns a request body into a log line. Invalid UTF-8 is
// replaced rather than rejected.
func DecodeText(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

// Lines renders entries in order.
func Lines(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}
