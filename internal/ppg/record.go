// Package ppg turns a stream of photoplethysmography samples into estimated
// heartbeat positions. It owns the fixed-capacity sample buffer, the windowed
// heartbeat detector and the Pipeline facade that wires both to file, plot and
// storage collaborators.
package ppg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedRecord reports a record that could not be parsed into a sample.
var ErrMalformedRecord = errors.New("malformed record")

// Sample is one PPG reading. Timestamp is in device clock ticks and Value in
// raw sensor counts.
type Sample struct {
	Timestamp int64
	Value     int64
}

// Positions of the fields used from a transport record
// "timestamp,<unused>,value".
const (
	recordTimestampField = 0
	recordValueField     = 2
)

// ParseRecord decodes a transport record of the form
// "timestamp,<unused>,value". The end-of-line delimiter must already have
// been stripped by the transport.
func ParseRecord(raw string) (Sample, error) {
	segments := strings.Split(strings.TrimSpace(raw), ",")
	if len(segments) <= recordValueField {
		return Sample{}, fmt.Errorf("%w: %q has %d fields, want at least %d",
			ErrMalformedRecord, raw, len(segments), recordValueField+1)
	}
	return parsePair(raw, segments[recordTimestampField], segments[recordValueField])
}

// parseStoredLine decodes one "timestamp,value" line of a saved recording.
func parseStoredLine(line string) (Sample, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) != 2 {
		return Sample{}, fmt.Errorf("%w: %q has %d fields, want 2", ErrMalformedRecord, line, len(segments))
	}
	return parsePair(line, segments[0], segments[1])
}

func parsePair(raw, ts, val string) (Sample, error) {
	timestamp, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %q: failed to parse timestamp: %v", ErrMalformedRecord, raw, err)
	}
	value, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %q: failed to parse value: %v", ErrMalformedRecord, raw, err)
	}
	return Sample{Timestamp: timestamp, Value: value}, nil
}

// formatStoredLine is the inverse of parseStoredLine.
func formatStoredLine(s Sample) string {
	return strconv.FormatInt(s.Timestamp, 10) + "," + strconv.FormatInt(s.Value, 10) + "\n"
}
