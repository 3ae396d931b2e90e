package serialmux

import (
	"bytes"
	"strings"
)

const (
	EventTypeSample  = "sample"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload inspects a record and returns a simple event type token.
// Samples are "timestamp,<unused>,value" records from the wearable; status
// lines are replies from the HM-10 such as "OK+CONN".
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "OK") {
		return EventTypeStatus
	}
	if strings.Count(payload, ",") >= 2 {
		return EventTypeSample
	}
	return EventTypeUnknown
}

// ScanDelimited returns a bufio.SplitFunc that splits input on delim. A
// trailing record without a delimiter is returned at EOF.
func ScanDelimited(delim string) func(data []byte, atEOF bool) (advance int, token []byte, err error) {
	sep := []byte(delim)
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if i := bytes.Index(data, sep); i >= 0 {
			return i + len(sep), data[:i], nil
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
}
