package ppg

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// SampleBuffer is a fixed-capacity FIFO of samples kept as parallel
// timestamp and value sequences. Once full, each insert drops the oldest
// sample. Filtered values produced by the detector are kept alongside the raw
// values and never replace them.
type SampleBuffer struct {
	capacity   int
	timestamps []int64
	values     []int64
	filtered   []float64
}

// NewSampleBuffer creates an empty buffer holding at most capacity samples.
// A negative capacity is treated as zero.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &SampleBuffer{
		capacity:   capacity,
		timestamps: make([]int64, 0, capacity),
		values:     make([]int64, 0, capacity),
	}
}

// Cap returns the maximum number of samples the buffer holds.
func (b *SampleBuffer) Cap() int { return b.capacity }

// Len returns the number of stored samples.
func (b *SampleBuffer) Len() int { return len(b.values) }

// Append parses a transport record and inserts it. A malformed record leaves
// the buffer untouched and returns an error wrapping ErrMalformedRecord; the
// caller is expected to log it and carry on.
func (b *SampleBuffer) Append(raw string) error {
	s, err := ParseRecord(raw)
	if err != nil {
		return err
	}
	b.AppendSample(s)
	return nil
}

// AppendSample inserts s, evicting the oldest sample when the buffer is full.
func (b *SampleBuffer) AppendSample(s Sample) {
	if b.capacity == 0 {
		return
	}
	if len(b.values) == b.capacity {
		copy(b.timestamps, b.timestamps[1:])
		copy(b.values, b.values[1:])
		b.timestamps[len(b.timestamps)-1] = s.Timestamp
		b.values[len(b.values)-1] = s.Value
	} else {
		b.timestamps = append(b.timestamps, s.Timestamp)
		b.values = append(b.values, s.Value)
	}
	// raw data changed, any earlier filter output no longer lines up
	b.filtered = nil
}

// Reset removes every sample. The capacity is unchanged.
func (b *SampleBuffer) Reset() {
	b.timestamps = b.timestamps[:0]
	b.values = b.values[:0]
	b.filtered = nil
}

// Load replaces the buffer contents with "timestamp,value" lines read from r.
// The capacity becomes the number of samples loaded. Blank lines are
// skipped. On error the buffer is left as it was.
func (b *SampleBuffer) Load(r io.Reader) error {
	var timestamps, values []int64

	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := scan.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s, err := parseStoredLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		timestamps = append(timestamps, s.Timestamp)
		values = append(values, s.Value)
	}
	if err := scan.Err(); err != nil {
		return fmt.Errorf("failed to read samples: %w", err)
	}

	if timestamps == nil {
		timestamps = []int64{}
		values = []int64{}
	}
	b.capacity = len(values)
	b.timestamps = timestamps
	b.values = values
	b.filtered = nil
	return nil
}

// Save writes every sample as a "timestamp,value" line, oldest first.
func (b *SampleBuffer) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, s := range b.samples() {
		if _, err := bw.WriteString(formatStoredLine(s)); err != nil {
			return fmt.Errorf("failed to write sample %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush samples: %w", err)
	}
	return nil
}

// samples returns a copy of the stored samples, oldest first.
func (b *SampleBuffer) samples() []Sample {
	out := make([]Sample, len(b.values))
	for i := range b.values {
		out[i] = Sample{Timestamp: b.timestamps[i], Value: b.values[i]}
	}
	return out
}

// Timestamps returns a copy of the stored timestamps.
func (b *SampleBuffer) Timestamps() []int64 {
	return append([]int64(nil), b.timestamps...)
}

// Values returns the raw values as float64, the form the filters consume.
func (b *SampleBuffer) Values() []float64 {
	out := make([]float64, len(b.values))
	for i, v := range b.values {
		out[i] = float64(v)
	}
	return out
}

// Filtered returns a copy of the filtered values from the last detector run,
// or nil if the raw data changed since then. Its length may be shorter than
// Len when a trailing partial window was dropped.
func (b *SampleBuffer) Filtered() []float64 {
	if b.filtered == nil {
		return nil
	}
	return append([]float64(nil), b.filtered...)
}

func (b *SampleBuffer) setFiltered(f []float64) {
	b.filtered = append(make([]float64, 0, len(f)), f...)
}
