package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// ReplayPort implements SerialPorter by emitting recorded samples at a fixed
// period, as the wearable would over the BLE link. Commands written to it are
// captured and can be read back with Written.
type ReplayPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer

	done      chan struct{}
	closeOnce sync.Once
}

// ReplayConfig controls a ReplayPort.
type ReplayConfig struct {
	Period    time.Duration
	Delimiter string
	// Preamble is emitted before the first record, as the module reports the
	// connection before data starts to flow.
	Preamble string
	// Loop restarts from the first record instead of ending the stream.
	Loop  bool
	Clock timeutil.Clock
}

// NewReplayPort starts replaying records. The stream ends with io.EOF after
// the last record unless cfg.Loop is set.
func NewReplayPort(records []string, cfg ReplayConfig) *ReplayPort {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultOptions().Delimiter
	}
	if cfg.Period <= 0 {
		cfg.Period = 30 * time.Millisecond
	}

	r, w := io.Pipe()
	p := &ReplayPort{r: r, w: w, done: make(chan struct{})}
	go p.run(records, cfg)
	return p
}

func (p *ReplayPort) run(records []string, cfg ReplayConfig) {
	defer p.w.Close()

	if cfg.Preamble != "" {
		if _, err := io.WriteString(p.w, cfg.Preamble+cfg.Delimiter); err != nil {
			return
		}
	}
	if len(records) == 0 {
		return
	}

	ticker := cfg.Clock.NewTicker(cfg.Period)
	defer ticker.Stop()

	for i := 0; ; i++ {
		if i == len(records) {
			if !cfg.Loop {
				return
			}
			i = 0
		}
		select {
		case <-p.done:
			return
		case <-ticker.C():
		}
		if _, err := io.WriteString(p.w, records[i]+cfg.Delimiter); err != nil {
			return
		}
	}
}

func (p *ReplayPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, errors.New("serial port closed")
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

// Close stops the replay; pending reads return io.ErrClosedPipe.
func (p *ReplayPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.r.Close()
	})
	return nil
}

// Written returns everything written to the port so far.
func (p *ReplayPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// LoadReplayRecords reads a saved recording and returns it as transport
// records. "timestamp,value" lines become "timestamp,0,value"; lines that
// already carry three or more fields are passed through. Blank lines are
// skipped.
func LoadReplayRecords(r io.Reader) ([]string, error) {
	var records []string
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		switch {
		case len(fields) == 2:
			records = append(records, fields[0]+",0,"+fields[1])
		case len(fields) >= 3:
			records = append(records, line)
		default:
			return nil, fmt.Errorf("line %d: %q is not a recorded sample", lineNo, line)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return records, nil
}

// NewReplaySerialMux creates a SerialMux backed by a ReplayPort.
func NewReplaySerialMux(records []string, cfg ReplayConfig, opts Options) *SerialMux[*ReplayPort] {
	if cfg.Delimiter == "" {
		cfg.Delimiter = opts.Delimiter
	}
	return NewSerialMux(NewReplayPort(records, cfg), opts)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides fine-grained control over reads, writes and errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	// EOF makes reads on an empty buffer return io.EOF
	EOF bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally blocking or failing.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	for t.BlockReads && !t.EOF && !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	if t.ReadBuffer.Len() == 0 {
		return 0, io.EOF
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally failing.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailReads makes the next Read return err, waking a blocked reader.
func (t *TestableSerialPort) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// Finish makes reads return io.EOF once the buffer drains.
func (t *TestableSerialPort) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.EOF = true
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}
