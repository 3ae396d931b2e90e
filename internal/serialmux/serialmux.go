// Serialmux provides an abstraction over the serial link to a BLE bridge with
// the ability for multiple clients to subscribe to the records it delivers
// and send AT commands to the single module behind it.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/monitoring"
)

var (
	ErrWriteFailed    = errors.New("failed to write to serial port")
	ErrInvalidAddress = errors.New("invalid peripheral address")
)

var logf = monitoring.Component("serialmux")

// SubscriberBuffer is the capacity of each subscriber channel. Records are
// dropped for a subscriber whose channel is full.
const SubscriberBuffer = 64

// Options controls how the byte stream is split into records.
type Options struct {
	// Delimiter ends every record sent by the wearable.
	Delimiter string
	// SkipFirst drops the first record after Monitor starts; it is usually
	// the tail of a record cut off when the link came up.
	SkipFirst bool
	// CommandDelay is the pause after each AT command sent by Connect.
	CommandDelay time.Duration
}

// DefaultOptions returns the settings for the stock wearable firmware.
func DefaultOptions() Options {
	return Options{
		Delimiter:    ";",
		SkipFirst:    true,
		CommandDelay: 500 * time.Millisecond,
	}
}

// Stats counts records seen by Monitor.
type Stats struct {
	Records   int64 `json:"records"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
	Commands  int64 `json:"commands"`
	StartedAt int64 `json:"started_unix"`
}

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to records from a single serial port.
type SerialMux[T SerialPorter] struct {
	port         T
	opts         Options
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving records from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command to the serial port verbatim.
	SendCommand(string) error
	// Connect puts the bridge in central mode and connects it to the
	// peripheral at address.
	Connect(address string, configure bool) error
	// Monitor reads records from the serial port and sends them to the
	// subscribed channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux creates a SerialMux reading from port. An empty delimiter
// falls back to ";".
func NewSerialMux[T SerialPorter](port T, opts Options) *SerialMux[T] {
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultOptions().Delimiter
	}
	return &SerialMux[T]{
		port:        port,
		opts:        opts,
		subscribers: make(map[string]chan string),
	}
}

// Subscribe registers a new buffered subscriber channel.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, SubscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SendCommand sends a command to the serial port. HM-10 modules expect AT
// commands without a line terminator, so nothing is appended.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	s.statsMu.Lock()
	s.stats.Commands++
	s.statsMu.Unlock()
	return nil
}

// NormaliseAddress strips separators from a BLE MAC address and checks it is
// twelve hex digits.
func NormaliseAddress(address string) (string, error) {
	addr := strings.ToUpper(strings.NewReplacer(":", "", "-", "", " ", "").Replace(address))
	if len(addr) != 12 {
		return "", fmt.Errorf("%w: %q must have 12 hex digits", ErrInvalidAddress, address)
	}
	for _, r := range addr {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			return "", fmt.Errorf("%w: %q contains %q", ErrInvalidAddress, address, r)
		}
	}
	return addr, nil
}

// ConnectCommands returns the AT sequence Connect sends. With configure set
// the module is first switched to manual-connect central mode with
// notifications on.
func ConnectCommands(address string, configure bool) ([]string, error) {
	var cmds []string
	if configure {
		cmds = append(cmds,
			"AT+IMME1", // wait for AT+CON instead of auto-connecting
			"AT+NOTI1", // report connection state changes
			"AT+ROLE1", // central
		)
	}
	if address != "" {
		addr, err := NormaliseAddress(address)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, "AT+CON"+addr)
	}
	return cmds, nil
}

// Connect sends the AT sequence from ConnectCommands, pausing
// Options.CommandDelay after each command so the module can reply.
func (s *SerialMux[T]) Connect(address string, configure bool) error {
	cmds, err := ConnectCommands(address, configure)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := s.SendCommand(cmd); err != nil {
			return fmt.Errorf("failed to send %q: %w", cmd, err)
		}
		logf("sent %s", cmd)
		if s.opts.CommandDelay > 0 {
			time.Sleep(s.opts.CommandDelay)
		}
	}
	return nil
}

// Monitor splits the serial stream into records and sends them to subscribers.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)
	scan.Split(ScanDelimited(s.opts.Delimiter))

	s.statsMu.Lock()
	s.stats.StartedAt = time.Now().Unix()
	s.statsMu.Unlock()

	recordChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the loop below can
	// still observe context cancellation.
	go func() {
		defer close(recordChan)
		for scan.Scan() {
			select {
			case recordChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	skip := s.opts.SkipFirst
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case record, ok := <-recordChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}

			s.closingMu.Lock()
			if s.closing {
				s.closingMu.Unlock()
				return nil
			}
			s.closingMu.Unlock()

			if skip {
				skip = false
				s.count(func(st *Stats) { st.Skipped++ })
				continue
			}

			record = strings.TrimSpace(record)
			if record == "" {
				continue
			}
			s.publish(record)
		}
	}
}

func (s *SerialMux[T]) publish(record string) {
	var dropped int64
	s.subscriberMu.Lock()
	for _, ch := range s.subscribers {
		select {
		case ch <- record:
		default:
			// full subscriber, skip so as not to block the read loop
			dropped++
		}
	}
	s.subscriberMu.Unlock()

	s.count(func(st *Stats) {
		st.Records++
		st.Dropped += dropped
	})
}

func (s *SerialMux[T]) count(f func(*Stats)) {
	s.statsMu.Lock()
	f(&s.stats)
	s.statsMu.Unlock()
}

// Stats returns a snapshot of the record counters.
func (s *SerialMux[T]) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Close closes every subscriber channel and the port. Further calls are
// no-ops.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}
