// Serialmux provides an abstraction over a line-oriented serial port. A single
// owner consumes received lines through Lines and writes through SendLine,
// while any number of debug subscribers may tail the traffic in both
// directions.
package serialmux

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/rescuebot/internal/monitoring"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// ErrClosed is returned by SendLine after Close.
var ErrClosed = errors.New("serial mux closed")

// lineBufferSize is the number of received lines held for the owner. When it
// fills, the oldest line is dropped: a stale response is worth less than a
// fresh one.
const lineBufferSize = 64

// Tail prefixes mark the direction of a line delivered to subscribers.
const (
	TailRx = "< "
	TailTx = "> "
)

// SerialMux owns a serial port, splits incoming bytes into lines and fans
// traffic out to debug subscribers.
type SerialMux[T SerialPorter] struct {
	port         T
	lines        chan string
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	dropped      atomic.Uint64
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Lines returns the channel of received lines with the trailing newline
	// and carriage return removed. It is closed when Monitor returns.
	Lines() <-chan string
	// SendLine writes line to the port, appending a newline if needed.
	SendLine(string) error
	// Subscribe creates a channel for tailing traffic. The channel ID is
	// used when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads lines from the serial port until ctx is done or the
	// port fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// AttachAdminRoutes attaches admin debugging endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux backed by port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		lines:       make(chan string, lineBufferSize),
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Lines() <-chan string {
	return s.lines
}

// Dropped reports how many received lines were discarded because the owner
// was not draining Lines fast enough.
func (s *SerialMux[T]) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, lineBufferSize)
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

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// SendLine writes a single line to the serial port.
func (s *SerialMux[T]) SendLine(line string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !strings.HasSuffix(line, "\n") {
		line += "\n" // ensure line ends with a newline
	}
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	s.publish(TailTx + strings.TrimRight(line, "\r\n"))
	return nil
}

// publish fans a line out to subscribers without blocking on slow readers.
func (s *SerialMux[T]) publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// if the channel is full/blocking skip so as not to block the outer loop
		}
	}
}

// deliver hands a received line to the owner, evicting the oldest buffered
// line when the buffer is full.
func (s *SerialMux[T]) deliver(line string) {
	select {
	case s.lines <- line:
		return
	default:
	}
	select {
	case <-s.lines:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
	}
}

// Monitor monitors the serial port for lines and delivers them to the owner
// and to subscribers. The Lines channel is closed when Monitor returns.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	defer close(s.lines)

	// the blocking scan.Scan will not interfere with our outer loop awaiting
	// lines & context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
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

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			line = strings.TrimRight(line, "\r")
			monitoring.Debugf("[serial] rx %q", line)
			s.deliver(line)
			s.publish(TailRx + line)
		}
	}
}

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

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to issue Server-Side Events (SSE) for every line crossing
	// the serial port. Commands cannot be injected here: the control loop is
	// the only writer.
	debug.HandleFunc("serial-tail", "live tail of serial traffic (SSE)", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("serial-stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "dropped_lines %d\nbuffered_lines %d\n", s.Dropped(), len(s.lines))
	})
}
