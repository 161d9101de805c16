package link

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/serialmux"
)

// Conn is the line transport the channel runs over. *serialmux.SerialMux
// satisfies it.
type Conn interface {
	Lines() <-chan string
	SendLine(string) error
	Close() error
}

// Options tunes the channel's timing.
type Options struct {
	// ExchangeTimeout bounds the drain loop after each request.
	ExchangeTimeout time.Duration
	// HandshakeInterval is the resend period of the handshake query.
	HandshakeInterval time.Duration
	// ClearDistance substitutes any ultrasonic value that is missing.
	ClearDistance float64
}

// DefaultOptions returns the timings the firmware is tuned for.
func DefaultOptions() Options {
	return Options{
		ExchangeTimeout:   100 * time.Millisecond,
		HandshakeInterval: time.Second,
		ClearDistance:     999,
	}
}

// Channel is a single-owner command session with the actuator controller.
// It is not safe for concurrent senders.
type Channel struct {
	conn Conn
	opts Options

	nextID     uint64
	lastButton string
	linkErr    error

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New wraps conn. Zero option fields take their defaults.
func New(conn Conn, opts Options) *Channel {
	def := DefaultOptions()
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = def.ExchangeTimeout
	}
	if opts.HandshakeInterval <= 0 {
		opts.HandshakeInterval = def.HandshakeInterval
	}
	if opts.ClearDistance <= 0 {
		opts.ClearDistance = def.ClearDistance
	}
	return &Channel{conn: conn, opts: opts, lastButton: ButtonOff}
}

// Options returns the effective options.
func (c *Channel) Options() Options {
	return c.opts
}

// Handshake blocks until the peer answers the readiness query, resending the
// query every HandshakeInterval. Only ctx cancellation or a link failure end
// it early.
func (c *Channel) Handshake(ctx context.Context) error {
	if err := c.sendRaw(serialmux.HandshakeQuery); err != nil {
		return err
	}
	monitoring.Logf("[link] sent %s", serialmux.HandshakeQuery)

	resend := time.NewTicker(c.opts.HandshakeInterval)
	defer resend.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-resend.C:
			monitoring.Debugf("[link] peer not answering, resending %s", serialmux.HandshakeQuery)
			if err := c.sendRaw(serialmux.HandshakeQuery); err != nil {
				return err
			}

		case line, ok := <-c.conn.Lines():
			if !ok {
				c.linkErr = &TransportError{Op: "handshake", Err: ErrLinkDown}
				return c.linkErr
			}
			line = strings.TrimSpace(line)
			monitoring.Debugf("[link] handshake received %q", line)
			if line != serialmux.HandshakeReply {
				continue
			}
			if err := c.sendRaw(serialmux.HandshakeConfirm); err != nil {
				return err
			}
			monitoring.Logf("[link] peer ready")
			return nil
		}
	}
}

func (c *Channel) sendRaw(line string) error {
	if c.closed {
		return &TransportError{Op: "write", Err: ErrClosed}
	}
	if err := c.conn.SendLine(line); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// Send writes m to the link.
func (c *Channel) Send(m Message) error {
	return c.sendRaw(m.Encode())
}

// Receive waits up to timeout for the next well-formed message. It returns
// false on timeout, on a malformed line, and once the link is down; Err
// distinguishes the last case.
func (c *Channel) Receive(timeout time.Duration) (Message, bool) {
	if c.linkErr != nil {
		return Message{}, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return Message{}, false
	case line, ok := <-c.conn.Lines():
		if !ok {
			c.linkErr = &TransportError{Op: "read", Err: ErrLinkDown}
			return Message{}, false
		}
		m, err := Decode(line)
		if err != nil {
			monitoring.Debugf("[link] dropping line: %v", err)
			return Message{}, false
		}
		return m, true
	}
}

// Err returns the transport error that took the link down, if any.
func (c *Channel) Err() error {
	return c.linkErr
}

func (c *Channel) allocID() uint64 {
	c.nextID++
	return c.nextID
}

// Exchange sends payload under a fresh ID and drains responses until the
// matching one arrives. A response with a greater ID means ours was lost and
// ends the wait; lower IDs are leftovers from earlier exchanges and are
// discarded. ok is false when no matching response arrived within
// ExchangeTimeout. err is non-nil only for transport failures.
func (c *Channel) Exchange(payload string) (resp Message, ok bool, err error) {
	id := c.allocID()
	if err := c.Send(Message{ID: id, Payload: payload}); err != nil {
		return Message{}, false, err
	}

	deadline := time.Now().Add(c.opts.ExchangeTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			monitoring.Debugf("[link] no response to %d %q", id, payload)
			return Message{}, false, nil
		}
		m, got := c.Receive(remaining)
		if !got {
			if c.linkErr != nil {
				return Message{}, false, c.linkErr
			}
			continue
		}
		switch {
		case m.ID == id:
			return m, true, nil
		case m.ID > id:
			monitoring.Debugf("[link] response %d overtook request %d", m.ID, id)
			return Message{}, false, nil
		default:
			monitoring.Debugf("[link] discarding stale response %s", m)
		}
	}
}

// Close releases the underlying connection. Repeated calls return the result
// of the first.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		if err := c.conn.Close(); err != nil && !errors.Is(err, serialmux.ErrClosed) {
			c.closeErr = err
		}
		monitoring.Logf("[link] closed")
	})
	return c.closeErr
}
