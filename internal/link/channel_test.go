package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rescuebot/internal/serialmux"
)

// fakeConn records sent lines and answers them through respond.
type fakeConn struct {
	mu      sync.Mutex
	lines   chan string
	sent    []string
	sendErr error
	closed  int
	respond func(line string) []string
}

func newFakeConn(respond func(string) []string) *fakeConn {
	return &fakeConn{lines: make(chan string, 32), respond: respond}
}

func (f *fakeConn) Lines() <-chan string { return f.lines }

func (f *fakeConn) SendLine(line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, line)
	if f.respond != nil {
		for _, r := range f.respond(line) {
			f.lines <- r
		}
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testOptions() Options {
	return Options{
		ExchangeTimeout:   100 * time.Millisecond,
		HandshakeInterval: 20 * time.Millisecond,
		ClearDistance:     999,
	}
}

// newPeerChannel runs a channel against a simulated peer through a real
// serial mux.
func newPeerChannel(t *testing.T) (*Channel, *serialmux.SimulatedPeer) {
	t.Helper()
	peer := serialmux.NewSimulatedPeer()
	mux := serialmux.NewSerialMux[serialmux.SerialPorter](peer)
	go mux.Monitor(t.Context())
	ch := New(mux, testOptions())
	t.Cleanup(func() { ch.Close() })
	return ch, peer
}

func TestChannel_Handshake(t *testing.T) {
	ch, peer := newPeerChannel(t)
	peer.SetReadyAfter(2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ch.Handshake(ctx))

	assert.True(t, peer.Confirmed())
	assert.GreaterOrEqual(t, peer.ReadyQueries(), 3, "query is resent until answered")
}

func TestChannel_Handshake_IgnoresNoise(t *testing.T) {
	conn := newFakeConn(func(line string) []string {
		if line == serialmux.HandshakeQuery+"\n" || line == serialmux.HandshakeQuery {
			return []string{"boot noise", "[ESP32] READY "}
		}
		return nil
	})
	ch := New(conn, testOptions())
	require.NoError(t, ch.Handshake(context.Background()))
	assert.Equal(t, []string{serialmux.HandshakeQuery, serialmux.HandshakeConfirm}, conn.Sent())
}

func TestChannel_Handshake_Cancelled(t *testing.T) {
	ch := New(newFakeConn(nil), testOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Handshake(ctx), context.DeadlineExceeded)
}

func TestChannel_Handshake_LinkDown(t *testing.T) {
	conn := newFakeConn(nil)
	close(conn.lines)
	ch := New(conn, testOptions())
	err := ch.Handshake(context.Background())
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, ErrLinkDown)
}

func TestChannel_ExchangeMatchesID(t *testing.T) {
	ch, _ := newPeerChannel(t)

	resp, ok, err := ch.Exchange("GET button")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Message{ID: 1, Payload: "ON"}, resp)

	resp, ok, err = ch.Exchange("GET button")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), resp.ID)
}

func TestChannel_ExchangeDiscardsStale(t *testing.T) {
	ch, peer := newPeerChannel(t)
	peer.SetStaleFirst(true)

	ch.nextID = 4
	resp, ok, err := ch.Exchange("GET button")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Message{ID: 5, Payload: "ON"}, resp)
}

func TestChannel_ExchangeGreaterIDEndsWait(t *testing.T) {
	conn := newFakeConn(func(line string) []string {
		return []string{"99 ON"}
	})
	ch := New(conn, Options{ExchangeTimeout: 5 * time.Second})

	start := time.Now()
	_, ok, err := ch.Exchange("GET button")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "a greater ID must end the wait early")
}

func TestChannel_ExchangeSkipsMalformed(t *testing.T) {
	conn := newFakeConn(func(line string) []string {
		return []string{"garbage", "1 ON"}
	})
	ch := New(conn, testOptions())
	resp, ok, err := ch.Exchange("GET button")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ON", resp.Payload)
}

func TestChannel_UltrasonicTimeoutGivesClearDefaults(t *testing.T) {
	ch, peer := newPeerChannel(t)
	peer.Silence("ultrasonic")
	ch.nextID = 6

	start := time.Now()
	d, err := ch.Ultrasonic()
	require.NoError(t, err)

	assert.Equal(t, Distances{Left: 999, Front: 999, Right: 999}, d)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []string{"GET ultrasonic"}, peer.Commands())
	assert.Equal(t, uint64(7), ch.nextID, "request went out with id 7")
}

func TestChannel_UltrasonicParsing(t *testing.T) {
	ch, peer := newPeerChannel(t)

	peer.SetDistances(10, 4.5, 80)
	d, err := ch.Ultrasonic()
	require.NoError(t, err)
	assert.Equal(t, Distances{Left: 10, Front: 4.5, Right: 80}, d)

	peer.SetUltrasonicPayload("12.0 bogus")
	d, err = ch.Ultrasonic()
	require.NoError(t, err)
	assert.Equal(t, Distances{Left: 12, Front: 999, Right: 999}, d)
}

func TestChannel_ButtonKeepsLastKnown(t *testing.T) {
	ch, peer := newPeerChannel(t)

	peer.Silence("button")
	v, err := ch.Button()
	require.NoError(t, err)
	assert.Equal(t, ButtonOff, v, "no answer yet means off")

	peer.Unsilence()
	v, err = ch.Button()
	require.NoError(t, err)
	assert.Equal(t, ButtonOn, v)

	peer.Silence("button")
	v, err = ch.Button()
	require.NoError(t, err)
	assert.Equal(t, ButtonOn, v, "timeout keeps the last known value")
}

func TestChannel_Commands(t *testing.T) {
	ch, peer := newPeerChannel(t)

	require.NoError(t, ch.Motor(1400, 1600))
	require.NoError(t, ch.Stop())
	require.NoError(t, ch.Wire(0))
	require.NoError(t, ch.Rescue(90, 1))
	require.NoError(t, ch.Rescue(-5, 12))

	assert.Equal(t, []string{
		"MOTOR 1400 1600",
		"MOTOR 1500 1500",
		"Wire 0",
		"Rescue 00901",
		"Rescue 00009",
	}, peer.Commands())
}

func TestChannel_MotorIgnoresMissingAck(t *testing.T) {
	ch, peer := newPeerChannel(t)
	peer.Silence("MOTOR")
	assert.NoError(t, ch.Motor(1500, 1500))
}

func TestChannel_WriteFailureIsTransportError(t *testing.T) {
	conn := newFakeConn(nil)
	conn.sendErr = errors.New("input/output error")
	ch := New(conn, testOptions())

	err := ch.Motor(1500, 1500)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "write", te.Op)
	assert.EqualError(t, err, "link write: input/output error")
}

func TestChannel_LinkDownDuringExchange(t *testing.T) {
	conn := newFakeConn(nil)
	ch := New(conn, Options{ExchangeTimeout: time.Second})
	close(conn.lines)

	_, err := ch.Ultrasonic()
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.True(t, IsTransportError(ch.Err()))
}

func TestChannel_Close(t *testing.T) {
	conn := newFakeConn(nil)
	ch := New(conn, testOptions())

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.Equal(t, 1, conn.closed)

	err := ch.Send(Message{ID: 1, Payload: "GET button"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, IsTransportError(err))
}

func TestNew_Defaults(t *testing.T) {
	ch := New(newFakeConn(nil), Options{})
	assert.Equal(t, DefaultOptions(), ch.Options())
}
