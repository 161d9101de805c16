package serialmux

import (
	"bufio"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peerReader reads the peer's replies line by line with a deadline.
type peerReader struct {
	lines chan string
}

func newPeerReader(p *SimulatedPeer) *peerReader {
	r := &peerReader{lines: make(chan string, 16)}
	go func() {
		scan := bufio.NewScanner(p)
		for scan.Scan() {
			r.lines <- scan.Text()
		}
		close(r.lines)
	}()
	return r
}

func (r *peerReader) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-r.lines:
		return l
	case <-time.After(time.Second):
		t.Fatal("no reply from peer")
		return ""
	}
}

func (r *peerReader) none(t *testing.T) {
	t.Helper()
	select {
	case l := <-r.lines:
		t.Fatalf("unexpected reply %q", l)
	case <-time.After(50 * time.Millisecond):
	}
}

func write(t *testing.T, p *SimulatedPeer, line string) {
	t.Helper()
	_, err := p.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func TestSimulatedPeer_Handshake(t *testing.T) {
	p := NewSimulatedPeer()
	defer p.Close()
	r := newPeerReader(p)

	p.SetReadyAfter(1)
	write(t, p, HandshakeQuery)
	r.none(t)
	write(t, p, HandshakeQuery)
	assert.Equal(t, HandshakeReply, r.next(t))

	assert.False(t, p.Confirmed())
	write(t, p, HandshakeConfirm)
	assert.True(t, p.Confirmed())
	assert.Equal(t, 2, p.ReadyQueries())
}

func TestSimulatedPeer_Requests(t *testing.T) {
	p := NewSimulatedPeer()
	defer p.Close()
	r := newPeerReader(p)

	write(t, p, "1 GET button")
	assert.Equal(t, "1 ON", r.next(t))

	p.SetButton("OFF")
	write(t, p, "2 GET button")
	assert.Equal(t, "2 OFF", r.next(t))

	p.SetDistances(12.5, 3, 40)
	write(t, p, "3 GET ultrasonic")
	assert.Equal(t, "3 12.5 3.0 40.0", r.next(t))

	p.SetUltrasonicPayload("4.0 abc 5.0")
	write(t, p, "4 GET ultrasonic")
	assert.Equal(t, "4 4.0 abc 5.0", r.next(t))

	// Split writes are reassembled into lines.
	_, err := p.Write([]byte("5 MOTOR 14"))
	require.NoError(t, err)
	_, err = p.Write([]byte("00 1600\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "5 OK", r.next(t))

	assert.Equal(t, []string{
		"GET button", "GET button", "GET ultrasonic", "GET ultrasonic", "MOTOR 1400 1600",
	}, p.Commands())
	assert.Equal(t, []string{"MOTOR 1400 1600"}, p.CommandsWithPrefix("MOTOR"))

	p.ResetCommands()
	assert.Empty(t, p.Commands())
}

func TestSimulatedPeer_SilenceAndStale(t *testing.T) {
	p := NewSimulatedPeer()
	defer p.Close()
	r := newPeerReader(p)

	p.Silence("ultrasonic")
	write(t, p, "7 GET ultrasonic")
	r.none(t)
	assert.Equal(t, []string{"GET ultrasonic"}, p.Commands(), "silenced requests are still recorded")

	p.Unsilence()
	p.SetStaleFirst(true)
	write(t, p, "8 GET button")
	assert.Equal(t, "7 STALE", r.next(t))
	assert.Equal(t, "8 ON", r.next(t))

	// Garbage is ignored.
	write(t, p, "hello")
	write(t, p, "x GET button")
	r.none(t)
}

func TestSimulatedPeer_Close(t *testing.T) {
	p := NewSimulatedPeer()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Write([]byte("1 GET button\n"))
	assert.Error(t, err)

	_, err = p.Read(make([]byte, 8))
	assert.Error(t, err)
}

func TestSimulatedPeer_WithSerialMux(t *testing.T) {
	p := NewSimulatedPeer()
	mux := NewSerialMux[SerialPorter](p)
	defer mux.Close()

	errc := make(chan error, 1)
	go func() { errc <- mux.Monitor(t.Context()) }()

	require.NoError(t, mux.SendLine("11 GET button"))
	select {
	case line := <-mux.Lines():
		assert.Equal(t, "11 ON", line)
	case <-time.After(time.Second):
		t.Fatal("no reply through the mux")
	}
}
