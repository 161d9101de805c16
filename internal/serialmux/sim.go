package serialmux

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Handshake lines exchanged with the actuator controller.
const (
	HandshakeQuery   = "[RASPI] READY?"
	HandshakeReply   = "[ESP32] READY"
	HandshakeConfirm = "[RASPI] READY CONFIRMED"
)

// SimulatedPeer emulates the actuator microcontroller at the far end of the
// serial link. It answers the startup handshake, GET button and GET
// ultrasonic requests, and acknowledges motor and arm commands. It is used by
// the -dev mode of the robot binary and by tests.
type SimulatedPeer struct {
	mu sync.Mutex

	button     string
	distances  [3]float64
	ultraRaw   string
	silenced   []string
	staleFirst bool
	readyAfter int
	delay      time.Duration

	readySeen int
	confirmed bool
	commands  []string
	partial   []byte
	closed    bool

	rx   *io.PipeReader
	tx   *io.PipeWriter
	out  chan string
	done chan struct{}
}

// NewSimulatedPeer returns a peer whose button reads ON and whose ultrasonic
// sensors report a clear path.
func NewSimulatedPeer() *SimulatedPeer {
	rx, tx := io.Pipe()
	p := &SimulatedPeer{
		button:    "ON",
		distances: [3]float64{100, 100, 100},
		rx:        rx,
		tx:        tx,
		out:       make(chan string, 256),
		done:      make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *SimulatedPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case line := <-p.out:
			p.mu.Lock()
			delay := p.delay
			p.mu.Unlock()
			if delay > 0 {
				time.Sleep(delay)
			}
			if _, err := p.tx.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
	}
}

// SetButton sets the value reported for GET button.
func (p *SimulatedPeer) SetButton(v string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.button = v
}

// SetDistances sets the left, front and right ultrasonic readings.
func (p *SimulatedPeer) SetDistances(left, front, right float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.distances = [3]float64{left, front, right}
	p.ultraRaw = ""
}

// SetUltrasonicPayload makes GET ultrasonic answer with payload verbatim.
func (p *SimulatedPeer) SetUltrasonicPayload(payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ultraRaw = payload
}

// Silence leaves any request whose command contains substr unanswered.
func (p *SimulatedPeer) Silence(substr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silenced = append(p.silenced, substr)
}

// Unsilence answers every request again.
func (p *SimulatedPeer) Unsilence() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silenced = nil
}

// SetStaleFirst makes the peer emit a leftover response with the previous ID
// ahead of every real response.
func (p *SimulatedPeer) SetStaleFirst(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staleFirst = v
}

// SetReadyAfter makes the peer ignore the first n handshake queries.
func (p *SimulatedPeer) SetReadyAfter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readyAfter = n
}

// SetDelay delays every line the peer sends.
func (p *SimulatedPeer) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Confirmed reports whether the handshake confirmation was received.
func (p *SimulatedPeer) Confirmed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.confirmed
}

// ReadyQueries returns how many handshake queries were received.
func (p *SimulatedPeer) ReadyQueries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readySeen
}

// Commands returns the command part of every application message received,
// in order, with the ID stripped.
func (p *SimulatedPeer) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.commands...)
}

// CommandsWithPrefix returns the received commands starting with prefix.
func (p *SimulatedPeer) CommandsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range p.Commands() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// ResetCommands forgets the recorded commands.
func (p *SimulatedPeer) ResetCommands() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = nil
}

// Read returns the bytes the peer sends to the robot.
func (p *SimulatedPeer) Read(b []byte) (int, error) {
	return p.rx.Read(b)
}

// Write consumes bytes the robot sends and queues the peer's replies.
func (p *SimulatedPeer) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPortClosed
	}
	p.partial = append(p.partial, b...)
	var replies []string
	for {
		i := strings.IndexByte(string(p.partial), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(p.partial[:i]), "\r")
		p.partial = p.partial[i+1:]
		replies = append(replies, p.handleLocked(line)...)
	}
	p.mu.Unlock()

	for _, r := range replies {
		select {
		case p.out <- r:
		case <-p.done:
			return 0, errPortClosed
		}
	}
	return len(b), nil
}

func (p *SimulatedPeer) handleLocked(line string) []string {
	switch line {
	case HandshakeQuery:
		p.readySeen++
		if p.readySeen <= p.readyAfter {
			return nil
		}
		return []string{HandshakeReply}
	case HandshakeConfirm:
		p.confirmed = true
		return nil
	}

	idText, command, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok {
		return nil
	}
	id, err := strconv.ParseUint(idText, 10, 64)
	if err != nil {
		return nil
	}
	command = strings.TrimSpace(command)
	p.commands = append(p.commands, command)

	for _, s := range p.silenced {
		if strings.Contains(command, s) {
			return nil
		}
	}

	var payload string
	switch {
	case command == "GET button":
		payload = p.button
	case command == "GET ultrasonic":
		payload = p.ultraRaw
		if payload == "" {
			payload = fmt.Sprintf("%.1f %.1f %.1f", p.distances[0], p.distances[1], p.distances[2])
		}
	default:
		payload = "OK"
	}

	var replies []string
	if p.staleFirst && id > 0 {
		replies = append(replies, fmt.Sprintf("%d STALE", id-1))
	}
	return append(replies, fmt.Sprintf("%d %s", id, payload))
}

// Close stops the peer. Pending and future reads fail.
func (p *SimulatedPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return p.rx.Close()
}
