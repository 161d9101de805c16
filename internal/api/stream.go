package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/rescuebot/internal/monitoring"
	"github.com/banshee-data/rescuebot/internal/navigation"
	"github.com/banshee-data/rescuebot/internal/perception"
)

const (
	writeWait = 2 * time.Second
	pongWait  = 30 * time.Second
	pingEvery = pongWait / 2
)

// StreamMessage is one websocket frame on /api/stream. Status is sent every
// interval; Snapshot only when a new frame has been processed.
type StreamMessage struct {
	Type     string               `json:"type"`
	Status   *navigation.Status   `json:"status,omitempty"`
	Snapshot *perception.Snapshot `json:"snapshot,omitempty"`
}

// stream pushes controller status and new perception snapshots to a
// websocket client until it disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		monitoring.Debugf("[http] stream upgrade: %v", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(messageType int, payload any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if messageType == websocket.PingMessage {
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		return conn.WriteJSON(payload)
	}

	// The reader only watches for close and keeps pong deadlines moving.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()

	var lastFrame uint64
	send := func() error {
		st := s.status.Status()
		if err := write(websocket.TextMessage, StreamMessage{Type: "status", Status: &st}); err != nil {
			return err
		}
		if snap := s.snapshots.Latest(); snap != nil && snap.FrameSeq != lastFrame {
			lastFrame = snap.FrameSeq
			return write(websocket.TextMessage, StreamMessage{Type: "snapshot", Snapshot: snap})
		}
		return nil
	}

	if err := send(); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ticker.C:
			if err := send(); err != nil {
				monitoring.Debugf("[http] stream write: %v", err)
				return
			}
		}
	}
}
