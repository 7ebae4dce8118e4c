package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	logx "wablast/pkg/logx"
)

// Gorilla write-side tuning, following the upstream chat example.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The surface is local-only; cross-origin browsers are not a concern.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsEnvelope struct {
	Event string    `json:"event"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

// handleWS streams bus events to one websocket client. Each client gets its
// own buffered subscription; a slow client loses events rather than stalling
// the publishers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", logx.Err(err))
		return
	}

	events, unsub := s.bus.Subscribe(64)
	defer unsub()
	defer conn.Close()

	s.log.Debug("ws client connected", logx.String("remote", r.RemoteAddr))

	// Read loop only to observe close/pong; inbound payloads are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsEnvelope{Event: ev.Type, Time: ev.Time, Data: ev.Data}); err != nil {
				s.log.Debug("ws write failed; dropping client", logx.Err(err))
				return
			}
		}
	}
}
