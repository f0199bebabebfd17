package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventBuffer     = 64
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
)

// The nil CheckOrigin admits requests without an Origin header (CLI
// watchers) and browser pages served from this host; other origins
// get 403.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleEvents upgrades to a websocket and streams bus events as JSON
// text frames until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	// Subscribe before the handshake completes so nothing published
	// after the client sees 101 is lost.
	ch := s.events.Subscribe(eventBuffer)
	defer s.events.Unsubscribe(ch)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := s.logger.With("remote", r.RemoteAddr)
	log.Debug("event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug("event stream closed by client")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug("event write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				return
			}
		}
	}
}
