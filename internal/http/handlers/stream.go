package handlers

import (
	"net/http"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/booking-wizard/internal/wizard"
)

const streamBuffer = 64

// StreamMessage is one frame on the session event stream.
type StreamMessage struct {
	Type    string        `json:"type"`
	Session *SessionView  `json:"session,omitempty"`
	Event   *wizard.Event `json:"event,omitempty"`
}

type streamInbound struct {
	Type string `json:"type"`
}

// Stream handles GET .../events. It upgrades to a websocket, sends the
// current session state and then every wizard event as it happens. Clients
// may send {"type":"ping"} and {"type":"sync"}. A client that falls behind
// gets a "resync" frame with the full session instead of the missed events.
func (h *WizardHandler) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveStream(conn, s)
	}).ServeHTTP(w, r)
}

func (h *WizardHandler) serveStream(conn *websocket.Conn, s *wizard.Session) {
	defer conn.Close()

	events := make(chan wizard.Event, streamBuffer)
	dropped := make(chan struct{}, 1)
	unsubscribe := s.Controller.Subscribe(func(ev wizard.Event) {
		select {
		case events <- ev:
		default:
			// slow reader; a resync frame replaces the lost events
			select {
			case dropped <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	view := viewOf(s)
	if err := websocket.JSON.Send(conn, StreamMessage{Type: "session", Session: &view}); err != nil {
		return
	}

	inbound := make(chan streamInbound)
	closed := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(closed)
		for {
			var msg streamInbound
			if err := websocket.JSON.Receive(conn, &msg); err != nil {
				h.logger.Debug("wizard: stream closed", "session_id", s.ID, "error", err)
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	h.logger.Debug("wizard: stream opened", "session_id", s.ID)
	for {
		var out StreamMessage
		select {
		case <-closed:
			return
		case ev := <-events:
			out = StreamMessage{Type: "event", Event: &ev}
		case <-dropped:
			v := viewOf(s)
			out = StreamMessage{Type: "resync", Session: &v}
		case msg := <-inbound:
			switch msg.Type {
			case "ping":
				out = StreamMessage{Type: "pong"}
			case "sync":
				v := viewOf(s)
				out = StreamMessage{Type: "session", Session: &v}
			default:
				continue
			}
		}
		if err := websocket.JSON.Send(conn, out); err != nil {
			return
		}
	}
}
