package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/thereceipt/print-agent/internal/session"
)

// WebSocket message events
const (
	EventState     = "state"
	EventReconnect = "reconnect"
	EventResponse  = "response"
	EventError     = "error"
)

// WSMessage is one frame on the local event stream.
type WSMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// WSClient is a connected status viewer.
type WSClient struct {
	conn   *websocket.Conn
	send   chan WSMessage
	server *Server
	done   chan struct{}
}

// handleWebSocket streams session state changes. Clients may send a
// reconnect event, the same action as POST /reconnect.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &WSClient{
		conn:   conn,
		send:   make(chan WSMessage, 16),
		server: s,
		done:   make(chan struct{}),
	}
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("status client connected")

	states, stop := s.session.Watch()
	go client.writePump(states, stop)
	go client.readPump()
}

func (c *WSClient) writePump(states <-chan session.State, stop func()) {
	defer func() {
		stop()
		c.conn.Close()
	}()

	for {
		var msg WSMessage
		select {
		case <-c.done:
			return
		case st := <-states:
			msg = WSMessage{Event: EventState, Data: map[string]any{
				"state":    st.String(),
				"attempts": c.server.session.Status().Attempts,
			}}
		case msg = <-c.send:
		}

		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.server.log.Debug().Err(err).Msg("status client write failed")
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer close(c.done)

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug().Err(err).Msg("status client read failed")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *WSClient) handleMessage(msg *WSMessage) {
	switch msg.Event {
	case EventReconnect:
		if err := c.server.session.ForceReconnect(); err != nil {
			c.reply(WSMessage{Event: EventError, Data: map[string]any{"error": err.Error()}})
			return
		}
		c.reply(WSMessage{Event: EventResponse, Data: map[string]any{"success": true}})
	default:
		c.reply(WSMessage{Event: EventError, Data: map[string]any{"error": "unknown event: " + msg.Event}})
	}
}

func (c *WSClient) reply(msg WSMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// slow client, drop
	}
}
