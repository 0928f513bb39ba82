package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// handleWebSocket upgrades to a websocket connection, sends a welcome
// trading-state message, then streams a fresh snapshot on every publisher
// broadcast until the client disconnects (spec §6 /ws).
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.pub.Subscribe()
	defer s.pub.Unsubscribe(sub)

	var writeMu sync.Mutex
	if err := writeEnvelope(conn, &writeMu, "trading-state", s.pub.Snapshot()); err != nil {
		return
	}

	go readPump(conn, &writeMu)

	for state := range sub {
		if err := writeEnvelope(conn, &writeMu, "update", state); err != nil {
			return
		}
	}
}

// readPump drains inbound frames, the only one of which we act on is
// {"type":"ping"}, answered with a pong; anything else is read and
// discarded. No read deadline is set; the loop ends on the first read
// error. writeMu is
// shared with the broadcast loop since gorilla/websocket permits only one
// concurrent writer per connection.
func readPump(conn *websocket.Conn, writeMu *sync.Mutex) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
			_ = writeEnvelope(conn, writeMu, "pong", nil)
		}
	}
}

func writeEnvelope(conn *websocket.Conn, writeMu *sync.Mutex, msgType string, data interface{}) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(wsEnvelope{Type: msgType, Data: data, Timestamp: time.Now()})
}
