// Package ws is the websocket transport: it upgrades connections, decodes
// inbound messages, and hands everything to the battle coordinator. All
// session and room state lives in the coordinator; a Client here is only a
// connection with a send buffer.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"battle-relay/internal/battle"
	"battle-relay/internal/store"
)

const sendBufferSize = 32

type Client struct {
	conn   *websocket.Conn
	connID string
	send   chan []byte
}

// Send implements battle.Conn. It never blocks the coordinator: a client
// whose buffer is full loses the message and will resync on reconnect.
func (c *Client) Send(msg battle.OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("conn_id", c.connID).Msg("marshal outbound message")
		return
	}
	safeSend(c.send, data)
}

// Close implements battle.Conn; the write loop tears the socket down after
// draining buffered messages.
func (c *Client) Close(reason string) {
	log.Debug().Str("conn_id", c.connID).Str("reason", reason).Msg("closing connection")
	safeClose(c.send)
}

type Server struct {
	coordinator *battle.Coordinator
	upgrader    websocket.Upgrader
}

func NewServer(coordinator *battle.Coordinator) *Server {
	return &Server{
		coordinator: coordinator,
		upgrader:    websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{conn: conn, connID: store.NewID(), send: make(chan []byte, sendBufferSize)}

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.coordinator.HandleDisconnect(context.Background(), c.connID)
		safeClose(c.send)
		_ = c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, msg)
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.Close()
}

func (s *Server) dispatch(c *Client, msg []byte) {
	ctx := context.Background()
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		return
	}
	switch base.Type {
	case "identify":
		var m IdentifyMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if err := s.coordinator.Identify(c.connID, m.UserID, c); err != nil {
			c.Send(battle.EventError(err))
			// A rejected identity does not get to keep the connection.
			c.Close("identify rejected")
		}
	case "create_room":
		var m CreateRoomMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if _, err := s.coordinator.CreateRoom(ctx, c.connID, m.Format); err != nil {
			c.Send(battle.EventError(err))
		}
	case "join_room":
		var m JoinRoomMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if _, err := s.coordinator.JoinRoom(ctx, c.connID, m.RoomID); err != nil {
			c.Send(battle.EventError(err))
		}
	case "submit_decision":
		var m DecisionMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		d := battle.Decision{Kind: m.Kind, Index: m.Index}
		if err := s.coordinator.SubmitDecision(ctx, c.connID, m.RoomID, d, m.ForceSwitch); err != nil {
			c.Send(battle.EventError(err))
		}
	case "leave_room":
		var m LeaveRoomMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			return
		}
		if err := s.coordinator.LeaveRoom(ctx, c.connID, m.RoomID); err != nil {
			c.Send(battle.EventError(err))
		}
	}
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case ch <- msg:
	default:
	}
}
