package ws

import (
	"context"

	gws "github.com/gorilla/websocket"
)

// sender adapts a *Conn to the listener.Sender interface: one text or
// binary websocket frame per outgoing queue entry.
type sender struct {
	c *Conn
}

func (s *sender) Send(data []byte, binary bool) error {
	mt := gws.TextMessage
	if binary {
		mt = gws.BinaryMessage
	}
	return s.c.WriteMessage(context.Background(), mt, data)
}

func (s *sender) Close() error { return s.c.Close() }
