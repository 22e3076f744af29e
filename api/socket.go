package api

import (
	"context"

	"github.com/coder/websocket"

	"board-room/room"
)

const maxFrameSize = 1 << 20

// socket adapts a websocket connection to room.Transport.
type socket struct {
	conn *websocket.Conn
}

func newSocket(conn *websocket.Conn) *socket {
	conn.SetReadLimit(maxFrameSize)
	return &socket{conn: conn}
}

func (s *socket) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *socket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *socket) Close(code room.StatusCode, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
