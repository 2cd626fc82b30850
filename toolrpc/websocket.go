package toolrpc

import (
	"errors"
	"net/http"

	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// DefaultMaxMessageBytes caps inbound WebSocket messages.
const DefaultMaxMessageBytes = 64 << 10

// WebSocketHandler serves the protocol with one JSON-RPC message per
// WebSocket text message. Each connection is initialized independently.
func (s *Server) WebSocketHandler() http.Handler {
	ws := websocket.Server{
		// Non-browser clients send no Origin; access is gated by the bearer
		// token middleware in front of this handler.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			conn.MaxPayloadBytes = DefaultMaxMessageBytes
			ctx := logctx.WithConnData(conn.Request().Context(), &logctx.ConnData{
				ConnID:    uuid.NewString(),
				Transport: "websocket",
			})
			_ = s.Serve(ctx, &wsStream{conn: conn})
		},
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ws.ServeHTTP(w, r)
	})
}

type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) ReadMessage() ([]byte, error) {
	var data []byte
	err := websocket.Message.Receive(s.conn, &data)
	if errors.Is(err, websocket.ErrFrameTooLarge) {
		return nil, ErrMessageTooLarge
	}
	return data, err
}

func (s *wsStream) WriteMessage(b []byte) error {
	return websocket.Message.Send(s.conn, string(b))
}
