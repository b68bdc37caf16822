package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/repguard/internal/hybrid"
)

// wsConn serializes writes; responses and provider-change pushes share
// one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// pushFrame is the provider-change notification sent to WS clients.
type pushFrame struct {
	Type    string             `json:"type"`
	Payload hybrid.ChangeEvent `json:"payload"`
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsConn{conn: conn}
	g.connMu.Lock()
	g.conns[client] = struct{}{}
	g.connMu.Unlock()

	g.logger.Info("WebSocket client connected", zap.String("remote", conn.RemoteAddr().String()))
	go g.readLoop(client)
}

func (g *Gateway) readLoop(client *wsConn) {
	defer func() {
		g.connMu.Lock()
		delete(g.conns, client)
		g.connMu.Unlock()
		client.conn.Close()
		g.logger.Info("WebSocket client disconnected")
	}()

	for {
		var frame Frame
		if err := client.conn.ReadJSON(&frame); err != nil {
			g.logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if frame.Type == framePing {
			if err := client.writeJSON(Frame{Type: framePong}); err != nil {
				return
			}
			continue
		}

		// The request outlives the frame that carried it; the loop, not
		// the frame, bounds the connection's lifetime.
		resp, _ := g.dispatch(context.Background(), frame)
		if err := client.writeJSON(resp); err != nil {
			g.logger.Debug("WebSocket write failed", zap.Error(err))
			return
		}
	}
}

// broadcastChange pushes one provider-change frame to every connected
// WS client. A failed write only logs; the client's read loop notices
// the broken connection and cleans up.
func (g *Gateway) broadcastChange(ev hybrid.ChangeEvent) {
	g.connMu.Lock()
	clients := make([]*wsConn, 0, len(g.conns))
	for c := range g.conns {
		clients = append(clients, c)
	}
	g.connMu.Unlock()

	if len(clients) == 0 {
		return
	}
	frame := pushFrame{Type: frameProviderChange, Payload: ev}
	for _, c := range clients {
		if err := c.writeJSON(frame); err != nil {
			g.logger.Debug("WebSocket push failed", zap.Error(err))
		}
	}
}
