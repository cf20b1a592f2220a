package ws

import (
	"cargolink/pkg/logging"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type WebSocket struct {
	*websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	// gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

func NewWebSocket(parent context.Context, conn *websocket.Conn) *WebSocket {
	ctx, cancel := context.WithCancel(parent)
	return &WebSocket{Conn: conn, ctx: ctx, cancel: cancel}
}

func (w *WebSocket) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.Conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WebSocket) WritePing() error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ReadLoop delivers text frames to onMsg until the peer goes away or no
// pong arrives within heartbeat.
func (w *WebSocket) ReadLoop(maxBytes int64, heartbeat time.Duration, onMsg func([]byte)) {
	defer w.Close()

	w.Conn.SetReadLimit(maxBytes)
	_ = w.Conn.SetReadDeadline(time.Now().Add(heartbeat))
	w.Conn.SetPongHandler(func(string) error {
		return w.Conn.SetReadDeadline(time.Now().Add(heartbeat))
	})

	for {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WS - ReadLoop - unexpected close", logging.Err(err))
			}
			return
		}
		_ = w.Conn.SetReadDeadline(time.Now().Add(heartbeat))
		if len(data) > 0 {
			onMsg(data)
		}
	}
}

func (w *WebSocket) Done() <-chan struct{} {
	return w.ctx.Done()
}

func (w *WebSocket) Close() {
	w.cancel()
	_ = w.Conn.Close()
}
