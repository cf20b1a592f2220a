package ws

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowConsumer = errors.New("client send buffer full")
)

// RuntimeClient is one live connection as the registry sees it. Writes are
// queued and drained by a single goroutine that also sends pings.
type RuntimeClient struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	id     string
	userID string
	out    chan []byte
	once   sync.Once
}

func NewClient(
	parent context.Context,
	ws *WebSocket,
	connID, userID string,
	buffer int,
) *RuntimeClient {
	ctx, cancel := context.WithCancel(parent)
	c := &RuntimeClient{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		id:     connID,
		userID: userID,
		out:    make(chan []byte, buffer),
	}
	go c.writeLoop()
	return c
}

func (c *RuntimeClient) ID() string     { return c.id }
func (c *RuntimeClient) UserID() string { return c.userID }

// Send never blocks. A client that cannot keep up is disconnected.
func (c *RuntimeClient) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *RuntimeClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.ws.Close()
	})
}

func (c *RuntimeClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.ws.Done():
			return
		case data := <-c.out:
			if err := c.ws.WriteMessage(data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WritePing(); err != nil {
				return
			}
		}
	}
}
