package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// ResyncType tells a tab it missed events and must refetch the calendar.
const ResyncType = "resync"

var resyncMessage, _ = json.Marshal(Event{Type: ResyncType})

// Client is one browser tab's connection.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte

	// stale is set when the hub dropped an event for this client.
	stale atomic.Bool
}

func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client and blocks until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	// Tabs never send; CloseRead answers control frames and cancels ctx
	// once the peer is gone.
	ctx = c.conn.CloseRead(ctx)
	c.writeLoop(ctx)
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "server shutting down")
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
			if c.stale.Swap(false) {
				if err := c.write(ctx, resyncMessage); err != nil {
					return
				}
			}
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
