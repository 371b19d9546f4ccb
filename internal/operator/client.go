package operator

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
	sendBuffer   = 32
)

// Client is one staff console connected to the feed.
type Client struct {
	conn   *websocket.Conn
	tenant string
	staff  string
	send   chan []byte
}

func newClient(conn *websocket.Conn, tenant, staff string) *Client {
	return &Client{
		conn:   conn,
		tenant: tenant,
		staff:  staff,
		send:   make(chan []byte, sendBuffer),
	}
}

// frame is a message sent by a console.
type frame struct {
	Type    string `json:"type"`
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// writePump is the only writer on conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes console frames until the connection fails.
func (c *Client) readPump(onFrame func(frame)) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		onFrame(f)
	}
}
