package livereload

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is a browser client that completed the hello handshake.
type Connection struct {
	id           string
	ws           *websocket.Conn
	registeredAt time.Time
	protocols    []string
	remoteAddr   string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConnection(ws *websocket.Conn, remoteAddr string, protocols []string, writeTimeout time.Duration) *Connection {
	return &Connection{
		id:           uuid.NewString(),
		ws:           ws,
		registeredAt: time.Now(),
		protocols:    protocols,
		remoteAddr:   remoteAddr,
		writeTimeout: writeTimeout,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) RegisteredAt() time.Time { return c.registeredAt }

// Protocols returns the LiveReload protocols agreed during the handshake.
func (c *Connection) Protocols() []string { return c.protocols }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// SendReload writes a reload command frame.
func (c *Connection) SendReload(path string, liveCSS bool) error {
	return c.writeJSON(newReload(path, liveCSS))
}

// writeJSON serializes data frames and bounds each by the write timeout.
func (c *Connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(c.deadline()); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// ping writes a control frame. The pong arrives through the read loop.
func (c *Connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, c.deadline())
}

func (c *Connection) deadline() time.Time {
	if c.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.writeTimeout)
}

// Close sends a close frame and releases the socket. Later calls return
// the first result.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline())
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
