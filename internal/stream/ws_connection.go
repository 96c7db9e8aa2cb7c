package stream

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"roomcast/pkg/types"
)

// WSConnection is a subscriber transport over a WebSocket.
// ARCHITECTURAL DISCOVERY: gorilla connections allow one concurrent writer,
// so every frame goes through writeCh and a single writeLoop goroutine.
type WSConnection struct {
	id     string
	roomID int64
	userID string

	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewWSConnection wraps an upgraded connection and starts its writer.
func NewWSConnection(conn *websocket.Conn, roomID int64, userID string, bufferSize int, writeTimeout time.Duration) *WSConnection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &WSConnection{
		id:           uuid.New().String(),
		roomID:       roomID,
		userID:       userID,
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *WSConnection) ID() string            { return c.id }
func (c *WSConnection) RoomID() int64         { return c.roomID }
func (c *WSConnection) UserID() string        { return c.userID }
func (c *WSConnection) Done() <-chan struct{} { return c.ctx.Done() }

func (c *WSConnection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues event for the writer. A full buffer means the peer is not
// keeping up and is reported as a failure.
func (c *WSConnection) Send(event types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket.
func (c *WSConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// readPump consumes inbound frames until the peer goes away, keeping the
// read deadline alive with pings. Inbound data is discarded.
func (c *WSConnection) readPump(pingInterval time.Duration) {
	pongWait := 2 * pingInterval

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
					_ = c.Close()
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
