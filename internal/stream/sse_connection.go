package stream

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"roomcast/pkg/types"
)

// SSEConnection is a subscriber transport writing text/event-stream frames
// onto an in-flight HTTP response.
// FUNCTIONAL DISCOVERY: the ResponseWriter is only valid while the handler
// goroutine is running, so the handler calls release before returning and
// every later Send fails with ErrConnectionClosed.
type SSEConnection struct {
	id     string
	roomID int64
	userID string

	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu       sync.Mutex // serializes frame writes
	released bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSSEConnection wraps w. It fails if w cannot flush.
func NewSSEConnection(w http.ResponseWriter, roomID int64, userID string, writeTimeout time.Duration) (*SSEConnection, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrStreamingUnsupported
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SSEConnection{
		id:           uuid.New().String(),
		roomID:       roomID,
		userID:       userID,
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

func (c *SSEConnection) ID() string            { return c.id }
func (c *SSEConnection) RoomID() int64         { return c.roomID }
func (c *SSEConnection) UserID() string        { return c.userID }
func (c *SSEConnection) Done() <-chan struct{} { return c.ctx.Done() }

// Send encodes event as one "data: <json>\n\n" frame and flushes it.
func (c *SSEConnection) Send(event types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	var frame bytes.Buffer
	frame.Grow(len(data) + 8)
	frame.WriteString("data: ")
	frame.Write(data)
	frame.WriteString("\n\n")

	return c.write(frame.Bytes())
}

// SendComment writes an SSE comment line, ignored by clients.
func (c *SSEConnection) SendComment(text string) error {
	return c.write([]byte(": " + text + "\n\n"))
}

func (c *SSEConnection) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released || c.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	if c.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines; httptest.ResponseRecorder does not.
		_ = c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.w.Write(frame); err != nil {
		c.cancel()
		return err
	}
	if err := c.rc.Flush(); err != nil {
		c.cancel()
		return err
	}
	return nil
}

// Close marks the transport closed and wakes the handler. It never blocks
// on an in-progress write.
func (c *SSEConnection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// release closes the connection and waits for any in-flight write, after
// which the ResponseWriter is never touched again.
func (c *SSEConnection) release() {
	_ = c.Close()
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}
