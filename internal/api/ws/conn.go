package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/appshare/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshare/internal/shared/types"
)

// Conn is one WebSocket channel as seen by the stream hub
type Conn struct {
	id      string
	user    string
	ws      *websocket.Conn
	timeout time.Duration
	metrics *monitoring.Metrics

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.user }

// Send encodes msg and writes it as one text frame. The write deadline is
// the earlier of ctx's deadline and the write timeout.
func (c *Conn) Send(ctx context.Context, msg types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.Marshal(msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordWSMessage("out", msg.Type)
	}
	return nil
}

// Close sends a close frame and releases the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.ws.Close()
	})
	return err
}
