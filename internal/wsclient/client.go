// Package wsclient implements the WebSocket Client: it dials the
// dispatcher's control channel, performs the JOIN_AGENT handshake,
// decodes each inbound frame and hands it to the Request Router, and
// serializes every outbound StatusFrame through a single writer.
package wsclient

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	agenterrors "github.com/doyler/faraday-agent-dispatcher/internal/errors"
	"github.com/doyler/faraday-agent-dispatcher/internal/protocol"
)

// Dispatcher hands one decoded inbound frame off for routing. Implemented
// by internal/router.Router.Handle.
type Dispatcher interface {
	Handle(msg map[string]json.RawMessage, emitStatus func(protocol.StatusFrame), emitRaw func(map[string]interface{}))
}

// Client owns the dispatcher's single WebSocket connection: one inbound
// read loop and one outbound write loop serialized through a mailbox
// channel, exactly as the Status Emitter's single-writer discipline
// requires.
type Client struct {
	conn   *websocket.Conn
	log    *logrus.Logger
	router Dispatcher

	writeChan chan []byte
	writeDone chan struct{}
	closeOnce sync.Once

	// messageWg tracks one goroutine per inbound frame handed to the
	// Router, so the read loop below never blocks on a long-running
	// executor and Serve can wait for in-flight dispatches to return
	// before it stops the writer.
	messageWg sync.WaitGroup
}

// Dial opens the control channel and completes the JOIN_AGENT handshake.
// host/wsPort/ssl select the URL scheme and authority; workspace and
// wsToken populate the join frame; executors advertises each configured
// executor's declared param schema.
func Dial(host string, wsPort int, ssl bool, workspace, wsToken string, executors []protocol.ExecutorAdvertisement, router Dispatcher, log *logrus.Logger) (*Client, error) {
	scheme := "ws"
	if ssl {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: fmt.Sprintf("%s:%d", host, wsPort), Path: "/websockets"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", agenterrors.ErrTransport, u.String(), err)
	}

	c := &Client{
		conn:      conn,
		log:       log,
		router:    router,
		writeChan: make(chan []byte, 64),
		writeDone: make(chan struct{}),
	}

	join := protocol.NewJoinFrame(workspace, wsToken, executors)
	data, err := json.Marshal(join)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("encode join frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: send join frame: %v", agenterrors.ErrTransport, err)
	}

	return c, nil
}

// Serve starts the write pump on its own goroutine and runs the inbound
// read loop on the calling goroutine, blocking until the connection closes. It returns nil on a
// clean server close and ErrTransport wrapping the underlying error
// otherwise. Every decoded frame is handed to the Router on its own
// goroutine so that a long-running executor never stalls this read
// loop — a second RUN frame must be read and dispatched while an
// earlier one is still in flight.
func (c *Client) Serve() error {
	go c.writePump()
	defer c.stopWritePump()
	defer c.messageWg.Wait()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("%w: %v", agenterrors.ErrTransport, err)
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.EmitStatus(protocol.NewRunStatus("", protocol.Running(false), nil, "Invalid JSON"))
			continue
		}

		c.messageWg.Add(1)
		go func(msg map[string]json.RawMessage) {
			defer c.messageWg.Done()
			c.router.Handle(msg, c.EmitStatus, c.EmitRaw)
		}(msg)
	}
}

// EmitStatus marshals a StatusFrame and queues it on the write mailbox.
// It is safe for concurrent use by any number of in-flight Supervisor
// runs.
func (c *Client) EmitStatus(frame protocol.StatusFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		c.log.WithError(err).Error("failed to encode outbound status frame")
		return
	}
	c.enqueue(data)
}

// EmitRaw marshals an arbitrary JSON object (the unrecognized-action
// response) and queues it on the write mailbox.
func (c *Client) EmitRaw(obj map[string]interface{}) {
	data, err := json.Marshal(obj)
	if err != nil {
		c.log.WithError(err).Error("failed to encode outbound raw frame")
		return
	}
	c.enqueue(data)
}

func (c *Client) enqueue(data []byte) {
	defer func() {
		// writeChan may already be closed by Close/stopWritePump; a send
		// on a closed channel panics, which we treat as a best-effort
		// drop, matching the spec's "final StatusFrames may be discarded".
		recover()
	}()
	c.writeChan <- data
}

// writePump is the connection's single writer goroutine: every outbound
// frame, regardless of which Supervisor or Router call produced it,
// passes through this one loop.
func (c *Client) writePump() {
	for data := range c.writeChan {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.WithError(err).Warn("failed to write outbound frame")
		}
	}
	close(c.writeDone)
}

func (c *Client) stopWritePump() {
	c.closeOnce.Do(func() {
		close(c.writeChan)
	})
	<-c.writeDone
}

// Close closes the underlying connection. Safe to call after Serve has
// returned, or to force Serve's read loop to unblock during shutdown.
func (c *Client) Close() error {
	return c.conn.Close()
}
