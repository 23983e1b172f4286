package web

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/chatrelay/internal/consts"
	"github.com/codefionn/chatrelay/internal/logger"
	"github.com/codefionn/chatrelay/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = consts.Timeout10Seconds

	// Time allowed to read the next pong message from the peer.
	pongWait = consts.Timeout60Seconds

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection bound to a single chat session.
// It implements relay.Sink; the pipeline streams into the send queue and
// the write pump drains it.
type Client struct {
	user      string
	sessionID string
	conn      *websocket.Conn
	send      chan relay.WireMessage
	registry  *relay.Registry
	pipeline  *relay.Pipeline
	log       *logger.Logger
}

// NewClient wraps an upgraded connection for the given session.
func NewClient(user, sessionID string, conn *websocket.Conn, registry *relay.Registry, pipeline *relay.Pipeline, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Global()
	}
	return &Client{
		user:      user,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan relay.WireMessage, consts.SendQueueSize),
		registry:  registry,
		pipeline:  pipeline,
		log:       log.WithPrefix("ws"),
	}
}

// Send queues an outbound event without blocking. A full queue means the
// peer stopped draining; the event is dropped and logged.
func (c *Client) Send(msg relay.WireMessage) {
	select {
	case c.send <- msg:
	default:
		c.log.Warn("Send queue full for session %s, dropping %s", c.sessionID, msg.Type)
	}
}

// ReadPump pumps messages from the connection into the relay. It owns
// session teardown: when the read loop exits the session is unregistered
// and any running generation is cancelled.
func (c *Client) ReadPump() {
	defer func() {
		c.registry.UnregisterConn(c.sessionID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(consts.MaxInboundMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("WebSocket read error: %v", err)
			}
			break
		}

		var msg relay.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("Ignoring malformed message on session %s: %v", c.sessionID, err)
			continue
		}

		c.handleMessage(&msg)
	}
}

// WritePump drains the send queue to the connection and keeps the peer
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("Failed to marshal message: %v", err)
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error("Failed to write message: %v", err)
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

func (c *Client) handleMessage(msg *relay.WireMessage) {
	switch msg.Type {
	case relay.TypeUserMessage:
		if msg.Content == "" {
			c.log.Warn("Ignoring empty user message on session %s", c.sessionID)
			return
		}

		// A new question supersedes whatever is still generating. Wait
		// for the old task to unwind before recording the question so
		// its partial commit lands ahead of the new exchange in the log.
		// Cancellation is observed at fragment boundaries, so the wait
		// is bounded.
		if prev := c.registry.StopTask(c.sessionID); prev != nil {
			<-prev.Done()
		}

		if err := c.pipeline.RecordUserMessage(context.Background(), c.user, c.sessionID, msg.Content); err != nil {
			c.log.Error("Failed to record user message for session %s: %v", c.sessionID, err)
			c.Send(relay.WireMessage{Type: relay.TypeError, SessionID: c.sessionID, Content: err.Error()})
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		task := relay.NewTask(cancel)
		if !c.registry.SetTask(c.sessionID, task) {
			cancel()
			return
		}
		go c.pipeline.Run(ctx, c.user, c.sessionID, c, task)

	case relay.TypeStopGeneration:
		// Acknowledge immediately; the pipeline sends its own stopped
		// event when it unwinds, and clients tolerate the duplicate.
		if c.registry.StopTask(c.sessionID) != nil {
			c.Send(relay.WireMessage{Type: relay.TypeStopped, SessionID: c.sessionID})
		}

	default:
		c.log.Warn("Unknown message type: %s", msg.Type)
	}
}
