package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rawjaws/cosync/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

// Client represents a single WebSocket connection. The authentication layer
// upstream supplies the validated user ID per connection.
type Client struct {
	ID     string
	UserID string

	router *Router
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	// Sessions created over this connection, ended on disconnect.
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newClient(router *Router, conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		router:   router,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		sessions: make(map[string]*session.Session),
	}
}

// bind attaches a session to this connection and starts forwarding its
// events to the socket.
func (c *Client) bind(sess *session.Session) {
	c.mu.Lock()
	c.sessions[sess.ID] = sess
	c.mu.Unlock()
	go c.forwardEvents(sess)
}

// unbind detaches an ended session.
func (c *Client) unbind(sessionID string) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// forwardEvents copies a session's push events to the socket until the
// connection closes.
func (c *Client) forwardEvents(sess *session.Session) {
	for {
		select {
		case ev := <-sess.Events():
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			c.enqueue(data)
		case <-c.done:
			return
		}
	}
}

// ReadPump reads messages from the WebSocket and routes them.
func (c *Client) ReadPump() {
	defer func() {
		close(c.done)
		c.mu.Lock()
		sessions := make([]*session.Session, 0, len(c.sessions))
		for _, s := range c.sessions {
			sessions = append(sessions, s)
		}
		c.sessions = make(map[string]*session.Session)
		c.mu.Unlock()
		for _, s := range sessions {
			c.router.disconnect(s)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("client %s read error: %v", c.ID, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMsg(ServerMessage{Type: MsgError, Message: "invalid message format"})
			continue
		}

		// Applies can park waiting on a dependency; dispatching them off
		// the read loop keeps cursor and presence traffic on the same
		// connection flowing in the meantime. Replies correlate by
		// RequestID, not arrival order.
		if msg.Type == MsgApplyOperation || msg.Type == MsgApplyBatch {
			go c.dispatch(msg)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ClientMessage) {
	resp := c.router.handle(context.Background(), c, msg)
	resp.RequestID = msg.RequestID
	resp.For = msg.Type
	c.sendMsg(resp)
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMsg(msg ServerMessage) {
	c.enqueue(msg.Encode())
}

func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message.
	}
}
