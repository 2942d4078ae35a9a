package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SetCheckOrigin installs the origin policy used when upgrading connections
func SetCheckOrigin(check func(r *http.Request) bool) {
	upgrader.CheckOrigin = check
}

// ClientMessage is a request from a connected client. A subscribe names
// either a player to follow or a leaderboard metric to watch.
type ClientMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id,omitempty"`
	Metric   string `json:"metric,omitempty"`
}

// Client is one websocket connection and the topics it watches. The
// players and metrics sets are guarded by the hub's mutex.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	caller domain.Caller

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	players map[string]struct{}
	metrics map[domain.Metric]struct{}
}

func newClient(hub *Hub, caller domain.Caller, conn *websocket.Conn) *Client {
	return &Client{
		id:      uuid.New().String(),
		hub:     hub,
		conn:    conn,
		caller:  caller,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		players: make(map[string]struct{}),
		metrics: make(map[domain.Metric]struct{}),
	}
}

// queue hands an encoded frame to the writer without blocking. It
// reports false when the client is too slow to keep up.
func (c *Client) queue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to marshal reply", "type", msg.Type, "error", err)
		return
	}
	if !c.queue(data) {
		c.hub.logger.Warn("client buffer full, dropping reply", "client_id", c.id, "type", msg.Type)
	}
}

func (c *Client) replyError(reason string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": reason}})
}

func (c *Client) handle(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg)
	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})
	default:
		c.replyError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// subscribe registers interest and acknowledges with the current state:
// the player's progression or the metric's top entries.
func (c *Client) subscribe(msg ClientMessage) {
	switch {
	case msg.PlayerID != "":
		view, err := c.hub.watchPlayer(c, msg.PlayerID)
		if err != nil {
			c.replyError(c.subscribeFailure(err))
			return
		}
		c.reply(Message{Type: MessageTypeSubscribed, PlayerID: msg.PlayerID, Data: view})

	case msg.Metric != "":
		metric, err := domain.ParseMetric(msg.Metric)
		if err != nil {
			c.replyError(fmt.Sprintf("unknown metric %q", msg.Metric))
			return
		}
		entries, err := c.hub.watchMetric(c, metric)
		if err != nil {
			c.replyError(c.subscribeFailure(err))
			return
		}
		c.reply(Message{Type: MessageTypeSubscribed, Metric: metric, Data: entries})

	default:
		c.replyError("player_id or metric required")
	}
}

func (c *Client) unsubscribe(msg ClientMessage) {
	switch {
	case msg.PlayerID != "":
		c.hub.unwatchPlayer(c, msg.PlayerID)
		c.reply(Message{Type: MessageTypeUnsubscribed, PlayerID: msg.PlayerID})
	case msg.Metric != "":
		metric := domain.Metric(msg.Metric)
		c.hub.unwatchMetric(c, metric)
		c.reply(Message{Type: MessageTypeUnsubscribed, Metric: metric})
	default:
		c.replyError("player_id or metric required")
	}
}

func (c *Client) subscribeFailure(err error) string {
	switch {
	case domain.IsNotFoundError(err):
		return "unknown player"
	case domain.IsClientError(err):
		return err.Error()
	default:
		c.hub.logger.Warn("subscription snapshot failed", "client_id", c.id, "error", err)
		return "subscription unavailable"
	}
}

// readLoop handles client requests until the connection fails, then
// removes the client from the hub.
func (c *Client) readLoop() {
	defer c.hub.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "client_id", c.id, "error", err)
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("invalid message format")
			continue
		}
		c.handle(msg)
	}
}

// writeLoop owns every write to the connection. It sends one frame per
// queued message and pings on an interval.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(kind, data)
}

// ServeWs upgrades the request and attaches the connection to the hub on
// behalf of caller.
func ServeWs(hub *Hub, caller domain.Caller, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newClient(hub, caller, conn)
	hub.add(c)
	go c.writeLoop()
	go c.readLoop()
}
