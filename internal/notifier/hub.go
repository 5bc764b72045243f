package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// Outbound buffer per client. A client that cannot drain this falls
	// behind the live feed and is disconnected rather than blocking the
	// hub.
	clientSendBuffer = 64

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	eventPattern = "proktor:events:*"

	// GroupInstructors is the broadcast group every monitor client joins.
	GroupInstructors = "instructors"
)

// ExamGroup returns the hub group key for one exam's event feed.
func ExamGroup(examID uuid.UUID) string {
	return "exam:" + examID.String()
}

// AttemptGroup returns the hub group key for one attempt's event feed.
func AttemptGroup(attemptID uuid.UUID) string {
	return "attempt:" + attemptID.String()
}

// Client is one connected instructor WebSocket.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	groups []string

	// closed is set under the hub mutex once the client is detached;
	// a detached client can never rejoin a group.
	closed bool
}

// Hub relays Redis Pub/Sub events to WebSocket clients grouped by
// subscription scope ("instructors", "exam:<id>", "attempt:<id>").
type Hub struct {
	rdb *redis.Client
	log zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub creates a new Hub.
func NewHub(rdb *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		rdb:     rdb,
		log:     log.With().Str("component", "notifier_hub").Logger(),
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Run subscribes to the event pattern and dispatches until ctx ends.
// Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	pubsub := h.rdb.PSubscribe(ctx, eventPattern)
	defer pubsub.Close()

	h.log.Info().Str("pattern", eventPattern).Msg("Hub started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Hub stopping")
			h.closeAll()
			return
		case msg, ok := <-ch:
			if !ok {
				h.log.Warn().Msg("Pub/Sub channel closed")
				h.closeAll()
				return
			}
			h.dispatch(channelGroup(msg.Channel), []byte(msg.Payload))
		}
	}
}

// channelGroup maps a Pub/Sub channel name to a registry group key.
func channelGroup(channel string) string {
	suffix := strings.TrimPrefix(channel, "proktor:events:")
	return suffix
}

// dispatch delivers a payload to every client in a group. Clients whose
// buffer is full are dropped.
func (h *Hub) dispatch(group string, payload []byte) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients[group] {
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn().Msg("Dropping slow monitor client")
		h.Detach(client)
	}
}

// Attach registers a connection under the given groups and starts its
// write pump. Pass group keys like "instructors" or "exam:<id>".
func (h *Hub) Attach(conn *websocket.Conn, groups []string) *Client {
	if len(groups) == 0 {
		groups = []string{GroupInstructors}
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		groups: groups,
	}

	h.mu.Lock()
	for _, g := range groups {
		if h.clients[g] == nil {
			h.clients[g] = make(map[*Client]struct{})
		}
		h.clients[g][client] = struct{}{}
	}
	h.mu.Unlock()

	go client.writePump()
	return client
}

// Detach unregisters a client and closes its connection.
func (h *Hub) Detach(client *Client) {
	h.mu.Lock()
	removed := false
	client.closed = true
	for _, g := range client.groups {
		if set, ok := h.clients[g]; ok {
			if _, present := set[client]; present {
				delete(set, client)
				removed = true
				if len(set) == 0 {
					delete(h.clients, g)
				}
			}
		}
	}
	h.mu.Unlock()

	if removed {
		close(client.send)
	}
}

// Subscribe adds a client to one more group. No-op if already a member.
func (h *Hub) Subscribe(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return
	}
	for _, g := range client.groups {
		if g == group {
			return
		}
	}
	client.groups = append(client.groups, group)
	if h.clients[group] == nil {
		h.clients[group] = make(map[*Client]struct{})
	}
	h.clients[group][client] = struct{}{}
}

// Unsubscribe removes a client from one group. The instructors group
// cannot be left; it is the baseline feed.
func (h *Hub) Unsubscribe(client *Client, group string) {
	if group == GroupInstructors {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, g := range client.groups {
		if g == group {
			client.groups = append(client.groups[:i], client.groups[i+1:]...)
			break
		}
	}
	if set, ok := h.clients[group]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.clients, group)
		}
	}
}

// ClientCount returns how many clients are registered in a group.
func (h *Hub) ClientCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[group])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	seen := make(map[*Client]struct{})
	for _, set := range h.clients {
		for client := range set {
			client.closed = true
			seen[client] = struct{}{}
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for client := range seen {
		close(client.send)
	}
}

// controlMessage is the only inbound frame a monitor socket accepts:
// joining or leaving an exam/attempt group mid-connection.
type controlMessage struct {
	Action string `json:"action"`
	Group  string `json:"group"`
}

// ReadLoop consumes inbound frames until the peer disconnects. Frames are
// parsed as subscribe/unsubscribe control messages; authorize decides
// whether this client may join a requested group. Anything else is
// discarded, but pongs keep the connection alive.
func (h *Hub) ReadLoop(client *Client, authorize func(group string) bool) {
	defer h.Detach(client)

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("Monitor client closed unexpectedly")
			}
			return
		}

		var msg controlMessage
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Group == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if authorize != nil && !authorize(msg.Group) {
				h.log.Warn().Str("group", msg.Group).Msg("Monitor subscribe refused")
				continue
			}
			h.Subscribe(client, msg.Group)
		case "unsubscribe":
			h.Unsubscribe(client, msg.Group)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
