package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestChannelGroup(t *testing.T) {
	examID := uuid.New()
	cases := []struct {
		channel string
		want    string
	}{
		{"proktor:events:instructors", GroupInstructors},
		{"proktor:events:exam:" + examID.String(), ExamGroup(examID)},
		{"proktor:events:attempt:" + examID.String(), "attempt:" + examID.String()},
	}
	for _, c := range cases {
		if got := channelGroup(c.channel); got != c.want {
			t.Fatalf("channelGroup(%q) = %q, want %q", c.channel, got, c.want)
		}
	}
}

// dialMonitor spins up a server that attaches every connection to the hub
// under the given groups and returns the client side of the socket.
func dialMonitor(t *testing.T, hub *Hub, groups []string) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	attached := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := hub.Attach(conn, groups)
		close(attached)
		hub.ReadLoop(client, nil)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	select {
	case <-attached:
	case <-time.After(5 * time.Second):
		t.Fatal("client never attached")
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func newHubFixture(t *testing.T) (*Hub, *Publisher, context.Context) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(rdb, zerolog.Nop())
	go hub.Run(ctx)
	waitForSubscription(t, rdb)

	return hub, NewPublisher(rdb, zerolog.Nop()), ctx
}

// waitForSubscription blocks until the hub's pattern subscription is
// registered, so a publish right after cannot race it.
func waitForSubscription(t *testing.T, rdb *redis.Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, err := rdb.PubSubNumPat(context.Background()).Result()
		if err == nil && n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("hub never subscribed")
}

func TestHubRelaysEventToInstructors(t *testing.T) {
	hub, publisher, ctx := newHubFixture(t)

	conn := dialMonitor(t, hub, []string{GroupInstructors})

	examID, attemptID := uuid.New(), uuid.New()
	publisher.Publish(ctx, Event{
		Type:      EventViolationAlert,
		ExamID:    examID,
		AttemptID: attemptID,
		StudentID: 42,
		Data:      map[string]any{"violation_type": "tab_switch"},
	})

	ev := readEvent(t, conn)
	if ev.Type != EventViolationAlert {
		t.Fatalf("type = %s, want violation-alert", ev.Type)
	}
	if ev.ExamID != examID || ev.AttemptID != attemptID {
		t.Fatalf("ids = (%s, %s), want (%s, %s)", ev.ExamID, ev.AttemptID, examID, attemptID)
	}
	if ev.At.IsZero() {
		t.Fatal("publisher did not stamp the event time")
	}
}

func TestHubScopesExamGroups(t *testing.T) {
	hub, publisher, ctx := newHubFixture(t)

	watched, other := uuid.New(), uuid.New()
	conn := dialMonitor(t, hub, []string{ExamGroup(watched)})

	// An event for a different exam never reaches this client's group.
	publisher.Publish(ctx, Event{Type: EventExamStarted, ExamID: other, AttemptID: uuid.New()})
	publisher.Publish(ctx, Event{Type: EventExamSubmitted, ExamID: watched, AttemptID: uuid.New()})

	ev := readEvent(t, conn)
	if ev.Type != EventExamSubmitted {
		t.Fatalf("type = %s, want exam-submitted (other exam's event leaked)", ev.Type)
	}
	if ev.ExamID != watched {
		t.Fatalf("exam id = %s, want %s", ev.ExamID, watched)
	}
}

func TestHubDetachOnClientClose(t *testing.T) {
	hub, _, _ := newHubFixture(t)

	conn := dialMonitor(t, hub, []string{GroupInstructors})
	if got := hub.ClientCount(GroupInstructors); got != 1 {
		t.Fatalf("client count = %d, want 1", got)
	}

	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(GroupInstructors) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client still registered after close")
}

func TestControlMessageSubscribesExamGroup(t *testing.T) {
	hub, publisher, ctx := newHubFixture(t)

	conn := dialMonitor(t, hub, []string{GroupInstructors})
	examID := uuid.New()

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "group": ExamGroup(examID)}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(ExamGroup(examID)) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount(ExamGroup(examID)) != 1 {
		t.Fatal("subscribe control message not applied")
	}

	publisher.Publish(ctx, Event{Type: EventAttemptFlagged, ExamID: examID, AttemptID: uuid.New()})

	// The event arrives twice, once per group the client is in.
	ev := readEvent(t, conn)
	if ev.Type != EventAttemptFlagged {
		t.Fatalf("type = %s, want attempt-flagged", ev.Type)
	}

	if err := conn.WriteJSON(map[string]string{"action": "unsubscribe", "group": ExamGroup(examID)}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(ExamGroup(examID)) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount(ExamGroup(examID)) != 0 {
		t.Fatal("unsubscribe control message not applied")
	}
}

func TestControlMessageSubscribeDeniedByAuthorizer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hub := NewHub(rdb, zerolog.Nop())

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.Attach(conn, []string{GroupInstructors})
		hub.ReadLoop(client, func(string) bool { return false })
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	examID := uuid.New()
	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "group": ExamGroup(examID)}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// The refusal leaves the group empty; give the read loop a moment.
	time.Sleep(100 * time.Millisecond)
	if got := hub.ClientCount(ExamGroup(examID)); got != 0 {
		t.Fatalf("client count = %d, want 0 after refused subscribe", got)
	}
}

func TestDispatchDropsSlowClient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())

	// A client that never drains its buffer. Registered by hand so the
	// buffer can be tiny.
	client := &Client{send: make(chan []byte, 1), groups: []string{GroupInstructors}}
	hub.clients[GroupInstructors] = map[*Client]struct{}{client: {}}

	hub.dispatch(GroupInstructors, []byte(`{"type":"exam-started"}`))
	if got := hub.ClientCount(GroupInstructors); got != 1 {
		t.Fatalf("client count = %d, want 1 while buffer has room", got)
	}

	hub.dispatch(GroupInstructors, []byte(`{"type":"exam-started"}`))
	if got := hub.ClientCount(GroupInstructors); got != 0 {
		t.Fatalf("client count = %d, want 0 after overflow", got)
	}

	// The send channel is closed on detach.
	select {
	case _, ok := <-client.send:
		if !ok {
			t.Fatal("send channel drained but not closed")
		}
	default:
		t.Fatal("expected buffered payload before close")
	}
	if _, ok := <-client.send; ok {
		t.Fatal("send channel not closed after detach")
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())

	client := &Client{send: make(chan []byte, 1), groups: []string{GroupInstructors}}
	hub.clients[GroupInstructors] = map[*Client]struct{}{client: {}}

	hub.Detach(client)
	hub.Detach(client) // second detach closes nothing

	if got := hub.ClientCount(GroupInstructors); got != 0 {
		t.Fatalf("client count = %d, want 0", got)
	}
}
