package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSnapshots struct {
	views  map[string]domain.ProgressionView
	boards map[domain.Metric][]domain.LeaderboardEntry
}

func (f *fakeSnapshots) GetProgression(_ context.Context, _ domain.Caller, playerID string) (domain.ProgressionView, error) {
	view, ok := f.views[playerID]
	if !ok {
		return domain.ProgressionView{}, domain.ErrUnknownPlayer
	}
	return view, nil
}

func (f *fakeSnapshots) GetLeaderboard(_ context.Context, _ domain.Caller, metric domain.Metric, limit int) ([]domain.LeaderboardEntry, error) {
	entries := f.boards[metric]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func newSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		views: map[string]domain.ProgressionView{
			"p1": {PlayerProgression: domain.PlayerProgression{PlayerID: "p1", XPPoints: 120, Level: 2}, CardTier: domain.CardTierSilver},
			"p2": {PlayerProgression: domain.PlayerProgression{PlayerID: "p2"}},
		},
		boards: map[domain.Metric][]domain.LeaderboardEntry{
			domain.MetricGoals: {
				{Rank: 1, PlayerID: "p1", TotalGoals: 9},
				{Rank: 2, PlayerID: "p2", TotalGoals: 4},
				{Rank: 3, PlayerID: "p3", TotalGoals: 1},
			},
		},
	}
}

func startHub(t *testing.T, snapshots Snapshots) *Hub {
	t.Helper()
	hub := NewHub(snapshots, 2, testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

// attach adds a connectionless client to the hub; its frames stay queued
// on the send channel.
func attach(hub *Hub) *Client {
	c := newClient(hub, domain.Caller{ID: "tester"}, nil)
	hub.add(c)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAckCarriesProgression(t *testing.T) {
	hub := startHub(t, newSnapshots())
	c := attach(hub)

	c.handle(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "p1"})

	ack := receive(t, c)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, "p1", ack.PlayerID)
	data := ack.Data.(map[string]interface{})
	assert.Equal(t, float64(120), data["xp_points"])
	assert.Equal(t, string(domain.CardTierSilver), data["card_tier"])
	assert.Equal(t, 1, hub.SubscriberCount("p1"))
}

func TestSubscribeUnknownPlayerIsRejected(t *testing.T) {
	hub := startHub(t, newSnapshots())
	c := attach(hub)

	c.handle(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "ghost"})

	msg := receive(t, c)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "unknown player", msg.Data.(map[string]interface{})["error"])
	assert.Equal(t, 0, hub.SubscriberCount("ghost"))
	assert.Equal(t, 0, hub.Stats().SubscribedPlayers)
}

func TestSubscribeRequiresTopic(t *testing.T) {
	hub := startHub(t, newSnapshots())
	c := attach(hub)

	c.handle(ClientMessage{Type: MessageTypeSubscribe})
	assert.Equal(t, MessageTypeError, receive(t, c).Type)

	c.handle(ClientMessage{Type: MessageTypeSubscribe, Metric: "saves"})
	msg := receive(t, c)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Contains(t, msg.Data.(map[string]interface{})["error"], "saves")

	c.handle(ClientMessage{Type: "shout"})
	assert.Equal(t, MessageTypeError, receive(t, c).Type)
}

func TestProgressionUpdateReachesPlayerWatchersOnly(t *testing.T) {
	hub := startHub(t, newSnapshots())
	watcher := attach(hub)
	other := attach(hub)

	watcher.handle(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "p1"})
	receive(t, watcher)
	other.handle(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "p2"})
	receive(t, other)

	view := domain.ProgressionView{PlayerProgression: domain.PlayerProgression{PlayerID: "p1", XPPoints: 160, Level: 2}}
	hub.NotifyProgression("p1", view, domain.IngestResult{XPDelta: 40, LeveledUp: true})

	msg := receive(t, watcher)
	assert.Equal(t, MessageTypeProgressionUpdate, msg.Type)
	assert.Equal(t, "p1", msg.PlayerID)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, true, data["leveled_up"])
	assert.Equal(t, float64(40), data["xp_delta"])
	assertSilent(t, other)
}

func TestMetricWatchersReceiveLeaderboardSnapshots(t *testing.T) {
	hub := startHub(t, newSnapshots())
	goals := attach(hub)
	assists := attach(hub)
	bystander := attach(hub)

	goals.handle(ClientMessage{Type: MessageTypeSubscribe, Metric: "goals"})
	ack := receive(t, goals)
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, domain.MetricGoals, ack.Metric)
	assert.Len(t, ack.Data.([]interface{}), 2)

	assists.handle(ClientMessage{Type: MessageTypeSubscribe, Metric: "assists"})
	receive(t, assists)
	assert.Equal(t, 2, hub.Stats().WatchedMetrics)

	hub.NotifyLeaderboardChanged()

	for _, c := range []*Client{goals, assists, bystander} {
		assert.Equal(t, MessageTypeLeaderboardUpdate, receive(t, c).Type)
	}

	snap := receive(t, goals)
	assert.Equal(t, MessageTypeLeaderboardSnapshot, snap.Type)
	assert.Equal(t, domain.MetricGoals, snap.Metric)
	entries := snap.Data.([]interface{})
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].(map[string]interface{})["player_id"])

	// assists has no entries, so its snapshot carries no data
	snap = receive(t, assists)
	assert.Equal(t, MessageTypeLeaderboardSnapshot, snap.Type)
	assert.Equal(t, domain.MetricAssists, snap.Metric)
	assertSilent(t, bystander)
}

func TestUnsubscribeAndRemoveDropWatches(t *testing.T) {
	hub := startHub(t, newSnapshots())
	c := attach(hub)

	c.handle(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "p1"})
	receive(t, c)
	c.handle(ClientMessage{Type: MessageTypeSubscribe, Metric: "goals"})
	receive(t, c)
	assert.Equal(t, Stats{Connections: 1, SubscribedPlayers: 1, WatchedMetrics: 1}, hub.Stats())

	c.handle(ClientMessage{Type: MessageTypeUnsubscribe, PlayerID: "p1"})
	assert.Equal(t, MessageTypeUnsubscribed, receive(t, c).Type)
	assert.Equal(t, 0, hub.SubscriberCount("p1"))

	hub.remove(c)
	assert.Equal(t, Stats{}, hub.Stats())
	select {
	case <-c.done:
	default:
		t.Fatal("removed client was not closed")
	}

	// frames for a closed client are dropped without reporting a full buffer
	assert.True(t, c.queue([]byte("{}")))
}

func TestServeWsSubscribeAndPing(t *testing.T) {
	hub := startHub(t, newSnapshots())
	SetCheckOrigin(func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, domain.Caller{ID: "web"}, w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, read().Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, MessageTypeError, read().Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, PlayerID: "p1"}))
	ack := read()
	assert.Equal(t, MessageTypeSubscribed, ack.Type)
	assert.Equal(t, "p1", ack.PlayerID)

	require.Eventually(t, func() bool { return hub.SubscriberCount("p1") == 1 }, time.Second, 10*time.Millisecond)
	hub.NotifyProgression("p1", domain.ProgressionView{}, domain.IngestResult{XPDelta: 10})
	assert.Equal(t, MessageTypeProgressionUpdate, read().Type)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Stats().Connections == 0 }, time.Second, 10*time.Millisecond)
}
