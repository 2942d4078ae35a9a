package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/flowfc-progression/internal/domain"
)

// Message types
const (
	MessageTypeProgressionUpdate   = "progression_update"
	MessageTypeLeaderboardUpdate   = "leaderboard_update"
	MessageTypeLeaderboardSnapshot = "leaderboard_snapshot"
	MessageTypeSubscribe           = "subscribe"
	MessageTypeSubscribed          = "subscribed"
	MessageTypeUnsubscribe         = "unsubscribe"
	MessageTypeUnsubscribed        = "unsubscribed"
	MessageTypePing                = "ping"
	MessageTypePong                = "pong"
	MessageTypeError               = "error"
)

// Message is one frame sent to a client
type Message struct {
	Type      string        `json:"type"`
	PlayerID  string        `json:"player_id,omitempty"`
	Metric    domain.Metric `json:"metric,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ProgressionUpdate is pushed to a player's subscribers after an ingestion
type ProgressionUpdate struct {
	Progression domain.ProgressionView `json:"progression"`
	RecordID    string                 `json:"record_id"`
	MatchID     string                 `json:"match_id,omitempty"`
	XPDelta     int                    `json:"xp_delta"`
	LeveledUp   bool                   `json:"leveled_up"`
}

// LeaderboardUpdate tells every client that ranked views changed
type LeaderboardUpdate struct {
	Metrics []domain.Metric `json:"metrics"`
}

// Stats describes the hub's current connections
type Stats struct {
	Connections       int `json:"connections"`
	SubscribedPlayers int `json:"subscribed_players"`
	WatchedMetrics    int `json:"watched_metrics"`
}

// Snapshots supplies the state sent when a client subscribes and the
// rankings pushed to metric watchers.
type Snapshots interface {
	GetProgression(ctx context.Context, caller domain.Caller, playerID string) (domain.ProgressionView, error)
	GetLeaderboard(ctx context.Context, caller domain.Caller, metric domain.Metric, limit int) ([]domain.LeaderboardEntry, error)
}

const snapshotTimeout = 5 * time.Second

// Hub tracks connected clients and what each one watches: individual
// players' progression and whole metric leaderboards.
type Hub struct {
	snapshots Snapshots
	topN      int
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	players map[string]map[*Client]struct{}
	boards  map[domain.Metric]map[*Client]struct{}

	// refresh coalesces leaderboard changes into one snapshot push
	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHub creates a hub. topN is the number of entries pushed to clients
// watching a metric.
func NewHub(snapshots Snapshots, topN int, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		snapshots: snapshots,
		topN:      topN,
		logger:    logger,
		clients:   make(map[*Client]struct{}),
		players:   make(map[string]map[*Client]struct{}),
		boards:    make(map[domain.Metric]map[*Client]struct{}),
		refresh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run pushes fresh leaderboard snapshots to metric watchers until Stop
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			return
		case <-h.refresh:
			for _, metric := range h.watchedMetrics() {
				h.pushLeaderboard(metric)
			}
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client connected", "client_id", c.id, "caller_id", c.caller.ID)
}

// remove drops c and all of its subscriptions, then closes it
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for playerID := range c.players {
		dropMember(h.players, playerID, c)
	}
	for metric := range c.metrics {
		dropMember(h.boards, metric, c)
	}
	h.mu.Unlock()

	c.close()
	h.logger.Debug("client disconnected", "client_id", c.id)
}

// watchPlayer checks the player exists and returns their current
// progression, which the subscribe ack carries.
func (h *Hub) watchPlayer(c *Client, playerID string) (domain.ProgressionView, error) {
	ctx, cancel := context.WithTimeout(h.ctx, snapshotTimeout)
	defer cancel()

	view, err := h.snapshots.GetProgression(ctx, c.caller, playerID)
	if err != nil {
		return domain.ProgressionView{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return view, nil
	}
	addMember(h.players, playerID, c)
	c.players[playerID] = struct{}{}
	return view, nil
}

// watchMetric subscribes c to a metric and returns its current top entries
func (h *Hub) watchMetric(c *Client, metric domain.Metric) ([]domain.LeaderboardEntry, error) {
	ctx, cancel := context.WithTimeout(h.ctx, snapshotTimeout)
	defer cancel()

	entries, err := h.snapshots.GetLeaderboard(ctx, c.caller, metric, h.topN)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return entries, nil
	}
	addMember(h.boards, metric, c)
	c.metrics[metric] = struct{}{}
	return entries, nil
}

func (h *Hub) unwatchPlayer(c *Client, playerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropMember(h.players, playerID, c)
	delete(c.players, playerID)
}

func (h *Hub) unwatchMetric(c *Client, metric domain.Metric) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropMember(h.boards, metric, c)
	delete(c.metrics, metric)
}

// NotifyProgression pushes a progression_update to the player's watchers
func (h *Hub) NotifyProgression(playerID string, view domain.ProgressionView, result domain.IngestResult) {
	msg := Message{
		Type:     MessageTypeProgressionUpdate,
		PlayerID: playerID,
		Data: ProgressionUpdate{
			Progression: view,
			RecordID:    result.Record.ID,
			MatchID:     result.Record.MatchID,
			XPDelta:     result.XPDelta,
			LeveledUp:   result.LeveledUp,
		},
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	targets := members(h.players[playerID])
	h.mu.RUnlock()
	h.deliver(msg, targets)
}

// NotifyLeaderboardChanged tells every client that rankings moved and
// schedules a snapshot push for watched metrics.
func (h *Hub) NotifyLeaderboardChanged() {
	msg := Message{
		Type:      MessageTypeLeaderboardUpdate,
		Data:      LeaderboardUpdate{Metrics: domain.Metrics},
		Timestamp: time.Now(),
	}

	h.mu.RLock()
	targets := members(h.clients)
	h.mu.RUnlock()
	h.deliver(msg, targets)

	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

func (h *Hub) pushLeaderboard(metric domain.Metric) {
	ctx, cancel := context.WithTimeout(h.ctx, snapshotTimeout)
	defer cancel()

	entries, err := h.snapshots.GetLeaderboard(ctx, domain.System, metric, h.topN)
	if err != nil {
		h.logger.Warn("leaderboard snapshot failed", "metric", metric, "error", err)
		return
	}

	h.mu.RLock()
	targets := members(h.boards[metric])
	h.mu.RUnlock()
	h.deliver(Message{
		Type:      MessageTypeLeaderboardSnapshot,
		Metric:    metric,
		Data:      entries,
		Timestamp: time.Now(),
	}, targets)
}

func (h *Hub) watchedMetrics() []domain.Metric {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.Metric, 0, len(h.boards))
	for _, metric := range domain.Metrics {
		if len(h.boards[metric]) > 0 {
			out = append(out, metric)
		}
	}
	return out
}

// deliver encodes msg once and queues it on every target
func (h *Hub) deliver(msg Message, targets []*Client) {
	if len(targets) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	for _, c := range targets {
		if !c.queue(data) {
			h.logger.Warn("client buffer full, dropping message", "client_id", c.id, "type", msg.Type)
		}
	}
}

// SubscriberCount returns the number of clients watching a player
func (h *Hub) SubscriberCount(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players[playerID])
}

// Stats returns the current connection counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections:       len(h.clients),
		SubscribedPlayers: len(h.players),
		WatchedMetrics:    len(h.boards),
	}
}

func addMember[K comparable](index map[K]map[*Client]struct{}, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Client]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

func dropMember[K comparable](index map[K]map[*Client]struct{}, key K, c *Client) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
}

func members(set map[*Client]struct{}) []*Client {
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
