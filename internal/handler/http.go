package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// CallerHeader carries the already-authenticated caller identity
const CallerHeader = "X-Caller-ID"

// anonymous is the caller recorded when no identity header is present
var anonymous = domain.Caller{ID: "anonymous"}

// Engine is the progression engine surface served over HTTP
type Engine interface {
	IngestStatRecord(ctx context.Context, caller domain.Caller, raw domain.RawStatRecord) (domain.IngestResult, error)
	GetProgression(ctx context.Context, caller domain.Caller, playerID string) (domain.ProgressionView, error)
	GetLeaderboard(ctx context.Context, caller domain.Caller, metric domain.Metric, limit int) ([]domain.LeaderboardEntry, error)
	RegisterPlayer(ctx context.Context, caller domain.Caller, player domain.Player) (domain.Player, error)
	GetPlayer(ctx context.Context, caller domain.Caller, playerID string) (domain.PlayerProfile, error)
	UpdatePlayer(ctx context.Context, caller domain.Caller, playerID string, update domain.PlayerUpdate) (domain.Player, error)
	GetPlayerSummary(ctx context.Context, caller domain.Caller, playerID string) (domain.PlayerSummary, error)
	RecentMatches(ctx context.Context, caller domain.Caller, playerID string, limit int) ([]domain.StatRecord, error)
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the progression API
type Handler struct {
	engine  Engine
	hub     *websocket.Hub
	metrics http.Handler
	config  *config.Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub and metrics may be nil.
func NewHandler(engine Engine, hub *websocket.Hub, metrics http.Handler, cfg *config.Config, logger *slog.Logger) *Handler {
	h := &Handler{
		engine:  engine,
		hub:     hub,
		metrics: metrics,
		config:  cfg,
		logger:  logger,
	}
	if cfg.RateLimit.Enabled {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	}
	return h
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool                    `json:"success"`
	Data    interface{}             `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Details []domain.FieldViolation `json:"details,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: h.config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", CallerHeader},
	}).Handler)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.With(h.rateLimit).Post("/stats", h.IngestStatRecord)

		r.Post("/players", h.RegisterPlayer)
		r.Route("/players/{playerID}", func(r chi.Router) {
			r.Get("/", h.GetPlayer)
			r.Patch("/", h.UpdatePlayer)
			r.Get("/progression", h.GetProgression)
			r.Get("/summary", h.GetPlayerSummary)
			r.Get("/matches", h.RecentMatches)
		})

		r.Get("/leaderboard", h.GetLeaderboard)

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// rateLimit rejects stat submissions above the configured rate
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// callerFrom returns the identity the request was made on behalf of
func callerFrom(r *http.Request) domain.Caller {
	if id := r.Header.Get(CallerHeader); id != "" {
		return domain.Caller{ID: id}
	}
	return anonymous
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	resp := APIResponse{
		Success: false,
		Error:   err.Error(),
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Violations
	}
	h.writeJSON(w, status, resp)
}

// writeEngineError maps an engine error onto a status code. Errors without
// a client-facing meaning are logged and reported as internal errors.
func (h *Handler) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrPlayerExists):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		h.logger.Error("persistence unavailable", "op", op, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrPersistenceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request aborted", "op", op, "error", err)
		h.writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// queryLimit parses the optional limit parameter; absent means 0
func queryLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit < 0 {
		return 0, domain.ErrInvalidLimit
	}
	return limit, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, callerFrom(r), w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports whether the backing store is reachable
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrPersistenceUnavailable)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// IngestStatRecord handles a stat record submission
func (h *Handler) IngestStatRecord(w http.ResponseWriter, r *http.Request) {
	var raw domain.RawStatRecord
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result, err := h.engine.IngestStatRecord(r.Context(), callerFrom(r), raw)
	if err != nil {
		h.writeEngineError(w, "ingest", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    result,
	})
}

// RegisterPlayer creates a player profile
func (h *Handler) RegisterPlayer(w http.ResponseWriter, r *http.Request) {
	var player domain.Player
	if err := json.NewDecoder(r.Body).Decode(&player); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	created, err := h.engine.RegisterPlayer(r.Context(), callerFrom(r), player)
	if err != nil {
		h.writeEngineError(w, "register_player", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    created,
	})
}

// GetPlayer returns a player's profile card: profile fields and progression
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	profile, err := h.engine.GetPlayer(r.Context(), callerFrom(r), playerID)
	if err != nil {
		h.writeEngineError(w, "get_player", err)
		return
	}

	h.writeSuccess(w, profile)
}

// UpdatePlayer edits a player's position, jersey, team, avatar or full name
func (h *Handler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	var update domain.PlayerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	updated, err := h.engine.UpdatePlayer(r.Context(), callerFrom(r), playerID, update)
	if err != nil {
		h.writeEngineError(w, "update_player", err)
		return
	}

	h.writeSuccess(w, updated)
}

// GetProgression returns a player's XP, level and card tier
func (h *Handler) GetProgression(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	view, err := h.engine.GetProgression(r.Context(), callerFrom(r), playerID)
	if err != nil {
		h.writeEngineError(w, "get_progression", err)
		return
	}

	h.writeSuccess(w, view)
}

// GetPlayerSummary returns a player's aggregated totals
func (h *Handler) GetPlayerSummary(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	summary, err := h.engine.GetPlayerSummary(r.Context(), callerFrom(r), playerID)
	if err != nil {
		h.writeEngineError(w, "get_summary", err)
		return
	}

	h.writeSuccess(w, summary)
}

// RecentMatches returns a player's latest stat records
func (h *Handler) RecentMatches(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")

	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	records, err := h.engine.RecentMatches(r.Context(), callerFrom(r), playerID, limit)
	if err != nil {
		h.writeEngineError(w, "recent_matches", err)
		return
	}

	h.writeSuccess(w, records)
}

// GetLeaderboard returns the ranked view for a metric, goals by default
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	metricName := r.URL.Query().Get("metric")
	if metricName == "" {
		metricName = string(domain.MetricGoals)
	}
	metric, err := domain.ParseMetric(metricName)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit, err := queryLimit(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.engine.GetLeaderboard(r.Context(), callerFrom(r), metric, limit)
	if err != nil {
		h.writeEngineError(w, "get_leaderboard", err)
		return
	}

	h.writeSuccess(w, entries)
}
