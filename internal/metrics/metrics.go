// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the instrumentation the engine reports.
type Metrics interface {
	IncStatRecordsIngested()
	IncStatRecordsRejected(reason string)
	IncProgressionConflicts()
	IncLevelUps()
	ObserveIngestDuration(seconds float64)
	IncLeaderboardCache(hit bool)
}

var _ Metrics = (*Service)(nil)

// Service implements Metrics with Prometheus collectors.
type Service struct {
	StatRecordsIngested  prometheus.Counter
	StatRecordsRejected  *prometheus.CounterVec
	ProgressionConflicts prometheus.Counter
	LevelUps             prometheus.Counter
	IngestDuration       prometheus.Histogram
	LeaderboardCache     *prometheus.CounterVec
}

// NewHandler returns an http.Handler for the given Gatherer.
// If no gatherer is provided, it uses the default one.
func NewHandler(gatherer ...prometheus.Gatherer) http.Handler {
	gath := prometheus.DefaultGatherer
	if len(gatherer) > 0 {
		gath = gatherer[0]
	}
	return promhttp.HandlerFor(gath, promhttp.HandlerOpts{})
}

// NewService creates and registers the Prometheus metrics.
// If no registerer is provided, it uses the default Prometheus registerer.
func NewService(registerer ...prometheus.Registerer) *Service {
	reg := prometheus.DefaultRegisterer
	if len(registerer) > 0 {
		reg = registerer[0]
	}

	s := &Service{
		StatRecordsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowfc_stat_records_ingested_total",
			Help: "Stat records committed together with their XP delta.",
		}),
		StatRecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowfc_stat_records_rejected_total",
			Help: "Stat submissions that were not committed, by reason.",
		}, []string{"reason"}),
		ProgressionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowfc_progression_conflicts_total",
			Help: "Optimistic version conflicts hit while applying XP.",
		}),
		LevelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flowfc_level_ups_total",
			Help: "Ingestions that moved a player to a higher level.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowfc_ingest_duration_seconds",
			Help:    "Time to validate and commit one stat record.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		LeaderboardCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowfc_leaderboard_cache_lookups_total",
			Help: "Leaderboard cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		s.StatRecordsIngested,
		s.StatRecordsRejected,
		s.ProgressionConflicts,
		s.LevelUps,
		s.IngestDuration,
		s.LeaderboardCache,
	)

	return s
}

func (s *Service) IncStatRecordsIngested() {
	s.StatRecordsIngested.Inc()
}

func (s *Service) IncStatRecordsRejected(reason string) {
	s.StatRecordsRejected.WithLabelValues(reason).Inc()
}

func (s *Service) IncProgressionConflicts() {
	s.ProgressionConflicts.Inc()
}

func (s *Service) IncLevelUps() {
	s.LevelUps.Inc()
}

func (s *Service) ObserveIngestDuration(seconds float64) {
	s.IngestDuration.Observe(seconds)
}

func (s *Service) IncLeaderboardCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	s.LeaderboardCache.WithLabelValues(result).Inc()
}
