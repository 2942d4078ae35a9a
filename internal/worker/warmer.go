package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"golang.org/x/sync/errgroup"
)

// LeaderboardWarmer recomputes one cached leaderboard view
type LeaderboardWarmer interface {
	WarmMetric(ctx context.Context, metric domain.Metric) error
}

// WarmWorker periodically recomputes every leaderboard view
type WarmWorker struct {
	warmer  LeaderboardWarmer
	config  *config.WarmerConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewWarmWorker creates a new warm worker
func NewWarmWorker(warmer LeaderboardWarmer, cfg *config.WarmerConfig, logger *slog.Logger) *WarmWorker {
	return &WarmWorker{
		warmer: warmer,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the background warm loop
func (w *WarmWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("warm worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background warm loop
func (w *WarmWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("warm worker stopped")
	return nil
}

// run is the main worker loop
func (w *WarmWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.warmAll(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.warmAll(ctx)
		}
	}
}

// warmAll recomputes every metric concurrently
func (w *WarmWorker) warmAll(ctx context.Context) error {
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, metric := range domain.Metrics {
		metric := metric
		g.Go(func() error {
			if err := w.warmer.WarmMetric(gctx, metric); err != nil {
				w.logger.Error("failed to warm leaderboard", "metric", metric, "error", err)
				return err
			}
			return nil
		})
	}
	err := g.Wait()

	w.logger.Debug("warm cycle completed",
		"duration", time.Since(startTime),
		"failed", err != nil,
	)
	return err
}

// IsRunning returns whether the worker is currently running
func (w *WarmWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single warm cycle
func (w *WarmWorker) RunOnce(ctx context.Context) error {
	return w.warmAll(ctx)
}
