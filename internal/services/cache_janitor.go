package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/observability"
)

// CacheJanitor periodically evicts stale segmentation results
type CacheJanitor struct {
	cache    *cache.Cache
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
	running  bool
}

// NewCacheJanitor creates a janitor sweeping every interval
func NewCacheJanitor(c *cache.Cache, interval time.Duration, logger *slog.Logger) *CacheJanitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CacheJanitor{
		cache:    c,
		interval: interval,
		logger:   logger,
	}
}

// Start begins sweeping in the background until ctx is done or Stop is called
func (j *CacheJanitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	j.logger.Info("Starting cache janitor", "interval", j.interval)
	go j.loop(ctx, j.stopChan, j.done)
}

// Stop halts the janitor and waits for the loop to exit
func (j *CacheJanitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stopChan)
	done := j.done
	j.mu.Unlock()

	<-done
	j.logger.Info("Stopped cache janitor")
}

// IsRunning returns whether the janitor is active
func (j *CacheJanitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CacheJanitor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Debug("Cache janitor stopping due to context cancellation")
			return
		case <-stop:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep removes stale entries once and returns how many were evicted
func (j *CacheJanitor) Sweep() int {
	removed := j.cache.CleanupStale()
	if removed > 0 {
		observability.CacheEvictions.Add(float64(removed))
		j.logger.Debug("Evicted stale cache entries", "removed", removed, "remaining", len(j.cache.Keys()))
	}

	stats := j.cache.Stats()
	observability.CacheEntries.WithLabelValues("fresh").Set(float64(stats.FreshEntries))
	observability.CacheEntries.WithLabelValues("stale").Set(float64(stats.StaleEntries))
	return removed
}
