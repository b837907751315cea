package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/clients/trace"
	"github.com/trackseg/server/internal/config"
	"github.com/trackseg/server/internal/lib/geo"
	"github.com/trackseg/server/internal/lib/segment"
	"github.com/trackseg/server/internal/observability"
	"github.com/trackseg/server/internal/report"
	"github.com/trackseg/server/internal/store"
)

// RunStore persists segmentation runs
type RunStore interface {
	SaveRun(ctx context.Context, run *store.Run) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
}

// SegmentOptions tunes a single request. Zero values fall back to configuration.
type SegmentOptions struct {
	// MinDistance raises the reporting floor above the configured minimum
	MinDistance float64
	// FlushTrailing overrides segmentation.flush_trailing when set
	FlushTrailing *bool
}

// Result is the outcome of segmenting one trace
type Result struct {
	RunID         string             `json:"run_id"`
	Name          string             `json:"name"`
	InputPoints   int                `json:"input_points"`
	DedupedPoints int                `json:"deduplicated_points"`
	FlushTrailing bool               `json:"flush_trailing"`
	Cached        bool               `json:"cached"`
	Segments      segment.Collection `json:"segments"`
	Summary       report.Summary     `json:"summary"`
}

// BatchResult pairs a trace with its result or error
type BatchResult struct {
	Name   string
	Result *Result
	Err    error
}

// SegmentService segments traces, caching results by content and recording runs
type SegmentService struct {
	cache    *cache.Cache
	store    RunStore
	config   *config.SegmentationConfig
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewSegmentService creates a new SegmentService
func NewSegmentService(c *cache.Cache, runs RunStore, cfg *config.Config, logger *slog.Logger) *SegmentService {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SegmentService{
		cache:    c,
		store:    runs,
		config:   &cfg.Segmentation,
		cacheTTL: cfg.Cache.TTL,
		logger:   logger,
	}
}

// SegmentTrace deduplicates the trace, segments it (or reuses a cached
// segmentation of identical content) and stores the run.
func (s *SegmentService) SegmentTrace(ctx context.Context, t trace.Trace, opts SegmentOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	flush := s.config.FlushTrailing
	if opts.FlushTrailing != nil {
		flush = *opts.FlushTrailing
	}
	minDistance := math.Max(s.config.MinReportDistance, opts.MinDistance)
	logger := s.logger.With("trace", t.Name)

	deduped := geo.RemoveSuccessiveDuplicates(t.Points)
	if removed := len(t.Points) - len(deduped); removed > 0 {
		observability.DuplicatePointsRemoved.Add(float64(removed))
	}

	hash := cache.HashTrace(deduped, flush, s.config.CollinearityDelta)
	key := cache.SegmentationKey(hash)

	var segments segment.Collection
	cached, err := s.cache.Get(key, &segments)
	if err != nil {
		logger.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		s.cache.Delete(key)
		cached = false
	}

	if cached {
		observability.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		observability.CacheLookups.WithLabelValues("miss").Inc()

		segments, err = segment.Build(deduped,
			segment.WithCollinearityDelta(s.config.CollinearityDelta),
			segment.WithTrailingFlush(flush),
			segment.WithLogger(logger),
		)
		if err != nil {
			observability.InvalidTraces.Inc()
			return nil, fmt.Errorf("trace %q: %w", t.Name, err)
		}

		if err := s.cache.Set(key, segments, s.cacheTTL, t.Name); err != nil {
			logger.Warn("Failed to cache segmentation", "error", err)
		}
	}

	kept := segments.AtLeast(minDistance)

	run := &store.Run{
		TraceName:     t.Name,
		ContentHash:   hash,
		InputPoints:   len(t.Points),
		DedupedPoints: len(deduped),
		FlushTrailing: flush,
		Segments:      kept,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run for %q: %w", t.Name, err)
	}

	observability.TracesProcessed.Inc()
	observability.SegmentsEmitted.Add(float64(len(kept)))
	observability.ObserveSegmentLatency(start)

	logger.Info("Segmented trace",
		"run_id", run.ID,
		"points", len(t.Points),
		"deduplicated", len(deduped),
		"segments", len(kept),
		"cached", cached,
	)

	return &Result{
		RunID:         run.ID,
		Name:          t.Name,
		InputPoints:   len(t.Points),
		DedupedPoints: len(deduped),
		FlushTrailing: flush,
		Cached:        cached,
		Segments:      kept,
		Summary:       report.Summarize(kept),
	}, nil
}

// SegmentTraces segments traces in parallel, bounded by segmentation.workers.
// Results keep input order; a failing trace does not stop the others.
func (s *SegmentService) SegmentTraces(ctx context.Context, traces []trace.Trace, opts SegmentOptions) ([]BatchResult, error) {
	results := make([]BatchResult, len(traces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.config.Workers, 1))

	for i, t := range traces {
		g.Go(func() error {
			res, err := s.SegmentTrace(gctx, t, opts)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			results[i] = BatchResult{Name: t.Name, Result: res, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CacheStats reports the segmentation cache usage
func (s *SegmentService) CacheStats() cache.CacheStats {
	return s.cache.Stats()
}

// GetRun returns a stored run
func (s *SegmentService) GetRun(ctx context.Context, id string) (*store.Run, error) {
	return s.store.GetRun(ctx, id)
}

// ListRuns returns the most recent runs
func (s *SegmentService) ListRuns(ctx context.Context, limit int) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, limit)
}
