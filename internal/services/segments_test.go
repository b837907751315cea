package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/clients/trace"
	"github.com/trackseg/server/internal/config"
	"github.com/trackseg/server/internal/lib/geo"
	"github.com/trackseg/server/internal/lib/segment"
	"github.com/trackseg/server/internal/observability"
	"github.com/trackseg/server/internal/store"
)

// fakeStore keeps runs in memory
type fakeStore struct {
	mu      sync.Mutex
	runs    []*store.Run
	saveErr error
}

func (f *fakeStore) SaveRun(_ context.Context, run *store.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}
	run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	run.SegmentCount = len(run.Segments)
	run.TotalMeters = run.Segments.TotalDistance()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, store.ErrRunNotFound)
}

func (f *fakeStore) ListRuns(_ context.Context, limit int) ([]*store.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limit <= 0 || limit > len(f.runs) {
		limit = len(f.runs)
	}
	return f.runs[:limit], nil
}

// rightTurn is a ~50 m northbound leg turning due east at the third point
func rightTurn() []geo.Point {
	return []geo.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0.000225, Longitude: 0},
		{Latitude: 0.00045, Longitude: 0},
		{Latitude: 0.00045, Longitude: 0.000225},
		{Latitude: 0.00045, Longitude: 0.00045},
		{Latitude: 0.00045, Longitude: 0.000675},
		{Latitude: 0.00045, Longitude: 0.0009},
	}
}

func setupTestService(t *testing.T) (*SegmentService, *fakeStore, *cache.Cache) {
	t.Helper()

	c := cache.NewCache()
	runs := &fakeStore{}
	return NewSegmentService(c, runs, config.DefaultConfig(), nil), runs, c
}

func TestSegmentTrace(t *testing.T) {
	svc, runs, _ := setupTestService(t)

	res, err := svc.SegmentTrace(context.Background(), trace.Trace{Name: "turn", Points: rightTurn()}, SegmentOptions{})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 7, res.InputPoints)
	assert.Equal(t, 7, res.DedupedPoints)
	assert.False(t, res.Cached)
	assert.False(t, res.FlushTrailing)
	require.Len(t, res.Segments, 1)
	assert.InDelta(t, 50.04, res.Segments[0].Distance(), 0.05)
	assert.Equal(t, 1, res.Summary.Segments)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "turn", runs.runs[0].TraceName)
	assert.Len(t, runs.runs[0].ContentHash, 64)
}

func TestSegmentTrace_CachedByContent(t *testing.T) {
	svc, _, c := setupTestService(t)
	ctx := context.Background()

	first, err := svc.SegmentTrace(ctx, trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Successive duplicates do not change the content that is segmented
	points := rightTurn()
	points = append(points[:2], append([]geo.Point{points[1]}, points[2:]...)...)

	second, err := svc.SegmentTrace(ctx, trace.Trace{Name: "b", Points: points}, SegmentOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 8, second.InputPoints)
	assert.Equal(t, 7, second.DedupedPoints)
	assert.NotEqual(t, first.RunID, second.RunID)
	require.Len(t, second.Segments, 1)
	assert.Equal(t, first.Segments[0].Points(), second.Segments[0].Points())

	assert.Len(t, c.Keys(), 1)
}

func TestSegmentTrace_FlushOverrideMissesCache(t *testing.T) {
	svc, _, c := setupTestService(t)
	ctx := context.Background()

	_, err := svc.SegmentTrace(ctx, trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{})
	require.NoError(t, err)

	flush := true
	res, err := svc.SegmentTrace(ctx, trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{FlushTrailing: &flush})
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.True(t, res.FlushTrailing)
	assert.Len(t, res.Segments, 2)
	assert.Len(t, c.Keys(), 2)
}

func TestSegmentTrace_MinDistance(t *testing.T) {
	svc, runs, _ := setupTestService(t)

	res, err := svc.SegmentTrace(context.Background(), trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{MinDistance: 60})
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
	assert.Equal(t, 0, runs.runs[0].SegmentCount)

	// A floor below the configured minimum has no effect
	res, err = svc.SegmentTrace(context.Background(), trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{MinDistance: 5})
	require.NoError(t, err)
	assert.Len(t, res.Segments, 1)
}

func TestSegmentTrace_InsufficientPoints(t *testing.T) {
	svc, runs, _ := setupTestService(t)

	p := geo.Point{Latitude: 1, Longitude: 1}
	_, err := svc.SegmentTrace(context.Background(), trace.Trace{Name: "dup", Points: []geo.Point{p, p, p}}, SegmentOptions{})
	assert.ErrorIs(t, err, segment.ErrInsufficientPoints)
	assert.Empty(t, runs.runs)
}

func TestSegmentTrace_StoreError(t *testing.T) {
	svc, runs, _ := setupTestService(t)
	runs.saveErr = errors.New("disk full")

	_, err := svc.SegmentTrace(context.Background(), trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{})
	assert.ErrorContains(t, err, "disk full")
}

func TestSegmentTrace_CanceledContext(t *testing.T) {
	svc, _, _ := setupTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SegmentTrace(ctx, trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSegmentTraces_PreservesOrder(t *testing.T) {
	svc, runs, _ := setupTestService(t)

	traces := make([]trace.Trace, 0, 10)
	for i := 0; i < 10; i++ {
		points := rightTurn()
		if i == 4 {
			points = points[:1]
		}
		for j := range points {
			points[j].Latitude += float64(i)
		}
		traces = append(traces, trace.Trace{Name: fmt.Sprintf("trace-%d", i), Points: points})
	}

	results, err := svc.SegmentTraces(context.Background(), traces, SegmentOptions{})
	require.NoError(t, err)
	require.Len(t, results, 10)

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("trace-%d", i), r.Name)
		if i == 4 {
			assert.ErrorIs(t, r.Err, segment.ErrInsufficientPoints)
			assert.Nil(t, r.Result)
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, r.Name, r.Result.Name)
		assert.Len(t, r.Result.Segments, 1)
	}
	assert.Len(t, runs.runs, 9)
}

func TestSegmentService_Runs(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	res, err := svc.SegmentTrace(ctx, trace.Trace{Name: "a", Points: rightTurn()}, SegmentOptions{})
	require.NoError(t, err)

	run, err := svc.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "a", run.TraceName)

	_, err = svc.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	listed, err := svc.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestCacheJanitor(t *testing.T) {
	c := cache.NewCache()
	require.NoError(t, c.Set("stale", 1, -time.Second, "test"))
	require.NoError(t, c.Set("fresh", 2, time.Hour, "test"))

	j := NewCacheJanitor(c, 10*time.Millisecond, nil)
	assert.Equal(t, 1, j.Sweep())
	assert.Equal(t, []string{"fresh"}, c.Keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.CacheEntries.WithLabelValues("fresh")))
	assert.Equal(t, 0.0, testutil.ToFloat64(observability.CacheEntries.WithLabelValues("stale")))

	require.NoError(t, c.Set("stale", 1, -time.Second, "test"))
	j.Start(context.Background())
	assert.True(t, j.IsRunning())

	assert.Eventually(t, func() bool {
		return len(c.Keys()) == 1
	}, time.Second, 5*time.Millisecond)

	j.Stop()
	assert.False(t, j.IsRunning())
	j.Stop()
}
