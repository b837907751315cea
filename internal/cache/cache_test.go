package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackseg/server/internal/lib/geo"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	c := NewCache()
	c.now = clock.Now
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("k", map[string]int{"segments": 3}, time.Minute, "test"))

	var got map[string]int
	found, err := c.Get("k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, got["segments"])

	clock.now = clock.now.Add(2 * time.Minute)
	found, err = c.Get("k", &got)
	require.NoError(t, err)
	assert.False(t, found, "Stale entries should not be returned")

	stats := c.Stats()
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 1, stats.Hits)
}

func TestCache_Missing(t *testing.T) {
	c, _ := newTestCache()

	var got string
	found, err := c.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, c.Stats().TotalEntries)
}

func TestCache_UnmarshalError(t *testing.T) {
	c, _ := newTestCache()
	require.NoError(t, c.Set("k", "a string", time.Minute, "test"))

	var got int
	_, err := c.Get("k", &got)
	assert.Error(t, err)
}

func TestCache_StatsAndCleanup(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("short", 1, time.Minute, "test"))
	require.NoError(t, c.Set("long", 2, time.Hour, "test"))

	var v int
	_, err := c.Get("long", &v)
	require.NoError(t, err)

	clock.now = clock.now.Add(10 * time.Minute)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.FreshEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 1, stats.Hits)

	assert.Equal(t, 1, c.CleanupStale())
	assert.ElementsMatch(t, []string{"long"}, c.Keys())

	c.Delete("long")
	assert.Empty(t, c.Keys())
}

func TestHashTrace(t *testing.T) {
	points := []geo.Point{
		{Latitude: 47.501303, Longitude: 27.362475},
		{Latitude: 47.501403, Longitude: 27.362475},
	}

	base := HashTrace(points, false, geo.DefaultCollinearityDelta)
	assert.Len(t, base, 64)
	assert.Equal(t, base, HashTrace(append([]geo.Point(nil), points...), false, geo.DefaultCollinearityDelta))

	assert.NotEqual(t, base, HashTrace(points, true, geo.DefaultCollinearityDelta))
	assert.NotEqual(t, base, HashTrace(points[:1], false, geo.DefaultCollinearityDelta))
	assert.NotEqual(t, base, HashTrace([]geo.Point{points[1], points[0]}, false, geo.DefaultCollinearityDelta))

	assert.Equal(t, "segmentation:"+base, SegmentationKey(base))
}
