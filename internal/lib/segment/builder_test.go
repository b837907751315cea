package segment

import (
	"bytes"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackseg/server/internal/lib/geo"
)

// northbound returns four points 0.0001 degrees (~11 m) apart along a meridian
func northbound() []geo.Point {
	return []geo.Point{
		{Latitude: 47.5013, Longitude: 27.3624},
		{Latitude: 47.5014, Longitude: 27.3624},
		{Latitude: 47.5015, Longitude: 27.3624},
		{Latitude: 47.5016, Longitude: 27.3624},
	}
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

var segmentComparer = cmp.AllowUnexported(Segment{})

func TestBuild_FourCollinearPoints(t *testing.T) {
	points := northbound()

	// The pass never runs for four points and the open segment is dropped
	segments, err := Build(points)
	require.NoError(t, err)
	assert.Empty(t, segments)

	segments, err = Build(points, WithTrailingFlush(true))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, points, segments[0].Points())
	assert.InDelta(t, 33.36, segments[0].Distance(), 0.05)
}

func TestBuild_SharpTurnClosesSegment(t *testing.T) {
	points := rightTurn()

	segments, err := Build(points)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	assert.Equal(t, points[:3], segments[0].Points(), "Only the pre-turn points should be in the segment")
	assert.InDelta(t, 50.04, segments[0].Distance(), 0.05)
}

func TestBuild_SharpTurnWithTrailingFlush(t *testing.T) {
	points := rightTurn()

	segments, err := Build(points, WithTrailingFlush(true))
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, points[:3], segments[0].Points())
	assert.Equal(t, points[3:], segments[1].Points())
	assert.InDelta(t, 75.06, segments[1].Distance(), 0.05)
}

func TestSegmentize_DuplicateRemoved(t *testing.T) {
	clean := rightTurn()
	withDuplicate := append([]geo.Point{clean[0], clean[1], clean[1]}, clean[2:]...)

	want, err := Build(clean)
	require.NoError(t, err)

	got, err := Segmentize(withDuplicate)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got, segmentComparer); diff != "" {
		t.Errorf("Segmentize() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_InsufficientPoints(t *testing.T) {
	_, err := Build(nil)
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	_, err = Build([]geo.Point{{Latitude: 1, Longitude: 1}})
	assert.ErrorIs(t, err, ErrInsufficientPoints)

	// Five copies of one point collapse to a single point
	p := geo.Point{Latitude: 1, Longitude: 1}
	_, err = Segmentize([]geo.Point{p, p, p, p, p})
	assert.ErrorIs(t, err, ErrInsufficientPoints)
}

func TestBuild_TooShortForOutput(t *testing.T) {
	points := northbound()

	segments, err := Build(points[:2])
	require.NoError(t, err)
	assert.Empty(t, segments)

	segments, err = Build(points[:3])
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestBuild_OutlierSkipped(t *testing.T) {
	points := []geo.Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0.0001, Longitude: 0},
		{Latitude: 0.0002, Longitude: 0},
		{Latitude: 0.0003, Longitude: 0.0002}, // outlier
		{Latitude: 0.0004, Longitude: 0},
		{Latitude: 0.0005, Longitude: 0},
		{Latitude: 0.0006, Longitude: 0},
		{Latitude: 0.0006, Longitude: 0.0002},
		{Latitude: 0.0006, Longitude: 0.0004},
		{Latitude: 0.0006, Longitude: 0.0006},
		{Latitude: 0.0006, Longitude: 0.0008},
	}

	segments, err := Build(points)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	expected := []geo.Point{points[0], points[1], points[2], points[4], points[5], points[6]}
	assert.Equal(t, expected, segments[0].Points())
}

func TestBuild_ShortSegmentsDiscarded(t *testing.T) {
	// A zig-zag with ~11 m legs never accumulates 30 m before turning
	var points []geo.Point
	for i := 0; i < 20; i++ {
		lon := 0.0
		if i%2 == 1 {
			lon = 0.0001
		}
		points = append(points, geo.Point{Latitude: float64(i) * 0.0001, Longitude: lon})
	}

	segments, err := Build(points)
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestBuild_DoesNotModifyInput(t *testing.T) {
	points := rightTurn()
	original := make([]geo.Point, len(points))
	copy(original, points)

	_, err := Build(points[:5], WithTrailingFlush(true))
	require.NoError(t, err)
	assert.Equal(t, original, points)
}

func TestBuild_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trace := 0; trace < 25; trace++ {
		points := randomTrace(rng, 300)

		segments, err := Segmentize(points)
		require.NoError(t, err)

		again, err := Segmentize(points)
		require.NoError(t, err)
		if diff := cmp.Diff(segments, again, segmentComparer); diff != "" {
			t.Fatalf("Segmentize() is not deterministic (-first +second):\n%s", diff)
		}

		index := make(map[geo.Point]int, len(points))
		for i, p := range geo.RemoveSuccessiveDuplicates(points) {
			index[p] = i
		}

		lastIndex := -1
		for _, s := range segments {
			assert.GreaterOrEqual(t, s.Len(), 2)
			assert.GreaterOrEqual(t, s.Distance(), MinDistanceMeters)

			for _, p := range s.Points() {
				i, ok := index[p]
				require.True(t, ok, "segment point %v not in input", p)
				require.Greater(t, i, lastIndex, "segment points must follow input order without overlap")
				lastIndex = i
			}
		}
	}
}

func TestBuild_LogsDecisions(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	_, err := Build(rightTurn(), WithLogger(logger))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "segment closed")
	assert.Contains(t, buf.String(), "dropping open segment")
}

// randomTrace walks from a fixed origin with small heading jitter and occasional sharp turns
func randomTrace(rng *rand.Rand, n int) []geo.Point {
	points := make([]geo.Point, 0, n)
	lat, lon := 47.501303, 27.362475
	heading := rng.Float64() * 2 * math.Pi

	for i := 0; i < n; i++ {
		points = append(points, geo.Point{Latitude: lat, Longitude: lon})

		switch r := rng.Float64(); {
		case r < 0.1:
			heading += math.Pi/2 + rng.Float64()*math.Pi/2
		case r < 0.15:
			// stay put, producing a successive duplicate
			continue
		default:
			heading += (rng.Float64() - 0.5) * 0.1
		}

		step := 0.00005 + rng.Float64()*0.0001
		lat += step * math.Cos(heading)
		lon += step * math.Sin(heading)
	}
	return points
}
