package segment

import (
	"fmt"

	"github.com/trackseg/server/internal/lib/geo"
)

// builder holds the state of a single segmentation pass over an immutable point list
type builder struct {
	points  []geo.Point
	cursor  int
	current Segment
	output  Collection
	opts    options
}

// Segmentize removes successive duplicate points and then runs Build
func Segmentize(points []geo.Point, opts ...Option) (Collection, error) {
	return Build(geo.RemoveSuccessiveDuplicates(points), opts...)
}

// Build walks points once and returns the closed segments that reach MinDistanceMeters.
//
// Starting from a segment seeded with the first two points, each step tests the next point
// against the segment's last two points. A collinear point is appended. Otherwise the point
// after it is tried, and if that one is collinear the first is skipped as an outlier.
// Otherwise the segment is closed and a new one is seeded with both candidates. The pass
// stops when fewer than two points remain ahead of the cursor. The segment open at that
// moment is dropped unless WithTrailingFlush is set.
//
// points is expected to be free of successive duplicates; see Segmentize.
func Build(points []geo.Point, opts ...Option) (Collection, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("got %d points: %w", len(points), ErrInsufficientPoints)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &builder{
		points:  points,
		cursor:  2,
		current: openSegment(points[0], points[1]),
		output:  Collection{},
		opts:    o,
	}

	for b.cursor < len(b.points)-2 {
		b.step()
	}
	b.finish()

	return b.output, nil
}

func (b *builder) step() {
	secondToLast, last := b.current.tail()
	candidate, next := b.points[b.cursor], b.points[b.cursor+1]

	switch {
	case b.collinear(secondToLast, last, candidate):
		b.current.add(candidate)
		b.cursor++
	case b.collinear(secondToLast, last, next):
		// candidate is treated as a single-sample outlier
		b.current.add(next)
		b.cursor += 2
	default:
		b.close()
		b.current = openSegment(candidate, next)
		b.cursor += 2
	}
}

func (b *builder) finish() {
	if !b.opts.flushTrailing {
		b.opts.logger.Debug("dropping open segment at end of trace",
			"points", b.current.Len(), "distance_m", b.current.Distance())
		return
	}

	for ; b.cursor < len(b.points); b.cursor++ {
		secondToLast, last := b.current.tail()
		if !b.collinear(secondToLast, last, b.points[b.cursor]) {
			break
		}
		b.current.add(b.points[b.cursor])
	}
	b.close()
}

// close keeps the current segment if it is long enough
func (b *builder) close() {
	distance := b.current.Distance()
	if distance < MinDistanceMeters {
		b.opts.logger.Debug("discarding short segment",
			"points", b.current.Len(), "distance_m", distance)
		return
	}

	b.opts.logger.Debug("segment closed",
		"index", len(b.output), "points", b.current.Len(), "distance_m", distance)
	b.output = append(b.output, b.current)
}

func (b *builder) collinear(p1, p2, p3 geo.Point) bool {
	return geo.AreCollinear(p1, p2, p3, b.opts.collinearityDelta)
}

// openSegment seeds a segment with its own backing array so appends never touch the input
func openSegment(first, second geo.Point) Segment {
	points := make([]geo.Point, 2, 8)
	points[0], points[1] = first, second
	return Segment{points: points}
}
