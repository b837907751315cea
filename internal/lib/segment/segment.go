package segment

import (
	"encoding/json"
	"fmt"

	"github.com/trackseg/server/internal/lib/geo"
)

// NewSegment creates a closed segment from points in trace order
func NewSegment(points ...geo.Point) (Segment, error) {
	if len(points) < 2 {
		return Segment{}, fmt.Errorf("segment has %d points: %w", len(points), ErrInsufficientPoints)
	}
	owned := make([]geo.Point, len(points))
	copy(owned, points)
	return Segment{points: owned}, nil
}

// Len returns the number of points in the segment
func (s Segment) Len() int {
	return len(s.points)
}

// Points returns a copy of the segment's points
func (s Segment) Points() []geo.Point {
	out := make([]geo.Point, len(s.points))
	copy(out, s.points)
	return out
}

// Start returns the first point
func (s Segment) Start() geo.Point {
	if len(s.points) == 0 {
		return geo.Point{}
	}
	return s.points[0]
}

// End returns the last point
func (s Segment) End() geo.Point {
	if len(s.points) == 0 {
		return geo.Point{}
	}
	return s.points[len(s.points)-1]
}

// Distance returns the summed haversine length in meters
func (s Segment) Distance() float64 {
	return geo.PathLength(s.points)
}

// AtLeast reports whether the segment is at least meters long
func (s Segment) AtLeast(meters float64) bool {
	return s.Distance() >= meters
}

// String renders the one-line summary used by reports
func (s Segment) String() string {
	start, end := s.Start(), s.End()
	return fmt.Sprintf("Start: %v, %v, End: %v, %v, Distance: %v, Points: %d",
		start.Latitude, start.Longitude, end.Latitude, end.Longitude, s.Distance(), s.Len())
}

type segmentJSON struct {
	Points         []geo.Point `json:"points"`
	DistanceMeters float64     `json:"distance_meters"`
}

// MarshalJSON encodes the points together with the derived distance
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(segmentJSON{Points: s.points, DistanceMeters: s.Distance()})
}

// UnmarshalJSON decodes points; the distance is recomputed rather than trusted
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewSegment(raw.Points...)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// secondToLast and last are the two points the next candidate is tested against
func (s *Segment) tail() (secondToLast, last geo.Point) {
	n := len(s.points)
	return s.points[n-2], s.points[n-1]
}

func (s *Segment) add(p geo.Point) {
	s.points = append(s.points, p)
}

// AtLeast returns the segments at least meters long, preserving order
func (c Collection) AtLeast(meters float64) Collection {
	filtered := make(Collection, 0, len(c))
	for _, s := range c {
		if s.AtLeast(meters) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// TotalDistance sums the length of every segment
func (c Collection) TotalDistance() float64 {
	total := 0.0
	for _, s := range c {
		total += s.Distance()
	}
	return total
}

// PointCount sums the points held by every segment
func (c Collection) PointCount() int {
	total := 0
	for _, s := range c {
		total += s.Len()
	}
	return total
}
