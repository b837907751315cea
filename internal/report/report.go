package report

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/trackseg/server/internal/lib/segment"
)

// Summary aggregates the segments found in one trace
type Summary struct {
	Segments       int     `json:"segments"`
	Points         int     `json:"points"`
	TotalMeters    float64 `json:"total_meters"`
	MeanMeters     float64 `json:"mean_meters"`
	StdDevMeters   float64 `json:"stddev_meters"`
	LongestMeters  float64 `json:"longest_meters"`
	ShortestMeters float64 `json:"shortest_meters"`
}

// Summarize computes length statistics over a collection
func Summarize(segments segment.Collection) Summary {
	if len(segments) == 0 {
		return Summary{}
	}

	lengths := make([]float64, len(segments))
	for i, s := range segments {
		lengths[i] = s.Distance()
	}

	summary := Summary{
		Segments:       len(segments),
		Points:         segments.PointCount(),
		TotalMeters:    floats.Sum(lengths),
		MeanMeters:     stat.Mean(lengths, nil),
		LongestMeters:  floats.Max(lengths),
		ShortestMeters: floats.Min(lengths),
	}
	if len(lengths) > 1 {
		summary.StdDevMeters = stat.StdDev(lengths, nil)
	}
	if math.IsNaN(summary.StdDevMeters) {
		summary.StdDevMeters = 0
	}
	return summary
}

// Line renders a numbered one-line description of a segment
func Line(index int, s segment.Segment) string {
	return fmt.Sprintf("Segment %d: %s", index+1, s)
}

// WriteText writes one line per segment
func WriteText(w io.Writer, segments segment.Collection) error {
	for i, s := range segments {
		if _, err := fmt.Fprintln(w, Line(i, s)); err != nil {
			return err
		}
	}
	return nil
}

// String renders a summary for terminal output
func (s Summary) String() string {
	return fmt.Sprintf("%d segments, %d points, %.1f m total (mean %.1f m, stddev %.1f m, longest %.1f m)",
		s.Segments, s.Points, s.TotalMeters, s.MeanMeters, s.StdDevMeters, s.LongestMeters)
}
