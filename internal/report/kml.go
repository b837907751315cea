package report

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/trackseg/server/internal/lib/segment"
)

const segmentStyleID = "segment"

var segmentColor = color.RGBA{R: 255, G: 64, B: 0, A: 255}

// WriteKML writes the segments as a KML document with one LineString placemark per segment
func WriteKML(w io.Writer, name string, segments segment.Collection) error {
	children := []kml.Element{
		kml.Name(name),
		kml.SharedStyle(segmentStyleID,
			kml.LineStyle(
				kml.Color(segmentColor),
				kml.Width(4),
			),
		),
	}

	for i, s := range segments {
		points := s.Points()
		coordinates := make([]kml.Coordinate, len(points))
		for j, p := range points {
			coordinates[j] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
		}

		children = append(children, kml.Placemark(
			kml.Name(fmt.Sprintf("Segment %d", i+1)),
			kml.Description(s.String()),
			kml.StyleURL("#"+segmentStyleID),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coordinates...),
			),
		))
	}

	if err := kml.KML(kml.Document(children...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}
