package trace

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/trackseg/server/internal/lib/geo"
)

// record is one sample as exported by the tracking device, either wrapped in "data" or flat
type record struct {
	Data      *coordinates `json:"data"`
	Latitude  *float64     `json:"latitude"`
	Longitude *float64     `json:"longitude"`
}

type coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ParseJSON decodes an array of records such as
// [{"data":{"latitude":47.501303,"longitude":27.362475}}, ...].
// Records with missing, non-numeric or out-of-range coordinates are rejected.
func ParseJSON(r io.Reader) ([]geo.Point, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse trace JSON: %w", err)
	}

	points := make([]geo.Point, 0, len(raw))
	for i, msg := range raw {
		var rec record
		if err := json.Unmarshal(msg, &rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		lat, lon := rec.Latitude, rec.Longitude
		if rec.Data != nil {
			lat, lon = rec.Data.Latitude, rec.Data.Longitude
		}
		if lat == nil || lon == nil {
			return nil, fmt.Errorf("record %d: missing latitude or longitude", i)
		}

		p, err := geo.NewPoint(*lat, *lon)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		points = append(points, p)
	}

	return points, nil
}

// ParseKML collects coordinates from every <coordinates> and <gx:coord> element in
// document order, so LineStrings, Points and gx:Tracks in any folder nesting are read.
func ParseKML(r io.Reader) ([]geo.Point, error) {
	decoder := xml.NewDecoder(r)

	var points []geo.Point
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse KML: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "coordinates":
			var text string
			if err := decoder.DecodeElement(&text, &start); err != nil {
				return nil, fmt.Errorf("failed to parse KML coordinates: %w", err)
			}
			for _, tuple := range strings.Fields(text) {
				p, err := parseCoordinate(strings.Split(tuple, ","))
				if err != nil {
					return nil, err
				}
				points = append(points, p)
			}
		case "coord":
			var text string
			if err := decoder.DecodeElement(&text, &start); err != nil {
				return nil, fmt.Errorf("failed to parse KML gx:coord: %w", err)
			}
			p, err := parseCoordinate(strings.Fields(text))
			if err != nil {
				return nil, err
			}
			points = append(points, p)
		}
	}

	return points, nil
}

// parseCoordinate reads KML's longitude-first ordering; altitude is ignored
func parseCoordinate(fields []string) (geo.Point, error) {
	if len(fields) < 2 {
		return geo.Point{}, fmt.Errorf("invalid KML coordinate %q", strings.Join(fields, ","))
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid KML longitude %q: %w", fields[0], err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid KML latitude %q: %w", fields[1], err)
	}

	return geo.NewPoint(lat, lon)
}
