package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

var errInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// geoUtils implements the GeoUtils interface
type geoUtils struct{}

// NewGeoUtils creates a new GeoUtils implementation
func NewGeoUtils() GeoUtils {
	return &geoUtils{}
}

// Distance calculates great-circle distance in meters between two points using the Haversine formula.
// Coordinates are not validated; see PointToPoint.
func Distance(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}

	lat1 := degreesToRadians(p1.Latitude)
	lat2 := degreesToRadians(p2.Latitude)
	dlat := degreesToRadians(p2.Latitude - p1.Latitude)
	dlon := degreesToRadians(p2.Longitude - p1.Longitude)

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PathLength sums Distance over consecutive pairs of points
func PathLength(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// PointToPoint calculates great-circle distance between two validated points
func (g *geoUtils) PointToPoint(p1, p2 Point) (float64, error) {
	if !isValidCoordinate(p1) || !isValidCoordinate(p2) {
		return 0, errInvalidCoordinates
	}
	return Distance(p1, p2), nil
}

// TurnAngle calculates the flat-plane turn angle at b after validating all three points
func (g *geoUtils) TurnAngle(a, b, c Point) (float64, error) {
	for _, p := range []Point{a, b, c} {
		if !isValidCoordinate(p) {
			return 0, errInvalidCoordinates
		}
	}
	return TurnAngle(a, b, c), nil
}

// PathLength calculates the length of a path in meters
func (g *geoUtils) PathLength(points []Point) (float64, error) {
	for i, p := range points {
		if !isValidCoordinate(p) {
			return 0, fmt.Errorf("point %d: %w", i, errInvalidCoordinates)
		}
	}
	return PathLength(points), nil
}

// DecodePolyline decodes Google polyline string to point sequence
func (g *geoUtils) DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !isValidCoordinate(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// EncodePolyline encodes points with the default 1e5 precision
func (g *geoUtils) EncodePolyline(points []Point) string {
	return EncodePolyline(points)
}

// EncodePolyline encodes points as a Google polyline string
func EncodePolyline(points []Point) string {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Latitude, p.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !isValidCoordinate(point) {
		return Point{}, errInvalidCoordinates
	}
	return point, nil
}

func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
