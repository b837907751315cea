package geo

// Point represents a geographic coordinate in degrees
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

const (
	// EarthRadiusMeters is the sphere radius used by the haversine formula
	EarthRadiusMeters = 6371000

	// CollinearityAngle is the turn angle (degrees) below which three points count as collinear
	CollinearityAngle = 8.0

	// DefaultCollinearityDelta is the tolerance handed to AreCollinear by callers.
	// AreCollinear accepts it but compares against CollinearityAngle only.
	DefaultCollinearityDelta = 0.5
)

// GeoUtils interface defines geographic calculation utilities with coordinate validation
type GeoUtils interface {
	// Calculate great-circle distance between two points in meters
	PointToPoint(p1, p2 Point) (float64, error)

	// Calculate the turn angle in degrees at b for the path a -> b -> c
	TurnAngle(a, b, c Point) (float64, error)

	// Sum of great-circle distances along an ordered point list
	PathLength(points []Point) (float64, error)

	// Decode Google polyline string to point sequence
	DecodePolyline(encoded string) ([]Point, error)

	// Encode a point sequence as a Google polyline string
	EncodePolyline(points []Point) string
}

// NewGeoUtils is implemented in geo.go
