package trace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/trackseg/server/internal/lib/geo"
)

// Format identifies how a trace is encoded
type Format int

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatKML
	FormatPolyline
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatKML:
		return "kml"
	case FormatPolyline:
		return "polyline"
	default:
		return "unknown"
	}
}

var (
	// ErrEmptyTrace is returned when a source decodes to no points
	ErrEmptyTrace = errors.New("trace contains no points")

	// ErrUnsupportedFormat is returned when the format cannot be determined
	ErrUnsupportedFormat = errors.New("unsupported trace format")
)

// maxTraceBytes bounds how much of a source is read
const maxTraceBytes = 64 << 20

// Trace is a named, ordered list of samples
type Trace struct {
	Name   string      `json:"name"`
	Points []geo.Point `json:"points"`
}

// HTTPClient is the subset of *http.Client used to fetch remote traces
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Reader loads traces from local files or http(s) URLs
type Reader struct {
	HTTPClient HTTPClient
	geoUtils   geo.GeoUtils
}

// NewReader creates a trace reader with a 30 second HTTP timeout
func NewReader() *Reader {
	return &Reader{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		geoUtils: geo.NewGeoUtils(),
	}
}

// Load reads and decodes a trace. The format comes from the file extension
// (.json, .kml, .polyline/.txt), falling back to sniffing the content.
func (r *Reader) Load(ctx context.Context, source string) (Trace, error) {
	data, err := r.fetch(ctx, source)
	if err != nil {
		return Trace{}, err
	}

	format := FormatFromName(source)
	if format == FormatUnknown {
		format = DetectFormat(data)
	}

	points, err := r.Decode(data, format)
	if err != nil {
		return Trace{}, fmt.Errorf("failed to decode %s: %w", source, err)
	}

	return Trace{Name: source, Points: points}, nil
}

// Decode parses data in the given format
func (r *Reader) Decode(data []byte, format Format) ([]geo.Point, error) {
	var (
		points []geo.Point
		err    error
	)

	switch format {
	case FormatJSON:
		points, err = ParseJSON(bytes.NewReader(data))
	case FormatKML:
		points, err = ParseKML(bytes.NewReader(data))
	case FormatPolyline:
		points, err = r.geoUtils.DecodePolyline(strings.TrimSpace(string(data)))
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}

	if len(points) == 0 {
		return nil, ErrEmptyTrace
	}
	return points, nil
}

func (r *Reader) fetch(ctx context.Context, source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxTraceBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download trace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d downloading trace from %s", resp.StatusCode, source)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTraceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read trace response: %w", err)
	}
	return data, nil
}

// FormatFromName maps a file name or URL path to a format by extension
func FormatFromName(name string) Format {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".kml":
		return FormatKML
	case ".polyline", ".txt":
		return FormatPolyline
	default:
		return FormatUnknown
	}
}

// DetectFormat guesses a format from the first non-space byte
func DetectFormat(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatUnknown
	}

	switch trimmed[0] {
	case '[', '{':
		return FormatJSON
	case '<':
		return FormatKML
	default:
		return FormatPolyline
	}
}
