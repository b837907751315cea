package segment

import (
	"errors"
	"log/slog"

	"github.com/trackseg/server/internal/lib/geo"
)

// MinDistanceMeters is the path length a closed segment needs to be kept
const MinDistanceMeters = 30.0

// ErrInsufficientPoints is returned when a trace cannot seed the first segment
var ErrInsufficientPoints = errors.New("at least 2 points are required to build segments")

// Segment is an ordered run of at least two approximately collinear points
type Segment struct {
	points []geo.Point
}

// Collection is an ordered list of segments in trace order
type Collection []Segment

// Option configures a Build run
type Option func(*options)

type options struct {
	collinearityDelta float64
	flushTrailing     bool
	logger            *slog.Logger
}

func defaultOptions() options {
	return options{
		collinearityDelta: geo.DefaultCollinearityDelta,
		logger:            slog.New(slog.DiscardHandler),
	}
}

// WithCollinearityDelta sets the tolerance handed to geo.AreCollinear
func WithCollinearityDelta(delta float64) Option {
	return func(o *options) {
		o.collinearityDelta = delta
	}
}

// WithTrailingFlush controls what happens to the segment still open when the input runs out.
// By default it is dropped. When enabled, the remaining trailing points that continue the
// segment are appended and the result is kept if it reaches MinDistanceMeters.
func WithTrailingFlush(enabled bool) Option {
	return func(o *options) {
		o.flushTrailing = enabled
	}
}

// WithLogger sets the logger used for per-segment debug output
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
