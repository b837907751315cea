package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/trackseg/server/internal/lib/geo"
)

// HashTrace creates a content hash of a point sequence and the options that shape its
// segmentation, so identical uploads share one cache entry regardless of their name.
func HashTrace(points []geo.Point, flushTrailing bool, collinearityDelta float64) string {
	h := sha256.New()

	var buf [8]byte
	writeFloat := func(f float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
		h.Write(buf[:])
	}

	binary.BigEndian.PutUint64(buf[:], uint64(len(points)))
	h.Write(buf[:])
	for _, p := range points {
		writeFloat(p.Latitude)
		writeFloat(p.Longitude)
	}

	if flushTrailing {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	writeFloat(collinearityDelta)

	return fmt.Sprintf("%x", h.Sum(nil))
}

// SegmentationKey is the cache key of a segmentation result
func SegmentationKey(contentHash string) string {
	return fmt.Sprintf("segmentation:%s", contentHash)
}
