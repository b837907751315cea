package geo

// RemoveSuccessiveDuplicates drops points that exactly equal the point kept before them.
// Non-adjacent repeats are preserved. Input of length 0 or 1 is returned as is.
func RemoveSuccessiveDuplicates(points []Point) []Point {
	if len(points) < 2 {
		return points
	}

	deduped := make([]Point, 0, len(points))
	deduped = append(deduped, points[0])
	for _, p := range points[1:] {
		if p != deduped[len(deduped)-1] {
			deduped = append(deduped, p)
		}
	}
	return deduped
}
