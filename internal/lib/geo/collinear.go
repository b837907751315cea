package geo

// AreCollinear reports whether a, b and c form a near-straight run: the turn at b is
// strictly below CollinearityAngle. delta is accepted for callers that carry a tolerance
// but the comparison uses CollinearityAngle only.
func AreCollinear(a, b, c Point, delta float64) bool {
	_ = delta
	return TurnAngle(a, b, c) < CollinearityAngle
}
