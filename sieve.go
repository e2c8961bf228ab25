package trajclust

// SieveOffset multiplies every index in members, in place, and the centroid
// index by factor, and returns the rescaled centroid. It maps indices into a
// matrix built from every factor-th member back to the full population.
//
// It is not idempotent.
func SieveOffset(members []int, centroid, factor int) int {
	for i := range members {
		members[i] *= factor
	}
	return centroid * factor
}

// SievedMembers returns how many of total members a matrix built with the
// given sieve holds: members 0, sieve, 2*sieve, ... below total.
func SievedMembers(total, sieve int) int {
	if total <= 0 || sieve < 1 {
		return 0
	}
	return (total + sieve - 1) / sieve
}
