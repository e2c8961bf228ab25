package trajclust

import (
	"fmt"
	"math"
	"slices"
)

// fitMetric is the metric used for every frame comparison a node makes.
// Matrix population with Fit set uses the same value, so distances to a
// synthesized centroid are computed exactly like matrix elements.
var fitMetric = RMSDMetric{Fit: true}

// ClusterNode is one cluster: a set of member indices plus a representative
// and spread statistics derived from a shared Distances matrix.
//
// Derived values are never updated implicitly. After MergeFrom the caller
// must rerun whichever of FindCentroid, CalcEccentricity, CalcAvgFrameDist
// and CalcCentroidFrame it needs.
//
// A ClusterNode is not safe for concurrent use.
type ClusterNode struct {
	members []int
	num     int

	// centroid is a member index; frame is a synthesized average structure
	// and stays nil unless CalcCentroidFrame ran.
	centroid int
	frame    Frame

	eccentricity float64
	internalAvg  float64
	internalSD   float64
}

// NewClusterNode creates a node owning a copy of members. The first member
// is the provisional centroid.
func NewClusterNode(members []int, num int) (*ClusterNode, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: cannot create cluster %d with no members", ErrEmptyCluster, num)
	}
	return &ClusterNode{
		members:  slices.Clone(members),
		num:      num,
		centroid: members[0],
	}, nil
}

// MergeFrom moves every member of other into c. other is left empty and must
// not be used afterwards except to be discarded.
func (c *ClusterNode) MergeFrom(other *ClusterNode) error {
	if other == c {
		return fmt.Errorf("trajclust: cannot merge cluster %d into itself", c.num)
	}
	if len(other.members) == 0 {
		return fmt.Errorf("%w: merge source cluster %d has no members", ErrEmptyCluster, other.num)
	}
	c.members = append(c.members, other.members...)
	other.members = nil
	other.frame = nil
	return nil
}

// AssignNumber sets the cluster number and sorts members ascending.
func (c *ClusterNode) AssignNumber(num int) {
	c.num = num
	slices.Sort(c.members)
}

// ApplySieveOffset rescales member and centroid indices from the sieved
// matrix to the full population. Calling it twice on the same node gives
// wrong indices; callers track whether it was applied.
func (c *ClusterNode) ApplySieveOffset(factor int) error {
	if factor < 1 {
		return fmt.Errorf("trajclust: sieve factor must be >= 1, got %d", factor)
	}
	c.centroid = SieveOffset(c.members, c.centroid, factor)
	return nil
}

// FindCentroid selects the member with the smallest summed distance to all
// other members. Candidates are visited in ascending index order, so ties go
// to the lowest member index regardless of merge history.
func (c *ClusterNode) FindCentroid(m Distances) error {
	if len(c.members) == 0 {
		return ErrEmptyCluster
	}
	order := slices.Clone(c.members)
	slices.Sort(order)

	minDist := math.Inf(1)
	minMember := -1
	for _, a := range order {
		var sum float64
		for _, b := range order {
			if a == b {
				continue
			}
			d, err := storedDistance(m, a, b)
			if err != nil {
				return err
			}
			sum += d
		}
		if sum < minDist {
			minDist = sum
			minMember = a
		}
	}
	if minMember == -1 {
		return fmt.Errorf("trajclust: no centroid found for cluster %d", c.num)
	}
	c.centroid = minMember
	return nil
}

// CalcEccentricity stores the largest pairwise distance within the node.
func (c *ClusterNode) CalcEccentricity(m Distances) error {
	if len(c.members) == 0 {
		return ErrEmptyCluster
	}
	var maxDist float64
	for x := 0; x < len(c.members); x++ {
		for y := x + 1; y < len(c.members); y++ {
			d, err := storedDistance(m, c.members[x], c.members[y])
			if err != nil {
				return err
			}
			if d > maxDist {
				maxDist = d
			}
		}
	}
	c.eccentricity = maxDist
	return nil
}

// CalcAvgFrameDist stores the mean and population standard deviation of all
// k*(k-1)/2 pairwise distances within the node. A single member gives 0, 0.
func (c *ClusterNode) CalcAvgFrameDist(m Distances) error {
	if len(c.members) == 0 {
		return ErrEmptyCluster
	}
	// Welford's running mean and sum of squared deviations.
	var count int
	var mean, m2 float64
	for x := 0; x < len(c.members); x++ {
		for y := x + 1; y < len(c.members); y++ {
			d, err := storedDistance(m, c.members[x], c.members[y])
			if err != nil {
				return err
			}
			count++
			delta := d - mean
			mean += delta / float64(count)
			m2 += delta * (d - mean)
		}
	}
	if count == 0 {
		c.internalAvg, c.internalSD = 0, 0
		return nil
	}
	c.internalAvg = mean
	c.internalSD = math.Sqrt(m2 / float64(count))
	return nil
}

// CalcCentroidFrame builds an average structure: every member is centered
// and rotated onto the centered first member, then the coordinates are
// averaged. The result is centered on the origin and is generally not any
// real member.
func (c *ClusterNode) CalcCentroidFrame(p CoordinateProvider, mask Mask) error {
	if len(c.members) == 0 {
		return ErrEmptyCluster
	}
	ref, err := maskedFrame(p, c.members[0], mask)
	if err != nil {
		return err
	}
	ref.CenterOnOrigin()

	avg := make(Frame, len(ref))
	for _, member := range c.members {
		f, err := maskedFrame(p, member, mask)
		if err != nil {
			return err
		}
		if err := checkFrames(f, ref); err != nil {
			return fmt.Errorf("member %d: %w", member, err)
		}
		f.CenterOnOrigin()
		r, err := Superpose(f, ref)
		if err != nil {
			return fmt.Errorf("member %d: %w", member, err)
		}
		f.Rotate(r)
		addFrame(avg, f)
	}
	scaleFrame(avg, 1.0/float64(len(c.members)))
	c.frame = avg
	return nil
}

// CalcAvgToCentroid returns the mean best-fit RMSD from every member to the
// synthesized centroid frame.
func (c *ClusterNode) CalcAvgToCentroid(p CoordinateProvider, mask Mask) (float64, error) {
	if len(c.members) == 0 {
		return 0, ErrEmptyCluster
	}
	if c.frame == nil {
		return 0, fmt.Errorf("%w: cluster %d", ErrNoCentroidFrame, c.num)
	}
	var sum float64
	for _, member := range c.members {
		f, err := maskedFrame(p, member, mask)
		if err != nil {
			return 0, err
		}
		d, err := fitMetric.Distance(f, c.frame)
		if err != nil {
			return 0, fmt.Errorf("member %d: %w", member, err)
		}
		sum += d
	}
	return sum / float64(len(c.members)), nil
}

// CentroidDist returns the best-fit RMSD between the synthesized centroid
// frames of c and other.
func (c *ClusterNode) CentroidDist(other *ClusterNode) (float64, error) {
	if c.frame == nil {
		return 0, fmt.Errorf("%w: cluster %d", ErrNoCentroidFrame, c.num)
	}
	if other.frame == nil {
		return 0, fmt.Errorf("%w: cluster %d", ErrNoCentroidFrame, other.num)
	}
	return fitMetric.Distance(c.frame, other.frame)
}

// storedDistance reads a pair that must have been written.
func storedDistance(m Distances, a, b int) (float64, error) {
	d, err := m.GetElement(a, b)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: pair (%d,%d)", ErrUnsetElement, a, b)
	}
	return d, nil
}

// maskedFrame fetches a member snapshot and checks it against the mask size.
func maskedFrame(p CoordinateProvider, member int, mask Mask) (Frame, error) {
	f, err := p.Coordinates(member, mask)
	if err != nil {
		return nil, err
	}
	if mask != nil && f.NumPositions() != mask.NumSelected() {
		return nil, fmt.Errorf("%w: member %d has %d positions, mask selects %d",
			ErrMetricInputMismatch, member, f.NumPositions(), mask.NumSelected())
	}
	return f, nil
}

// Members returns a copy of the member indices.
func (c *ClusterNode) Members() []int { return slices.Clone(c.members) }

// Len returns the number of members.
func (c *ClusterNode) Len() int { return len(c.members) }

// Empty reports whether the node was drained by a merge.
func (c *ClusterNode) Empty() bool { return len(c.members) == 0 }

func (c *ClusterNode) Number() int             { return c.num }
func (c *ClusterNode) Centroid() int           { return c.centroid }
func (c *ClusterNode) Eccentricity() float64   { return c.eccentricity }
func (c *ClusterNode) InternalAvg() float64    { return c.internalAvg }
func (c *ClusterNode) InternalStdDev() float64 { return c.internalSD }

// CentroidFrame returns the synthesized centroid, or nil if it was never
// computed.
func (c *ClusterNode) CentroidFrame() Frame { return c.frame }

// HasMember reports whether idx is a member of c.
func (c *ClusterNode) HasMember(idx int) bool { return slices.Contains(c.members, idx) }
