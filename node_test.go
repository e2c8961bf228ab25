package trajclust

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"gonum.org/v1/gonum/stat"
)

// fourMemberMatrix is d(0,1)=1 d(0,2)=2 d(0,3)=3 d(1,2)=1 d(1,3)=2 d(2,3)=1.
func fourMemberMatrix(t *testing.T) *MemoryMatrix {
	t.Helper()
	return newTestMatrix(t, 4, []float64{
		0, 1, 2, 3,
		1, 0, 1, 2,
		2, 1, 0, 1,
		3, 2, 1, 0,
	})
}

func mustNode(t *testing.T, members []int, num int) *ClusterNode {
	t.Helper()
	c, err := NewClusterNode(members, num)
	if err != nil {
		t.Fatalf("NewClusterNode(%v): %v", members, err)
	}
	return c
}

func TestNewClusterNode(t *testing.T) {
	members := []int{7, 2, 5}
	c := mustNode(t, members, 4)
	if c.Centroid() != 7 {
		t.Errorf("provisional centroid = %d, want first member 7", c.Centroid())
	}
	if c.Number() != 4 || c.Len() != 3 {
		t.Errorf("Number=%d Len=%d, want 4 and 3", c.Number(), c.Len())
	}
	members[0] = 99
	if c.HasMember(99) {
		t.Error("node must own a copy of its member list")
	}
	if c.CentroidFrame() != nil {
		t.Error("centroid frame should be nil until computed")
	}
}

func TestNewClusterNode_Empty(t *testing.T) {
	if _, err := NewClusterNode(nil, 0); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("expected ErrEmptyCluster, got %v", err)
	}
}

func TestMergeFrom(t *testing.T) {
	a := mustNode(t, []int{1, 3}, 0)
	b := mustNode(t, []int{5}, 1)
	if err := a.MergeFrom(b); err != nil {
		t.Fatal(err)
	}
	got := a.Members()
	slices.Sort(got)
	if !slices.Equal(got, []int{1, 3, 5}) {
		t.Errorf("merged members = %v, want {1,3,5}", got)
	}
	if !b.Empty() || b.Len() != 0 {
		t.Errorf("source should be empty after merge, has %v", b.Members())
	}

	a.AssignNumber(2)
	if !slices.Equal(a.Members(), []int{1, 3, 5}) {
		t.Errorf("after AssignNumber members = %v, want [1 3 5]", a.Members())
	}
	if a.Number() != 2 {
		t.Errorf("Number = %d, want 2", a.Number())
	}
}

func TestMergeFrom_DrainedSourceAndSelf(t *testing.T) {
	a := mustNode(t, []int{1}, 0)
	b := mustNode(t, []int{2}, 1)
	if err := a.MergeFrom(b); err != nil {
		t.Fatal(err)
	}
	if err := a.MergeFrom(b); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("merging a drained node: expected ErrEmptyCluster, got %v", err)
	}
	if err := a.MergeFrom(a); err == nil {
		t.Error("self merge should fail")
	}
	m := fourMemberMatrix(t)
	if err := b.FindCentroid(m); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("FindCentroid on drained node: expected ErrEmptyCluster, got %v", err)
	}
	if err := b.CalcEccentricity(m); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("CalcEccentricity on drained node: expected ErrEmptyCluster, got %v", err)
	}
	if err := b.CalcAvgFrameDist(m); !errors.Is(err, ErrEmptyCluster) {
		t.Errorf("CalcAvgFrameDist on drained node: expected ErrEmptyCluster, got %v", err)
	}
}

func TestMergeFrom_DoesNotRecompute(t *testing.T) {
	m := fourMemberMatrix(t)
	a := mustNode(t, []int{0, 1}, 0)
	if err := a.CalcEccentricity(m); err != nil {
		t.Fatal(err)
	}
	if err := a.MergeFrom(mustNode(t, []int{3}, 1)); err != nil {
		t.Fatal(err)
	}
	if a.Eccentricity() != 1 {
		t.Errorf("eccentricity changed by merge to %v; it must only change on recompute", a.Eccentricity())
	}
	if err := a.CalcEccentricity(m); err != nil {
		t.Fatal(err)
	}
	if a.Eccentricity() != 3 {
		t.Errorf("recomputed eccentricity = %v, want 3", a.Eccentricity())
	}
}

func TestFindCentroid_Singleton(t *testing.T) {
	c := mustNode(t, []int{2}, 0)
	if err := c.FindCentroid(fourMemberMatrix(t)); err != nil {
		t.Fatal(err)
	}
	if c.Centroid() != 2 {
		t.Errorf("centroid = %d, want 2", c.Centroid())
	}
}

func TestFindCentroid_TieGoesToLowestIndex(t *testing.T) {
	m := fourMemberMatrix(t)
	// Members 1 and 2 both sum to 4. Insertion order must not matter.
	for _, members := range [][]int{{0, 1, 2, 3}, {3, 2, 1, 0}, {2, 0, 3, 1}} {
		c := mustNode(t, members, 0)
		if err := c.FindCentroid(m); err != nil {
			t.Fatal(err)
		}
		if c.Centroid() != 1 {
			t.Errorf("members %v: centroid = %d, want 1", members, c.Centroid())
		}
	}
}

func TestFindCentroid_MatrixError(t *testing.T) {
	c := mustNode(t, []int{0, 9}, 0)
	if err := c.FindCentroid(fourMemberMatrix(t)); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestEndToEnd_FourMembers(t *testing.T) {
	m := fourMemberMatrix(t)
	c := mustNode(t, []int{0, 1, 2, 3}, 0)
	if err := c.CalcEccentricity(m); err != nil {
		t.Fatal(err)
	}
	if c.Eccentricity() != 3 {
		t.Errorf("eccentricity = %v, want 3", c.Eccentricity())
	}
	if err := c.FindCentroid(m); err != nil {
		t.Fatal(err)
	}
	if c.Centroid() != 1 {
		t.Errorf("centroid = %d, want 1", c.Centroid())
	}
	if err := c.CalcAvgFrameDist(m); err != nil {
		t.Fatal(err)
	}
	// Pairs: 1 2 3 1 2 1 -> mean 10/6, population variance 20/6 - (10/6)^2.
	wantAvg := 10.0 / 6
	wantSD := math.Sqrt(20.0/6 - wantAvg*wantAvg)
	if !almostEqual(c.InternalAvg(), wantAvg, floatTol) {
		t.Errorf("internal avg = %v, want %v", c.InternalAvg(), wantAvg)
	}
	if !almostEqual(c.InternalStdDev(), wantSD, floatTol) {
		t.Errorf("internal sd = %v, want %v", c.InternalStdDev(), wantSD)
	}
}

func TestCalcEccentricity_EqualDistances(t *testing.T) {
	n := 6
	d := 2.75
	dist := make([]float64, n*n)
	for i := range dist {
		dist[i] = d
	}
	m := newTestMatrix(t, n, dist)
	c := mustNode(t, []int{0, 2, 3, 5}, 0)
	if err := c.CalcEccentricity(m); err != nil {
		t.Fatal(err)
	}
	if c.Eccentricity() != d {
		t.Errorf("eccentricity = %v, want exactly %v", c.Eccentricity(), d)
	}
}

func TestCalcEccentricity_Singleton(t *testing.T) {
	c := mustNode(t, []int{3}, 0)
	if err := c.CalcEccentricity(fourMemberMatrix(t)); err != nil {
		t.Fatal(err)
	}
	if c.Eccentricity() != 0 {
		t.Errorf("singleton eccentricity = %v, want 0", c.Eccentricity())
	}
}

func TestCalcAvgFrameDist_MatchesDirectMean(t *testing.T) {
	n := 40
	m := randomMatrix(t, n, 42)
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		members := rng.Perm(n)[:2+rng.Intn(n-2)]
		var values []float64
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				d, err := m.GetElement(members[x], members[y])
				if err != nil {
					t.Fatal(err)
				}
				values = append(values, d)
			}
		}
		wantMean, wantSD := stat.PopMeanStdDev(values, nil)

		c := mustNode(t, members, 0)
		if err := c.CalcAvgFrameDist(m); err != nil {
			t.Fatal(err)
		}
		if !almostEqual(c.InternalAvg(), wantMean, 1e-9) {
			t.Errorf("trial %d: avg = %v, want %v", trial, c.InternalAvg(), wantMean)
		}
		if !almostEqual(c.InternalStdDev(), wantSD, 1e-9) {
			t.Errorf("trial %d: sd = %v, want %v", trial, c.InternalStdDev(), wantSD)
		}
	}
}

func TestCalcAvgFrameDist_Singleton(t *testing.T) {
	c := mustNode(t, []int{1}, 0)
	if err := c.CalcAvgFrameDist(fourMemberMatrix(t)); err != nil {
		t.Fatal(err)
	}
	if c.InternalAvg() != 0 || c.InternalStdDev() != 0 {
		t.Errorf("singleton avg/sd = %v/%v, want 0/0", c.InternalAvg(), c.InternalStdDev())
	}
}

func TestApplySieveOffset(t *testing.T) {
	s := 5
	c := mustNode(t, []int{0, 2, 4}, 0)
	if err := c.FindCentroid(newTestMatrix(t, 5, make([]float64, 25))); err != nil {
		t.Fatal(err)
	}
	centroid := c.Centroid()
	if err := c.ApplySieveOffset(s); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(c.Members(), []int{0, 2 * s, 4 * s}) {
		t.Errorf("members = %v, want [0 %d %d]", c.Members(), 2*s, 4*s)
	}
	if c.Centroid() != centroid*s {
		t.Errorf("centroid = %d, want %d", c.Centroid(), centroid*s)
	}
	if err := c.ApplySieveOffset(0); err == nil {
		t.Error("factor 0 should fail")
	}
}

// rigidCopies returns a trajectory whose frames are base moved rigidly.
func rigidCopies(t *testing.T, base Frame, count int) *Trajectory {
	t.Helper()
	frames := make([]Frame, count)
	for k := range frames {
		f := base.Clone()
		f.Rotate(rotationZ(0.4 * float64(k)))
		f.Rotate(rotationX(0.25 * float64(k)))
		frames[k] = translated(f, float64(k), -2*float64(k), 0.5)
	}
	traj, err := NewTrajectory(frames)
	if err != nil {
		t.Fatal(err)
	}
	return traj
}

func TestCalcCentroidFrame_RigidCopies(t *testing.T) {
	base := randomFrame(rand.New(rand.NewSource(17)), 8)
	traj := rigidCopies(t, base, 5)
	mask := AllAtoms(8)

	c := mustNode(t, []int{0, 1, 2, 3, 4}, 0)
	if err := c.CalcCentroidFrame(traj, mask); err != nil {
		t.Fatal(err)
	}
	frame := c.CentroidFrame()
	if frame.NumPositions() != 8 {
		t.Fatalf("centroid frame has %d positions, want 8", frame.NumPositions())
	}
	center := frame.Center()
	for k := 0; k < 3; k++ {
		if !almostEqual(center[k], 0, 1e-9) {
			t.Errorf("centroid frame center = %v, want origin", center)
		}
	}
	// Every copy is the same shape, so the average is that shape.
	d, err := RMSDMetric{Fit: true}.Distance(frame, base)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(d, 0, 1e-7) {
		t.Errorf("centroid frame RMSD to base = %v, want 0", d)
	}

	avg, err := c.CalcAvgToCentroid(traj, mask)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(avg, 0, 1e-7) {
		t.Errorf("avg to centroid = %v, want 0", avg)
	}
}

func TestCalcAvgToCentroid_MatchesMetric(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	frames := make([]Frame, 4)
	for k := range frames {
		frames[k] = randomFrame(rng, 5)
	}
	traj, err := NewTrajectory(frames)
	if err != nil {
		t.Fatal(err)
	}
	c := mustNode(t, []int{3, 1, 2}, 0)
	if err := c.CalcCentroidFrame(traj, nil); err != nil {
		t.Fatal(err)
	}
	var want float64
	for _, member := range []int{3, 1, 2} {
		d, err := RMSDMetric{Fit: true}.Distance(frames[member], c.CentroidFrame())
		if err != nil {
			t.Fatal(err)
		}
		want += d
	}
	want /= 3
	got, err := c.CalcAvgToCentroid(traj, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Same metric on the same inputs: bitwise identical.
	if got != want {
		t.Errorf("CalcAvgToCentroid = %v, metric gives %v", got, want)
	}
}

func TestCentroidDist(t *testing.T) {
	rng := rand.New(rand.NewSource(31))
	shapeA := randomFrame(rng, 6)
	shapeB := randomFrame(rng, 6)
	frames := []Frame{shapeA, translated(shapeA, 1, 1, 1), shapeB, translated(shapeB, -3, 0, 2)}
	traj, err := NewTrajectory(frames)
	if err != nil {
		t.Fatal(err)
	}
	a := mustNode(t, []int{0, 1}, 0)
	b := mustNode(t, []int{2, 3}, 1)

	if _, err := a.CentroidDist(b); !errors.Is(err, ErrNoCentroidFrame) {
		t.Errorf("expected ErrNoCentroidFrame, got %v", err)
	}
	if _, err := a.CalcAvgToCentroid(traj, nil); !errors.Is(err, ErrNoCentroidFrame) {
		t.Errorf("expected ErrNoCentroidFrame, got %v", err)
	}

	for _, c := range []*ClusterNode{a, b} {
		if err := c.CalcCentroidFrame(traj, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := a.CentroidDist(b)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := RMSDMetric{Fit: true}.Distance(shapeA, shapeB)
	if !almostEqual(got, want, 1e-7) {
		t.Errorf("CentroidDist = %v, want %v", got, want)
	}
	back, _ := b.CentroidDist(a)
	if !almostEqual(got, back, 1e-9) {
		t.Errorf("CentroidDist not symmetric: %v vs %v", got, back)
	}
}

func TestCalcCentroidFrame_MaskMismatch(t *testing.T) {
	traj, err := NewTrajectory([]Frame{{0, 0, 0, 1, 1, 1}, {1, 0, 0, 2, 1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	c := mustNode(t, []int{0, 1}, 0)
	// A mask type that claims a count the provider does not deliver.
	if err := c.CalcCentroidFrame(traj, countMask{n: 3, idx: []int{0, 1}}); !errors.Is(err, ErrMetricInputMismatch) {
		t.Errorf("expected ErrMetricInputMismatch, got %v", err)
	}
}

type countMask struct {
	n   int
	idx []int
}

func (m countMask) NumSelected() int { return m.n }
func (m countMask) Indices() []int   { return m.idx }

// gappedMatrix has d(0,1)=2 and d(1,2)=2 written and (0,2) left unset.
func gappedMatrix(t *testing.T) *MemoryMatrix {
	t.Helper()
	m := NewMemoryMatrix(0)
	if err := m.Allocate(3); err != nil {
		t.Fatal(err)
	}
	for _, p := range [][2]int{{0, 1}, {1, 2}} {
		if err := m.SetElement(p[0], p[1], 2); err != nil {
			t.Fatal(err)
		}
	}
	return m
}

func TestClusterNode_UnsetPairIsAnError(t *testing.T) {
	m := gappedMatrix(t)
	c := mustNode(t, []int{0, 1, 2}, 0)

	if err := c.FindCentroid(m); !errors.Is(err, ErrUnsetElement) {
		t.Errorf("FindCentroid: expected ErrUnsetElement, got %v", err)
	}
	if err := c.CalcEccentricity(m); !errors.Is(err, ErrUnsetElement) {
		t.Errorf("CalcEccentricity: expected ErrUnsetElement, got %v", err)
	}
	if err := c.CalcAvgFrameDist(m); !errors.Is(err, ErrUnsetElement) {
		t.Errorf("CalcAvgFrameDist: expected ErrUnsetElement, got %v", err)
	}

	// Members whose pairs are all written are unaffected by the gap.
	written := mustNode(t, []int{1, 2}, 1)
	if err := written.CalcAvgFrameDist(m); err != nil {
		t.Fatal(err)
	}
	if !almostEqual(written.InternalAvg(), 2, floatTol) || written.InternalStdDev() != 0 {
		t.Errorf("avg=%v sd=%v, want 2 and 0", written.InternalAvg(), written.InternalStdDev())
	}
}

func TestClusterNode_UnsetPairThroughBlock(t *testing.T) {
	block, err := CacheBlock(gappedMatrix(t), []int{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	c := mustNode(t, []int{0, 1, 2}, 0)
	if err := c.CalcAvgFrameDist(block); !errors.Is(err, ErrUnsetElement) {
		t.Errorf("expected ErrUnsetElement through cached block, got %v", err)
	}
}
