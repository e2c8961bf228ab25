package trajclust

import (
	"fmt"
	"math"
)

// Unset is the value returned for a pair that was allocated but never
// written. Real distances are never negative.
const Unset = -1.0

// Distances is the read-only view of a populated pairwise distance matrix.
// Cluster nodes only ever see a matrix through this interface.
type Distances interface {
	// GetElement returns the distance between members i and j (i != j).
	GetElement(i, j int) (float64, error)
	// Size returns the number of stored off-diagonal elements.
	Size() int
	// Members returns the declared member count.
	Members() int
}

// DistanceMatrix is a symmetric, zero-diagonal store of pairwise distances.
// It is allocated once, populated once, synced, and then only read.
type DistanceMatrix interface {
	Distances
	// Allocate reserves storage for n*(n-1)/2 elements.
	Allocate(n int) error
	// SetElement writes the distance between members i and j. Order of i
	// and j does not matter. Each unordered pair must be written at most once.
	SetElement(i, j int, d float64) error
	// NeedsSetup reports whether Allocate has not yet succeeded.
	NeedsSetup() bool
	// Sync makes every prior SetElement visible and durable. It is the
	// barrier between the populate and cluster phases.
	Sync() error
	// Close releases the backing storage.
	Close() error
}

// NumElements returns n*(n-1)/2, the element count of the compact
// triangular layout for n members.
func NumElements(n int) (int, error) {
	if n < 1 {
		return 0, fmt.Errorf("%w: member count must be >= 1, got %d", ErrAllocation, n)
	}
	// n*(n-1) must not overflow.
	if n > 1 && n-1 > math.MaxInt/n {
		return 0, fmt.Errorf("%w: %d members overflow the addressable element count", ErrAllocation, n)
	}
	return n * (n - 1) / 2, nil
}

// TriangularIndex maps the unordered pair (i, j), i != j, to its linear index
// in the compact row-major upper-triangle layout of an n-member matrix:
//
//	idx = i*n - i*(i+1)/2 + (j - i - 1), for i < j
//
// The on-disk format depends on this exact formula.
func TriangularIndex(i, j, n int) int {
	if i > j {
		i, j = j, i
	}
	return i*n - i*(i+1)/2 + (j - i - 1)
}

// checkPair validates an off-diagonal pair against the member count.
func checkPair(i, j, n int) error {
	if i < 0 || j < 0 || i >= n || j >= n {
		return fmt.Errorf("%w: pair (%d,%d) with %d members", ErrIndexOutOfRange, i, j, n)
	}
	if i == j {
		return fmt.Errorf("%w: diagonal element (%d,%d) is not stored", ErrIndexOutOfRange, i, j)
	}
	return nil
}

// checkDistance rejects values that cannot be a distance. Values that do not
// fit a finite float32 are rejected too.
func checkDistance(i, j int, d float64) error {
	if math.IsNaN(d) || d < 0 || d > math.MaxFloat32 {
		return fmt.Errorf("trajclust: invalid distance %v for pair (%d,%d)", d, i, j)
	}
	return nil
}

// MemoryMatrix holds the compact triangle in a dense float32 slice.
type MemoryMatrix struct {
	n           int
	elements    []float32
	allocated   bool
	maxElements int
}

// NewMemoryMatrix returns an unallocated in-memory matrix. maxElements caps
// the element count Allocate accepts; 0 means no cap beyond addressability.
func NewMemoryMatrix(maxElements int) *MemoryMatrix {
	return &MemoryMatrix{maxElements: maxElements}
}

// Allocate reserves n*(n-1)/2 elements, all initialized to Unset.
func (m *MemoryMatrix) Allocate(n int) error {
	if m.allocated {
		return fmt.Errorf("%w: matrix already allocated for %d members", ErrAllocation, m.n)
	}
	size, err := NumElements(n)
	if err != nil {
		return err
	}
	if m.maxElements > 0 && size > m.maxElements {
		return fmt.Errorf("%w: %d elements exceed in-memory limit %d", ErrAllocation, size, m.maxElements)
	}
	elements := make([]float32, size)
	for k := range elements {
		elements[k] = Unset
	}
	m.n = n
	m.elements = elements
	m.allocated = true
	return nil
}

func (m *MemoryMatrix) SetElement(i, j int, d float64) error {
	if !m.allocated {
		return ErrNotAllocated
	}
	if err := checkPair(i, j, m.n); err != nil {
		return err
	}
	if err := checkDistance(i, j, d); err != nil {
		return err
	}
	m.elements[TriangularIndex(i, j, m.n)] = float32(d)
	return nil
}

func (m *MemoryMatrix) GetElement(i, j int) (float64, error) {
	if !m.allocated {
		return 0, ErrNotAllocated
	}
	if err := checkPair(i, j, m.n); err != nil {
		return 0, err
	}
	return float64(m.elements[TriangularIndex(i, j, m.n)]), nil
}

// Element returns the element at a linear triangular index.
func (m *MemoryMatrix) Element(idx int) (float64, error) {
	if idx < 0 || idx >= len(m.elements) {
		return 0, fmt.Errorf("%w: linear index %d of %d", ErrIndexOutOfRange, idx, len(m.elements))
	}
	return float64(m.elements[idx]), nil
}

func (m *MemoryMatrix) Size() int        { return len(m.elements) }
func (m *MemoryMatrix) Members() int     { return m.n }
func (m *MemoryMatrix) NeedsSetup() bool { return !m.allocated }

// Sync is a no-op: writes to memory are visible once the writers have been
// joined.
func (m *MemoryMatrix) Sync() error { return nil }

// Close drops the element storage.
func (m *MemoryMatrix) Close() error {
	m.elements = nil
	m.allocated = false
	m.n = 0
	return nil
}
