package trajclust

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Frame is one coordinate snapshot stored flat as x0,y0,z0,x1,y1,z1,...
type Frame []float64

// NumPositions returns the number of xyz positions in the frame.
func (f Frame) NumPositions() int { return len(f) / 3 }

// Clone returns a copy of f.
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Center returns the geometric center of the frame.
func (f Frame) Center() [3]float64 {
	var c [3]float64
	n := f.NumPositions()
	if n == 0 {
		return c
	}
	for p := 0; p < n; p++ {
		c[0] += f[3*p]
		c[1] += f[3*p+1]
		c[2] += f[3*p+2]
	}
	inv := 1.0 / float64(n)
	c[0] *= inv
	c[1] *= inv
	c[2] *= inv
	return c
}

// CenterOnOrigin translates f in place so its center is at the origin and
// returns the translation that was removed.
func (f Frame) CenterOnOrigin() [3]float64 {
	c := f.Center()
	for p := 0; p < f.NumPositions(); p++ {
		f[3*p] -= c[0]
		f[3*p+1] -= c[1]
		f[3*p+2] -= c[2]
	}
	return c
}

// Rotate applies the 3x3 rotation r to every position of f in place.
func (f Frame) Rotate(r mat.Matrix) {
	r00, r01, r02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	r10, r11, r12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	r20, r21, r22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)
	for p := 0; p < f.NumPositions(); p++ {
		x, y, z := f[3*p], f[3*p+1], f[3*p+2]
		f[3*p] = r00*x + r01*y + r02*z
		f[3*p+1] = r10*x + r11*y + r12*z
		f[3*p+2] = r20*x + r21*y + r22*z
	}
}

// Mask selects the coordinate positions that take part in distance
// computation. The clustering core only needs the selected count.
type Mask interface {
	NumSelected() int
}

// AtomMask is an ordered list of selected position indices.
type AtomMask []int

func (m AtomMask) NumSelected() int { return len(m) }

// Indices returns the selected position indices.
func (m AtomMask) Indices() []int { return m }

// AllAtoms returns a mask selecting positions 0..n-1.
func AllAtoms(n int) AtomMask {
	m := make(AtomMask, n)
	for i := range m {
		m[i] = i
	}
	return m
}

// CoordinateProvider supplies masked coordinate snapshots by member index.
type CoordinateProvider interface {
	// Coordinates returns the masked snapshot of member. The returned frame
	// is owned by the caller.
	Coordinates(member int, mask Mask) (Frame, error)
	// NumMembers returns the number of available members.
	NumMembers() int
}

// Trajectory is an in-memory CoordinateProvider.
type Trajectory struct {
	frames    []Frame
	positions int
}

// NewTrajectory validates that every frame has the same whole number of
// positions and wraps them. Frames are not copied.
func NewTrajectory(frames []Frame) (*Trajectory, error) {
	if len(frames) == 0 {
		return &Trajectory{}, nil
	}
	if len(frames[0])%3 != 0 {
		return nil, fmt.Errorf("trajclust: frame 0 has %d values, not a multiple of 3", len(frames[0]))
	}
	positions := frames[0].NumPositions()
	for i, f := range frames {
		if len(f) != 3*positions {
			return nil, fmt.Errorf("%w: frame %d has %d values, expected %d", ErrMetricInputMismatch, i, len(f), 3*positions)
		}
	}
	return &Trajectory{frames: frames, positions: positions}, nil
}

func (t *Trajectory) NumMembers() int { return len(t.frames) }

// NumPositions returns the unmasked position count of every frame.
func (t *Trajectory) NumPositions() int { return t.positions }

// Coordinates returns a copy of the masked positions of frame member. A nil
// mask selects every position.
func (t *Trajectory) Coordinates(member int, mask Mask) (Frame, error) {
	if member < 0 || member >= len(t.frames) {
		return nil, fmt.Errorf("%w: member %d of %d", ErrIndexOutOfRange, member, len(t.frames))
	}
	src := t.frames[member]
	if mask == nil {
		return src.Clone(), nil
	}
	sel, ok := mask.(interface{ Indices() []int })
	if !ok {
		return nil, fmt.Errorf("trajclust: mask type %T does not expose indices", mask)
	}
	idx := sel.Indices()
	out := make(Frame, 3*len(idx))
	for k, p := range idx {
		if p < 0 || p >= t.positions {
			return nil, fmt.Errorf("%w: mask position %d of %d", ErrIndexOutOfRange, p, t.positions)
		}
		copy(out[3*k:3*k+3], src[3*p:3*p+3])
	}
	return out, nil
}

// addFrame accumulates src into dst.
func addFrame(dst, src Frame) { floats.Add(dst, src) }

// scaleFrame multiplies every coordinate of f by s.
func scaleFrame(f Frame, s float64) { floats.Scale(s, f) }
