package trajclust

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// FrameMetric computes a non-negative distance between two frames with the
// same number of positions.
type FrameMetric interface {
	Distance(a, b Frame) (float64, error)
}

// FrameMetricFunc adapts a plain function into a FrameMetric.
type FrameMetricFunc func(a, b Frame) (float64, error)

func (f FrameMetricFunc) Distance(a, b Frame) (float64, error) { return f(a, b) }

// RMSDMetric is the root-mean-square positional deviation between two
// frames. With Fit set, both frames are centered and the first is rotated
// onto the second by least-squares superposition before measuring.
type RMSDMetric struct {
	Fit bool
}

// Distance returns the RMSD between a and b. Neither input is modified.
func (m RMSDMetric) Distance(a, b Frame) (float64, error) {
	if err := checkFrames(a, b); err != nil {
		return 0, err
	}
	if !m.Fit {
		return rms(a, b), nil
	}
	mobile, ref := a.Clone(), b.Clone()
	mobile.CenterOnOrigin()
	ref.CenterOnOrigin()
	r, err := Superpose(mobile, ref)
	if err != nil {
		return 0, err
	}
	mobile.Rotate(r)
	return rms(mobile, ref), nil
}

func checkFrames(a, b Frame) error {
	if len(a) != len(b) {
		return fmt.Errorf("%w: %d positions vs %d", ErrMetricInputMismatch, a.NumPositions(), b.NumPositions())
	}
	if len(a) == 0 || len(a)%3 != 0 {
		return fmt.Errorf("%w: frames need a positive multiple of 3 values, got %d", ErrMetricInputMismatch, len(a))
	}
	return nil
}

func rms(a, b Frame) float64 {
	return floats.Distance(a, b, 2) / math.Sqrt(float64(a.NumPositions()))
}

// Superpose returns the proper rotation R minimizing sum |R*mobile_k - ref_k|^2
// for two frames already centered on the origin (the Kabsch solution of the
// absolute orientation problem). Reflections are excluded.
func Superpose(mobile, ref Frame) (*mat.Dense, error) {
	if err := checkFrames(mobile, ref); err != nil {
		return nil, err
	}
	n := mobile.NumPositions()
	p := mat.NewDense(n, 3, mobile)
	q := mat.NewDense(n, 3, ref)

	// Cross-covariance H = P^T Q.
	var h mat.Dense
	h.Mul(p.T(), q)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return nil, fmt.Errorf("trajclust: SVD of covariance matrix did not converge")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V * diag(1, 1, d) * U^T with d = sign(det(V U^T)).
	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}
	return &r, nil
}
