package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homogeneous lifts an image point to homogeneous coordinates.
func Homogeneous(pt r2.Point) r3.Vector {
	return r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
}

// EpipolarConstraint evaluates the algebraic epipolar residual
// x2^T · F · x1 for a correspondence. Zero for a perfect match.
func EpipolarConstraint(f Model, x1, x2 r2.Point) float64 {
	p := Homogeneous(x1)
	fx := r3.Vector{
		X: f.Mat[0][0]*p.X + f.Mat[0][1]*p.Y + f.Mat[0][2]*p.Z,
		Y: f.Mat[1][0]*p.X + f.Mat[1][1]*p.Y + f.Mat[1][2]*p.Z,
		Z: f.Mat[2][0]*p.X + f.Mat[2][1]*p.Y + f.Mat[2][2]*p.Z,
	}
	return Homogeneous(x2).Dot(fx)
}

// SampsonDistance is the first-order geometric approximation of the
// reprojection error of a correspondence under a fundamental matrix, in
// pixels.
func SampsonDistance(f Model, x1, x2 r2.Point) float64 {
	p1 := Homogeneous(x1)
	p2 := Homogeneous(x2)
	fx1 := r3.Vector{
		X: f.Mat[0][0]*p1.X + f.Mat[0][1]*p1.Y + f.Mat[0][2]*p1.Z,
		Y: f.Mat[1][0]*p1.X + f.Mat[1][1]*p1.Y + f.Mat[1][2]*p1.Z,
		Z: f.Mat[2][0]*p1.X + f.Mat[2][1]*p1.Y + f.Mat[2][2]*p1.Z,
	}
	ftx2 := r3.Vector{
		X: f.Mat[0][0]*p2.X + f.Mat[1][0]*p2.Y + f.Mat[2][0]*p2.Z,
		Y: f.Mat[0][1]*p2.X + f.Mat[1][1]*p2.Y + f.Mat[2][1]*p2.Z,
		Z: f.Mat[0][2]*p2.X + f.Mat[1][2]*p2.Y + f.Mat[2][2]*p2.Z,
	}
	num := p2.Dot(fx1)
	denom := fx1.X*fx1.X + fx1.Y*fx1.Y + ftx2.X*ftx2.X + ftx2.Y*ftx2.Y
	if denom == 0 {
		return math.Abs(num)
	}
	return math.Abs(num) / math.Sqrt(denom)
}

// EssentialFromFundamental returns the essential matrix K2^T · F · K1 given
// the fundamental matrix and the two cameras' intrinsics, with rank 2
// re-enforced after the multiplication.
func EssentialFromFundamental(f Model, k1, k2 *mat.Dense) (*mat.Dense, error) {
	if f.Kind != Fundamental {
		return nil, errors.Errorf("expected a fundamental model, got %s", f.Kind)
	}
	var ess mat.Dense
	ess.Mul(k2.T(), f.Dense())
	ess.Mul(&ess, k1)

	var svd mat.SVD
	if ok := svd.Factorize(&ess, mat.SVDFull); !ok {
		return nil, &DegenerateInputError{Reason: "SVD failed on the essential matrix"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	vals := svd.Values(nil)
	vals[2] = 0
	var out mat.Dense
	out.Mul(&u, mat.NewDiagDense(3, vals))
	out.Mul(&out, v.T())
	return &out, nil
}

// DecomposeEssential decomposes an essential matrix into its two possible
// rotations and the translation direction (up to sign and scale).
func DecomposeEssential(ess *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(ess, mat.SVDFull); !ok {
		return nil, nil, nil, &DegenerateInputError{Reason: "SVD failed on the essential matrix"}
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	if mat.Det(&u) < 0 {
		u.Scale(-1, &u)
	}
	if mat.Det(&v) < 0 {
		v.Scale(-1, &v)
	}
	w := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		-1, 0, 0,
		0, 0, 1,
	})
	var r1, r2 mat.Dense
	r1.Mul(&u, w)
	r1.Mul(&r1, v.T())
	r2.Mul(&u, w.T())
	r2.Mul(&r2, v.T())
	t := mat.NewDense(3, 1, []float64{u.At(0, 2), u.At(1, 2), u.At(2, 2)})
	return &r1, &r2, t, nil
}
