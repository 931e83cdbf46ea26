package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// singularTol is the determinant magnitude below which a solved
// point-mapping model is rejected as degenerate.
const singularTol = 1e-12

// Solve estimates a model of the given family from index-aligned point
// correspondences x1[i] <-> x2[i]. Both point sets are normalized first
// (see Normalize), the family's homogeneous linear system is solved by the
// smallest right singular vector, and the result is de-normalized. With
// exactly the minimal sample the solve is exact up to numerical residual;
// with more correspondences it minimizes algebraic error over all of them.
// Inputs are never mutated.
func Solve(kind Kind, x1, x2 []r2.Point) (Model, error) {
	if len(x1) != len(x2) {
		return Model{}, errors.Errorf("point sets must be the same length, got %d and %d", len(x1), len(x2))
	}
	if need := kind.MinimalSampleSize(); len(x1) < need {
		return Model{}, &InsufficientCorrespondencesError{Kind: kind, Got: len(x1), Need: need}
	}

	T1, n1, err := Normalize(x1)
	if err != nil {
		return Model{}, err
	}
	T2, n2, err := Normalize(x2)
	if err != nil {
		return Model{}, err
	}

	var normalized *mat.Dense
	switch kind {
	case Euclidean, Similarity:
		normalized, err = solveSimilarity(n1, n2)
	case Affine:
		normalized, err = solveAffine(n1, n2)
	case Homography:
		normalized, err = solveHomography(n1, n2)
	case Fundamental:
		normalized, err = solveFundamental(n1, n2)
	default:
		return Model{}, errors.Errorf("unsupported model kind %d", kind)
	}
	if err != nil {
		return Model{}, err
	}

	var model Model
	if kind == Fundamental {
		// F maps points to epipolar lines, so it transforms by
		// T2^T F T1 rather than by conjugation.
		var denorm mat.Dense
		denorm.Mul(T2.T(), normalized)
		denorm.Mul(&denorm, T1)
		if w := denorm.At(2, 2); math.Abs(w) > singularTol {
			denorm.Scale(1/w, &denorm)
		}
		model = modelFromDense(kind, &denorm)
	} else {
		var t2inv, denorm mat.Dense
		if err := t2inv.Inverse(T2); err != nil {
			return Model{}, &DegenerateInputError{Reason: "normalization transform is singular"}
		}
		denorm.Mul(&t2inv, normalized)
		denorm.Mul(&denorm, T1)
		denorm.Scale(1/denorm.At(2, 2), &denorm)
		model = modelFromDense(kind, &denorm)
		if kind == Euclidean {
			model, err = projectToEuclidean(model)
			if err != nil {
				return Model{}, err
			}
		}
	}

	if !model.isFinite() {
		return Model{}, &DegenerateInputError{Reason: "solve produced non-finite entries"}
	}
	if kind.pointMapping() {
		if det := mat.Det(model.Dense()); math.Abs(det) < singularTol {
			return Model{}, &DegenerateInputError{Reason: "solved model is singular"}
		}
	}
	return model, nil
}

// smallestSingularVector returns the right singular vector associated with
// the smallest singular value of a, i.e. the total-least-squares solution of
// the homogeneous system a·v = 0.
func smallestSingularVector(a *mat.Dense) ([]float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, &DegenerateInputError{Reason: "SVD failed to factorize the linear system"}
	}
	var v mat.Dense
	svd.VTo(&v)
	_, cols := a.Dims()
	out := make([]float64, cols)
	for i := range out {
		out[i] = v.At(i, cols-1)
	}
	return out, nil
}

// solveSimilarity solves for (a, b, tx, ty, w) in
//
//	a·x - b·y + tx - w·x' = 0
//	b·x + a·y + ty - w·y' = 0
//
// which parameterizes x2 = s·R(θ)·x1 + t with a = s·cos θ, b = s·sin θ.
func solveSimilarity(x1, x2 []r2.Point) (*mat.Dense, error) {
	n := len(x1)
	a := mat.NewDense(2*n, 5, nil)
	for i := range x1 {
		p, q := x1[i], x2[i]
		a.SetRow(2*i, []float64{p.X, -p.Y, 1, 0, -q.X})
		a.SetRow(2*i+1, []float64{p.Y, p.X, 0, 1, -q.Y})
	}
	v, err := smallestSingularVector(a)
	if err != nil {
		return nil, err
	}
	w := v[4]
	if math.Abs(w) < singularTol {
		return nil, &DegenerateInputError{Reason: "similarity solve has zero homogeneous scale"}
	}
	return mat.NewDense(3, 3, []float64{
		v[0] / w, -v[1] / w, v[2] / w,
		v[1] / w, v[0] / w, v[3] / w,
		0, 0, 1,
	}), nil
}

// projectToEuclidean rescales the rotation block of a similarity to unit
// scale. For correspondences generated by a rigid motion the similarity
// solve already has scale 1 and this is a no-op up to numerical residual.
func projectToEuclidean(m Model) (Model, error) {
	s := math.Hypot(m.Mat[0][0], m.Mat[1][0])
	if s < singularTol {
		return Model{}, &DegenerateInputError{Reason: "rigid solve has zero rotation scale"}
	}
	m.Mat[0][0] /= s
	m.Mat[0][1] /= s
	m.Mat[1][0] /= s
	m.Mat[1][1] /= s
	return m, nil
}

func solveAffine(x1, x2 []r2.Point) (*mat.Dense, error) {
	n := len(x1)
	a := mat.NewDense(2*n, 7, nil)
	for i := range x1 {
		p, q := x1[i], x2[i]
		a.SetRow(2*i, []float64{p.X, p.Y, 1, 0, 0, 0, -q.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, p.X, p.Y, 1, -q.Y})
	}
	v, err := smallestSingularVector(a)
	if err != nil {
		return nil, err
	}
	w := v[6]
	if math.Abs(w) < singularTol {
		return nil, &DegenerateInputError{Reason: "affine solve has zero homogeneous scale"}
	}
	return mat.NewDense(3, 3, []float64{
		v[0] / w, v[1] / w, v[2] / w,
		v[3] / w, v[4] / w, v[5] / w,
		0, 0, 1,
	}), nil
}

// solveHomography is the standard DLT: each correspondence contributes two
// rows to a 9-unknown homogeneous system.
func solveHomography(x1, x2 []r2.Point) (*mat.Dense, error) {
	n := len(x1)
	a := mat.NewDense(2*n, 9, nil)
	for i := range x1 {
		p, q := x1[i], x2[i]
		a.SetRow(2*i, []float64{0, 0, 0, -p.X, -p.Y, -1, q.Y * p.X, q.Y * p.Y, q.Y})
		a.SetRow(2*i+1, []float64{p.X, p.Y, 1, 0, 0, 0, -q.X * p.X, -q.X * p.Y, -q.X})
	}
	v, err := smallestSingularVector(a)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(3, 3, v), nil
}

// solveFundamental is the 8-point algorithm: one row per correspondence,
// solved by the smallest singular vector, then rank 2 enforced by zeroing
// the smallest singular value.
func solveFundamental(x1, x2 []r2.Point) (*mat.Dense, error) {
	n := len(x1)
	a := mat.NewDense(n, 9, nil)
	for i := range x1 {
		p, q := x1[i], x2[i]
		a.SetRow(i, []float64{
			q.X * p.X, q.X * p.Y, q.X,
			q.Y * p.X, q.Y * p.Y, q.Y,
			p.X, p.Y, 1,
		})
	}
	v, err := smallestSingularVector(a)
	if err != nil {
		return nil, err
	}
	f := mat.NewDense(3, 3, v)

	var svd mat.SVD
	if ok := svd.Factorize(f, mat.SVDFull); !ok {
		return nil, &DegenerateInputError{Reason: "SVD failed on the fundamental matrix"}
	}
	var u, rsv mat.Dense
	svd.UTo(&u)
	svd.VTo(&rsv)
	vals := svd.Values(nil)
	vals[2] = 0
	sigma := mat.NewDiagDense(3, vals)

	var rank2 mat.Dense
	rank2.Mul(&u, sigma)
	rank2.Mul(&rank2, rsv.T())
	return &rank2, nil
}
