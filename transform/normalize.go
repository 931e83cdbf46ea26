package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// coincidentTol is the smallest mean distance-from-centroid for which a
// finite normalizing scale still exists.
const coincidentTol = 1e-12

// Normalize computes the isotropic preconditioner of Multiple View Geometry,
// Alg 11.1: a scale+translate transform T such that the returned point set
// has zero centroid and mean distance sqrt(2) from the origin. The input is
// not mutated.
func Normalize(pts []r2.Point) (*mat.Dense, []r2.Point, error) {
	nPoints := len(pts)
	if nPoints < 1 {
		return nil, nil, &DegenerateInputError{Reason: "cannot normalize an empty point set"}
	}
	mu := r2.Point{}
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))

	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / float64(nPoints)
	}
	if d < coincidentTol {
		return nil, nil, &DegenerateInputError{Reason: "all points are coincident"}
	}
	scale := math.Sqrt2 / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	normalized := make([]r2.Point, nPoints)
	for i := range normalized {
		normalized[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return T, normalized, nil
}
