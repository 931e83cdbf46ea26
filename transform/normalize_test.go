package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func meanAndMeanNorm(pts []r2.Point) (r2.Point, float64) {
	var mu r2.Point
	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1 / float64(len(pts)))
	norm := 0.
	for _, pt := range pts {
		norm += pt.Norm() / float64(len(pts))
	}
	return mu, norm
}

func TestNormalize(t *testing.T) {
	pts := []r2.Point{{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 1, Y: 1}, {X: 1, Y: 3}}
	T, normalized, err := Normalize(pts)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, normalized, test.ShouldHaveLength, len(pts))

	mu, meanNorm := meanAndMeanNorm(normalized)
	test.That(t, mu.X, test.ShouldAlmostEqual, 0, 1e-8)
	test.That(t, mu.Y, test.ShouldAlmostEqual, 0, 1e-8)
	test.That(t, meanNorm, test.ShouldAlmostEqual, math.Sqrt2, 1e-8)

	// T itself maps the raw points onto the normalized ones
	for i, pt := range pts {
		x := T.At(0, 0)*pt.X + T.At(0, 1)*pt.Y + T.At(0, 2)
		y := T.At(1, 0)*pt.X + T.At(1, 1)*pt.Y + T.At(1, 2)
		test.That(t, x, test.ShouldAlmostEqual, normalized[i].X, 1e-12)
		test.That(t, y, test.ShouldAlmostEqual, normalized[i].Y, 1e-12)
	}

	// inputs are not mutated
	test.That(t, pts[0], test.ShouldResemble, r2.Point{X: 0, Y: 0})
}

func TestNormalizeIdempotent(t *testing.T) {
	pts := []r2.Point{{X: 12, Y: 400}, {X: 640, Y: 72}, {X: 333, Y: 512}, {X: 1004, Y: 768}, {X: 90, Y: 10}}
	_, once, err := Normalize(pts)
	test.That(t, err, test.ShouldBeNil)

	T, _, err := Normalize(once)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, T.At(0, 0), test.ShouldAlmostEqual, 1, 1e-8)
	test.That(t, T.At(1, 1), test.ShouldAlmostEqual, 1, 1e-8)
	test.That(t, T.At(0, 2), test.ShouldAlmostEqual, 0, 1e-8)
	test.That(t, T.At(1, 2), test.ShouldAlmostEqual, 0, 1e-8)
}

func TestNormalizeDegenerate(t *testing.T) {
	var degenerate *DegenerateInputError

	_, _, err := Normalize(nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)

	_, _, err = Normalize([]r2.Point{{X: 5, Y: 5}, {X: 5, Y: 5}, {X: 5, Y: 5}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)

	// a single point has no spread either
	_, _, err = Normalize([]r2.Point{{X: 1, Y: 2}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.As(err, &degenerate), test.ShouldBeTrue)
}
