package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func translationFundamental(t *testing.T) (Model, []r2.Point, []r2.Point) {
	t.Helper()
	x1 := []r2.Point{
		{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 2}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 0}, {X: 2, Y: 1},
	}
	x2 := make([]r2.Point, len(x1))
	for i, pt := range x1 {
		x2[i] = r2.Point{X: pt.X, Y: pt.Y + 1}
	}
	f, err := Solve(Fundamental, x1, x2)
	test.That(t, err, test.ShouldBeNil)
	return f, x1, x2
}

func TestSampsonDistance(t *testing.T) {
	f, x1, x2 := translationFundamental(t)
	for i := range x1 {
		test.That(t, SampsonDistance(f, x1[i], x2[i]), test.ShouldAlmostEqual, 0, 1e-8)
	}
	// a mismatched correspondence scores clearly nonzero
	test.That(t, SampsonDistance(f, x1[0], r2.Point{X: 5, Y: 9}), test.ShouldBeGreaterThan, 1)
}

func TestEssentialFromFundamental(t *testing.T) {
	f, _, _ := translationFundamental(t)
	// with identity intrinsics the essential matrix is the fundamental
	// matrix with rank 2 re-enforced
	k := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	ess, err := EssentialFromFundamental(f, k, k)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(ess), test.ShouldAlmostEqual, 0, 1e-8)

	_, err = EssentialFromFundamental(Identity(Homography), k, k)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecomposeEssential(t *testing.T) {
	f, _, _ := translationFundamental(t)
	k := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	ess, err := EssentialFromFundamental(f, k, k)
	test.That(t, err, test.ShouldBeNil)

	r1, r2mat, tr, err := DecomposeEssential(ess)
	test.That(t, err, test.ShouldBeNil)
	// both candidate rotations are proper
	test.That(t, mat.Det(r1), test.ShouldAlmostEqual, 1, 1e-8)
	test.That(t, mat.Det(r2mat), test.ShouldAlmostEqual, 1, 1e-8)
	rows, cols := tr.Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 1)
	// translation direction is unit length (a column of U)
	test.That(t, mat.Norm(tr, 2), test.ShouldAlmostEqual, 1, 1e-8)
}
