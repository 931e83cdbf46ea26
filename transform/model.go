// Package transform estimates 2D geometric relationships between pairs of
// images from noisy point correspondences.
//
// Supported model families range from rigid motions to full planar
// homographies, plus the fundamental matrix for epipolar geometry. All models
// are represented as 3x3 homogeneous matrices tagged with their family.
package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Kind enumerates the supported 2D model families.
type Kind int

// The model families, ordered by increasing degrees of freedom.
const (
	Euclidean Kind = iota // rotation + translation
	Similarity            // Euclidean + uniform scale
	Affine
	Homography
	Fundamental // epipolar constraint, not a point mapping
)

func (k Kind) String() string {
	switch k {
	case Euclidean:
		return "euclidean"
	case Similarity:
		return "similarity"
	case Affine:
		return "affine"
	case Homography:
		return "homography"
	case Fundamental:
		return "fundamental"
	default:
		return "unknown"
	}
}

// MinimalSampleSize returns the smallest number of correspondences that
// algebraically determines a model of this family.
func (k Kind) MinimalSampleSize() int {
	switch k {
	case Euclidean, Similarity:
		return 2
	case Affine:
		return 3
	case Homography:
		return 4
	case Fundamental:
		return 8
	default:
		return 0
	}
}

// DegreesOfFreedom returns the number of free parameters of the family.
func (k Kind) DegreesOfFreedom() int {
	switch k {
	case Euclidean:
		return 3
	case Similarity:
		return 4
	case Affine:
		return 6
	case Homography:
		return 8
	case Fundamental:
		return 7
	default:
		return 0
	}
}

// pointMapping reports whether models of this family map image points to
// image points. The fundamental matrix instead maps points to epipolar lines.
func (k Kind) pointMapping() bool {
	return k != Fundamental
}

// Model is a 3x3 homogeneous matrix tagged with the family it belongs to.
// Indices are [row][column]. A Model is immutable once produced by a solve.
type Model struct {
	Kind Kind
	Mat  [3][3]float64
}

// Identity returns the identity model of the given family.
func Identity(kind Kind) Model {
	return Model{Kind: kind, Mat: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// At returns the matrix entry at the given row and column.
func (m Model) At(row, col int) float64 {
	return m.Mat[row][col]
}

// Apply maps a point through the model, performing the homogeneous divide.
func (m Model) Apply(pt r2.Point) r2.Point {
	x := m.Mat[0][0]*pt.X + m.Mat[0][1]*pt.Y + m.Mat[0][2]
	y := m.Mat[1][0]*pt.X + m.Mat[1][1]*pt.Y + m.Mat[1][2]
	z := m.Mat[2][0]*pt.X + m.Mat[2][1]*pt.Y + m.Mat[2][2]
	return r2.Point{X: x / z, Y: y / z}
}

// Dense copies the model matrix into a gonum matrix.
func (m Model) Dense() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		m.Mat[0][0], m.Mat[0][1], m.Mat[0][2],
		m.Mat[1][0], m.Mat[1][1], m.Mat[1][2],
		m.Mat[2][0], m.Mat[2][1], m.Mat[2][2],
	})
}

func modelFromDense(kind Kind, d *mat.Dense) Model {
	var m Model
	m.Kind = kind
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.Mat[r][c] = d.At(r, c)
		}
	}
	return m
}

// Inverse returns the inverse model. It errors if the matrix is singular,
// which is always the case for a (rank 2) fundamental matrix.
func (m Model) Inverse() (Model, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.Dense()); err != nil {
		return Model{}, errors.Wrapf(err, "cannot invert %s model", m.Kind)
	}
	return modelFromDense(m.Kind, &inv), nil
}

// Compose returns the model m∘o, i.e. the matrix product M·O, applying o
// first and m second.
func (m Model) Compose(o Model) Model {
	var out mat.Dense
	out.Mul(m.Dense(), o.Dense())
	return modelFromDense(m.Kind, &out)
}

// ResidualFunc returns the symmetric reprojection-error metric for the
// model: for point-mapping families the mean of the forward and backward
// transfer distances, for the fundamental matrix the Sampson distance. The
// model inverse is computed once up front; a singular point-mapping model
// errors here rather than during scoring.
func (m Model) ResidualFunc() (func(x1, x2 r2.Point) float64, error) {
	if m.Kind == Fundamental {
		return func(x1, x2 r2.Point) float64 {
			return SampsonDistance(m, x1, x2)
		}, nil
	}
	inv, err := m.Inverse()
	if err != nil {
		return nil, err
	}
	return func(x1, x2 r2.Point) float64 {
		forward := m.Apply(x1).Sub(x2).Norm()
		backward := inv.Apply(x2).Sub(x1).Norm()
		return 0.5 * (forward + backward)
	}, nil
}

func (m Model) isFinite() bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			v := m.Mat[r][c]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
