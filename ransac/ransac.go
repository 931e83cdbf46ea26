// Package ransac implements robust 2D model estimation by adaptive random
// sample consensus.
package ransac

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/multiview/transform"
)

// Params configures a robust estimation run. The zero value is not usable;
// start from DefaultParams.
type Params struct {
	// MaxReprojectionError is the inlier threshold in pixels.
	MaxReprojectionError float64
	// OutlierProbability is the acceptable probability of never drawing an
	// all-inlier minimal sample, in (0, 1). Lower values buy more trials.
	OutlierProbability float64
	// MaxTrials caps the number of sampling rounds regardless of the
	// adaptive bound.
	MaxTrials int
	// Rand is the random source used for minimal sampling. Tests fix its
	// seed for reproducibility; nil falls back to the same fixed-seed
	// source DefaultParams carries.
	Rand *rand.Rand
}

// DefaultParams mirrors the defaults of the original stabilization tool,
// one pixel of tolerated reprojection error and a 1% miss probability,
// with a fixed-seed random source so runs are deterministic unless a
// caller injects its own.
func DefaultParams() Params {
	return Params{
		MaxReprojectionError: 1.0,
		OutlierProbability:   1e-2,
		MaxTrials:            10000,
		Rand:                 rand.New(rand.NewSource(1)),
	}
}

func (p Params) validate() error {
	if p.MaxReprojectionError <= 0 {
		return errors.New("MaxReprojectionError must be positive")
	}
	if p.OutlierProbability <= 0 || p.OutlierProbability >= 1 {
		return errors.New("OutlierProbability must be in (0, 1)")
	}
	if p.MaxTrials <= 0 {
		return errors.New("MaxTrials must be positive")
	}
	return nil
}

// RobustEstimationFailedError indicates that no trial within the adaptive
// budget produced a valid, scorable model.
type RobustEstimationFailedError struct {
	Kind   transform.Kind
	Trials int
}

func (e *RobustEstimationFailedError) Error() string {
	return fmt.Sprintf("no valid %s model found after %d trials", e.Kind, e.Trials)
}

// EstimateRobust searches for the model of the given family best supported
// by the correspondences x1[i] <-> x2[i]. It repeatedly fits minimal random
// samples, scores each candidate against the full set, adaptively shrinks
// the trial budget as the observed inlier ratio improves, and finally
// re-fits on all inliers of the best candidate. It returns the refined
// model together with the indices of its inliers.
//
// Per-trial solver failures are absorbed; the call fails only if the whole
// budget passes without a single scorable model.
func EstimateRobust(
	kind transform.Kind,
	x1, x2 []r2.Point,
	params Params,
	logger golog.Logger,
) (transform.Model, []int, error) {
	if err := params.validate(); err != nil {
		return transform.Model{}, nil, err
	}
	if len(x1) != len(x2) {
		return transform.Model{}, nil, errors.Errorf(
			"point sets must be the same length, got %d and %d", len(x1), len(x2))
	}
	minSample := kind.MinimalSampleSize()
	n := len(x1)
	if n < minSample {
		return transform.Model{}, nil, &transform.InsufficientCorrespondencesError{
			Kind: kind, Got: n, Need: minSample,
		}
	}
	r := params.Rand
	if r == nil {
		r = rand.New(rand.NewSource(1))
	}

	var bestModel transform.Model
	var bestInliers []int
	bestCount := 0
	budget := params.MaxTrials

	s1 := make([]r2.Point, minSample)
	s2 := make([]r2.Point, minSample)
	trial := 0
	for ; trial < budget; trial++ {
		for i, idx := range r.Perm(n)[:minSample] {
			s1[i] = x1[idx]
			s2[i] = x2[idx]
		}
		candidate, err := transform.Solve(kind, s1, s2)
		if err != nil {
			// degenerate or rank-deficient sample, try another
			continue
		}
		residual, err := candidate.ResidualFunc()
		if err != nil {
			continue
		}
		var inliers []int
		for i := 0; i < n; i++ {
			if residual(x1[i], x2[i]) <= params.MaxReprojectionError {
				inliers = append(inliers, i)
			}
		}
		if len(inliers) > bestCount {
			bestModel = candidate
			bestInliers = inliers
			bestCount = len(inliers)
			if needed := trialsNeeded(params.OutlierProbability, float64(bestCount)/float64(n), minSample); needed < budget {
				budget = needed
			}
		}
	}
	if bestCount == 0 {
		return transform.Model{}, nil, &RobustEstimationFailedError{Kind: kind, Trials: trial}
	}
	if logger != nil {
		logger.Debugf("%s consensus: %d/%d inliers after %d trials", kind, bestCount, n, trial)
	}

	refined, err := refit(kind, x1, x2, bestInliers)
	if err != nil {
		// the consensus model still stands even if the over-determined
		// re-fit turns out degenerate
		if logger != nil {
			logger.Debugw("inlier re-fit failed, keeping consensus model", "error", err)
		}
		return bestModel, bestInliers, nil
	}
	return refined, bestInliers, nil
}

// refit re-solves the model on all inlier correspondences.
func refit(kind transform.Kind, x1, x2 []r2.Point, inliers []int) (transform.Model, error) {
	f1 := make([]r2.Point, len(inliers))
	f2 := make([]r2.Point, len(inliers))
	for i, idx := range inliers {
		f1[i] = x1[idx]
		f2[i] = x2[idx]
	}
	return transform.Solve(kind, f1, f2)
}

// trialsNeeded is the standard adaptive RANSAC bound: the number of trials
// after which the probability of never having drawn an all-inlier minimal
// sample, given inlier ratio w and sample size m, drops below p.
func trialsNeeded(p, w float64, m int) int {
	if w >= 1 {
		return 1
	}
	denom := math.Log(1 - math.Pow(w, float64(m)))
	if denom >= 0 || math.IsInf(denom, 0) {
		return math.MaxInt32
	}
	needed := math.Ceil(math.Log(p) / denom)
	if needed < 1 {
		return 1
	}
	if needed > float64(math.MaxInt32) {
		return math.MaxInt32
	}
	return int(needed)
}
