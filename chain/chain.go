// Package chain estimates the relative 2D transforms along an ordered image
// sequence and accumulates them into one warp per frame, anchored at the
// first image.
package chain

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/multiview/ransac"
	"go.viam.com/multiview/transform"
)

// ImageID identifies one image of a sequence. The ordering of IDs is the
// caller's responsibility, e.g. a lexicographic filename sort.
type ImageID string

// CorrespondenceSource supplies index-aligned matched points between two
// images. It is typically backed by a feature-matching subsystem; matches
// may legitimately be empty for a pair.
type CorrespondenceSource interface {
	Matches(a, b ImageID) ([]r2.Point, []r2.Point, error)
}

// CorrespondenceLookupError wraps a failure of the correspondence source
// itself. It always aborts chain construction: missing data is not the same
// as an empty match set, so the pair cannot safely be skipped.
type CorrespondenceLookupError struct {
	A, B ImageID
	Err  error
}

func (e *CorrespondenceLookupError) Error() string {
	return fmt.Sprintf("correspondence lookup failed for pair (%s, %s): %v", e.A, e.B, e.Err)
}

func (e *CorrespondenceLookupError) Unwrap() error {
	return e.Err
}

// SkipPolicy controls how a pair whose estimation was skipped contributes to
// the cumulative transforms.
type SkipPolicy int

const (
	// SkipAsIdentity carries the previous cumulative transform forward
	// across a skipped pair, as the original stabilizer effectively does.
	SkipAsIdentity SkipPolicy = iota
	// SkipAsGap also carries the previous cumulative forward but marks
	// every frame past the break as no longer anchored to frame 0.
	SkipAsGap
)

// Options configures chain construction.
type Options struct {
	// Robust parameterizes the per-pair estimations. Its Rand field is
	// ignored here; seeding is per pair, see Seed.
	Robust ransac.Params
	// Seed is the base of the per-pair random sources: pair i samples from
	// a source seeded with Seed+i, so sequential and parallel builds
	// produce identical chains.
	Seed int64
	// Skip selects the cumulative-composition policy for skipped pairs.
	Skip SkipPolicy
	// Parallel estimates pairs on separate goroutines. Composition is
	// always sequential.
	Parallel bool
	Logger   golog.Logger
}

// DefaultOptions returns Options with the default robust parameters.
func DefaultOptions() Options {
	return Options{Robust: ransac.DefaultParams()}
}

// Link is the estimation result for one consecutive image pair.
type Link struct {
	Model   transform.Model
	Inliers []int
	// Skipped marks a pair with too few correspondences or a failed
	// robust estimation. A skipped link holds no model.
	Skipped bool
}

// Chain holds the per-pair relative transforms of an image sequence along
// with the accumulated warp for each frame. It is immutable once built.
//
// Relative[i] maps points of image i onto image i+1. Cumulative[0] is the
// identity and Cumulative[i] = Relative[i-1]⁻¹ · Cumulative[i-1], the warp
// accumulation a stabilizer applies to frame i: each new inverted relative
// is multiplied onto the left, so Cumulative[2] = T2⁻¹ · T1⁻¹. That product
// is not the frame-i-to-frame-0 point mapping (which would compose in the
// opposite order); it is the running warp the original-frame renderer
// consumes.
type Chain struct {
	Kind       transform.Kind
	Images     []ImageID
	Relative   []Link // one per consecutive pair, len(Images)-1
	Cumulative []transform.Model

	anchored []bool
}

// Anchored reports whether Cumulative[i] actually relates image i to image
// 0. Under SkipAsGap every frame past a skipped pair is unanchored; under
// SkipAsIdentity all frames are anchored by definition.
func (c *Chain) Anchored(i int) bool {
	return c.anchored[i]
}

// BuildChain estimates one relative transform per consecutive pair of
// images and composes the cumulative transforms. Pairs that cannot be
// estimated are recorded as skipped links; a failing correspondence source
// aborts the build. The returned chain is complete: every pair has been
// visited, or an error is returned and no chain at all.
//
// Estimating the model of a pair is independent of every other pair, so
// with Options.Parallel the per-pair work fans out to goroutines while the
// cumulative composition stays strictly sequential. Cancelling ctx stops
// further pair estimations and fails the build; a partial chain is never
// returned.
func BuildChain(
	ctx context.Context,
	kind transform.Kind,
	images []ImageID,
	src CorrespondenceSource,
	opts Options,
) (*Chain, error) {
	if len(images) < 2 {
		return nil, errors.Errorf("need at least 2 images to build a chain, got %d", len(images))
	}
	logger := opts.Logger
	if logger == nil {
		logger = golog.Global()
	}

	numPairs := len(images) - 1
	links := make([]Link, numPairs)

	var err error
	if opts.Parallel {
		err = estimatePairsParallel(ctx, kind, images, src, opts, logger, links)
	} else {
		err = estimatePairsSequential(ctx, kind, images, src, opts, logger, links)
	}
	if err != nil {
		return nil, err
	}

	c := &Chain{
		Kind:       kind,
		Images:     append([]ImageID(nil), images...),
		Relative:   links,
		Cumulative: make([]transform.Model, len(images)),
		anchored:   make([]bool, len(images)),
	}
	c.Cumulative[0] = transform.Identity(kind)
	c.anchored[0] = true
	for i := 1; i < len(images); i++ {
		link := links[i-1]
		if link.Skipped {
			c.Cumulative[i] = c.Cumulative[i-1]
			c.anchored[i] = c.anchored[i-1] && opts.Skip == SkipAsIdentity
			continue
		}
		inv, invErr := link.Model.Inverse()
		if invErr != nil {
			// a rank-deficient relative model (a fundamental matrix,
			// or a degenerate fit) cannot be composed; treat as a break
			logger.Debugw("relative model not invertible, carrying cumulative forward",
				"pair", i-1, "error", invErr)
			c.Cumulative[i] = c.Cumulative[i-1]
			c.anchored[i] = false
			continue
		}
		c.Cumulative[i] = inv.Compose(c.Cumulative[i-1])
		c.anchored[i] = c.anchored[i-1]
	}
	return c, nil
}

func estimatePairsSequential(
	ctx context.Context,
	kind transform.Kind,
	images []ImageID,
	src CorrespondenceSource,
	opts Options,
	logger golog.Logger,
	links []Link,
) error {
	for i := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		link, err := estimatePair(kind, images[i], images[i+1], src, pairParams(opts, i), logger)
		if err != nil {
			return err
		}
		links[i] = link
	}
	return nil
}

func estimatePairsParallel(
	ctx context.Context,
	kind transform.Kind,
	images []ImageID,
	src CorrespondenceSource,
	opts Options,
	logger golog.Logger,
	links []Link,
) error {
	errs := make([]error, len(links))
	var wg sync.WaitGroup
	wg.Add(len(links))
	for i := range links {
		iCopy := i
		goutils.PanicCapturingGo(func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				errs[iCopy] = err
				return
			}
			links[iCopy], errs[iCopy] = estimatePair(
				kind, images[iCopy], images[iCopy+1], src, pairParams(opts, iCopy), logger)
		})
	}
	wg.Wait()
	return multierr.Combine(errs...)
}

// pairParams derives the robust parameters for pair i, giving every pair
// its own deterministic random source so parallel runs neither contend on a
// shared generator nor diverge from sequential ones.
func pairParams(opts Options, i int) ransac.Params {
	p := opts.Robust
	p.Rand = rand.New(rand.NewSource(opts.Seed + int64(i)))
	return p
}

// estimatePair runs a single robust estimation, converting "not enough
// data" and "no consensus" into a skipped link. Only lookup failures
// propagate.
func estimatePair(
	kind transform.Kind,
	prev, curr ImageID,
	src CorrespondenceSource,
	params ransac.Params,
	logger golog.Logger,
) (Link, error) {
	x1, x2, err := src.Matches(prev, curr)
	if err != nil {
		return Link{}, &CorrespondenceLookupError{A: prev, B: curr, Err: err}
	}
	if len(x1) != len(x2) {
		return Link{}, &CorrespondenceLookupError{
			A: prev, B: curr,
			Err: errors.Errorf("misaligned match sets: %d vs %d points", len(x1), len(x2)),
		}
	}
	if len(x1) < kind.MinimalSampleSize() {
		logger.Debugf("pair (%s, %s): %d correspondences, need %d, skipping",
			prev, curr, len(x1), kind.MinimalSampleSize())
		return Link{Skipped: true}, nil
	}
	model, inliers, err := ransac.EstimateRobust(kind, x1, x2, params, logger)
	if err != nil {
		var failed *ransac.RobustEstimationFailedError
		var insufficient *transform.InsufficientCorrespondencesError
		if errors.As(err, &failed) || errors.As(err, &insufficient) {
			logger.Debugw("robust estimation failed, skipping pair", "a", prev, "b", curr, "error", err)
			return Link{Skipped: true}, nil
		}
		return Link{}, err
	}
	return Link{Model: model, Inliers: inliers}, nil
}
