// Package matches provides an in-memory store of point correspondences
// between images, usable as the correspondence source of a chain build.
// Whatever produces the correspondences (a feature matcher, a file import)
// stays outside this module; the store only keeps the aligned point sets.
package matches

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/multiview/chain"
)

type pairKey struct {
	a, b chain.ImageID
}

// Store holds index-aligned correspondences keyed by ordered image pair.
// A Store is not safe for concurrent mutation; freeze it before handing it
// to a parallel chain build.
type Store struct {
	pairs map[pairKey]*pairMatches
}

type pairMatches struct {
	x1, x2 []r2.Point
}

// NewStore returns an empty correspondence store.
func NewStore() *Store {
	return &Store{pairs: map[pairKey]*pairMatches{}}
}

// Add records a single correspondence p1 <-> p2 between images a and b.
func (s *Store) Add(a, b chain.ImageID, p1, p2 r2.Point) {
	key := pairKey{a, b}
	pm, ok := s.pairs[key]
	if !ok {
		pm = &pairMatches{}
		s.pairs[key] = pm
	}
	pm.x1 = append(pm.x1, p1)
	pm.x2 = append(pm.x2, p2)
}

// AddSet records a batch of index-aligned correspondences between a and b.
func (s *Store) AddSet(a, b chain.ImageID, x1, x2 []r2.Point) error {
	if len(x1) != len(x2) {
		return errors.Errorf("point sets must be the same length, got %d and %d", len(x1), len(x2))
	}
	for i := range x1 {
		s.Add(a, b, x1[i], x2[i])
	}
	return nil
}

// NumMatches returns the number of correspondences stored for the pair, in
// either orientation.
func (s *Store) NumMatches(a, b chain.ImageID) int {
	if pm, ok := s.pairs[pairKey{a, b}]; ok {
		return len(pm.x1)
	}
	if pm, ok := s.pairs[pairKey{b, a}]; ok {
		return len(pm.x1)
	}
	return 0
}

// Matches returns copies of the aligned point sets for the pair (a, b). If
// only the reversed pair was stored, the sets are returned swapped so the
// first set always belongs to a. An unknown pair yields empty sets, not an
// error: absence of matches is data, unlike a failing source.
func (s *Store) Matches(a, b chain.ImageID) ([]r2.Point, []r2.Point, error) {
	if pm, ok := s.pairs[pairKey{a, b}]; ok {
		return clonePoints(pm.x1), clonePoints(pm.x2), nil
	}
	if pm, ok := s.pairs[pairKey{b, a}]; ok {
		return clonePoints(pm.x2), clonePoints(pm.x1), nil
	}
	return nil, nil, nil
}

func clonePoints(pts []r2.Point) []r2.Point {
	return append([]r2.Point(nil), pts...)
}
