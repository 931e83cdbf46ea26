package transform

import "fmt"

// DegenerateInputError indicates a point set or linear system with no usable
// spread, e.g. all points coincident or a singular solve. Not retryable.
type DegenerateInputError struct {
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return "degenerate input: " + e.Reason
}

// InsufficientCorrespondencesError indicates fewer correspondences than the
// model family's minimal sample size.
type InsufficientCorrespondencesError struct {
	Kind Kind
	Got  int
	Need int
}

func (e *InsufficientCorrespondencesError) Error() string {
	return fmt.Sprintf("%s model needs at least %d correspondences, got %d", e.Kind, e.Need, e.Got)
}
