// Package inject provides dependency injected structures for mocking the
// solver interface.
package inject

import (
	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/solver"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// Solver is an injected solver.
type Solver struct {
	solver.Interface
	UpdateFunc   func(constraints []posegraph.Constraint, initials map[int]transform.Pose) error
	EstimateFunc func() map[int]transform.Pose
}

// Update calls the injected Update or the real version.
func (s *Solver) Update(constraints []posegraph.Constraint, initials map[int]transform.Pose) error {
	if s.UpdateFunc == nil {
		return s.Interface.Update(constraints, initials)
	}
	return s.UpdateFunc(constraints, initials)
}

// Estimate calls the injected Estimate or the real version.
func (s *Solver) Estimate() map[int]transform.Pose {
	if s.EstimateFunc == nil {
		return s.Interface.Estimate()
	}
	return s.EstimateFunc()
}
