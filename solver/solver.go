// Package solver optimizes a pose graph: it accepts constraints and initial
// values incrementally and maintains the best estimate of every node pose.
package solver

import (
	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// Interface defines the contract the optimization orchestrator relies on.
// Update must only ever receive constraints and initial values that have not
// been submitted before; resubmission is an error. Estimate returns the latest
// optimized pose for every node ever submitted.
type Interface interface {
	Update(constraints []posegraph.Constraint, initials map[int]transform.Pose) error
	Estimate() map[int]transform.Pose
}
