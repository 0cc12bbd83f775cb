// Package scanmatch aligns pairs of 2D point clouds to estimate the relative
// rigid transform between their frames, with an uncertainty estimate.
package scanmatch

import (
	"context"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/transform"
)

// Result is the outcome of one scan-match attempt. Pose is the estimated pose
// of the source cloud's frame expressed in the target cloud's frame. The
// covariance is always populated, but callers must ignore it when Converged
// is false.
type Result struct {
	Pose       transform.Pose
	Covariance *mat.SymDense
	Converged  bool
}

// Matcher aligns a source cloud against a target cloud starting from an
// initial guess. Implementations must be deterministic given identical inputs.
// A failure to converge is reported through the result, not an error; errors
// are reserved for the call itself failing.
type Matcher interface {
	Match(ctx context.Context, source, target []r2.Point, guess transform.Pose) (Result, error)
}
