package solver

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/transform"
)

func diagonalCovariance(x, y, theta float64) *mat.SymDense {
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, x*x)
	cov.SetSym(1, 1, y*y)
	cov.SetSym(2, 2, theta*theta)
	return cov
}

func originPrior() posegraph.Constraint {
	return posegraph.Constraint{
		From:        0,
		To:          0,
		Measurement: transform.Pose{},
		Covariance:  diagonalCovariance(0.01, 0.01, 0.005),
		Kind:        posegraph.Prior,
	}
}

func between(from, to int, pose transform.Pose) posegraph.Constraint {
	return posegraph.Constraint{
		From:        from,
		To:          to,
		Measurement: pose,
		Covariance:  diagonalCovariance(0.05, 0.05, 0.02),
		Kind:        posegraph.Observation,
	}
}

func TestUpdateEmptyGraph(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	test.That(t, s.Update(nil, nil), test.ShouldBeNil)
	test.That(t, s.Estimate(), test.ShouldBeEmpty)
}

func TestUpdateDuplicateInitialValue(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	initials := map[int]transform.Pose{0: {}}
	test.That(t, s.Update([]posegraph.Constraint{originPrior()}, initials), test.ShouldBeNil)

	err := s.Update(nil, initials)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already submitted")
}

func TestUpdateUnknownConstraintNode(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	err := s.Update([]posegraph.Constraint{between(0, 1, transform.Pose{})}, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no value")
}

func TestFailedUpdateLeavesSolverUntouched(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	initials := map[int]transform.Pose{0: {}}

	// bad batch: the initial value rides along with a constraint on a node
	// the solver has never seen
	err := s.Update([]posegraph.Constraint{originPrior(), between(1, 2, transform.Pose{})}, initials)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, s.Estimate(), test.ShouldBeEmpty)

	// the same initial value can be resubmitted in a good batch
	test.That(t, s.Update([]posegraph.Constraint{originPrior()}, initials), test.ShouldBeNil)
	test.That(t, len(s.Estimate()), test.ShouldEqual, 1)
}

func TestPriorPullsNodeToAnchor(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	initials := map[int]transform.Pose{0: transform.NewPose(0.2, r2.Point{X: 0.5, Y: -0.3})}
	test.That(t, s.Update([]posegraph.Constraint{originPrior()}, initials), test.ShouldBeNil)

	got := s.Estimate()[0]
	test.That(t, got.Translation.X, test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, got.Translation.Y, test.ShouldAlmostEqual, 0, 1e-4)
	test.That(t, got.Theta, test.ShouldAlmostEqual, 0, 1e-4)
}

func TestChainOptimization(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	step := transform.NewPose(0, r2.Point{X: 1})

	constraints := []posegraph.Constraint{originPrior(), between(0, 1, step)}
	initials := map[int]transform.Pose{
		0: {},
		1: transform.NewPose(0.1, r2.Point{X: 0.8, Y: 0.2}),
	}
	test.That(t, s.Update(constraints, initials), test.ShouldBeNil)

	got := s.Estimate()
	test.That(t, got[1].Translation.X, test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, got[1].Translation.Y, test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, got[1].Theta, test.ShouldAlmostEqual, 0, 1e-3)
}

func TestIncrementalUpdates(t *testing.T) {
	s := NewGaussNewton(DefaultConfig())
	step := transform.NewPose(math.Pi/2, r2.Point{X: 1})

	test.That(t, s.Update(
		[]posegraph.Constraint{originPrior(), between(0, 1, step)},
		map[int]transform.Pose{0: {}, 1: step},
	), test.ShouldBeNil)

	// the second update submits only the new node and constraint
	initial2 := transform.Compose(step, step)
	test.That(t, s.Update(
		[]posegraph.Constraint{between(1, 2, step)},
		map[int]transform.Pose{2: initial2},
	), test.ShouldBeNil)

	got := s.Estimate()
	test.That(t, len(got), test.ShouldEqual, 3)
	test.That(t, got[2].Translation.X, test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, got[2].Translation.Y, test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, got[2].Theta, test.ShouldAlmostEqual, math.Pi, 1e-3)
}

func TestLoopClosureCorrection(t *testing.T) {
	// square loop with drifted initials; the loop-closing constraint pulls
	// the last node back toward the first
	s := NewGaussNewton(DefaultConfig())
	step := transform.NewPose(math.Pi/2, r2.Point{X: 1})

	initials := map[int]transform.Pose{
		0: {},
		1: transform.NewPose(math.Pi/2+0.05, r2.Point{X: 1.1, Y: 0.05}),
		2: transform.NewPose(math.Pi+0.1, r2.Point{X: 1.2, Y: 1.1}),
		3: transform.NewPose(-math.Pi/2-0.1, r2.Point{X: 0.15, Y: 1.15}),
	}
	constraints := []posegraph.Constraint{
		originPrior(),
		between(0, 1, step),
		between(1, 2, step),
		between(2, 3, step),
		// loop closure: node 3 observed from node 0
		between(0, 3, transform.NewPose(-math.Pi/2, r2.Point{Y: 1})),
	}
	test.That(t, s.Update(constraints, initials), test.ShouldBeNil)

	got := s.Estimate()
	test.That(t, got[3].Translation.X, test.ShouldAlmostEqual, 0, 1e-2)
	test.That(t, got[3].Translation.Y, test.ShouldAlmostEqual, 1, 1e-2)
	test.That(t, transform.AngleDist(got[3].Theta, -math.Pi/2), test.ShouldAlmostEqual, 0, 1e-2)
}

func TestUnconstrainedNodeDoesNotFault(t *testing.T) {
	// a node whose scan match never converged has no observation constraint;
	// damping keeps the system solvable and leaves the node near its initial
	s := NewGaussNewton(DefaultConfig())
	initials := map[int]transform.Pose{
		0: {},
		1: transform.NewPose(0, r2.Point{X: 1}),
	}
	test.That(t, s.Update([]posegraph.Constraint{originPrior()}, initials), test.ShouldBeNil)

	got := s.Estimate()
	test.That(t, got[1].Translation.X, test.ShouldAlmostEqual, 1, 1e-3)
}
