package frontend

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/scanmatch"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// motion-model sigmas bottom out here so odometry covariances stay invertible
// when the robot barely moved
const minMotionStd = 1e-3

// buildConstraints produces the complete constraint set for a candidate node
// given snapshots of every earlier node. The online path and the offline
// rebuild call it identically; only the solver they feed differs.
func (f *FrontEnd) buildConstraints(
	ctx context.Context,
	nodes []posegraph.Node,
	candidate posegraph.Node,
) ([]posegraph.Constraint, error) {
	// node 0 never scan-matches; it is anchored by the prior alone
	if candidate.ID == 0 {
		return []posegraph.Constraint{f.priorConstraint()}, nil
	}

	pred := nodes[candidate.ID-1]
	displacement := transform.Relative(candidate.Pose, pred.Pose)

	var constraints []posegraph.Constraint
	if f.cfg.ConsiderOdomConstraint {
		constraints = append(constraints, f.odometryConstraint(pred.ID, candidate.ID, displacement))
	}

	res, err := f.matcher.Match(ctx, candidate.Cloud, pred.Cloud, displacement)
	if err != nil {
		return nil, errors.Wrapf(err, "scan match of node %d against node %d failed", candidate.ID, pred.ID)
	}
	if res.Converged {
		constraints = append(constraints, observationConstraint(pred.ID, candidate.ID, res))
	} else {
		f.logger.Debugf("scan match of node %d against node %d did not converge, skipping constraint",
			candidate.ID, pred.ID)
	}

	if f.cfg.NonSuccessiveConstraints {
		loops, err := f.nonSuccessiveConstraints(ctx, nodes, pred)
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, loops...)
	}
	return constraints, nil
}

// nonSuccessiveConstraints attempts loop-style constraints between earlier
// nodes and the predecessor. Candidates stop before the predecessor's own
// predecessor, whose edge to it already exists as a successive constraint.
// They are visited in ascending id order, first match wins, bounded by
// MaxFactorsPerNode; the fixed ordering keeps the selection deterministic.
func (f *FrontEnd) nonSuccessiveConstraints(
	ctx context.Context,
	nodes []posegraph.Node,
	pred posegraph.Node,
) ([]posegraph.Constraint, error) {
	if pred.ID < 1 {
		return nil, nil
	}
	var constraints []posegraph.Constraint
	for _, cand := range nodes[:pred.ID-1] {
		if len(constraints) >= f.cfg.MaxFactorsPerNode {
			break
		}
		if cand.Pose.Translation.Sub(pred.Pose.Translation).Norm() > f.cfg.MaxNodeDist {
			continue
		}
		guess := transform.Relative(pred.Pose, cand.Pose)
		res, err := f.matcher.Match(ctx, pred.Cloud, cand.Cloud, guess)
		if err != nil {
			return nil, errors.Wrapf(err, "scan match of node %d against node %d failed", pred.ID, cand.ID)
		}
		if !res.Converged {
			f.logger.Debugf("non-successive scan match of node %d against node %d did not converge",
				pred.ID, cand.ID)
			continue
		}
		constraints = append(constraints, observationConstraint(cand.ID, pred.ID, res))
	}
	return constraints, nil
}

func (f *FrontEnd) priorConstraint() posegraph.Constraint {
	return posegraph.Constraint{
		From:        0,
		To:          0,
		Measurement: f.cfg.Origin,
		Covariance:  diagonalCovariance(f.cfg.PriorXStd, f.cfg.PriorYStd, f.cfg.PriorThetaStd),
		Kind:        posegraph.Prior,
	}
}

func (f *FrontEnd) odometryConstraint(from, to int, displacement transform.Pose) posegraph.Constraint {
	mm := f.cfg.MotionModel
	transNorm := displacement.Translation.Norm()
	rotNorm := math.Abs(displacement.Theta)
	transStd := math.Max(mm.TransErrFromTrans*transNorm+mm.TransErrFromRot*rotNorm, minMotionStd)
	rotStd := math.Max(mm.RotErrFromTrans*transNorm+mm.RotErrFromRot*rotNorm, minMotionStd)
	return posegraph.Constraint{
		From:        from,
		To:          to,
		Measurement: displacement,
		Covariance:  diagonalCovariance(transStd, transStd, rotStd),
		Kind:        posegraph.Observation,
	}
}

func observationConstraint(from, to int, res scanmatch.Result) posegraph.Constraint {
	return posegraph.Constraint{
		From:        from,
		To:          to,
		Measurement: res.Pose,
		Covariance:  res.Covariance,
		Kind:        posegraph.Observation,
	}
}

func diagonalCovariance(xStd, yStd, thetaStd float64) *mat.SymDense {
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, xStd*xStd)
	cov.SetSym(1, 1, yStd*yStd)
	cov.SetSym(2, 2, thetaStd*thetaStd)
	return cov
}
