package scanmatch

import (
	"context"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/transform"
)

// ICPConfig holds the tuning knobs for the iterative-closest-point matcher.
// All distances are in the same units as the input clouds.
type ICPConfig struct {
	// MaxIterations bounds the number of alignment iterations.
	MaxIterations int
	// ConvergenceThresh stops iterating once the mean correspondence error
	// improves by less than this amount between iterations.
	ConvergenceThresh float64
	// MaxCorrespondDist rejects correspondences farther apart than this.
	MaxCorrespondDist float64
	// MaxResidual is the largest mean correspondence error still considered
	// a converged alignment.
	MaxResidual float64
	// MinInlierFraction is the smallest fraction of source points with a
	// correspondence still considered a converged alignment.
	MinInlierFraction float64
	// TranslationStd and RotationStd seed the reported covariance; they are
	// scaled up by the final residual.
	TranslationStd float64
	RotationStd    float64
}

// DefaultICPConfig returns the tuning used in deployment.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     40,
		ConvergenceThresh: 1e-5,
		MaxCorrespondDist: 1.0,
		MaxResidual:       0.25,
		MinInlierFraction: 0.5,
		TranslationStd:    0.05,
		RotationStd:       0.02,
	}
}

// ICP is a point-to-point iterative-closest-point matcher. Correspondences are
// nearest neighbors under a distance gate; each iteration solves the rigid
// alignment in closed form through the SVD of the correspondence
// cross-covariance. ICP is deterministic: no sampling is involved.
type ICP struct {
	cfg ICPConfig
}

// NewICP returns an ICP matcher with the given configuration.
func NewICP(cfg ICPConfig) *ICP {
	return &ICP{cfg: cfg}
}

// Match aligns source against target starting from guess. Degenerate inputs
// (fewer than three points on either side) report non-convergence with the
// guess passed through.
func (m *ICP) Match(ctx context.Context, source, target []r2.Point, guess transform.Pose) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(source) < 3 || len(target) < 3 {
		return Result{Pose: guess, Covariance: m.covariance(math.Inf(1)), Converged: false}, nil
	}

	est := guess
	prevErr := math.Inf(1)
	meanErr := math.Inf(1)
	inlierFraction := 0.0

	for iter := 0; iter < m.cfg.MaxIterations; iter++ {
		srcMatched, tgtMatched, sumErr := m.correspondences(source, target, est)
		if len(srcMatched) < 3 {
			return Result{Pose: est, Covariance: m.covariance(math.Inf(1)), Converged: false}, nil
		}
		meanErr = sumErr / float64(len(srcMatched))
		inlierFraction = float64(len(srcMatched)) / float64(len(source))

		delta, ok := rigidAlignment(srcMatched, tgtMatched)
		if !ok {
			return Result{Pose: est, Covariance: m.covariance(math.Inf(1)), Converged: false}, nil
		}
		est = transform.Compose(est, delta)

		if math.Abs(prevErr-meanErr) < m.cfg.ConvergenceThresh {
			break
		}
		prevErr = meanErr
	}

	converged := meanErr <= m.cfg.MaxResidual && inlierFraction >= m.cfg.MinInlierFraction
	return Result{Pose: est, Covariance: m.covariance(meanErr), Converged: converged}, nil
}

// correspondences pairs each transformed source point with its nearest target
// point within the distance gate, returning the paired points and the summed
// pair distance.
func (m *ICP) correspondences(source, target []r2.Point, est transform.Pose) (srcMatched, tgtMatched []r2.Point, sumErr float64) {
	for _, sp := range source {
		moved := est.TransformPoint(sp)
		bestDist := math.Inf(1)
		var best r2.Point
		for _, tp := range target {
			if d := moved.Sub(tp).Norm(); d < bestDist {
				bestDist = d
				best = tp
			}
		}
		if bestDist <= m.cfg.MaxCorrespondDist {
			srcMatched = append(srcMatched, moved)
			tgtMatched = append(tgtMatched, best)
			sumErr += bestDist
		}
	}
	return srcMatched, tgtMatched, sumErr
}

// rigidAlignment solves for the rigid transform mapping src onto dst in closed
// form via the SVD of the cross-covariance of the centered point sets.
func rigidAlignment(src, dst []r2.Point) (transform.Pose, bool) {
	n := float64(len(src))
	var srcCentroid, dstCentroid r2.Point
	for i := range src {
		srcCentroid = srcCentroid.Add(src[i])
		dstCentroid = dstCentroid.Add(dst[i])
	}
	srcCentroid = srcCentroid.Mul(1 / n)
	dstCentroid = dstCentroid.Mul(1 / n)

	cross := mat.NewDense(2, 2, nil)
	for i := range src {
		p := src[i].Sub(srcCentroid)
		q := dst[i].Sub(dstCentroid)
		cross.Set(0, 0, cross.At(0, 0)+q.X*p.X)
		cross.Set(0, 1, cross.At(0, 1)+q.X*p.Y)
		cross.Set(1, 0, cross.At(1, 0)+q.Y*p.X)
		cross.Set(1, 1, cross.At(1, 1)+q.Y*p.Y)
	}

	var svd mat.SVD
	if !svd.Factorize(cross, mat.SVDFull) {
		return transform.Pose{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		// reflection: flip the sign of the smallest singular direction
		d := mat.NewDiagDense(2, []float64{1, -1})
		var corrected mat.Dense
		corrected.Mul(&u, d)
		rot.Mul(&corrected, v.T())
	}

	theta := math.Atan2(rot.At(1, 0), rot.At(0, 0))
	sin, cos := math.Sincos(theta)
	translation := r2.Point{
		X: dstCentroid.X - (cos*srcCentroid.X - sin*srcCentroid.Y),
		Y: dstCentroid.Y - (sin*srcCentroid.X + cos*srcCentroid.Y),
	}
	return transform.NewPose(theta, translation), true
}

// covariance reports a diagonal uncertainty grown by the residual so poorly
// aligned (but still converged) matches carry less weight in the graph.
func (m *ICP) covariance(meanErr float64) *mat.SymDense {
	scale := 1.0
	if !math.IsInf(meanErr, 1) {
		scale = 1 + meanErr
	}
	transStd := m.cfg.TranslationStd * scale
	rotStd := m.cfg.RotationStd * scale
	cov := mat.NewSymDense(3, nil)
	cov.SetSym(0, 0, transStd*transStd)
	cov.SetSym(1, 1, transStd*transStd)
	cov.SetSym(2, 2, rotStd*rotStd)
	return cov
}
