package solver

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// Config tunes the Gauss-Newton iteration.
type Config struct {
	// MaxIterations bounds the relinearization passes per Update.
	MaxIterations int
	// Tolerance stops iterating once the update step norm drops below it.
	Tolerance float64
	// Damping is added to the normal-equation diagonal so nodes that lost
	// their observation constraint (non-convergent scan match with odometry
	// constraints disabled) do not make the system singular.
	Damping float64
}

// DefaultConfig returns the iteration settings used in deployment.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 25,
		Tolerance:     1e-8,
		Damping:       1e-6,
	}
}

type factor struct {
	constraint posegraph.Constraint
	sqrtInfo   *mat.TriDense // upper Cholesky factor of the information matrix
}

// GaussNewton is a nonlinear least-squares pose-graph solver. Each Update
// appends the new factors and values and re-optimizes the full graph by
// relinearizing around the current estimates, so callers get incremental
// semantics without resubmitting old elements.
type GaussNewton struct {
	cfg     Config
	factors []factor
	values  map[int]transform.Pose
	order   []int
}

// NewGaussNewton returns an empty solver.
func NewGaussNewton(cfg Config) *GaussNewton {
	return &GaussNewton{
		cfg:    cfg,
		values: map[int]transform.Pose{},
	}
}

// Update ingests new constraints and initial values and re-optimizes. It is an
// error to submit an initial value for a node the solver already tracks, or a
// constraint referencing a node it has never seen. A failed Update leaves the
// solver's state exactly as it was, so the caller may retry.
func (s *GaussNewton) Update(constraints []posegraph.Constraint, initials map[int]transform.Pose) error {
	ids := make([]int, 0, len(initials))
	for id := range initials {
		if _, ok := s.values[id]; ok {
			return errors.Errorf("initial value for node %d was already submitted", id)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)

	known := func(id int) bool {
		if _, ok := s.values[id]; ok {
			return true
		}
		_, ok := initials[id]
		return ok
	}
	for _, c := range constraints {
		if !known(c.From) {
			return errors.Errorf("constraint references node %d with no value", c.From)
		}
		if !known(c.To) {
			return errors.Errorf("constraint references node %d with no value", c.To)
		}
	}

	prevPoses := make(map[int]transform.Pose, len(s.values))
	for id, pose := range s.values {
		prevPoses[id] = pose
	}
	prevOrder := len(s.order)
	prevFactors := len(s.factors)

	for _, id := range ids {
		s.values[id] = initials[id]
		s.order = append(s.order, id)
	}
	for _, c := range constraints {
		s.factors = append(s.factors, factor{constraint: c, sqrtInfo: sqrtInformation(c.Covariance)})
	}

	if len(s.order) == 0 {
		return nil
	}
	if err := s.optimize(); err != nil {
		for _, id := range ids {
			delete(s.values, id)
		}
		for id, pose := range prevPoses {
			s.values[id] = pose
		}
		s.order = s.order[:prevOrder]
		s.factors = s.factors[:prevFactors]
		return err
	}
	return nil
}

// Estimate returns a copy of the latest optimized pose for every node ever
// submitted.
func (s *GaussNewton) Estimate() map[int]transform.Pose {
	estimates := make(map[int]transform.Pose, len(s.values))
	for id, pose := range s.values {
		estimates[id] = pose
	}
	return estimates
}

func (s *GaussNewton) optimize() error {
	n := len(s.order)
	index := make(map[int]int, n)
	for i, id := range s.order {
		index[id] = i
	}

	rows := 3 * len(s.factors)
	cols := 3 * n
	if rows == 0 {
		return nil
	}

	for iter := 0; iter < s.cfg.MaxIterations; iter++ {
		jac := mat.NewDense(rows, cols, nil)
		residual := mat.NewVecDense(rows, nil)

		for k, f := range s.factors {
			s.linearize(f, k, index, jac, residual)
		}

		// normal equations with a small ridge, JᵀJ + λI
		var normal mat.Dense
		normal.Mul(jac.T(), jac)
		for i := 0; i < cols; i++ {
			normal.Set(i, i, normal.At(i, i)+s.cfg.Damping)
		}
		rhs := mat.NewVecDense(cols, nil)
		rhs.MulVec(jac.T(), residual)
		rhs.ScaleVec(-1, rhs)

		var delta mat.VecDense
		if err := delta.SolveVec(&normal, rhs); err != nil {
			return errors.Wrap(err, "pose graph normal equations are singular")
		}

		for i, id := range s.order {
			pose := s.values[id]
			pose.Translation.X += delta.AtVec(3 * i)
			pose.Translation.Y += delta.AtVec(3*i + 1)
			pose.Theta = transform.AngleMod(pose.Theta + delta.AtVec(3*i+2))
			s.values[id] = pose
		}

		if mat.Norm(&delta, 2) < s.cfg.Tolerance {
			break
		}
	}
	return nil
}

// linearize writes the whitened residual and Jacobian rows of one factor.
func (s *GaussNewton) linearize(f factor, row int, index map[int]int, jac *mat.Dense, residual *mat.VecDense) {
	c := f.constraint
	res := make([]float64, 3)

	if c.Kind == posegraph.Prior {
		pose := s.values[c.To]
		res[0] = pose.Translation.X - c.Measurement.Translation.X
		res[1] = pose.Translation.Y - c.Measurement.Translation.Y
		res[2] = transform.AngleMod(pose.Theta - c.Measurement.Theta)

		block := identity3()
		whiten(f.sqrtInfo, res, block)
		setBlock(jac, 3*row, 3*index[c.To], block)
		for i := 0; i < 3; i++ {
			residual.SetVec(3*row+i, res[i])
		}
		return
	}

	from := s.values[c.From]
	to := s.values[c.To]
	sin, cos := math.Sincos(from.Theta)
	dx := to.Translation.X - from.Translation.X
	dy := to.Translation.Y - from.Translation.Y

	// predicted pose of To in From's frame
	hx := cos*dx + sin*dy
	hy := -sin*dx + cos*dy
	res[0] = hx - c.Measurement.Translation.X
	res[1] = hy - c.Measurement.Translation.Y
	res[2] = transform.AngleMod(to.Theta - from.Theta - c.Measurement.Theta)

	fromBlock := mat.NewDense(3, 3, []float64{
		-cos, -sin, hy,
		sin, -cos, -hx,
		0, 0, -1,
	})
	toBlock := mat.NewDense(3, 3, []float64{
		cos, sin, 0,
		-sin, cos, 0,
		0, 0, 1,
	})

	whiten(f.sqrtInfo, res, fromBlock, toBlock)
	setBlock(jac, 3*row, 3*index[c.From], fromBlock)
	setBlock(jac, 3*row, 3*index[c.To], toBlock)
	for i := 0; i < 3; i++ {
		residual.SetVec(3*row+i, res[i])
	}
}

// sqrtInformation returns the upper Cholesky factor of the inverse covariance.
// A nil covariance (or one that cannot be inverted) falls back to unit weight.
func sqrtInformation(cov *mat.SymDense) *mat.TriDense {
	if cov == nil {
		return nil
	}
	var inv mat.Dense
	if err := inv.Inverse(cov); err != nil {
		return nil
	}
	info := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			info.SetSym(i, j, (inv.At(i, j)+inv.At(j, i))/2)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(info) {
		return nil
	}
	u := mat.NewTriDense(3, mat.Upper, nil)
	chol.UTo(u)
	return u
}

// whiten scales the residual and Jacobian blocks by the square-root
// information matrix, in place. A nil factor means unit weight.
func whiten(sqrtInfo *mat.TriDense, res []float64, blocks ...*mat.Dense) {
	if sqrtInfo == nil {
		return
	}
	weighted := make([]float64, 3)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			weighted[i] += sqrtInfo.At(i, j) * res[j]
		}
	}
	copy(res, weighted)
	for _, block := range blocks {
		var scaled mat.Dense
		scaled.Mul(sqrtInfo, block)
		block.Copy(&scaled)
	}
}

func setBlock(dst *mat.Dense, row, col int, block *mat.Dense) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(row+i, col+j, block.At(i, j))
		}
	}
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
