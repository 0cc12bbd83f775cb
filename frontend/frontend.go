// Package frontend drives the pose graph from streaming laser and odometry
// observations: it decides when a scan becomes a new node, builds the node's
// constraints through the scan matcher, and keeps the graph's pose cache in
// sync with the solver.
package frontend

import (
	"context"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viamrobotics/viam-posegraph/pointcloud"
	"github.com/viamrobotics/viam-posegraph/posegraph"
	"github.com/viamrobotics/viam-posegraph/scanmatch"
	"github.com/viamrobotics/viam-posegraph/solver"
	"github.com/viamrobotics/viam-posegraph/transform"
)

// MotionModel scales the odometry-constraint noise with the measured
// displacement: larger motions carry larger uncertainty.
type MotionModel struct {
	TransErrFromTrans float64
	TransErrFromRot   float64
	RotErrFromTrans   float64
	RotErrFromRot     float64
}

// Config holds the front end's tuning.
type Config struct {
	// MinTransDiff and MinAngleDiff are the admission thresholds: a scan
	// becomes a node once the accumulated odometry translation exceeds the
	// former or the heading change since the last node exceeds the latter.
	MinTransDiff float64
	MinAngleDiff float64

	// NonSuccessiveConstraints enables loop-style constraints between the
	// predecessor and earlier, spatially nearby nodes.
	NonSuccessiveConstraints bool
	// MaxFactorsPerNode bounds how many non-successive constraints a single
	// admission may add.
	MaxFactorsPerNode int
	// MaxNodeDist is the Euclidean gate for non-successive candidates.
	MaxNodeDist float64

	// ConsiderOdomConstraint additionally links successive nodes with the raw
	// odometry displacement under the motion model noise.
	ConsiderOdomConstraint bool
	MotionModel            MotionModel

	// Origin anchors node 0 in the map frame with the prior sigmas below.
	Origin        transform.Pose
	PriorXStd     float64
	PriorYStd     float64
	PriorThetaStd float64

	// SensorOffset is the laser's position relative to the robot origin.
	SensorOffset r2.Point
}

// FrontEnd is the pose-graph front end. All mutation flows through a single
// mutex so odometry updates and laser-triggered graph extensions never
// interleave; reads go through the graph's own snapshot queries.
type FrontEnd struct {
	mu        sync.Mutex
	cfg       Config
	logger    logging.Logger
	matcher   scanmatch.Matcher
	newSolver func() solver.Interface
	online    solver.Interface
	graph     *posegraph.Graph
	projector pointcloud.Projector

	odomInitialized  bool
	prevOdomLoc      r2.Point
	prevOdomAngle    float64
	cumulativeDist   float64
	lastNodeOdomPose transform.Pose

	stopped bool
}

// New returns a front end using the given scan matcher and solver factory. The
// factory is invoked once for the online solver and again for the offline
// rebuild, which must start from a fresh instance.
func New(cfg Config, matcher scanmatch.Matcher, newSolver func() solver.Interface, logger logging.Logger) *FrontEnd {
	return &FrontEnd{
		cfg:       cfg,
		logger:    logger,
		matcher:   matcher,
		newSolver: newSolver,
		online:    newSolver(),
		graph:     posegraph.NewGraph(),
		projector: pointcloud.NewProjector(cfg.SensorOffset),
	}
}

// ObserveOdometry folds a raw odometry sample into the accumulator: the
// running pose estimate and the cumulative distance traveled since the last
// admitted node.
func (f *FrontEnd) ObserveOdometry(loc r2.Point, angle float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.odomInitialized {
		f.odomInitialized = true
		f.prevOdomLoc = loc
		f.prevOdomAngle = angle
		return
	}
	f.cumulativeDist += loc.Sub(f.prevOdomLoc).Norm()
	f.prevOdomLoc = loc
	f.prevOdomAngle = angle
}

// ObserveLaser runs the admission policy against the current scan and, on
// admission, extends the graph with a new node and its constraints and feeds
// them to the incremental solver. Collaborator failures are returned; a
// non-convergent scan match is not a failure.
func (f *FrontEnd) ObserveLaser(ctx context.Context, scan pointcloud.LaserScan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		f.logger.Debug("laser observation ignored after stop")
		return nil
	}
	if !f.shouldAddNode() {
		return nil
	}
	return f.addNode(ctx, f.projector.Project(scan))
}

// shouldAddNode is the admission policy. The very first laser observation
// always admits, bootstrapping node 0. The cumulative-distance counter resets
// here on admission; the angular reference updates only when the new node's
// odometry pose is recorded.
func (f *FrontEnd) shouldAddNode() bool {
	if f.graph.Len() == 0 {
		f.cumulativeDist = 0
		return true
	}
	angleDiff := transform.AngleDist(f.prevOdomAngle, f.lastNodeOdomPose.Theta)
	if f.cumulativeDist > f.cfg.MinTransDiff || angleDiff > f.cfg.MinAngleDiff {
		f.cumulativeDist = 0
		return true
	}
	return false
}

func (f *FrontEnd) addNode(ctx context.Context, cloud []r2.Point) error {
	nodes := f.graph.Nodes()

	var initial transform.Pose
	if len(nodes) == 0 {
		initial = f.cfg.Origin
	} else {
		displacement := transform.Relative(transform.NewPose(f.prevOdomAngle, f.prevOdomLoc), f.lastNodeOdomPose)
		initial = transform.Compose(displacement, nodes[len(nodes)-1].Pose)
	}
	candidate := posegraph.Node{ID: len(nodes), Pose: initial, Cloud: cloud}

	// all collaborator calls happen before the graph is touched so a failure
	// leaves the store exactly as it was
	constraints, err := f.buildConstraints(ctx, nodes, candidate)
	if err != nil {
		return err
	}
	if err := f.online.Update(constraints, map[int]transform.Pose{candidate.ID: initial}); err != nil {
		return errors.Wrap(err, "incremental solver update failed")
	}

	id := f.graph.AddNode(initial, cloud)
	for _, c := range constraints {
		if err := f.graph.AddConstraint(c); err != nil {
			return errors.Wrap(err, "pose graph invariant violated")
		}
	}
	f.lastNodeOdomPose = transform.NewPose(f.prevOdomAngle, f.prevOdomLoc)
	f.graph.SetPoses(f.online.Estimate())

	f.logger.Debugf("added node %d with %d constraints", id, len(constraints))
	return nil
}

// Stop freezes admission and runs the one-time offline optimization pass: the
// incremental solver's state is discarded, every constraint is rebuilt from
// scratch in node-id order, and a fresh solver refines the whole graph at
// once. A second call is a no-op.
func (f *FrontEnd) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		f.logger.Debug("stop requested more than once")
		return nil
	}
	f.stopped = true

	// the offline pass has no cancellation model: once it begins it runs to
	// completion even if the caller's context is already done
	ctx = context.WithoutCancel(ctx)

	nodes := f.graph.Nodes()
	if len(nodes) == 0 {
		return nil
	}

	batch := f.newSolver()
	var rebuilt []posegraph.Constraint
	initials := make(map[int]transform.Pose, len(nodes))
	for _, node := range nodes {
		constraints, err := f.buildConstraints(ctx, nodes[:node.ID], node)
		if err != nil {
			return errors.Wrapf(err, "rebuilding constraints for node %d", node.ID)
		}
		rebuilt = append(rebuilt, constraints...)
		initials[node.ID] = node.Pose
	}

	if err := batch.Update(rebuilt, initials); err != nil {
		return errors.Wrap(err, "batch solve failed")
	}
	if err := f.graph.ReplaceConstraints(rebuilt); err != nil {
		return errors.Wrap(err, "rebuilt constraints violate graph invariants")
	}
	f.graph.SetPoses(batch.Estimate())
	f.online = batch

	f.logger.Infof("offline optimization complete: %d nodes, %d constraints", len(nodes), len(rebuilt))
	return nil
}

// Pose returns the current best-known robot pose: the last node's optimized
// pose composed with the odometry displacement accumulated since that node.
// With no nodes it returns the identity pose.
func (f *FrontEnd) Pose() transform.Pose {
	f.mu.Lock()
	defer f.mu.Unlock()
	node, ok := f.graph.Node(f.graph.Len() - 1)
	if !ok {
		return transform.Pose{}
	}
	displacement := transform.Relative(transform.NewPose(f.prevOdomAngle, f.prevOdomLoc), f.lastNodeOdomPose)
	return transform.Compose(displacement, node.Pose)
}

// Nodes returns snapshots of all graph nodes ordered by id.
func (f *FrontEnd) Nodes() []posegraph.Node {
	return f.graph.Nodes()
}

// Map assembles every node's point cloud in the map frame using the latest
// optimized poses.
func (f *FrontEnd) Map() []r2.Point {
	return f.graph.Map()
}

// Constraints returns a copy of the current constraint set.
func (f *FrontEnd) Constraints() []posegraph.Constraint {
	return f.graph.Constraints()
}
