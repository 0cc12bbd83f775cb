// Package posegraph stores the nodes and constraints accumulated by the SLAM
// front end, along with each node's cached pose estimate in the map frame.
package posegraph

import (
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/viamrobotics/viam-posegraph/transform"
)

// Kind distinguishes how a constraint was produced. The structure is identical
// for both kinds.
type Kind int

const (
	// Prior anchors node 0 to the global frame.
	Prior Kind = iota
	// Observation relates two nodes, successive or not, through a relative
	// pose measurement.
	Observation
)

// Constraint is a directed relative-pose measurement between two nodes with a
// 3x3 covariance over x, y, and heading.
type Constraint struct {
	From        int
	To          int
	Measurement transform.Pose
	Covariance  *mat.SymDense
	Kind        Kind
}

// Node is a read-only snapshot of one graph node: its id, its latest estimated
// pose in the map frame, and its point cloud in the local sensor frame at
// capture time. The cloud slice is shared and must not be mutated.
type Node struct {
	ID    int
	Pose  transform.Pose
	Cloud []r2.Point
}

type node struct {
	id    int
	pose  transform.Pose
	cloud []r2.Point
}

// Graph is the append-only pose graph store. Nodes and constraints are only
// ever added; node poses are overwritten in place by optimizer results.
type Graph struct {
	mu          sync.RWMutex
	nodes       []*node
	constraints []Constraint
}

// NewGraph returns an empty pose graph.
func NewGraph() *Graph {
	return &Graph{}
}

// AddNode appends a node with the given initial pose estimate and local point
// cloud, returning its id. Ids are assigned in insertion order and never
// reused.
func (g *Graph) AddNode(initial transform.Pose, cloud []r2.Point) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := len(g.nodes)
	g.nodes = append(g.nodes, &node{id: id, pose: initial, cloud: cloud})
	return id
}

// AddConstraint appends a constraint after validating the graph invariants:
// both endpoints must already exist, and node 0 must carry its prior before
// any other constraint is accepted.
func (g *Graph) AddConstraint(c Constraint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addConstraintLocked(c)
}

func (g *Graph) addConstraintLocked(c Constraint) error {
	if c.From < 0 || c.From >= len(g.nodes) {
		return errors.Errorf("constraint references unknown node %d", c.From)
	}
	if c.To < 0 || c.To >= len(g.nodes) {
		return errors.Errorf("constraint references unknown node %d", c.To)
	}
	hasPrior := len(g.constraints) > 0 && g.constraints[0].Kind == Prior
	if c.Kind == Prior {
		if c.To != 0 {
			return errors.Errorf("prior constraint must anchor node 0, got node %d", c.To)
		}
		if hasPrior {
			return errors.New("node 0 already carries a prior constraint")
		}
	} else if !hasPrior {
		return errors.New("cannot add an observation constraint before the prior on node 0")
	}
	g.constraints = append(g.constraints, c)
	return nil
}

// ReplaceConstraints swaps the entire constraint set, validating the new set
// under the same invariants. Used by the offline optimization pass, which
// rebuilds every constraint from scratch.
func (g *Graph) ReplaceConstraints(constraints []Constraint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.constraints
	g.constraints = nil
	for _, c := range constraints {
		if err := g.addConstraintLocked(c); err != nil {
			g.constraints = old
			return err
		}
	}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Node returns a snapshot of the node with the given id.
func (g *Graph) Node(id int) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || id >= len(g.nodes) {
		return Node{}, false
	}
	n := g.nodes[id]
	return Node{ID: n.id, Pose: n.pose, Cloud: n.cloud}, true
}

// Nodes returns snapshots of all nodes ordered by id.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		nodes[i] = Node{ID: n.id, Pose: n.pose, Cloud: n.cloud}
	}
	return nodes
}

// Constraints returns a copy of the current constraint set.
func (g *Graph) Constraints() []Constraint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	constraints := make([]Constraint, len(g.constraints))
	copy(constraints, g.constraints)
	return constraints
}

// SetPoses overwrites the cached pose of every listed node with its optimized
// value. Each node's pose is replaced in a single assignment so readers never
// observe a partially updated pose.
func (g *Graph) SetPoses(poses map[int]transform.Pose) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, pose := range poses {
		if id < 0 || id >= len(g.nodes) {
			continue
		}
		g.nodes[id].pose = pose
	}
}

// Map projects every node's point cloud through its current estimated pose
// into the map frame and concatenates the results. It always reflects the
// latest optimized poses; ordering carries no meaning.
func (g *Graph) Map() []r2.Point {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var points []r2.Point
	for _, n := range g.nodes {
		for _, pt := range n.cloud {
			points = append(points, n.pose.TransformPoint(pt))
		}
	}
	return points
}
