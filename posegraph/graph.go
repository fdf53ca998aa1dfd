// Package posegraph holds the pose graph that node and edge registration deciders
// read from and write into.
package posegraph

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/graphslam/spatialmath"
)

// NodeID identifies a node. Ids are assigned by the node registration authority and increase monotonically.
type NodeID uint64

// EdgeID identifies an edge by its position in the append-only edge list.
type EdgeID uint64

var (
	// ErrNodeNotFound is returned when an operation references a node that is not in the graph.
	ErrNodeNotFound = errors.New("node not found")
	// ErrSelfEdge is returned when an edge would connect a node to itself.
	ErrSelfEdge = errors.New("self edges are not allowed")
	// ErrNodeIDNotIncreasing is returned when a node is inserted with an id not larger than the last one.
	ErrNodeIDNotIncreasing = errors.New("node ids must increase monotonically")
)

// Edge is a relative pose constraint between two nodes.
type Edge struct {
	ID          EdgeID
	From        NodeID
	To          NodeID
	Relative    spatialmath.Pose
	Information *mat.SymDense
	Label       string
}

// View is what edge registration deciders need from a pose graph. Poses returned are
// the current estimates and must not be cached across calls, since an optimizer may move them.
type View interface {
	CurrentPose(id NodeID) (spatialmath.Pose, error)
	NodeExists(id NodeID) bool
	// NodeIDs returns every node id in insertion order.
	NodeIDs() []NodeID
	AppendEdge(from, to NodeID, relative spatialmath.Pose, information *mat.SymDense, label string) (EdgeID, error)
}

// Graph is an in-memory pose graph. All methods are safe for concurrent use; edge appends
// are serialized so several deciders may share one graph.
type Graph struct {
	mu    sync.RWMutex
	poses map[NodeID]spatialmath.Pose
	order []NodeID
	edges []Edge
}

var _ View = (*Graph)(nil)

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{poses: map[NodeID]spatialmath.Pose{}}
}

// AddNode inserts a node with its initial pose estimate.
func (g *Graph) AddNode(id NodeID, pose spatialmath.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.order); n > 0 && id <= g.order[n-1] {
		return errors.Wrapf(ErrNodeIDNotIncreasing, "cannot add node %d after node %d", id, g.order[n-1])
	}
	g.poses[id] = pose
	g.order = append(g.order, id)
	return nil
}

// SetPose replaces the estimate of an existing node. This is how an optimizer publishes results.
func (g *Graph) SetPose(id NodeID, pose spatialmath.Pose) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.poses[id]; !ok {
		return errors.Wrapf(ErrNodeNotFound, "node %d", id)
	}
	g.poses[id] = pose
	return nil
}

// CurrentPose returns the current estimate of the node's pose.
func (g *Graph) CurrentPose(id NodeID) (spatialmath.Pose, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	pose, ok := g.poses[id]
	if !ok {
		return nil, errors.Wrapf(ErrNodeNotFound, "node %d", id)
	}
	return pose, nil
}

// NodeExists reports whether id is in the graph.
func (g *Graph) NodeExists(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.poses[id]
	return ok
}

// NodeIDs returns every node id in insertion order.
func (g *Graph) NodeIDs() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]NodeID, len(g.order))
	copy(ids, g.order)
	return ids
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// LastNodeID returns the most recently inserted node id, if any.
func (g *Graph) LastNodeID() (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.order) == 0 {
		return 0, false
	}
	return g.order[len(g.order)-1], true
}

// AppendEdge adds a constraint between two existing nodes and returns its id.
func (g *Graph) AppendEdge(
	from, to NodeID,
	relative spatialmath.Pose,
	information *mat.SymDense,
	label string,
) (EdgeID, error) {
	if from == to {
		return 0, errors.Wrapf(ErrSelfEdge, "node %d", from)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range [2]NodeID{from, to} {
		if _, ok := g.poses[id]; !ok {
			return 0, errors.Wrapf(ErrNodeNotFound, "edge %d -> %d references node %d", from, to, id)
		}
	}
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, Edge{
		ID:          id,
		From:        from,
		To:          to,
		Relative:    relative,
		Information: information,
		Label:       label,
	})
	return id, nil
}

// Edges returns a copy of all edges in append order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := make([]Edge, len(g.edges))
	copy(edges, g.edges)
	return edges
}

// EdgesWithLabel returns the edges carrying label, in append order.
func (g *Graph) EdgesWithLabel(label string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var edges []Edge
	for _, e := range g.edges {
		if e.Label == label {
			edges = append(edges, e)
		}
	}
	return edges
}

// EdgeLabels returns the distinct edge labels present, sorted.
func (g *Graph) EdgeLabels() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, e := range g.edges {
		seen[e.Label] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
