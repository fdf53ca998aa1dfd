// Package nearby finds the pose graph nodes within a distance of a given node.
package nearby

import (
	"cmp"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/spatialmath"
)

// Candidate is a node within range of the query node.
type Candidate struct {
	ID       posegraph.NodeID
	Distance float64
}

// Finder runs a brute force scan over every node of the graph. Graphs are a few thousand
// nodes, so no spatial index is kept; poses are read fresh on every call.
type Finder struct {
	// IncludeOrientation adds the rotation angle between poses to the distance.
	IncludeOrientation bool
}

// FindCandidates returns every node other than from whose current pose is within maxDistance
// (inclusive) of from's, ordered by ascending distance and then ascending id.
func (f Finder) FindCandidates(graph posegraph.View, from posegraph.NodeID, maxDistance float64) ([]Candidate, error) {
	origin, err := graph.CurrentPose(from)
	if err != nil {
		return nil, errors.Wrap(err, "finding nearby nodes")
	}

	var candidates []Candidate
	for _, id := range lo.Without(graph.NodeIDs(), from) {
		pose, err := graph.CurrentPose(id)
		if err != nil {
			return nil, errors.Wrap(err, "finding nearby nodes")
		}
		d := f.distance(origin, pose)
		if d <= maxDistance {
			candidates = append(candidates, Candidate{ID: id, Distance: d})
		}
	}
	slices.SortFunc(candidates, func(a, b Candidate) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return candidates, nil
}

func (f Finder) distance(a, b spatialmath.Pose) float64 {
	if f.IncludeOrientation {
		return spatialmath.DistanceWithOrientation(a, b)
	}
	return spatialmath.Distance(a, b)
}

// IDs returns the ids of candidates in order.
func IDs(candidates []Candidate) []posegraph.NodeID {
	return lo.Map(candidates, func(c Candidate, _ int) posegraph.NodeID { return c.ID })
}
