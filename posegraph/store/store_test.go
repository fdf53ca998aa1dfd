package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/spatialmath"
)

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "snapshots.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	}()

	g := posegraph.NewGraph()
	test.That(t, g.AddNode(0, spatialmath.NewZeroPose()), test.ShouldBeNil)
	test.That(t, g.AddNode(1, spatialmath.NewPose2D(1, 0.5, 0.3)), test.ShouldBeNil)
	test.That(t, g.AddNode(4, spatialmath.NewPose2D(2, 1, 0.6)), test.ShouldBeNil)
	_, err = g.AppendEdge(0, 1, spatialmath.NewPose2D(1, 0.5, 0.3), posegraph.ScaledInformation(posegraph.DOF2D, 4), "Odometry")
	test.That(t, err, test.ShouldBeNil)
	_, err = g.AppendEdge(0, 4, spatialmath.NewPose2D(2, 1, 0.6), nil, "ICP2D")
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.Save(ctx, "run-1", g), test.ShouldBeNil)

	loaded, err := s.Load(ctx, "run-1")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded.NodeIDs(), test.ShouldResemble, []posegraph.NodeID{0, 1, 4})

	pose, err := loaded.CurrentPose(4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatialmath.PoseAlmostEqualEps(pose, spatialmath.NewPose2D(2, 1, 0.6), 1e-9), test.ShouldBeTrue)

	edges := loaded.Edges()
	test.That(t, len(edges), test.ShouldEqual, 2)
	test.That(t, edges[0].Label, test.ShouldEqual, "Odometry")
	test.That(t, edges[0].Information.At(2, 2), test.ShouldEqual, 4.)
	test.That(t, edges[1].From, test.ShouldEqual, posegraph.NodeID(0))
	test.That(t, edges[1].To, test.ShouldEqual, posegraph.NodeID(4))
	test.That(t, edges[1].Information, test.ShouldBeNil)

	_, err = s.Load(ctx, "missing")
	test.That(t, errors.Is(err, ErrRunNotFound), test.ShouldBeTrue)

	// run ids are unique
	test.That(t, s.Save(ctx, "run-1", g), test.ShouldNotBeNil)

	runs, err := s.Runs(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, runs, test.ShouldResemble, []string{"run-1"})
}

func TestRunsInSaveOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "snapshots.db"))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	}()

	g := posegraph.NewGraph()
	test.That(t, g.AddNode(0, spatialmath.NewZeroPose()), test.ShouldBeNil)

	// saved within the same second, in an order unrelated to the ids
	ids := []string{"f3c1", "0a9e", "b7d2", "09ff"}
	for _, id := range ids {
		test.That(t, s.Save(ctx, id, g), test.ShouldBeNil)
	}
	runs, err := s.Runs(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, runs, test.ShouldResemble, ids)
}
