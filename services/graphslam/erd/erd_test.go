package erd_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"go.viam.com/graphslam/icp"
	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/services/graphslam/classifier"
	"go.viam.com/graphslam/services/graphslam/erd"
	"go.viam.com/graphslam/services/graphslam/erd/erdtest"
	"go.viam.com/graphslam/services/graphslam/ledger"
	"go.viam.com/graphslam/spatialmath"
)

type harness struct {
	t       *testing.T
	graph   *posegraph.Graph
	matcher *erdtest.ScanMatcher
	decider *erd.Decider
}

func newHarness(t *testing.T, cfg erd.Config, logger logging.Logger) *harness {
	t.Helper()
	h := &harness{t: t, graph: posegraph.NewGraph(), matcher: &erdtest.ScanMatcher{}}
	d, err := erd.NewDecider(cfg, h.graph, h.matcher, logger)
	test.That(t, err, test.ShouldBeNil)
	h.decider = d
	return h
}

// scanAt feeds a 2D scan labelled label, then inserts node id at pose and notifies the decider.
func (h *harness) scanAt(id posegraph.NodeID, label string, pose spatialmath.Pose) error {
	h.t.Helper()
	test.That(h.t, h.decider.UpdateState(observation.Event{Observation: &observation.RangeScan2D{Label: label}}), test.ShouldBeNil)
	test.That(h.t, h.graph.AddNode(id, pose), test.ShouldBeNil)
	return h.decider.OnNodeInserted(context.Background(), id)
}

func (h *harness) count(name string) int {
	h.t.Helper()
	n, err := h.decider.Ledger().CountFor(name)
	test.That(h.t, err, test.ShouldBeNil)
	return n
}

func TestAcceptsGoodMatch(t *testing.T) {
	h := newHarness(t, erd.Config{ICPGoodnessThresh: 0.6, ICPMaxDistance: 5}, logging.NewTestLogger(t))
	h.matcher.AlignFunc = erdtest.ConstantGoodness(0.8)

	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.matcher.Calls(), test.ShouldBeEmpty)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(2, 0, 0)), test.ShouldBeNil)

	calls := h.matcher.Calls()
	test.That(t, calls, test.ShouldHaveLength, 1)
	test.That(t, calls[0].Source.SensorLabel(), test.ShouldEqual, "n1")
	test.That(t, calls[0].Target.SensorLabel(), test.ShouldEqual, "n0")
	test.That(t, spatialmath.PoseAlmostEqual(calls[0].InitialGuess, spatialmath.NewPose2D(2, 0, 0)), test.ShouldBeTrue)

	edges := h.graph.Edges()
	test.That(t, edges, test.ShouldHaveLength, 1)
	test.That(t, edges[0].From, test.ShouldEqual, posegraph.NodeID(0))
	test.That(t, edges[0].To, test.ShouldEqual, posegraph.NodeID(1))
	test.That(t, edges[0].Label, test.ShouldEqual, erd.EdgeTypeICP2D)
	test.That(t, edges[0].Information.SymmetricDim(), test.ShouldEqual, posegraph.DOF2D)

	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)
	test.That(t, h.decider.Ledger().TotalCount(), test.ShouldEqual, 1)
	test.That(t, h.decider.Ledger().LoopClosureCount(), test.ShouldEqual, 0)
	test.That(t, h.decider.Modality(), test.ShouldEqual, classifier.ModalityRangeScan2D)
}

func TestRejectsPoorMatch(t *testing.T) {
	h := newHarness(t, erd.Config{ICPGoodnessThresh: 0.6, ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(0.5)

	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(2, 0, 0)), test.ShouldBeNil)

	test.That(t, h.matcher.Calls(), test.ShouldHaveLength, 1)
	test.That(t, h.graph.Edges(), test.ShouldBeEmpty)
	test.That(t, h.decider.Ledger().TotalCount(), test.ShouldEqual, 0)
	test.That(t, h.decider.Stats().BelowThreshold, test.ShouldEqual, 1)
}

func TestGoodnessAtThresholdIsAccepted(t *testing.T) {
	h := newHarness(t, erd.Config{ICPGoodnessThresh: 0.6, ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(0.6)

	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(5, 0, 0)), test.ShouldBeNil)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)
}

func TestUnsuccessfulMatchIsSkipped(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = func(context.Context, observation.Observation, observation.Observation, spatialmath.Pose) (icp.Result, error) {
		return icp.Result{Goodness: 1}, nil
	}
	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.graph.Edges(), test.ShouldBeEmpty)
	test.That(t, h.decider.Stats().Unsuccessful, test.ShouldEqual, 1)
}

func TestLoopClosures(t *testing.T) {
	h := newHarness(t, erd.Config{ICPGoodnessThresh: 0.5, ICPMaxDistance: 5, LCMinNodeIDDiff: 50}, nil)
	h.matcher.AlignFunc = erdtest.GoodnessByTarget(map[string]float64{"n10": 0.9, "n30": 0.7})

	test.That(t, h.scanAt(10, "n10", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(30, "n30", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.decider.JustInsertedLoopClosure(), test.ShouldBeFalse)
	test.That(t, h.decider.Ledger().LoopClosureCount(), test.ShouldEqual, 0)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)

	// both prior nodes are equally close; each match yields its own edge
	test.That(t, h.scanAt(70, "n70", spatialmath.NewPose2D(0.5, 0, 0)), test.ShouldBeNil)
	test.That(t, h.decider.JustInsertedLoopClosure(), test.ShouldBeTrue)
	test.That(t, h.decider.Ledger().LoopClosureCount(), test.ShouldEqual, 1)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 3)

	calls := h.matcher.Calls()
	test.That(t, calls, test.ShouldHaveLength, 3)
	test.That(t, calls[1].Target.SensorLabel(), test.ShouldEqual, "n10")
	test.That(t, calls[2].Target.SensorLabel(), test.ShouldEqual, "n30")

	test.That(t, h.decider.IsLoopClosure(10, 70), test.ShouldBeTrue)
	test.That(t, h.decider.IsLoopClosure(70, 10), test.ShouldBeTrue)
	test.That(t, h.decider.IsLoopClosure(10, 30), test.ShouldBeFalse)

	stats := h.decider.Stats()
	test.That(t, stats.Attempts, test.ShouldEqual, 3)
	test.That(t, stats.Accepted, test.ShouldEqual, 3)
	test.That(t, stats.GoodnessMedian, test.ShouldAlmostEqual, 0.9)
}

func TestCandidatesBeyondRangeAreNotMatched(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)
	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(5.01, 0, 0)), test.ShouldBeNil)
	test.That(t, h.matcher.Calls(), test.ShouldBeEmpty)
}

func TestNodeWithoutScanIsNotATarget(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)

	test.That(t, h.graph.AddNode(0, spatialmath.NewZeroPose()), test.ShouldBeNil)
	test.That(t, h.decider.OnNodeInserted(context.Background(), 0), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.matcher.Calls(), test.ShouldBeEmpty)
}

func TestOnNodeInsertedIsIdempotent(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)

	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)

	test.That(t, h.decider.OnNodeInserted(context.Background(), 1), test.ShouldBeNil)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)
	test.That(t, h.matcher.Calls(), test.ShouldHaveLength, 1)
	test.That(t, h.graph.Edges(), test.ShouldHaveLength, 1)
}

func TestInvalidDataset(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	h := newHarness(t, erd.Config{ICPMaxDistance: 5, DatasetFailureThreshold: 5}, logger)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)

	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)

	imu := observation.Event{Observation: &observation.Generic{Type: "imu"}}
	for i := 0; i < 4; i++ {
		test.That(t, h.decider.UpdateState(imu), test.ShouldBeNil)
	}
	test.That(t, h.decider.Invalid(), test.ShouldBeFalse)

	err := h.decider.UpdateState(imu)
	var invalid *erd.InvalidDatasetError
	test.That(t, errors.As(err, &invalid), test.ShouldBeTrue)
	test.That(t, invalid.Failures, test.ShouldEqual, 5)
	test.That(t, invalid.Threshold, test.ShouldEqual, 5)
	test.That(t, h.decider.Invalid(), test.ShouldBeTrue)

	// a later scan is ignored and the signal is not repeated
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.decider.UpdateState(imu), test.ShouldBeNil)
	test.That(t, h.decider.Invalid(), test.ShouldBeTrue)
	test.That(t, h.matcher.Calls(), test.ShouldBeEmpty)
	test.That(t, h.decider.Ledger().TotalCount(), test.ShouldEqual, 0)
	test.That(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), test.ShouldEqual, 1)
}

func TestUsageErrors(t *testing.T) {
	h := newHarness(t, erd.Config{}, nil)

	err := h.decider.OnNodeInserted(context.Background(), 4)
	test.That(t, errors.Is(err, posegraph.ErrNodeNotFound), test.ShouldBeTrue)

	err = h.decider.Ledger().RegisterType(erd.EdgeTypeICP2D)
	test.That(t, errors.Is(err, ledger.ErrDuplicateType), test.ShouldBeTrue)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 0)
	test.That(t, h.count(erd.EdgeTypeICP3D), test.ShouldEqual, 0)

	_, err = erd.NewDecider(erd.Config{ICPGoodnessThresh: 2}, h.graph, h.matcher, nil)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = erd.NewDecider(erd.Config{}, nil, h.matcher, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMatcherErrorPropagates(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	boom := errors.New("matcher exploded")
	h.matcher.AlignFunc = func(context.Context, observation.Observation, observation.Observation, spatialmath.Pose) (icp.Result, error) {
		return icp.Result{}, boom
	}
	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	err := h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0))
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
	test.That(t, h.graph.Edges(), test.ShouldBeEmpty)
}

func TestMatcherErrorCommitsNothing(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)
	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)
	test.That(t, h.graph.Edges(), test.ShouldHaveLength, 1)

	// n1 is the nearer candidate and matches, then n0 fails
	boom := errors.New("matcher exploded")
	good := erdtest.ConstantGoodness(1)
	h.matcher.AlignFunc = func(ctx context.Context, source, target observation.Observation, guess spatialmath.Pose) (icp.Result, error) {
		if target.SensorLabel() == "n0" {
			return icp.Result{}, boom
		}
		return good(ctx, source, target, guess)
	}
	err := h.scanAt(2, "n2", spatialmath.NewPose2D(0.9, 0, 0))
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
	test.That(t, h.graph.Edges(), test.ShouldHaveLength, 1)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 1)
	test.That(t, h.decider.Stats().Attempts, test.ShouldEqual, 1)

	h.matcher.AlignFunc = good
	test.That(t, h.decider.OnNodeInserted(context.Background(), 2), test.ShouldBeNil)
	test.That(t, h.graph.Edges(), test.ShouldHaveLength, 3)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 3)
	test.That(t, h.decider.Stats().Attempts, test.ShouldEqual, 3)
}

func TestSpatialScansUseSpatialEdgeType(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(1)

	for i, x := range []float64{0, 1} {
		id := posegraph.NodeID(i)
		ev := observation.Event{Observation: &observation.RangeScan3D{Label: "lidar"}}
		test.That(t, h.decider.UpdateState(ev), test.ShouldBeNil)
		test.That(t, h.graph.AddNode(id, spatialmath.NewPose2D(x, 0, 0)), test.ShouldBeNil)
		test.That(t, h.decider.OnNodeInserted(context.Background(), id), test.ShouldBeNil)
	}
	test.That(t, h.count(erd.EdgeTypeICP3D), test.ShouldEqual, 1)
	test.That(t, h.count(erd.EdgeTypeICP2D), test.ShouldEqual, 0)
	test.That(t, h.graph.Edges()[0].Information.SymmetricDim(), test.ShouldEqual, posegraph.DOF3D)
	test.That(t, h.decider.EdgeStats(), test.ShouldResemble, map[string]int{erd.EdgeTypeICP2D: 0, erd.EdgeTypeICP3D: 1})
}

func TestDescriptiveReport(t *testing.T) {
	h := newHarness(t, erd.Config{ICPMaxDistance: 5, ExternalImageDirectory: "/mnt/images"}, nil)
	h.matcher.AlignFunc = erdtest.ConstantGoodness(0.9)
	test.That(t, h.scanAt(0, "n0", spatialmath.NewPose2D(0, 0, 0)), test.ShouldBeNil)
	test.That(t, h.scanAt(1, "n1", spatialmath.NewPose2D(1, 0, 0)), test.ShouldBeNil)

	report := h.decider.DescriptiveReport()
	test.That(t, report, test.ShouldContainSubstring, "2D range scan")
	test.That(t, report, test.ShouldContainSubstring, "icp_goodness_thresh")
	test.That(t, report, test.ShouldContainSubstring, "/mnt/images")
	test.That(t, report, test.ShouldContainSubstring, "0.900")
	test.That(t, report, test.ShouldContainSubstring, "Total edges: 1")
}
