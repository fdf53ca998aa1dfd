// Package erd contains the ICP goodness edge registration decider. It matches the range scan
// taken at every newly inserted pose graph node against the scans of nearby prior nodes and
// adds a constraint for every match good enough to trust.
package erd

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/graphslam/icp"
	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/services/graphslam/classifier"
	"go.viam.com/graphslam/services/graphslam/ledger"
	"go.viam.com/graphslam/services/graphslam/nearby"
	"go.viam.com/graphslam/spatialmath"
)

// Edge type labels written by the decider, one per scan modality.
const (
	EdgeTypeICP2D = "ICP2D"
	EdgeTypeICP3D = "ICP3D"
)

// ScanMatcher aligns a source scan against a target scan. The returned pose is the source
// scan's frame expressed in the target scan's frame.
type ScanMatcher interface {
	Align(ctx context.Context, source, target observation.Observation, initialGuess spatialmath.Pose) (icp.Result, error)
}

// InvalidDatasetError is returned once, by the UpdateState call that found the dataset
// carries no range scans the decider can use.
type InvalidDatasetError struct {
	Failures  int
	Threshold int
}

func (e *InvalidDatasetError) Error() string {
	return fmt.Sprintf("dataset is invalid for ICP edge registration: %d consecutive events without a range scan (threshold %d)",
		e.Failures, e.Threshold)
}

// Decider registers ICP constraints between nearby nodes of a pose graph.
// It is meant to be driven from a single goroutine.
type Decider struct {
	cfg     Config
	graph   posegraph.View
	matcher ScanMatcher
	logger  logging.Logger

	classifier *classifier.Classifier
	finder     nearby.Finder
	ledger     *ledger.Ledger

	// scans holds the scan each node was registered with.
	scans                   map[posegraph.NodeID]observation.Observation
	justInsertedLoopClosure bool
	stats                   attemptStats
}

// NewDecider returns a decider writing edges into graph. The config is validated, and
// defaults are applied, before use.
func NewDecider(cfg Config, graph posegraph.View, matcher ScanMatcher, logger logging.Logger) (*Decider, error) {
	if graph == nil {
		return nil, errors.New("decider needs a pose graph")
	}
	if matcher == nil {
		return nil, errors.New("decider needs a scan matcher")
	}
	if err := cfg.Validate("edge_registration"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewBlankLogger("erd")
	}

	d := &Decider{
		cfg:     cfg,
		graph:   graph,
		matcher: matcher,
		logger:  logger,
		classifier: classifier.New(classifier.Config{
			FailureThreshold:    cfg.DatasetFailureThreshold,
			DatasetPath:         cfg.DatasetPath,
			ExternalImageDir:    cfg.ExternalImageDirectory,
			UseExternalImageDir: cfg.UseExternalImageDirectory(),
		}, logger.Sublogger("classifier")),
		finder: nearby.Finder{IncludeOrientation: cfg.IncludeOrientation},
		ledger: ledger.New(),
		scans:  map[posegraph.NodeID]observation.Observation{},
	}
	for _, name := range []string{EdgeTypeICP2D, EdgeTypeICP3D} {
		if err := d.ledger.RegisterType(name); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// UpdateState classifies an incoming event and keeps its range scan, if any, as the pending
// scan for the next node insertion. It returns an *InvalidDatasetError on the call that
// crosses the failure threshold and nil on every other call.
func (d *Decider) UpdateState(ev observation.Event) error {
	if d.classifier.Invalid() {
		return nil
	}
	res := d.classifier.Classify(ev)
	switch res.Outcome {
	case classifier.Accepted:
		d.logger.Debugw("pending scan updated", "modality", res.Modality.String(), "sensor", res.Scan.SensorLabel())
	case classifier.OtherModality:
		d.logger.Debugw("ignoring scan of other modality", "committed", res.Modality.String())
	case classifier.Unrecognized, classifier.Ignored:
	}
	if !res.BecameInvalid {
		return nil
	}
	d.classifier.TakePending()
	err := &InvalidDatasetError{Failures: res.Failures, Threshold: d.cfg.DatasetFailureThreshold}
	d.logger.Errorw("disabling ICP edge registration", "error", err)
	return err
}

// OnNodeInserted binds the pending scan to the node id and tries to register an edge from
// every nearby prior node to it. Without a pending scan it does nothing. If matching fails
// with an error nothing is committed: no edges are appended, the pending scan is kept and
// the call can be retried.
func (d *Decider) OnNodeInserted(ctx context.Context, id posegraph.NodeID) error {
	d.justInsertedLoopClosure = false
	if d.classifier.Invalid() {
		return nil
	}
	if !d.graph.NodeExists(id) {
		return errors.Wrapf(posegraph.ErrNodeNotFound, "node %d inserted", id)
	}
	scan, ok := d.classifier.Pending()
	if !ok {
		return nil
	}

	pose, err := d.graph.CurrentPose(id)
	if err != nil {
		return err
	}
	candidates, err := d.finder.FindCandidates(d.graph, id, d.cfg.ICPMaxDistance)
	if err != nil {
		return err
	}

	type match struct {
		from  posegraph.NodeID
		guess spatialmath.Pose
		res   icp.Result
	}
	var matches []match
	for _, c := range candidates {
		stored, ok := d.scans[c.ID]
		if !ok {
			continue
		}
		candidatePose, err := d.graph.CurrentPose(c.ID)
		if err != nil {
			return err
		}
		guess := spatialmath.PoseBetween(candidatePose, pose)
		res, err := d.matcher.Align(ctx, scan, stored, guess)
		if err != nil {
			return errors.Wrapf(err, "matching node %d against node %d", id, c.ID)
		}
		matches = append(matches, match{from: c.ID, guess: guess, res: res})
	}

	d.classifier.TakePending()
	d.scans[id] = scan
	edgeType := d.edgeType()
	for _, m := range matches {
		d.stats.record(m.res)
		if !m.res.Success || m.res.Goodness < d.cfg.ICPGoodnessThresh {
			d.logger.Debugw("match rejected", "from", m.from, "to", id, "success", m.res.Success, "goodness", m.res.Goodness)
			continue
		}

		relative := m.res.Pose
		if relative == nil {
			relative = m.guess
		}
		edgeID, err := d.graph.AppendEdge(m.from, id, relative, d.information(m.res), edgeType)
		if err != nil {
			return err
		}
		loopClosure := d.IsLoopClosure(m.from, id)
		if err := d.ledger.Increment(edgeType, loopClosure); err != nil {
			return err
		}
		d.stats.accepted++
		if loopClosure {
			d.justInsertedLoopClosure = true
		}
		d.logger.Debugw("registered edge",
			"edge", edgeID, "from", m.from, "to", id, "goodness", m.res.Goodness, "loop_closure", loopClosure)
	}
	return nil
}

// IsLoopClosure reports whether an edge between from and to counts as a loop closure.
func (d *Decider) IsLoopClosure(from, to posegraph.NodeID) bool {
	gap := to - from
	if from > to {
		gap = from - to
	}
	return gap >= posegraph.NodeID(d.cfg.LCMinNodeIDDiff)
}

func (d *Decider) edgeType() string {
	if d.classifier.Modality() == classifier.ModalityRangeScan3D {
		return EdgeTypeICP3D
	}
	return EdgeTypeICP2D
}

func (d *Decider) information(res icp.Result) *mat.SymDense {
	if res.Information != nil {
		return res.Information
	}
	if d.classifier.Modality() == classifier.ModalityRangeScan3D {
		return posegraph.IdentityInformation(posegraph.DOF3D)
	}
	return posegraph.IdentityInformation(posegraph.DOF2D)
}

// Invalid reports whether the decider has given up on the dataset.
func (d *Decider) Invalid() bool {
	return d.classifier.Invalid()
}

// Modality returns the range scan modality the decider committed to.
func (d *Decider) Modality() classifier.Modality {
	return d.classifier.Modality()
}

// JustInsertedLoopClosure reports whether the last OnNodeInserted call registered a loop closure.
func (d *Decider) JustInsertedLoopClosure() bool {
	return d.justInsertedLoopClosure
}

// EdgeStats returns the number of registered edges per edge type.
func (d *Decider) EdgeStats() map[string]int {
	return d.ledger.Counts()
}

// Ledger returns the decider's edge ledger.
func (d *Decider) Ledger() *ledger.Ledger {
	return d.ledger
}

// Summary returns the ledger summary.
func (d *Decider) Summary() string {
	return d.ledger.Summary()
}

// Config returns the effective configuration.
func (d *Decider) Config() Config {
	return d.cfg
}
