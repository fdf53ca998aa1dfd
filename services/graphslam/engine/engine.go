// Package engine drives a graph SLAM run: it routes dataset events to the node and edge
// registration deciders in the order they depend on each other.
package engine

import (
	"context"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/services/graphslam/erd"
	"go.viam.com/graphslam/services/graphslam/nrd"
	"go.viam.com/graphslam/services/graphslam/report"
)

// EventSource yields dataset events, returning io.EOF once exhausted.
type EventSource interface {
	Next(ctx context.Context) (observation.Event, error)
}

// Engine owns the pose graph of a run.
type Engine struct {
	runID  uuid.UUID
	graph  *posegraph.Graph
	nodes  *nrd.Decider
	edges  *erd.Decider
	logger logging.Logger
	clock  clock.Clock

	events      int
	elapsed     time.Duration
	edgesActive bool
	invalid     *erd.InvalidDatasetError
}

// New builds the deciders for graph and returns an engine ready to take events.
func New(graph *posegraph.Graph, nodeCfg nrd.Config, edgeCfg erd.Config, matcher erd.ScanMatcher, logger logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.NewBlankLogger("graphslam")
	}
	runID := uuid.New()
	logger = logger.Sublogger(runID.String()[:8])

	nodes, err := nrd.NewDecider(nodeCfg, graph, logger.Sublogger("nrd"))
	if err != nil {
		return nil, err
	}
	edges, err := erd.NewDecider(edgeCfg, graph, matcher, logger.Sublogger("erd"))
	if err != nil {
		return nil, err
	}
	logger.Infow("starting graph slam run", "run_id", runID.String())
	return &Engine{runID: runID, graph: graph, nodes: nodes, edges: edges, logger: logger, clock: clock.New(), edgesActive: true}, nil
}

// HandleEvent processes one event. Nodes are registered first, then the edge decider sees
// the event and finally learns about each new node. Once the edge decider reports the
// dataset invalid it receives no further events; the run itself continues.
func (e *Engine) HandleEvent(ctx context.Context, ev observation.Event) error {
	e.events++
	added, err := e.nodes.UpdateState(ev)
	if err != nil {
		return errors.Wrapf(err, "event %d: node registration", e.events)
	}
	if !e.edgesActive {
		return nil
	}

	if err := e.edges.UpdateState(ev); err != nil {
		var invalid *erd.InvalidDatasetError
		if !errors.As(err, &invalid) {
			return errors.Wrapf(err, "event %d: edge registration", e.events)
		}
		e.edgesActive = false
		e.invalid = invalid
		e.logger.Warnw("edge registration disabled for the rest of the run", "event", e.events, "reason", invalid.Error())
		return nil
	}
	for _, id := range added {
		if err := e.edges.OnNodeInserted(ctx, id); err != nil {
			return errors.Wrapf(err, "event %d: edge registration for node %d", e.events, id)
		}
		if e.edges.JustInsertedLoopClosure() {
			e.logger.Infow("loop closure", "node", id)
		}
	}
	return nil
}

// Run feeds every event of source to the engine until it is exhausted or ctx is done.
func (e *Engine) Run(ctx context.Context, source EventSource) error {
	start := e.clock.Now()
	defer func() {
		e.elapsed += e.clock.Since(start)
	}()
	for {
		ev, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			e.logger.Infow("dataset exhausted",
				"events", e.events, "nodes", e.graph.NodeCount(), "elapsed", e.clock.Since(start))
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
}

// Report sends the combined edge summary and counts of both deciders to sink.
func (e *Engine) Report(sink report.Sink) {
	counts := e.nodes.Ledger().Counts()
	maps.Copy(counts, e.edges.Ledger().Counts())

	var sb strings.Builder
	sb.WriteString(e.nodes.Ledger().Summary())
	sb.WriteString(e.edges.DescriptiveReport())
	sink.Report(sb.String(), counts, e.edges.Ledger().LoopClosureCount())
}

// DatasetInvalid returns the error the edge decider gave up with, or nil.
func (e *Engine) DatasetInvalid() error {
	if e.invalid == nil {
		return nil
	}
	return e.invalid
}

// RunID identifies the run in logs and snapshots.
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Graph returns the pose graph being built.
func (e *Engine) Graph() *posegraph.Graph {
	return e.graph
}

// Elapsed returns the time spent in Run.
func (e *Engine) Elapsed() time.Duration {
	return e.elapsed
}

// Events returns the number of events handled.
func (e *Engine) Events() int {
	return e.events
}

// EdgeDecider returns the edge registration decider.
func (e *Engine) EdgeDecider() *erd.Decider {
	return e.edges
}
