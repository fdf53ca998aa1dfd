// Package erdtest provides a scan matcher for testing the edge registration decider.
package erdtest

import (
	"context"
	"sync"

	"go.viam.com/graphslam/icp"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/services/graphslam/erd"
	"go.viam.com/graphslam/spatialmath"
)

// AlignCall records the arguments of one Align call.
type AlignCall struct {
	Source, Target observation.Observation
	InitialGuess   spatialmath.Pose
}

// ScanMatcher is an injectable erd.ScanMatcher. Without AlignFunc it defers to the embedded matcher.
type ScanMatcher struct {
	erd.ScanMatcher
	AlignFunc func(ctx context.Context, source, target observation.Observation, initialGuess spatialmath.Pose) (icp.Result, error)

	mu    sync.Mutex
	calls []AlignCall
}

// Align records the call and returns AlignFunc's result.
func (m *ScanMatcher) Align(
	ctx context.Context,
	source, target observation.Observation,
	initialGuess spatialmath.Pose,
) (icp.Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, AlignCall{Source: source, Target: target, InitialGuess: initialGuess})
	m.mu.Unlock()
	if m.AlignFunc == nil {
		return m.ScanMatcher.Align(ctx, source, target, initialGuess)
	}
	return m.AlignFunc(ctx, source, target, initialGuess)
}

// Calls returns the calls made so far.
func (m *ScanMatcher) Calls() []AlignCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AlignCall(nil), m.calls...)
}

// ConstantGoodness returns an AlignFunc that succeeds with the given goodness and returns
// the initial guess as the refined pose.
func ConstantGoodness(goodness float64) func(context.Context, observation.Observation, observation.Observation, spatialmath.Pose) (icp.Result, error) {
	return func(_ context.Context, _, _ observation.Observation, guess spatialmath.Pose) (icp.Result, error) {
		return icp.Result{Pose: guess, Goodness: goodness, Success: true, Converged: true}, nil
	}
}

// GoodnessByTarget returns an AlignFunc that looks the goodness up by the target scan's
// sensor label. Unknown labels produce an unsuccessful match.
func GoodnessByTarget(goodness map[string]float64) func(context.Context, observation.Observation, observation.Observation, spatialmath.Pose) (icp.Result, error) {
	return func(_ context.Context, _, target observation.Observation, guess spatialmath.Pose) (icp.Result, error) {
		g, ok := goodness[target.SensorLabel()]
		return icp.Result{Pose: guess, Goodness: g, Success: ok}, nil
	}
}
