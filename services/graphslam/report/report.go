// Package report publishes edge counts of a graph SLAM run.
package report

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"go.viam.com/graphslam/logging"
)

// A Sink receives the edge summary and counts on demand. It never drives decider state.
type Sink interface {
	Report(summary string, counts map[string]int, loopClosures int)
}

// LogSink writes reports to a logger.
type LogSink struct {
	Logger logging.Logger
}

// Report logs the summary at info level.
func (s LogSink) Report(summary string, counts map[string]int, loopClosures int) {
	s.Logger.Infow("edge report", "counts", counts, "loop_closures", loopClosures)
	s.Logger.Info("\n" + summary)
}

// WriterSink prints the summary to a writer.
type WriterSink struct {
	W io.Writer
}

// Report writes the summary.
func (s WriterSink) Report(summary string, _ map[string]int, _ int) {
	//nolint:errcheck
	fmt.Fprint(s.W, summary)
}

const labelEdgeType = "type"

// PrometheusSink exposes the latest report as gauges.
type PrometheusSink struct {
	edges        *prometheus.GaugeVec
	loopClosures prometheus.Gauge
}

// NewPrometheusSink creates the gauges and registers them with reg.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	s := &PrometheusSink{
		edges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graphslam",
			Name:      "edges",
			Help:      "The number of registered pose graph edges by type",
		}, []string{labelEdgeType}),
		loopClosures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graphslam",
			Name:      "loop_closure_edges",
			Help:      "The number of registered edges flagged as loop closures",
		}),
	}
	err := multierr.Combine(reg.Register(s.edges), reg.Register(s.loopClosures))
	if err != nil {
		return nil, errors.Wrap(err, "registering graphslam metrics")
	}
	return s, nil
}

// Report sets the gauges to the reported values.
func (s *PrometheusSink) Report(_ string, counts map[string]int, loopClosures int) {
	for name, n := range counts {
		s.edges.WithLabelValues(name).Set(float64(n))
	}
	s.loopClosures.Set(float64(loopClosures))
}

// Multi fans a report out to several sinks.
type Multi []Sink

// Report forwards to every sink in order.
func (m Multi) Report(summary string, counts map[string]int, loopClosures int) {
	for _, s := range m {
		s.Report(summary, counts, loopClosures)
	}
}
