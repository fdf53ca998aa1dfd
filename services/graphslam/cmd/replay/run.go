package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/graphslam/config"
	"go.viam.com/graphslam/dataset"
	"go.viam.com/graphslam/icp"
	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/posegraph/store"
	"go.viam.com/graphslam/services/graphslam/engine"
	"go.viam.com/graphslam/services/graphslam/report"
)

// newLogger returns the console logger, teed to a rotated file when logFile is set.
func newLogger(debug bool, logFile string) (logging.Logger, func() error, error) {
	if logFile != "" {
		logger, closer, err := logging.NewFileTeeLogger("replay", debug, logging.FileConfig{Path: logFile, MaxBackups: 3})
		if err != nil {
			return nil, nil, err
		}
		return logger, closer.Close, nil
	}
	logger := logging.NewLogger("replay")
	if debug {
		logger = logging.NewDebugLogger("replay")
	}
	// stdout sync errors are expected on some platforms
	return logger, func() error { _ = logger.Sync(); return nil }, nil
}

func runAction(c *cli.Context) (err error) {
	cfg, err := config.Read(c.Context, c.String(flagConfig), nil)
	if err != nil {
		return err
	}
	if ds := c.String(flagDataset); ds != "" {
		cfg.Dataset = ds
	}
	if snap := c.String(flagSnapshot); snap != "" {
		cfg.Snapshot = snap
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLogger, err := newLogger(c.Bool(flagDebug) || cfg.Debug, c.String(flagLogFile))
	if err != nil {
		return err
	}
	defer multierr.AppendFunc(&err, closeLogger)
	return replay(c.Context, cfg, logger, c.App.Writer)
}

// replay runs the engine over cfg's dataset. An invalid dataset is reported, not returned.
func replay(ctx context.Context, cfg *config.Config, logger logging.Logger, out io.Writer) (err error) {
	edgeCfg, err := cfg.EdgeRegistrationConfig()
	if err != nil {
		return err
	}
	icpCfg := icp.DefaultConfig()
	if edgeCfg.ICP != nil {
		icpCfg = *edgeCfg.ICP
	}
	matcher := icp.NewMatcher(icpCfg, logger.Sublogger("icp"))

	e, err := engine.New(posegraph.NewGraph(), cfg.NodeRegistration, *edgeCfg, matcher, logger)
	if err != nil {
		return err
	}

	src, err := dataset.Open(cfg.Dataset)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(src))
	if err := e.Run(ctx, src); err != nil {
		return err
	}
	if invalid := e.DatasetInvalid(); invalid != nil {
		fmt.Fprintf(out, "warning: %v\n", invalid)
	}

	sinks := report.Multi{report.LogSink{Logger: logger}, report.WriterSink{W: out}}
	var reg *prometheus.Registry
	if cfg.Metrics != nil {
		reg = prometheus.NewRegistry()
		ps, err := report.NewPrometheusSink(reg, cfg.Metrics.Namespace)
		if err != nil {
			return err
		}
		sinks = append(sinks, ps)
	}
	e.Report(sinks)
	if reg != nil {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, reg); err != nil {
			return err
		}
	}

	if cfg.Snapshot == "" {
		return nil
	}
	s, err := store.Open(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(s))
	if err := s.Save(ctx, e.RunID().String(), e.Graph()); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved run %s to %s\n", e.RunID(), cfg.Snapshot)
	return nil
}

func showAction(c *cli.Context) (err error) {
	s, err := store.Open(c.Context, c.String(flagSnapshot))
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(s))

	runID := c.String(flagRunID)
	if runID == "" {
		runs, err := s.Runs(c.Context)
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Fprintln(c.App.Writer, id)
		}
		return nil
	}
	g, err := s.Load(c.Context, runID)
	if err != nil {
		return err
	}
	fmt.Fprint(c.App.Writer, describeGraph(g))
	return nil
}

func describeGraph(g *posegraph.Graph) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Edge type", "Edges"})
	for _, label := range g.EdgeLabels() {
		t.AppendRow(table.Row{label, len(g.EdgesWithLabel(label))})
	}
	return fmt.Sprintf("Nodes: %d\n%s\n", g.NodeCount(), t.Render())
}
