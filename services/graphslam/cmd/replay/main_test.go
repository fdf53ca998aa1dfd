package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/graphslam/config"
	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/posegraph/store"
	"go.viam.com/graphslam/services/graphslam/nrd"
)

func writeFixtures(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	var lines strings.Builder
	for i := 0; i < 5; i++ {
		lines.WriteString(`{"action": {"odometry": [{"delta": {"x": 0.6}}]}, "frame": [{"type": "imu"}]}` + "\n")
	}
	datasetPath := filepath.Join(dir, "imu_only.jsonl")
	test.That(t, os.WriteFile(datasetPath, []byte(lines.String()), 0o600), test.ShouldBeNil)

	configPath = filepath.Join(dir, "config.json")
	cfg := fmt.Sprintf(`{
		"dataset": %q,
		"edge_registration": {"dataset_invalid_failure_threshold": 3},
		"metrics": {"namespace": "test", "textfile": %q}
	}`, datasetPath, filepath.Join(dir, "graphslam.prom"))
	test.That(t, os.WriteFile(configPath, []byte(cfg), 0o600), test.ShouldBeNil)
	return dir, configPath
}

func runApp(args ...string) (string, error) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"replay"}, args...))
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir, configPath := writeFixtures(t)
	snapshot := filepath.Join(dir, "graph.db")

	logFile := filepath.Join(dir, "replay.log")
	out, err := runApp("--log-file", logFile, "run", "--config", configPath, "--snapshot", snapshot)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "warning: dataset is invalid")
	test.That(t, out, test.ShouldContainSubstring, "Total edges: 5")
	test.That(t, out, test.ShouldContainSubstring, "saved run")

	logged, err := os.ReadFile(logFile)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(logged), test.ShouldContainSubstring, "starting graph slam run")

	metrics, err := os.ReadFile(filepath.Join(dir, "graphslam.prom"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(metrics), test.ShouldContainSubstring, `test_graphslam_edges{type="Odometry"} 5`)

	s, err := store.Open(context.Background(), snapshot)
	test.That(t, err, test.ShouldBeNil)
	runs, err := s.Runs(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, runs, test.ShouldHaveLength, 1)
	g, err := s.Load(context.Background(), runs[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.NodeCount(), test.ShouldEqual, 6)
	test.That(t, g.EdgesWithLabel(nrd.EdgeTypeOdometry), test.ShouldHaveLength, 5)
	test.That(t, s.Close(), test.ShouldBeNil)

	out, err = runApp("show", "--snapshot", snapshot)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(out), test.ShouldEqual, runs[0])

	out, err = runApp("show", "--snapshot", snapshot, "--run-id", runs[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "Nodes: 6")
	test.That(t, out, test.ShouldContainSubstring, "Odometry")
}

func TestRunCommandErrors(t *testing.T) {
	_, configPath := writeFixtures(t)

	_, err := runApp("run", "--config", configPath, "--dataset", filepath.Join(t.TempDir(), "missing.jsonl"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = runApp("run", "--config", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReplayWithoutSnapshot(t *testing.T) {
	_, configPath := writeFixtures(t)
	logger := logging.NewTestLogger(t)
	cfg, err := config.Read(context.Background(), configPath, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	cfg.Metrics = nil

	var out bytes.Buffer
	test.That(t, replay(context.Background(), cfg, logger, &out), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldNotContainSubstring, "saved run")
}
