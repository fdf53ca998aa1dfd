package erd

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"

	"go.viam.com/graphslam/icp"
)

// Stats describes the scan matching attempts made so far.
type Stats struct {
	Attempts       int
	Accepted       int
	BelowThreshold int
	Unsuccessful   int
	// GoodnessMean and GoodnessMedian are over successful matches; zero when there are none.
	GoodnessMean   float64
	GoodnessMedian float64
}

type attemptStats struct {
	attempts     int
	accepted     int
	unsuccessful int
	goodness     stats.Float64Data
}

func (s *attemptStats) record(res icp.Result) {
	s.attempts++
	if !res.Success {
		s.unsuccessful++
		return
	}
	s.goodness = append(s.goodness, res.Goodness)
}

// Stats returns the matching statistics.
func (d *Decider) Stats() Stats {
	s := Stats{
		Attempts:       d.stats.attempts,
		Accepted:       d.stats.accepted,
		Unsuccessful:   d.stats.unsuccessful,
		BelowThreshold: d.stats.attempts - d.stats.accepted - d.stats.unsuccessful,
	}
	if len(d.stats.goodness) > 0 {
		// neither fails on non-empty input
		s.GoodnessMean, _ = d.stats.goodness.Mean()
		s.GoodnessMedian, _ = d.stats.goodness.Median()
	}
	return s
}

// Params renders the effective configuration.
func (d *Decider) Params() string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Parameter", "Value"})
	t.AppendRows([]table.Row{
		{"icp_max_distance", d.cfg.ICPMaxDistance},
		{"icp_goodness_thresh", d.cfg.ICPGoodnessThresh},
		{"lc_min_nodeid_diff", d.cfg.LCMinNodeIDDiff},
		{"dataset_invalid_failure_threshold", d.cfg.DatasetFailureThreshold},
		{"include_orientation", d.cfg.IncludeOrientation},
	})
	if d.cfg.UseExternalImageDirectory() {
		t.AppendRow(table.Row{"external_image_directory", d.cfg.ExternalImageDirectory})
	}
	return t.Render()
}

// DescriptiveReport renders the configuration, the matching statistics and the edge summary.
func (d *Decider) DescriptiveReport() string {
	var sb strings.Builder
	sb.WriteString("ICP goodness edge registration decider\n")
	fmt.Fprintf(&sb, "Modality: %s\n", d.Modality())
	if d.Invalid() {
		sb.WriteString("Dataset: invalid\n")
	}
	sb.WriteString(d.Params())
	sb.WriteString("\n")

	s := d.Stats()
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Attempts", "Accepted", "Below threshold", "Unsuccessful", "Goodness mean", "Goodness median"})
	t.AppendRow(table.Row{
		s.Attempts, s.Accepted, s.BelowThreshold, s.Unsuccessful,
		fmt.Sprintf("%.3f", s.GoodnessMean), fmt.Sprintf("%.3f", s.GoodnessMedian),
	})
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	sb.WriteString(d.Summary())
	return sb.String()
}
