// Package classifier sorts incoming sensor payloads into the range scan modality an edge
// registration decider works with and tracks whether the dataset carries that modality at all.
package classifier

import (
	"github.com/samber/lo"

	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
)

// Modality is the kind of range scan a decider has committed to.
type Modality int

// Known modalities.
const (
	ModalityNone Modality = iota
	ModalityRangeScan2D
	ModalityRangeScan3D
)

func (m Modality) String() string {
	switch m {
	case ModalityRangeScan2D:
		return "2D range scan"
	case ModalityRangeScan3D:
		return "3D range scan"
	case ModalityNone:
		return "none"
	default:
		return "unknown"
	}
}

// Outcome describes what Classify did with an event.
type Outcome int

// Classification outcomes.
const (
	// Unrecognized means the event held no range scan of either modality; it counts as a failure.
	Unrecognized Outcome = iota
	// Accepted means a scan of the committed modality was stored as the pending observation.
	Accepted
	// OtherModality means the event only held scans of the modality not committed to.
	OtherModality
	// Ignored means the classifier is invalid and no longer looks at events.
	Ignored
)

// Result is the outcome of classifying one event.
type Result struct {
	Outcome  Outcome
	Modality Modality
	// Scan is the observation stored as pending when Outcome is Accepted.
	Scan observation.Observation
	// Failures is the consecutive failure count after this event.
	Failures int
	// BecameInvalid is set on the single call that crossed the failure threshold.
	BecameInvalid bool
}

// Config controls classification.
type Config struct {
	// FailureThreshold is the number of consecutive unrecognized events after which the dataset is invalid.
	FailureThreshold int
	// DatasetPath is the dataset file, used to locate images of 3D scans.
	DatasetPath string
	// ExternalImageDir replaces the default image directory when UseExternalImageDir is set.
	ExternalImageDir    string
	UseExternalImageDir bool
}

// Classifier holds the pending observation and the dataset validity counter.
// It is not safe for concurrent use.
type Classifier struct {
	cfg    Config
	logger logging.Logger

	committed Modality
	pending   observation.Observation
	failures  int
	invalid   bool
}

// New returns a classifier that has not committed to a modality yet.
func New(cfg Config, logger logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NewBlankLogger("classifier")
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// Classify inspects the event's payload. A recognized scan of the committed modality
// replaces the pending observation and resets the failure counter; an event without
// any range scan increments it.
func (c *Classifier) Classify(ev observation.Event) Result {
	if c.invalid {
		return Result{Outcome: Ignored, Modality: c.committed, Failures: c.failures}
	}

	obs := ev.Observations()
	scan, _, found := lo.FindLastIndexOf(obs, func(o observation.Observation) bool {
		m := modalityOf(o)
		return m != ModalityNone && (c.committed == ModalityNone || m == c.committed)
	})
	if found {
		if c.committed == ModalityNone {
			c.committed = modalityOf(scan)
			c.logger.Infow("committed to range scan modality", "modality", c.committed.String())
		}
		c.failures = 0
		if s3d, ok := scan.(*observation.RangeScan3D); ok {
			c.resolveImage(s3d)
		}
		c.pending = scan
		return Result{Outcome: Accepted, Modality: c.committed, Scan: scan}
	}

	if lo.ContainsBy(obs, func(o observation.Observation) bool { return modalityOf(o) != ModalityNone }) {
		return Result{Outcome: OtherModality, Modality: c.committed, Failures: c.failures}
	}

	c.failures++
	res := Result{Outcome: Unrecognized, Modality: c.committed, Failures: c.failures}
	if c.failures >= c.cfg.FailureThreshold {
		c.invalid = true
		res.BecameInvalid = true
	}
	return res
}

func (c *Classifier) resolveImage(scan *observation.RangeScan3D) {
	if scan.Image == nil || scan.Image.Name == "" {
		return
	}
	scan.Image.Path = observation.ResolveImagePath(
		c.cfg.DatasetPath, c.cfg.ExternalImageDir, c.cfg.UseExternalImageDir, scan.Image.Name)
}

// Pending returns the pending observation, if any, without consuming it.
func (c *Classifier) Pending() (observation.Observation, bool) {
	return c.pending, c.pending != nil
}

// TakePending returns and clears the pending observation.
func (c *Classifier) TakePending() (observation.Observation, bool) {
	p := c.pending
	c.pending = nil
	return p, p != nil
}

// Modality returns the committed modality, ModalityNone before the first recognized scan.
func (c *Classifier) Modality() Modality {
	return c.committed
}

// Failures returns the current consecutive failure count.
func (c *Classifier) Failures() int {
	return c.failures
}

// Invalid reports whether the failure threshold has been reached. Once true it stays true.
func (c *Classifier) Invalid() bool {
	return c.invalid
}

func modalityOf(o observation.Observation) Modality {
	switch o.(type) {
	case *observation.RangeScan2D:
		return ModalityRangeScan2D
	case *observation.RangeScan3D:
		return ModalityRangeScan3D
	default:
		return ModalityNone
	}
}
