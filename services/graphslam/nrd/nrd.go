// Package nrd registers pose graph nodes at fixed odometry intervals.
package nrd

import (
	"math"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/graphslam/logging"
	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/posegraph"
	"go.viam.com/graphslam/services/graphslam/ledger"
	"go.viam.com/graphslam/spatialmath"
)

// EdgeTypeOdometry labels the edges between consecutive nodes.
const EdgeTypeOdometry = "Odometry"

// Defaults for options left unset.
const (
	DefaultRegistrationMaxDistance = 0.5
	DefaultRegistrationMaxAngle    = 10.0
)

// Config holds the registration intervals.
type Config struct {
	// RegistrationMaxDistance is the travelled distance in meters after which a node is added.
	RegistrationMaxDistance float64 `json:"registration_max_distance"`
	// RegistrationMaxAngle is the rotation in degrees after which a node is added.
	RegistrationMaxAngle float64 `json:"registration_max_angle"`
	// Spatial makes odometry edges carry 6 DOF information instead of 3.
	Spatial bool `json:"spatial"`
}

// Validate applies defaults and checks the intervals.
func (config *Config) Validate(path string) error {
	if config.RegistrationMaxDistance == 0 {
		config.RegistrationMaxDistance = DefaultRegistrationMaxDistance
	}
	if config.RegistrationMaxAngle == 0 {
		config.RegistrationMaxAngle = DefaultRegistrationMaxAngle
	}
	if config.RegistrationMaxDistance < 0 {
		return utils.NewConfigValidationError(path, errors.New("registration_max_distance must be positive"))
	}
	if config.RegistrationMaxAngle < 0 || config.RegistrationMaxAngle > 180 {
		return utils.NewConfigValidationError(path, errors.New("registration_max_angle must be in (0, 180]"))
	}
	return nil
}

// Graph is the part of the pose graph the registration decider writes to.
type Graph interface {
	posegraph.View
	AddNode(id posegraph.NodeID, pose spatialmath.Pose) error
}

// Decider adds a node each time the odometry accumulated since the last node exceeds
// either interval. The root node 0 is added at the origin on the first event.
type Decider struct {
	cfg    Config
	graph  Graph
	logger logging.Logger
	ledger *ledger.Ledger

	started bool
	lastID  posegraph.NodeID
	since   spatialmath.Pose
}

// NewDecider returns a node registration decider writing into graph, which must be empty.
func NewDecider(cfg Config, graph Graph, logger logging.Logger) (*Decider, error) {
	if err := cfg.Validate("node_registration"); err != nil {
		return nil, err
	}
	if len(graph.NodeIDs()) != 0 {
		return nil, errors.New("node registration needs an empty pose graph")
	}
	if logger == nil {
		logger = logging.NewBlankLogger("nrd")
	}
	l := ledger.New()
	if err := l.RegisterType(EdgeTypeOdometry); err != nil {
		return nil, err
	}
	return &Decider{cfg: cfg, graph: graph, logger: logger, ledger: l, since: spatialmath.NewZeroPose()}, nil
}

// UpdateState accumulates the event's odometry and returns the ids of the nodes it added.
func (d *Decider) UpdateState(ev observation.Event) ([]posegraph.NodeID, error) {
	var added []posegraph.NodeID
	if !d.started {
		if err := d.graph.AddNode(0, spatialmath.NewZeroPose()); err != nil {
			return nil, err
		}
		d.started = true
		added = append(added, 0)
	}

	for _, odo := range ev.OdometryReadings() {
		if odo.Delta != nil {
			d.since = spatialmath.Compose(d.since, odo.Delta)
		}
	}
	if !d.exceedsInterval() {
		return added, nil
	}

	last, err := d.graph.CurrentPose(d.lastID)
	if err != nil {
		return added, err
	}
	id := d.lastID + 1
	if err := d.graph.AddNode(id, spatialmath.Compose(last, d.since)); err != nil {
		return added, err
	}
	if _, err := d.graph.AppendEdge(d.lastID, id, d.since, d.information(), EdgeTypeOdometry); err != nil {
		return added, err
	}
	if err := d.ledger.Increment(EdgeTypeOdometry, false); err != nil {
		return added, err
	}
	d.logger.Debugw("registered node", "node", id, "distance", d.since.Point().Norm())
	d.lastID = id
	d.since = spatialmath.NewZeroPose()
	return append(added, id), nil
}

func (d *Decider) exceedsInterval() bool {
	if d.since.Point().Norm() > d.cfg.RegistrationMaxDistance {
		return true
	}
	angle := spatialmath.AngleBetween(spatialmath.NewZeroOrientation(), d.since.Orientation())
	return angle > d.cfg.RegistrationMaxAngle*math.Pi/180
}

func (d *Decider) information() *mat.SymDense {
	if d.cfg.Spatial {
		return posegraph.IdentityInformation(posegraph.DOF3D)
	}
	return posegraph.IdentityInformation(posegraph.DOF2D)
}

// LastNodeID returns the most recently registered node.
func (d *Decider) LastNodeID() (posegraph.NodeID, bool) {
	return d.lastID, d.started
}

// Ledger returns the odometry edge ledger.
func (d *Decider) Ledger() *ledger.Ledger {
	return d.ledger
}
