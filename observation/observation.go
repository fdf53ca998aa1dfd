// Package observation defines the sensor payloads flowing through the graphslam pipeline.
package observation

import (
	"math"
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/graphslam/spatialmath"
)

// Observation is a single timestamped sensor reading.
type Observation interface {
	SensorLabel() string
	Timestamp() time.Time
}

// RangeScan2D is a planar laser scan. Ranges are ordered by increasing bearing when
// RightToLeft is set, decreasing otherwise, spanning Aperture radians centered on the sensor x axis.
type RangeScan2D struct {
	Label       string
	Time        time.Time
	Ranges      []float64
	Valid       []bool
	Aperture    float64
	RightToLeft bool
	MaxRange    float64
	SensorPose  spatialmath.Pose
}

// SensorLabel returns the sensor label.
func (s *RangeScan2D) SensorLabel() string { return s.Label }

// Timestamp returns the acquisition time.
func (s *RangeScan2D) Timestamp() time.Time { return s.Time }

// Points projects every valid range into the robot frame.
func (s *RangeScan2D) Points() []r3.Vector {
	n := len(s.Ranges)
	if n == 0 {
		return nil
	}
	step := 0.
	if n > 1 {
		step = s.Aperture / float64(n-1)
	}
	if !s.RightToLeft {
		step = -step
	}
	start := -s.Aperture / 2
	if !s.RightToLeft {
		start = s.Aperture / 2
	}

	pts := make([]r3.Vector, 0, n)
	for i, r := range s.Ranges {
		if i < len(s.Valid) && !s.Valid[i] {
			continue
		}
		if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) || (s.MaxRange > 0 && r >= s.MaxRange) {
			continue
		}
		bearing := start + float64(i)*step
		pts = append(pts, s.toRobot(r3.Vector{X: r * math.Cos(bearing), Y: r * math.Sin(bearing)}))
	}
	return pts
}

func (s *RangeScan2D) toRobot(p r3.Vector) r3.Vector {
	if s.SensorPose == nil {
		return p
	}
	return spatialmath.TransformPoint(s.SensorPose, p)
}

// RangeScan3D is a depth camera or 3D lidar observation.
type RangeScan3D struct {
	Label      string
	Time       time.Time
	Cloud      []r3.Vector
	Image      *ImageRef
	SensorPose spatialmath.Pose
}

// SensorLabel returns the sensor label.
func (s *RangeScan3D) SensorLabel() string { return s.Label }

// Timestamp returns the acquisition time.
func (s *RangeScan3D) Timestamp() time.Time { return s.Time }

// Points returns the cloud in the robot frame.
func (s *RangeScan3D) Points() []r3.Vector {
	if s.SensorPose == nil {
		return s.Cloud
	}
	pts := make([]r3.Vector, len(s.Cloud))
	for i, p := range s.Cloud {
		pts[i] = spatialmath.TransformPoint(s.SensorPose, p)
	}
	return pts
}

// ImageRef points at an intensity image stored outside the dataset file.
type ImageRef struct {
	// Name is the file name as recorded in the dataset.
	Name string
	// Path is the resolved location, empty until resolved.
	Path string
}

// Odometry is an incremental motion estimate since the previous odometry reading.
type Odometry struct {
	Label string
	Time  time.Time
	Delta spatialmath.Pose
}

// SensorLabel returns the sensor label.
func (o *Odometry) SensorLabel() string { return o.Label }

// Timestamp returns the acquisition time.
func (o *Odometry) Timestamp() time.Time { return o.Time }

// Generic is any observation kind the pipeline does not interpret.
type Generic struct {
	Type  string
	Label string
	Time  time.Time
}

// SensorLabel returns the sensor label.
func (g *Generic) SensorLabel() string { return g.Label }

// Timestamp returns the acquisition time.
func (g *Generic) Timestamp() time.Time { return g.Time }

// ActionCollection groups the robot actions recorded between two sensory frames.
type ActionCollection struct {
	Odometry []*Odometry
}

// SensoryFrame groups the observations taken at roughly the same time.
type SensoryFrame struct {
	Observations []Observation
}

// Event is one entry of a dataset. Either Action/Frame are set (action-observation
// format) or Observation is set (observation-only format).
type Event struct {
	Action      *ActionCollection
	Frame       *SensoryFrame
	Observation Observation
}

// Observations returns every observation the event carries, in order.
func (ev Event) Observations() []Observation {
	if ev.Observation != nil {
		return []Observation{ev.Observation}
	}
	if ev.Frame == nil {
		return nil
	}
	return ev.Frame.Observations
}

// OdometryReadings returns every odometry reading the event carries, whether
// recorded as actions or as observations.
func (ev Event) OdometryReadings() []*Odometry {
	var odom []*Odometry
	if ev.Action != nil {
		odom = append(odom, ev.Action.Odometry...)
	}
	for _, o := range ev.Observations() {
		if od, ok := o.(*Odometry); ok {
			odom = append(odom, od)
		}
	}
	return odom
}
