// Package dataset reads recorded graph SLAM datasets stored as JSON lines, one event per line.
//
// A line either holds a single observation:
//
//	{"observation": {"type": "range_scan_2d", ...}}
//
// or an action collection followed by a sensory frame:
//
//	{"action": {"odometry": [{"delta": {"x": 0.1}}]}, "frame": [{"type": "range_scan_3d", ...}]}
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/graphslam/observation"
	"go.viam.com/graphslam/spatialmath"
)

// Observation type names.
const (
	TypeRangeScan2D = "range_scan_2d"
	TypeRangeScan3D = "range_scan_3d"
	TypeOdometry    = "odometry"
)

// maxLineSize bounds a single event line; dense 3D clouds make long lines.
const maxLineSize = 64 << 20

// Pose is the JSON form of a pose. Angles are radians.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ToPose converts to a spatialmath pose.
func (p *Pose) ToPose() spatialmath.Pose {
	if p == nil {
		return nil
	}
	return spatialmath.NewPose(
		r3.Vector{X: p.X, Y: p.Y, Z: p.Z},
		&spatialmath.EulerAngles{Roll: p.Roll, Pitch: p.Pitch, Yaw: p.Yaw},
	)
}

// PoseFrom converts a spatialmath pose to its JSON form.
func PoseFrom(p spatialmath.Pose) *Pose {
	if p == nil {
		return nil
	}
	pt := p.Point()
	ea := p.Orientation().EulerAngles()
	return &Pose{X: pt.X, Y: pt.Y, Z: pt.Z, Roll: ea.Roll, Pitch: ea.Pitch, Yaw: ea.Yaw}
}

// Observation is the JSON form of any observation. Only the fields of its type are set.
type Observation struct {
	Type  string    `json:"type"`
	Label string    `json:"label,omitempty"`
	Time  time.Time `json:"time,omitzero"`

	Ranges      []float64 `json:"ranges,omitempty"`
	Valid       []bool    `json:"valid,omitempty"`
	Aperture    float64   `json:"aperture,omitempty"`
	RightToLeft bool      `json:"right_to_left,omitempty"`
	MaxRange    float64   `json:"max_range,omitempty"`

	Points [][3]float64 `json:"points,omitempty"`
	Image  string       `json:"image,omitempty"`

	SensorPose *Pose `json:"sensor_pose,omitempty"`
	Delta      *Pose `json:"delta,omitempty"`
}

// Action is the JSON form of an action collection.
type Action struct {
	Odometry []Observation `json:"odometry"`
}

// Line is the JSON form of one event.
type Line struct {
	Observation *Observation  `json:"observation,omitempty"`
	Action      *Action       `json:"action,omitempty"`
	Frame       []Observation `json:"frame,omitempty"`
}

// ToObservation converts to an observation. Unknown types become observation.Generic.
func (o Observation) ToObservation() (observation.Observation, error) {
	switch o.Type {
	case TypeRangeScan2D:
		if o.Valid != nil && len(o.Valid) != len(o.Ranges) {
			return nil, errors.Errorf("scan %q has %d ranges but %d validity flags", o.Label, len(o.Ranges), len(o.Valid))
		}
		return &observation.RangeScan2D{
			Label:       o.Label,
			Time:        o.Time,
			Ranges:      o.Ranges,
			Valid:       o.Valid,
			Aperture:    o.Aperture,
			RightToLeft: o.RightToLeft,
			MaxRange:    o.MaxRange,
			SensorPose:  o.SensorPose.ToPose(),
		}, nil
	case TypeRangeScan3D:
		scan := &observation.RangeScan3D{Label: o.Label, Time: o.Time, SensorPose: o.SensorPose.ToPose()}
		scan.Cloud = make([]r3.Vector, len(o.Points))
		for i, p := range o.Points {
			scan.Cloud[i] = r3.Vector{X: p[0], Y: p[1], Z: p[2]}
		}
		if o.Image != "" {
			scan.Image = &observation.ImageRef{Name: o.Image}
		}
		return scan, nil
	case TypeOdometry:
		delta := o.Delta.ToPose()
		if delta == nil {
			delta = spatialmath.NewZeroPose()
		}
		return &observation.Odometry{Label: o.Label, Time: o.Time, Delta: delta}, nil
	default:
		return &observation.Generic{Type: o.Type, Label: o.Label, Time: o.Time}, nil
	}
}

// ToEvent converts a line to an event.
func (l Line) ToEvent() (observation.Event, error) {
	if l.Observation != nil {
		if l.Action != nil || l.Frame != nil {
			return observation.Event{}, errors.New("line mixes an observation with an action or frame")
		}
		obs, err := l.Observation.ToObservation()
		if err != nil {
			return observation.Event{}, err
		}
		return observation.Event{Observation: obs}, nil
	}

	ev := observation.Event{Action: &observation.ActionCollection{}, Frame: &observation.SensoryFrame{}}
	if l.Action != nil {
		for _, o := range l.Action.Odometry {
			o.Type = TypeOdometry
			obs, err := o.ToObservation()
			if err != nil {
				return observation.Event{}, err
			}
			ev.Action.Odometry = append(ev.Action.Odometry, obs.(*observation.Odometry))
		}
	}
	for _, o := range l.Frame {
		obs, err := o.ToObservation()
		if err != nil {
			return observation.Event{}, err
		}
		ev.Frame.Observations = append(ev.Frame.Observations, obs)
	}
	return ev, nil
}

// Reader yields the events of a dataset in order.
type Reader struct {
	path    string
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// Open opens the dataset at path.
func Open(path string) (*Reader, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening dataset %q", path)
	}
	r := NewReader(f)
	r.path = path
	r.closer = f
	return r, nil
}

// NewReader reads events from r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Path returns the dataset file path, empty for readers not opened from a file.
func (r *Reader) Path() string {
	return r.path
}

// Next returns the next event, or io.EOF when the dataset is exhausted. Blank lines and
// lines starting with '#' are skipped.
func (r *Reader) Next(ctx context.Context) (observation.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return observation.Event{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return observation.Event{}, errors.Wrapf(err, "reading dataset line %d", r.line+1)
			}
			return observation.Event{}, io.EOF
		}
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var l Line
		if err := json.Unmarshal(raw, &l); err != nil {
			return observation.Event{}, errors.Wrapf(err, "decoding dataset line %d", r.line)
		}
		ev, err := l.ToEvent()
		if err != nil {
			return observation.Event{}, errors.Wrapf(err, "dataset line %d", r.line)
		}
		return ev, nil
	}
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Writer appends events to a dataset.
type Writer struct {
	enc *json.Encoder
}

// NewWriter writes JSON lines to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write writes one line.
func (w *Writer) Write(l Line) error {
	return errors.Wrap(w.enc.Encode(l), "writing dataset line")
}
