// Package spatialmath defines spatial mathematical operations on robot poses.
//
// Poses are rigid transforms in 3D. Planar (2D) poses are the special case with
// z = 0 and a rotation about the z axis only, which lets graph components work
// with either dimensionality through the same interface.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a position and orientation in 3D space.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type distalPose struct {
	point       r3.Vector
	orientation Orientation
}

// NewPose takes in a position and orientation and returns a Pose.
func NewPose(p r3.Vector, o Orientation) Pose {
	if o == nil {
		o = NewZeroOrientation()
	}
	return &distalPose{point: p, orientation: NewOrientationFromQuaternion(o.Quaternion())}
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return NewPose(r3.Vector{}, NewZeroOrientation())
}

// NewPoseFromPoint returns a pose at p with no rotation.
func NewPoseFromPoint(p r3.Vector) Pose {
	return NewPose(p, NewZeroOrientation())
}

// NewPose2D returns a planar pose at (x, y) heading theta radians.
func NewPose2D(x, y, theta float64) Pose {
	return NewPose(r3.Vector{X: x, Y: y}, NewYawOrientation(theta))
}

func (p *distalPose) Point() r3.Vector {
	return p.point
}

func (p *distalPose) Orientation() Orientation {
	return p.orientation
}

func (p *distalPose) String() string {
	ea := p.orientation.EulerAngles()
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Roll:%.4f Pitch:%.4f Yaw:%.4f}",
		p.point.X, p.point.Y, p.point.Z, ea.Roll, ea.Pitch, ea.Yaw)
}

// Theta returns the heading (yaw) of the pose in radians.
func Theta(p Pose) float64 {
	return p.Orientation().EulerAngles().Yaw
}

// RotateVector rotates v by the orientation o.
func RotateVector(o Orientation, v r3.Vector) r3.Vector {
	q := o.Quaternion()
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// TransformPoint maps a point expressed in the frame of p into the frame p is expressed in.
func TransformPoint(p Pose, v r3.Vector) r3.Vector {
	return RotateVector(p.Orientation(), v).Add(p.Point())
}

// Compose returns the pose a followed by b, i.e. b expressed in a's frame mapped to a's parent frame.
func Compose(a, b Pose) Pose {
	return NewPose(
		TransformPoint(a, b.Point()),
		NewOrientationFromQuaternion(quat.Mul(a.Orientation().Quaternion(), b.Orientation().Quaternion())),
	)
}

// PoseInverse returns the inverse of p.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation().Quaternion())
	o := NewOrientationFromQuaternion(inv)
	return NewPose(RotateVector(o, p.Point()).Mul(-1), o)
}

// PoseBetween returns the pose of b expressed in the frame of a, so that Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostEqual returns true if the poses are within 1e-8 in position and have almost equal orientations.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps is PoseAlmostEqual with a caller provided positional tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return PoseAlmostCoincidentEps(a, b, epsilon) && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

// PoseAlmostCoincidentEps returns true if the positions of a and b are within epsilon of each other.
func PoseAlmostCoincidentEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() <= epsilon
}

// Distance returns the Euclidean distance between the positions of a and b.
func Distance(a, b Pose) float64 {
	return a.Point().Sub(b.Point()).Norm()
}

// DistanceWithOrientation returns the Euclidean norm over position and rotation angle,
// treating the angle between the orientations (radians) as one more coordinate.
func DistanceWithOrientation(a, b Pose) float64 {
	d := Distance(a, b)
	angle := AngleBetween(a.Orientation(), b.Orientation())
	return math.Sqrt(d*d + angle*angle)
}
