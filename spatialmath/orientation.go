package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Orientation is an interface used to express the different parameterizations of the orientation
// of a rigid object or a frame of reference in 3D Euclidean space.
type Orientation interface {
	Quaternion() quat.Number
	EulerAngles() *EulerAngles
}

// EulerAngles are three angles (in radians) used to represent the rotation of an object in 3D Euclidean space.
// The rotation is applied as yaw about z, then pitch about y, then roll about x.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Quaternion returns the unit quaternion equivalent of the angles.
func (ea *EulerAngles) Quaternion() quat.Number {
	cr, sr := math.Cos(ea.Roll/2), math.Sin(ea.Roll/2)
	cp, sp := math.Cos(ea.Pitch/2), math.Sin(ea.Pitch/2)
	cy, sy := math.Cos(ea.Yaw/2), math.Sin(ea.Yaw/2)
	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// EulerAngles returns the receiver.
func (ea *EulerAngles) EulerAngles() *EulerAngles {
	return ea
}

type quaternion quat.Number

// NewZeroOrientation returns an orientatation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return &quaternion{1, 0, 0, 0}
}

// NewOrientationFromQuaternion normalizes q and wraps it as an Orientation.
func NewOrientationFromQuaternion(q quat.Number) Orientation {
	n := quat.Abs(q)
	if n == 0 {
		return NewZeroOrientation()
	}
	q = quat.Scale(1/n, q)
	// keep the real part non-negative so equal rotations compare equal
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	o := quaternion(q)
	return &o
}

// NewYawOrientation returns a rotation of theta radians about the z axis.
func NewYawOrientation(theta float64) Orientation {
	return NewOrientationFromQuaternion(quat.Number{Real: math.Cos(theta / 2), Kmag: math.Sin(theta / 2)})
}

func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

func (q *quaternion) EulerAngles() *EulerAngles {
	n := quat.Number(*q)
	w, x, y, z := n.Real, n.Imag, n.Jmag, n.Kmag

	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}
	return &EulerAngles{
		Roll:  math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)),
		Pitch: pitch,
		Yaw:   math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)),
	}
}

// OrientationAlmostEqual will return a bool describing whether 2 poses have approximately the same orientation.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}

// QuaternionAlmostEqual compares two quaternions up to sign, since q and -q encode the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	same := math.Abs(a.Real-b.Real) < tol && math.Abs(a.Imag-b.Imag) < tol &&
		math.Abs(a.Jmag-b.Jmag) < tol && math.Abs(a.Kmag-b.Kmag) < tol
	opposite := math.Abs(a.Real+b.Real) < tol && math.Abs(a.Imag+b.Imag) < tol &&
		math.Abs(a.Jmag+b.Jmag) < tol && math.Abs(a.Kmag+b.Kmag) < tol
	return same || opposite
}

// OrientationBetween returns the orientation representing the difference between the two given Orientations.
func OrientationBetween(o1, o2 Orientation) Orientation {
	return NewOrientationFromQuaternion(quat.Mul(quat.Conj(o1.Quaternion()), o2.Quaternion()))
}

// AngleBetween returns the magnitude, in radians within [0, pi], of the rotation taking o1 to o2.
func AngleBetween(o1, o2 Orientation) float64 {
	q := OrientationBetween(o1, o2).Quaternion()
	return 2 * math.Atan2(math.Sqrt(q.Imag*q.Imag+q.Jmag*q.Jmag+q.Kmag*q.Kmag), math.Abs(q.Real))
}
