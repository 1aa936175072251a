// Package pose defines the skeletal pose model shared by the capture,
// conditioning and output stages, together with the joint buffer pool that
// keeps steady-state streaming free of per-sample allocation.
package pose

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultJointCount is the joint-id range of an articulated hand skeleton
// (wrist, palm and 24 finger joints).
const DefaultJointCount = 26

// Pose is a local-space rigid transform.
type Pose struct {
	Position r3.Vec
	Rotation quat.Number
}

// Identity is the pose with zero translation and no rotation.
var Identity = Pose{Rotation: quat.Number{Real: 1}}

// IsFinite reports whether every component is a finite number. Trackers
// emit NaN rotations when they lose a hand for a frame; such poses are
// refused at intake.
func (p Pose) IsFinite() bool {
	for _, v := range [...]float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Real, p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Sample is one timestamped root+joints snapshot. The Joints buffer is owned
// by the sample from the moment the capture adapter creates it until the
// consumer hands it back to the pool; a sample is consumed exactly once.
type Sample struct {
	Timestamp time.Time
	Root      Pose
	Joints    *JointBuffer
}

// Offset is a static correction applied to the root pose before output:
// translation is added, rotation is post-multiplied and Scale is reported
// to the target as a uniform scale.
type Offset struct {
	Position r3.Vec
	// EulerDeg is applied in Z, X, Y order, matching the convention of the
	// head-mounted runtimes the tracking feeds come from.
	EulerDeg r3.Vec
	Scale    float64
}

// NoOffset leaves the root untouched.
var NoOffset = Offset{Scale: 1}

// Apply returns root with the offset applied.
func (o Offset) Apply(root Pose) Pose {
	return Pose{
		Position: r3.Add(root.Position, o.Position),
		Rotation: quat.Mul(root.Rotation, FromEuler(o.EulerDeg)),
	}
}

// IsZero reports whether the offset leaves poses unchanged.
func (o Offset) IsZero() bool {
	return o.Position == (r3.Vec{}) && o.EulerDeg == (r3.Vec{}) && (o.Scale == 1 || o.Scale == 0)
}

// FromEuler builds a unit quaternion from Euler angles in degrees, rotating
// about Z first, then X, then Y.
func FromEuler(deg r3.Vec) quat.Number {
	const rad = math.Pi / 180
	qx := axisAngle(r3.Vec{X: 1}, deg.X*rad)
	qy := axisAngle(r3.Vec{Y: 1}, deg.Y*rad)
	qz := axisAngle(r3.Vec{Z: 1}, deg.Z*rad)
	return quat.Mul(quat.Mul(qy, qx), qz)
}

func axisAngle(axis r3.Vec, angle float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// Rotate applies rotation q to vector v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}
