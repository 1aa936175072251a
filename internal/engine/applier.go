package engine

import (
	"github.com/banshee-data/posestream/internal/pose"
)

// Target is the render skeleton. Both calls receive local-space transforms.
type Target interface {
	ApplyRoot(p pose.Pose)
	ApplyJoint(index int, p pose.Pose)
}

// RootScaler is implemented by targets that accept a uniform root scale.
type RootScaler interface {
	SetRootScale(scale float64)
}

// Applier writes a selected sample onto a Target.
type Applier struct {
	target Target
	mask   []bool
	offset pose.Offset

	applied int
}

// NewApplier creates an applier. mask selects the joints the target has
// transforms for; a nil mask writes every joint. A zero offset leaves the
// root untouched.
func NewApplier(target Target, mask []bool, offset pose.Offset) *Applier {
	if offset.Scale == 0 {
		offset.Scale = 1
	}
	return &Applier{target: target, mask: mask, offset: offset}
}

// Apply writes the root and every masked joint of s. The sample's buffer is
// only read; releasing it stays with the caller.
func (a *Applier) Apply(s *pose.Sample) {
	root := s.Root
	if !a.offset.IsZero() {
		root = a.offset.Apply(root)
	}
	a.target.ApplyRoot(root)
	if sc, ok := a.target.(RootScaler); ok {
		sc.SetRootScale(a.offset.Scale)
	}

	if s.Joints != nil {
		for i, p := range s.Joints.Poses() {
			if a.mask != nil && (i >= len(a.mask) || !a.mask[i]) {
				continue
			}
			a.target.ApplyJoint(i, p)
		}
	}
	a.applied++
}

// SetOffset replaces the root offset.
func (a *Applier) SetOffset(o pose.Offset) {
	if o.Scale == 0 {
		o.Scale = 1
	}
	a.offset = o
}

// Applied counts samples written to the target.
func (a *Applier) Applied() int { return a.applied }

// Recorder is a Target that keeps the most recent pose written to each
// slot. It stands in for a render skeleton in headless runs and tests.
type Recorder struct {
	Root   pose.Pose
	Joints []pose.Pose
	Scale  float64

	RootWrites  int
	JointWrites int
}

// NewRecorder creates a recorder for jointCount joints.
func NewRecorder(jointCount int) *Recorder {
	return &Recorder{Root: pose.Identity, Joints: make([]pose.Pose, jointCount), Scale: 1}
}

// ApplyRoot implements Target.
func (r *Recorder) ApplyRoot(p pose.Pose) {
	r.Root = p
	r.RootWrites++
}

// ApplyJoint implements Target. Indices outside the skeleton are ignored.
func (r *Recorder) ApplyJoint(index int, p pose.Pose) {
	if index < 0 || index >= len(r.Joints) {
		return
	}
	r.Joints[index] = p
	r.JointWrites++
}

// SetRootScale implements RootScaler.
func (r *Recorder) SetRootScale(scale float64) { r.Scale = scale }
