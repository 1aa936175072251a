// Package capture holds the latest root and joint updates reported by a
// tracking source and turns them into pooled samples once per tick.
package capture

import (
	"time"

	"github.com/banshee-data/posestream/internal/monitoring"
	"github.com/banshee-data/posestream/internal/pose"
)

// Adapter stores the most recent value of each tracking channel together
// with a freshness flag. It does no buffering: a second root update before
// the next tick simply overwrites the first.
//
// TrySample only produces a sample when both channels were refreshed since
// the previous sample, so a sample never pairs a new root with stale joints
// (or the reverse).
//
// Adapter is not safe for concurrent use. The tracking source callbacks and
// the tick must run on the same update loop.
type Adapter struct {
	pool *pose.Pool

	root        pose.Pose
	joints      []pose.Pose
	rootFresh   bool
	jointsFresh bool

	limiter *monitoring.Limiter
	stats   Stats
}

// Stats counts intake activity.
type Stats struct {
	RootUpdates    int
	JointUpdates   int
	Rejected       int // malformed joint arrays or non-finite poses
	Samples        int
	IncompleteTick int // TrySample calls with only one channel fresh
}

// NewAdapter creates an adapter that draws joint buffers from pool. The
// pool's joint count fixes the expected joint array length for the session.
func NewAdapter(pool *pose.Pool) *Adapter {
	return &Adapter{
		pool:    pool,
		root:    pose.Identity,
		joints:  make([]pose.Pose, pool.JointCount()),
		limiter: monitoring.NewLimiter(time.Second),
	}
}

// OnRoot records a root pose update.
func (a *Adapter) OnRoot(p pose.Pose) {
	a.stats.RootUpdates++
	if !p.IsFinite() {
		a.reject("non-finite root pose")
		return
	}
	a.root = p
	a.rootFresh = true
}

// OnJoints records a joint array update. The array is copied; the caller
// keeps ownership of joints. Arrays of the wrong length are dropped.
func (a *Adapter) OnJoints(joints []pose.Pose) bool {
	a.stats.JointUpdates++
	if reason := a.check(joints); reason != "" {
		a.reject(reason)
		return false
	}
	copy(a.joints, joints)
	a.jointsFresh = true
	return true
}

// Accepts reports whether OnJoints would take joints, without recording
// anything. Admission policies consult it before spending their budget on
// an update that intake would drop anyway.
func (a *Adapter) Accepts(joints []pose.Pose) bool {
	return a.check(joints) == ""
}

func (a *Adapter) check(joints []pose.Pose) string {
	if len(joints) != len(a.joints) {
		return "joint array length mismatch"
	}
	for i := range joints {
		if !joints[i].IsFinite() {
			return "non-finite joint pose"
		}
	}
	return ""
}

func (a *Adapter) reject(reason string) {
	a.stats.Rejected++
	a.limiter.Logf(time.Now(), reason, "[capture] dropped update: %s", reason)
}

// Fresh reports the freshness flags of the root and joint channels.
func (a *Adapter) Fresh() (root, joints bool) {
	return a.rootFresh, a.jointsFresh
}

// TrySample returns a new sample stamped now when both channels are fresh,
// clearing both flags. The returned sample owns a buffer from the pool and
// must be consumed exactly once.
func (a *Adapter) TrySample(now time.Time) (*pose.Sample, bool) {
	if !a.rootFresh || !a.jointsFresh {
		if a.rootFresh || a.jointsFresh {
			a.stats.IncompleteTick++
		}
		return nil, false
	}

	buf := a.pool.Acquire()
	buf.CopyFrom(a.joints)
	a.rootFresh = false
	a.jointsFresh = false
	a.stats.Samples++

	return &pose.Sample{
		Timestamp: now,
		Root:      a.root,
		Joints:    buf,
	}, true
}

// Reset clears both freshness flags, discarding any half pair. Used when a
// stream restarts or the conditioning mode changes.
func (a *Adapter) Reset() {
	a.rootFresh = false
	a.jointsFresh = false
}

// Stats returns intake counters.
func (a *Adapter) Stats() Stats { return a.stats }
