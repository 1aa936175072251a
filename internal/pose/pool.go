package pose

import (
	"fmt"
	"time"

	"github.com/banshee-data/posestream/internal/monitoring"
)

// DefaultPoolSize is the number of joint buffers preallocated per stream.
// At 90 Hz it covers just over a second of delay before the pool overflows.
const DefaultPoolSize = 100

// JointBuffer is a fixed-length array of joint poses lent out by a Pool.
// It has exactly one owner at a time: the pool (idle), a pending Sample, or
// the applier while it copies poses out. Callers must not keep a reference
// after releasing it.
type JointBuffer struct {
	poses []Pose
	owner *Pool
	lent  bool
	id    uint64
}

// Len returns the joint count.
func (b *JointBuffer) Len() int { return len(b.poses) }

// At returns the pose of joint i.
func (b *JointBuffer) At(i int) Pose { return b.poses[i] }

// Poses exposes the backing slice for in-place reads.
func (b *JointBuffer) Poses() []Pose { return b.poses }

// ID identifies the buffer for diagnostics and aliasing checks in tests.
func (b *JointBuffer) ID() uint64 { return b.id }

// CopyFrom overwrites the buffer with src. Lengths must match; the capture
// adapter validates joint arrays before they reach here.
func (b *JointBuffer) CopyFrom(src []Pose) {
	copy(b.poses, src)
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	JointCount int
	Idle       int
	Live       int // acquired and not yet released
	Allocated  int // total buffers ever created, including warm-up
	Misses     int // acquires served by fresh allocation
	Rejected   int // releases refused (foreign, wrong length, double release)
}

// Pool is a reservoir of joint buffers. Acquire never blocks and never
// fails; an empty pool allocates. Release only accepts buffers this pool
// lent out, so the idle set never holds two references to one buffer.
//
// Pool is not safe for concurrent use; the engine drives it from a single
// update loop.
type Pool struct {
	jointCount int
	idle       []*JointBuffer
	nextID     uint64
	stats      PoolStats
	limiter    *monitoring.Limiter
}

// NewPool creates a pool of size buffers of jointCount joints each.
func NewPool(jointCount, size int) (*Pool, error) {
	if jointCount <= 0 {
		return nil, fmt.Errorf("joint count must be positive, got %d", jointCount)
	}
	if size < 0 {
		size = 0
	}
	p := &Pool{
		jointCount: jointCount,
		idle:       make([]*JointBuffer, 0, size),
		limiter:    monitoring.NewLimiter(time.Second),
	}
	for i := 0; i < size; i++ {
		p.idle = append(p.idle, p.allocate())
	}
	p.stats.JointCount = jointCount
	return p, nil
}

func (p *Pool) allocate() *JointBuffer {
	p.nextID++
	p.stats.Allocated++
	return &JointBuffer{poses: make([]Pose, p.jointCount), owner: p, id: p.nextID}
}

// JointCount returns the joint count every buffer of this pool carries.
func (p *Pool) JointCount() int { return p.jointCount }

// Acquire lends a buffer, reusing an idle one when available.
func (p *Pool) Acquire() *JointBuffer {
	var b *JointBuffer
	if n := len(p.idle); n > 0 {
		b = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	} else {
		b = p.allocate()
		p.stats.Misses++
	}
	b.lent = true
	p.stats.Live++
	return b
}

// Release returns b to the idle set and reports whether it was accepted.
// Refused buffers are counted and logged, never panicked on: a bad release
// degrades to extra allocation later, not to corruption.
func (p *Pool) Release(b *JointBuffer) bool {
	switch {
	case b == nil:
		return p.reject("nil buffer")
	case b.owner != p:
		return p.reject(fmt.Sprintf("buffer %d belongs to another pool", b.id))
	case len(b.poses) != p.jointCount:
		return p.reject(fmt.Sprintf("buffer %d has %d joints, want %d", b.id, len(b.poses), p.jointCount))
	case !b.lent:
		return p.reject(fmt.Sprintf("buffer %d released twice", b.id))
	}
	b.lent = false
	p.stats.Live--
	p.idle = append(p.idle, b)
	return true
}

func (p *Pool) reject(reason string) bool {
	p.stats.Rejected++
	p.limiter.Logf(time.Now(), "release", "[pool] release refused: %s", reason)
	return false
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	s := p.stats
	s.Idle = len(p.idle)
	return s
}
