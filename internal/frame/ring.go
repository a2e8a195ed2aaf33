package frame

import (
	"context"
	"sync/atomic"

	"github.com/cricamfe/vivid/internal/verrors"
)

// Ring is the fixed-capacity frame pool. It pre-allocates Capacity
// frames up front and hands them out via Get/Recycle; a buffered channel
// acts as the free-list, mirroring the token-pool idiom the engines
// already use for in-flight-frame budgets, so Get/Recycle need no
// additional locking beyond the channel's own. Ring slots are reused
// indefinitely, but each claim is stamped with a fresh monotonic frame id
// distinct from its physical slot: the id identifies a logical frame's
// journey through the pipeline, not a fixed buffer.
type Ring struct {
	capacity int
	free     chan *Frame
	nextID   uint64
}

// New pre-allocates capacity frames built from shape.
func New(capacity int, shape Shape) *Ring {
	r := &Ring{capacity: capacity, free: make(chan *Frame, capacity)}
	for i := 0; i < capacity; i++ {
		r.free <- newFrame(0, shape)
	}
	return r
}

// Capacity returns the ring's fixed size.
func (r *Ring) Capacity() int { return r.capacity }

// Get blocks until a slot is free, claims it, stamps it with a fresh
// monotonic id and returns it. Blocking here is what gives every engine
// its in-flight-frame cap for free: a source can never pull more frames
// than the ring's capacity ahead of where they're recycled.
func (r *Ring) Get() *Frame {
	f := <-r.free
	f.ID = atomic.AddUint64(&r.nextID, 1) - 1
	return f
}

// GetContext is like Get but also returns early with an error if ctx is
// cancelled before a slot frees up.
func (r *Ring) GetContext(ctx context.Context) (*Frame, error) {
	select {
	case f := <-r.free:
		f.ID = atomic.AddUint64(&r.nextID, 1) - 1
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Recycle zeroes f's scratch state and returns it to the pool.
func (r *Ring) Recycle(f *Frame) {
	f.reset()
	select {
	case r.free <- f:
	default:
		verrors.Panic("ring recycle: free list already holds capacity frames")
	}
}
