// Package ring implements the single-producer/single-consumer bounded
// queue shared across aioframe's backends for submission/completion
// hand-off. It is a generic counterpart of the cache-line-padded index
// discipline used by the teacher's own hot fields (sqLock-adjacent state
// in the io_uring Ring) and by the pack's interface{}-boxed SPSC queues:
// here the element type is a Go generic parameter instead of a boxed
// interface, so pushing a completion never allocates.
package ring

import (
	"errors"
	"sync/atomic"
)

// ErrFull is returned by Push when the ring is at capacity.
var ErrFull = errors.New("ring: full")

// ErrInvalidCapacity is returned by New when capacity is not a power of
// two ≥ 2.
var ErrInvalidCapacity = errors.New("ring: capacity must be a power of two >= 2")

const cacheLine = 64

// Ring is a lock-free SPSC bounded queue. Exactly one goroutine may call
// Push; exactly one (possibly different) goroutine may call Pop; the two
// must never run concurrently with themselves, only with each other.
type Ring[T any] struct {
	mask uint64
	buf  []T

	_pad0 [cacheLine]byte

	writeIndex atomic.Uint64

	_pad1 [cacheLine - 8]byte

	readIndex atomic.Uint64

	_pad2 [cacheLine - 8]byte
}

// New creates a ring of the given capacity, which must be a power of two
// and at least 2.
func New[T any](capacity uint64) (*Ring[T], error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, ErrInvalidCapacity
	}
	return &Ring[T]{
		mask: capacity - 1,
		buf:  make([]T, capacity),
	}, nil
}

// Push enqueues item. It returns ErrFull if the ring is at capacity.
func (r *Ring[T]) Push(item T) error {
	read := r.readIndex.Load() // acquire: see the consumer's latest drain
	write := r.writeIndex.Load()
	capacity := uint64(len(r.buf))

	if write-read >= capacity {
		return ErrFull
	}

	r.buf[write&r.mask] = item
	r.writeIndex.Store(write + 1) // release: publish the slot contents

	// The consumer can only ever shrink occupancy concurrently (it never
	// advances read_index past write_index), so this can't newly overflow;
	// it guards write_index - read_index <= capacity defensively rather
	// than detecting a fresh violation.
	if write+1-r.readIndex.Load() > capacity {
		return ErrFull
	}
	return nil
}

// Pop dequeues the oldest item. The second return is false if the ring is
// empty.
func (r *Ring[T]) Pop() (T, bool) {
	write := r.writeIndex.Load() // acquire: see the producer's latest publish
	read := r.readIndex.Load()

	if read == write {
		var zero T
		return zero, false
	}

	idx := read & r.mask
	item := r.buf[idx]
	var zero T
	r.buf[idx] = zero // drop the reference so a boxed T can be GC'd

	r.readIndex.Store(read + 1) // release: publish the drain
	return item, true
}

// Len returns the current occupancy. Safe to call from either side; the
// result may be stale by the time the caller acts on it.
func (r *Ring[T]) Len() uint64 {
	return r.writeIndex.Load() - r.readIndex.Load()
}

// Empty reports whether the ring currently holds no items.
func (r *Ring[T]) Empty() bool {
	return r.Len() == 0
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() uint64 {
	return uint64(len(r.buf))
}
