package capture

import "sync/atomic"

// defaultQueueCapacity matches the probe's historical FIFO depth: at typical
// block sizes it holds well over a minute of frames.
const defaultQueueCapacity = 8192

// FrameQueue is a lock-free single-producer single-consumer ring buffer of
// [FrameSummary] values. The producer (audio thread) owns the write cursor,
// the consumer (background worker) owns the read cursor; both cursors are
// monotonically increasing atomics masked into a power-of-two buffer.
//
// Go's sync/atomic operations are sequentially consistent, which subsumes the
// acquire/release ordering the cursor handshake needs: the producer stores
// the element before publishing writePos, so a consumer that observes the new
// writePos also observes the element.
//
// Thread assignment is fixed: TryPush from the producer only, Drain and Len
// from the consumer only. Overflow policy is drop-newest — TryPush returns
// false and the incoming frame is discarded.
type FrameQueue struct {
	// Cursors live on separate cache lines so producer and consumer do not
	// false-share.
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	buf  []FrameSummary
	mask uint64
}

// NewFrameQueue creates a queue holding at least minCapacity frames, rounded
// up to the next power of two. A non-positive minCapacity yields the default
// capacity.
func NewFrameQueue(minCapacity int) *FrameQueue {
	if minCapacity <= 0 {
		minCapacity = defaultQueueCapacity
	}
	size := 1
	for size < minCapacity {
		size <<= 1
	}
	return &FrameQueue{
		buf:  make([]FrameSummary, size),
		mask: uint64(size - 1),
	}
}

// Cap returns the fixed capacity of the queue.
func (q *FrameQueue) Cap() int { return len(q.buf) }

// TryPush appends f and reports whether it fit. Never blocks, never
// allocates. Producer side only.
func (q *FrameQueue) TryPush(f FrameSummary) bool {
	w := q.writePos.Load()
	r := q.readPos.Load()
	if w-r == uint64(len(q.buf)) {
		return false
	}
	q.buf[w&q.mask] = f
	q.writePos.Store(w + 1)
	return true
}

// Drain pops every frame currently available, in FIFO order, invoking fn for
// each. The read cursor is published after every element so the producer
// regains space as early as possible. Consumer side only.
func (q *FrameQueue) Drain(fn func(FrameSummary)) int {
	r := q.readPos.Load()
	w := q.writePos.Load()
	n := 0
	for ; r < w; r++ {
		f := q.buf[r&q.mask]
		q.readPos.Store(r + 1)
		fn(f)
		n++
	}
	return n
}

// Len returns the number of frames currently buffered. Consumer side only;
// the value is exact there because only the producer can change it
// concurrently, and then only upward.
func (q *FrameQueue) Len() int {
	return int(q.writePos.Load() - q.readPos.Load())
}

// Reset discards all buffered frames. Only call while the producer is
// quiescent (session restart).
func (q *FrameQueue) Reset() {
	q.readPos.Store(q.writePos.Load())
}
