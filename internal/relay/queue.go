package relay

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/wilsonzlin/aero/proxy/signaling-relay/internal/config"
)

// sendQueue is a byte-bounded FIFO queue of outbound frames for one
// connection.
//
// Enqueue never blocks, so a slow reader on one connection never stalls the
// goroutines relaying frames to it.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	policy   config.OverflowPolicy
	maxBytes int
	curBytes int
	frames   *queue.Queue

	drops  atomic.Uint64
	onDrop func(n int)
}

func newSendQueue(maxBytes int, policy config.OverflowPolicy) *sendQueue {
	q := &sendQueue{
		policy:   policy,
		maxBytes: maxBytes,
		frames:   queue.New(),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// SetOnDrop installs a hook invoked with the number of frames discarded by
// each Enqueue call that dropped anything.
func (q *sendQueue) SetOnDrop(fn func(n int)) {
	q.mu.Lock()
	q.onDrop = fn
	q.mu.Unlock()
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Len reports the number of queued frames and their total size.
func (q *sendQueue) Len() (frames, bytes int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames.Length(), q.curBytes
}

// Enqueue appends frame. When the frame does not fit, the drop_oldest policy
// evicts from the head until it does, and the disconnect policy rejects it
// with ErrQueueFull. A frame larger than the whole budget is always dropped.
func (q *sendQueue) Enqueue(frame []byte) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(frame) > q.maxBytes {
		onDrop := q.recordDropLocked(1)
		q.mu.Unlock()
		notifyDrop(onDrop, 1)
		return ErrFrameTooLarge
	}

	evicted := 0
	for q.curBytes+len(frame) > q.maxBytes {
		if q.policy == config.OverflowDisconnect {
			onDrop := q.recordDropLocked(1)
			q.mu.Unlock()
			notifyDrop(onDrop, 1)
			return ErrQueueFull
		}
		old := q.frames.Remove().([]byte)
		q.curBytes -= len(old)
		evicted++
	}

	q.frames.Add(frame)
	q.curBytes += len(frame)
	var onDrop func(int)
	if evicted > 0 {
		onDrop = q.recordDropLocked(evicted)
	}
	q.mu.Unlock()

	q.notEmpty.Signal()
	notifyDrop(onDrop, evicted)
	return nil
}

func (q *sendQueue) recordDropLocked(n int) func(int) {
	q.drops.Add(uint64(n))
	return q.onDrop
}

func notifyDrop(fn func(int), n int) {
	if fn != nil && n > 0 {
		fn(n)
	}
}

// Dequeue blocks until a frame is available or the queue is closed.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.frames.Length() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames.Remove().([]byte)
	q.curBytes -= len(frame)
	return frame, true
}

// Close discards pending frames and wakes the writer.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = queue.New()
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
