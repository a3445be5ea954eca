package dispatch

import (
	"sync/atomic"
	"time"
)

const (
	DefaultCapacity    = 10
	DefaultEnqueueWait = 50 * time.Millisecond
	DefaultClaimWait   = 100 * time.Millisecond
)

// AdmitFunc decides whether a request may enter the queue at all.
type AdmitFunc func(Request) bool

// Stats counts what happened to enqueued requests.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	// Dropped counts requests lost to a full queue or lock contention.
	Dropped uint64 `json:"dropped"`
	// Deduped counts heartbeats discarded because one was pending.
	Deduped uint64 `json:"deduped"`
	// Rejected counts requests refused by the admit func.
	Rejected uint64 `json:"rejected"`
	Claimed  uint64 `json:"claimed"`
	Pending  int    `json:"pending"`
}

// Queue is a bounded FIFO of requests. Its lock is a one-slot channel so
// that both sides can give up after a bounded wait.
type Queue struct {
	lock chan struct{}

	// guarded by lock
	buf   []Request
	head  int
	count int

	enqueueWait time.Duration
	admit       AdmitFunc

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	deduped  atomic.Uint64
	rejected atomic.Uint64
	claimed  atomic.Uint64
}

// NewQueue creates a queue holding at most capacity requests.
func NewQueue(capacity int, enqueueWait time.Duration) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if enqueueWait <= 0 {
		enqueueWait = DefaultEnqueueWait
	}
	return &Queue{
		lock:        make(chan struct{}, 1),
		buf:         make([]Request, capacity),
		enqueueWait: enqueueWait,
	}
}

// SetAdmit installs the gate consulted by Enqueue. Call before use.
func (q *Queue) SetAdmit(fn AdmitFunc) {
	q.admit = fn
}

func (q *Queue) acquire(wait time.Duration) bool {
	select {
	case q.lock <- struct{}{}:
		return true
	default:
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case q.lock <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (q *Queue) release() {
	<-q.lock
}

// Enqueue adds r and reports whether it was accepted. A refused request
// is simply lost; the reason only shows up in Stats.
//
// A heartbeat is refused while another heartbeat is pending. Any request
// is refused when the queue is full, when the admit gate says no, or when
// the lock cannot be taken within the enqueue wait.
//
// Parameters:
//   - r: Request to add
//
// Returns:
//   - bool: true if r was added
func (q *Queue) Enqueue(r Request) bool {
	if q.admit != nil && !q.admit(r) {
		q.rejected.Add(1)
		return false
	}
	if !q.acquire(q.enqueueWait) {
		q.dropped.Add(1)
		return false
	}
	defer q.release()

	if r.Kind == KindHeartbeat && q.pendingLocked(KindHeartbeat) {
		q.deduped.Add(1)
		return false
	}
	if q.count == len(q.buf) {
		q.dropped.Add(1)
		return false
	}

	q.buf[(q.head+q.count)%len(q.buf)] = r
	q.count++
	q.enqueued.Add(1)
	return true
}

func (q *Queue) pendingLocked(k Kind) bool {
	for i := 0; i < q.count; i++ {
		if q.buf[(q.head+i)%len(q.buf)].Kind == k {
			return true
		}
	}
	return false
}

// Claim removes and returns the oldest request. It gives up after wait
// if the lock is contended.
//
// Parameters:
//   - wait: Longest time to wait for the lock
//
// Returns:
//   - Request: the oldest request
//   - bool: false if the queue was empty or the lock was busy
func (q *Queue) Claim(wait time.Duration) (Request, bool) {
	if !q.acquire(wait) {
		return Request{}, false
	}
	defer q.release()

	if q.count == 0 {
		return Request{}, false
	}
	r := q.buf[q.head]
	q.buf[q.head] = Request{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.claimed.Add(1)
	return r, true
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.lock <- struct{}{}
	defer q.release()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.buf)
}

// Stats returns a snapshot of the counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Deduped:  q.deduped.Load(),
		Rejected: q.rejected.Load(),
		Claimed:  q.claimed.Load(),
		Pending:  q.Len(),
	}
}
