package sched

import (
	"sync/atomic"
	"time"

	"github.com/me/gotp/pkg/model"
)

// Thread state bits. A thread with any block bit set is not runnable and
// stays out of the run queues.
const (
	tReady   = 1 << iota // linked into a run queue
	tWait                // blocked on a resource
	tDelay               // sleeping on a timer
	tDormant             // terminated or not yet started

	// tWarnOverrun marks a thread that must yield at its window boundary
	// and wants to be told when it did not.
	tWarnOverrun
)

const blockBits = tWait | tDelay | tDormant

// Param carries the scheduling parameters of a thread under one class.
// Partition is only meaningful under the tp class.
type Param struct {
	Priority  int
	Partition int
}

// Thread is one schedulable entity pinned to a CPU run queue.
//
// All fields below the identity block are guarded by the owning run
// queue's lock. The effective priority cprio must never change while the
// thread is linked into a queue; callers dequeue first, adjust, then
// enqueue again.
type Thread struct {
	id        string
	name      string
	createdAt time.Time

	rq    *RunQueue
	class Class
	state uint32

	// bprio is the base priority; cprio the effective one, which
	// diverges from bprio only while priority inheritance or ceiling
	// boosts are being tracked.
	bprio int
	cprio int

	// tps points at the owning partition's run queue while the thread
	// is under the tp class; ptid is the matching partition index.
	tps  *multiQueue
	ptid int

	// Counters stay atomic so snapshots and the overrun path can read
	// or bump them without the run queue lock.
	dispatches atomic.Int64
	overruns   atomic.Int64

	// overrunCh receives the index of each overrun window. Sends never
	// block; notifications are dropped when the consumer lags.
	overrunCh chan int
}

// ID returns the thread's immutable identifier.
func (t *Thread) ID() string {
	return t.id
}

// Name returns the thread's display name.
func (t *Thread) Name() string {
	return t.name
}

// OverrunNotices returns the channel overrun window indices are posted
// to. Diagnostic only; the scheduler never blocks on it.
func (t *Thread) OverrunNotices() <-chan int {
	return t.overrunCh
}

// lifecycleState projects the state bits onto the external thread state.
// Called under the run queue lock.
func (t *Thread) lifecycleState() model.ThreadState {
	switch {
	case t.state&tDormant != 0:
		return model.ThreadStateTerminated
	case t.state&tWait != 0:
		return model.ThreadStateWaiting
	case t.state&tDelay != 0:
		return model.ThreadStateDelayed
	case t.rq.curr == t:
		return model.ThreadStateRunning
	default:
		return model.ThreadStateReady
	}
}
