package sched

import (
	"math/bits"

	"github.com/me/gotp/pkg/model"
)

const maxPrio = model.MaxTPPriority

// multiQueue is a multi-level priority queue: one FIFO list per priority
// level plus an occupancy bitmap for O(1) lookup of the highest populated
// level. All access happens under the owning run queue's lock.
type multiQueue struct {
	bitmap [2]uint64
	levels [maxPrio + 1][]*Thread
}

// addTail appends the thread to the back of its priority level.
func (q *multiQueue) addTail(t *Thread) {
	prio := t.cprio
	q.levels[prio] = append(q.levels[prio], t)
	q.bitmap[prio/64] |= 1 << (prio % 64)
}

// addHead prepends the thread to the front of its priority level, so a
// preempted thread resumes before its equal-priority peers.
func (q *multiQueue) addHead(t *Thread) {
	prio := t.cprio
	q.levels[prio] = append([]*Thread{t}, q.levels[prio]...)
	q.bitmap[prio/64] |= 1 << (prio % 64)
}

// remove unlinks the thread from its priority level. Removing a thread
// that is not queued is a no-op.
func (q *multiQueue) remove(t *Thread) {
	prio := t.cprio
	level := q.levels[prio]
	for i, cand := range level {
		if cand == t {
			q.levels[prio] = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(q.levels[prio]) == 0 {
		q.bitmap[prio/64] &^= 1 << (prio % 64)
	}
}

// pick pops the head of the highest populated priority level, or nil when
// the queue is empty.
func (q *multiQueue) pick() *Thread {
	prio, ok := q.highestPrio()
	if !ok {
		return nil
	}
	level := q.levels[prio]
	t := level[0]
	q.levels[prio] = level[1:]
	if len(q.levels[prio]) == 0 {
		q.bitmap[prio/64] &^= 1 << (prio % 64)
	}
	return t
}

// head returns the thread pick would return, without removing it.
func (q *multiQueue) head() *Thread {
	prio, ok := q.highestPrio()
	if !ok {
		return nil
	}
	return q.levels[prio][0]
}

func (q *multiQueue) highestPrio() (int, bool) {
	if q.bitmap[1] != 0 {
		return 64 + 63 - bits.LeadingZeros64(q.bitmap[1]), true
	}
	if q.bitmap[0] != 0 {
		return 63 - bits.LeadingZeros64(q.bitmap[0]), true
	}
	return 0, false
}

func (q *multiQueue) empty() bool {
	return q.bitmap[0] == 0 && q.bitmap[1] == 0
}

func (q *multiQueue) len() int {
	n := 0
	for _, level := range q.levels {
		n += len(level)
	}
	return n
}
