package sched

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/me/gotp/internal/stage"
)

// RunQueue is the per-CPU scheduling state. One lock serializes every
// mutation: administrative control calls, thread queue operations, and
// the frame timer's tick all funnel through it. While the lock is held
// the CPU's in-band stage is stalled, the userspace equivalent of
// masking interrupts for the critical section.
type RunQueue struct {
	cpu    int
	c      clock.Clock
	logger *slog.Logger
	core   *Core

	mu         sync.Mutex
	stalled    bool
	needRes    bool
	curr       *Thread
	classes    []Class
	stageState stage.State

	fifo fifoRunQueue
	tp   tpRunQueue
}

func newRunQueue(cpu int, c clock.Clock, core *Core, classes []Class, logger *slog.Logger) *RunQueue {
	rq := &RunQueue{
		cpu:    cpu,
		c:      c,
		core:   core,
		logger: logger.With("component", "rq", "cpu", cpu),
	}
	rq.classes = append(rq.classes, classes...)
	sort.SliceStable(rq.classes, func(i, j int) bool {
		return rq.classes[i].Weight() > rq.classes[j].Weight()
	})
	for _, class := range rq.classes {
		class.Init(rq)
	}
	return rq
}

// CPU returns the CPU index this run queue schedules.
func (rq *RunQueue) CPU() int {
	return rq.cpu
}

// lock acquires the run queue lock and stalls the in-band stage.
func (rq *RunQueue) lock() {
	rq.mu.Lock()
	rq.stalled = rq.stageState.TestAndStall()
}

// unlock restores the stall bit and releases the lock.
func (rq *RunQueue) unlock() {
	rq.stageState.RestoreStall(rq.stalled)
	rq.mu.Unlock()
}

// setResched marks that the dispatcher must re-elect the running thread
// before the current operation completes. Called under the lock.
func (rq *RunQueue) setResched() {
	rq.needRes = true
}

// pickNext walks the classes by descending weight and returns the first
// elected thread, or nil when every class passes. Called under the lock.
func (rq *RunQueue) pickNext() *Thread {
	for _, class := range rq.classes {
		if t := class.Pick(rq); t != nil {
			return t
		}
	}
	return nil
}

// classByPolicy resolves a class registered on this run queue.
func (rq *RunQueue) classByPolicy(policy string) Class {
	for _, class := range rq.classes {
		if string(class.Policy()) == policy {
			return class
		}
	}
	return nil
}
