package sched

import (
	"fmt"

	"github.com/me/gotp/pkg/model"
)

// Class weights. Higher-weight classes are polled first by pickNext, so
// a runnable fifo thread always preempts tp windows.
const (
	fifoClassWeight = 4
	tpClassWeight   = 3
)

// fifoRunQueue is the fifo class state embedded in each run queue.
type fifoRunQueue struct {
	runnable multiQueue
}

// fifoClass is a plain preemptive fixed-priority policy. It doubles as
// the demotion target when a tp thread migrates to another CPU, since
// partition schedules cannot follow a thread across run queues.
type fifoClass struct{}

// FIFO is the fifo scheduling class singleton.
var FIFO Class = fifoClass{}

func (fifoClass) Name() string         { return "fifo" }
func (fifoClass) Policy() model.Policy { return model.PolicyFIFO }
func (fifoClass) Weight() int          { return fifoClassWeight }

func (fifoClass) Init(rq *RunQueue) {}

func (fifoClass) Enqueue(t *Thread) {
	t.rq.fifo.runnable.addTail(t)
}

func (fifoClass) Dequeue(t *Thread) {
	t.rq.fifo.runnable.remove(t)
}

func (fifoClass) Requeue(t *Thread) {
	t.rq.fifo.runnable.addHead(t)
}

func (fifoClass) Pick(rq *RunQueue) *Thread {
	return rq.fifo.runnable.pick()
}

func (fifoClass) Migrate(t *Thread, dst *RunQueue) {}

func (fifoClass) CheckParam(t *Thread, p Param) error {
	if p.Priority < model.MinTPPriority || p.Priority > model.MaxTPPriority {
		return fmt.Errorf("fifo priority %d out of range [%d, %d]: %w",
			p.Priority, model.MinTPPriority, model.MaxTPPriority, ErrInvalidArgument)
	}
	return nil
}

func (fifoClass) SetParam(t *Thread, p Param) bool {
	t.tps = nil
	t.ptid = model.PartitionIdle
	return setEffectivePriority(t, p.Priority)
}

func (fifoClass) GetParam(t *Thread) Param {
	return Param{Priority: t.cprio, Partition: model.PartitionIdle}
}

func (fifoClass) TrackPriority(t *Thread, p *Param) {
	if p != nil {
		t.cprio = p.Priority
	} else {
		t.cprio = t.bprio
	}
}

func (fifoClass) CeilPriority(t *Thread, prio int) {
	if prio > model.MaxTPPriority {
		prio = model.MaxTPPriority
	}
	t.cprio = prio
}

func (fifoClass) Declare(t *Thread, p Param) error { return nil }

func (fifoClass) Forget(t *Thread) {}

func (fifoClass) Control(rq *RunQueue, req *ControlRequest) (*ControlInfo, error) {
	return nil, fmt.Errorf("fifo class has no control plane: %w", ErrInvalidArgument)
}

// setEffectivePriority updates both the base and effective priority and
// reports whether the change warrants a reschedule. The caller must have
// dequeued the thread first.
func setEffectivePriority(t *Thread, prio int) bool {
	t.bprio = prio
	t.cprio = prio
	return t.rq.curr == t || t.state&tReady != 0
}
