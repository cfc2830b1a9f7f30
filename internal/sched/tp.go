package sched

import (
	"fmt"
	"time"

	"github.com/me/gotp/pkg/model"
)

// tpRunQueue is the time-partitioning class state embedded in each run
// queue: the installed schedule table, one run queue per partition, the
// window cursor, and the frame timer driving it. Mutated only under the
// run queue lock.
type tpRunQueue struct {
	rq         *RunQueue
	gps        *ScheduleTable
	partitions [model.MaxPartitions]multiQueue
	idle       multiQueue

	// tps is the active queue: the partition owning the current window,
	// or the always-empty idle queue. Set whenever a window activates,
	// so it is never nil while the frame timer runs.
	tps *multiQueue

	wnext        int
	curWindow    int
	curPartition int
	tfStart      time.Time
	timer        frameTimer
	threads      map[*Thread]struct{}
}

// scheduleNext activates the window at wnext and programs the frame
// timer for the end of it. Runs under the run queue lock.
func (tp *tpRunQueue) scheduleNext() {
	// Switch to the next partition. Holes in the frame are windows
	// assigned to the idle partition, whose queue stays empty, so a
	// window always begins exactly where the previous one ends.
	w := tp.gps.windows[tp.wnext]
	if w.partition < 0 {
		tp.tps = &tp.idle
	} else {
		tp.tps = &tp.partitions[w.partition]
	}
	tp.curWindow = tp.wnext
	tp.curPartition = w.partition

	// Program the tick advancing to the next window.
	tp.wnext = (tp.wnext + 1) % tp.gps.Len()
	t := tp.tfStart.Add(tp.gps.windows[tp.wnext].offset)

	// If we are late, resynchronize on a frame boundary instead of
	// drifting window by window: skip to the start of the next frame
	// until the deadline lands in the future.
	for {
		now := tp.rq.c.Now()
		if !now.After(t) {
			break
		}
		t = tp.tfStart.Add(tp.gps.frameDuration)
		tp.tfStart = t
		tp.wnext = 0
	}

	tp.timer.start(t)
	tp.rq.setResched()
}

// tick is the frame timer handler: detect an overrun of the closing
// window, advance to the next one, then dispatch.
func (tp *tpRunQueue) tick(gen uint64) {
	rq := tp.rq

	wasOOB := rq.stageState.OOB()
	if !wasOOB {
		rq.stageState.EnterOOB()
		defer rq.stageState.LeaveOOB()
	}

	rq.lock()
	if !tp.timer.valid(gen) || tp.gps == nil {
		rq.unlock()
		return
	}

	// If the current thread was still busy at the end of its window
	// despite asking to be warned, note the window being overrun;
	// wnext already points at the next one.
	curr := rq.curr
	overrun := -1
	if curr != nil && curr.state&(tWarnOverrun|blockBits) == tWarnOverrun {
		overrun = tp.wnext - 1
		if overrun < 0 {
			overrun = tp.gps.Len() - 1
		}
	}

	// Crossing the last window: the next frame starts one full period
	// later, so the wrap deadline is computed against it.
	if tp.wnext+1 == tp.gps.Len() {
		tp.tfStart = tp.tfStart.Add(tp.gps.frameDuration)
	}

	tp.scheduleNext()
	window, partition := tp.curWindow, tp.curPartition
	rq.unlock()

	// Notification is diagnostic and must never run under the lock.
	if overrun >= 0 {
		rq.core.notifyOverrun(rq.cpu, curr, overrun)
	}
	rq.core.emitWindow(rq.cpu, window, partition)
	rq.core.schedule(rq)
}

// startLocked activates the cyclic schedule from the current clock
// reading. No-op without an installed table.
func (tp *tpRunQueue) startLocked() {
	if tp.gps == nil {
		return
	}
	tp.wnext = 0
	tp.tfStart = tp.rq.c.Now()
	tp.scheduleNext()
}

// stopLocked halts the window state machine, leaving the table in place.
func (tp *tpRunQueue) stopLocked() {
	if tp.gps != nil {
		tp.timer.stop()
	}
}

// switchSchedule installs gps (nil uninstalls) in one critical section:
// stop the slicing timer, then swap the tables. The change is refused
// while any thread is attached to the policy on this CPU.
//
// switchSchedule consumes the caller's reference on gps: on failure the
// new table is released, on success the previous one is.
func (tp *tpRunQueue) switchSchedule(gps *ScheduleTable) error {
	rq := tp.rq

	rq.lock()
	if len(tp.threads) != 0 {
		attached := len(tp.threads)
		rq.unlock()
		if gps != nil {
			tp.putSchedule(gps)
		}
		return fmt.Errorf("%d threads attached to tp policy on cpu %d: %w",
			attached, rq.cpu, ErrBusy)
	}
	tp.stopLocked()
	old := tp.gps
	tp.gps = gps
	rq.unlock()

	if old != nil {
		tp.putSchedule(old)
	}
	return nil
}

// putSchedule drops one table reference, logging when the table dies.
func (tp *tpRunQueue) putSchedule(gps *ScheduleTable) {
	windows := gps.Len()
	if gps.release() {
		tp.rq.logger.Debug("schedule table released", "windows", windows)
	}
}

// tpClass implements deterministic time partitioning: a repeating frame
// of windows, each granting the CPU to one partition's threads.
type tpClass struct{}

// TP is the time-partitioning scheduling class singleton.
var TP Class = tpClass{}

func (tpClass) Name() string         { return "tp" }
func (tpClass) Policy() model.Policy { return model.PolicyTP }
func (tpClass) Weight() int          { return tpClassWeight }

func (tpClass) Init(rq *RunQueue) {
	tp := &rq.tp
	tp.rq = rq
	tp.threads = make(map[*Thread]struct{})
	tp.curPartition = model.PartitionIdle
	tp.timer = frameTimer{c: rq.c, fire: tp.tick}
}

func (tpClass) Enqueue(t *Thread) {
	t.tps.addTail(t)
}

func (tpClass) Dequeue(t *Thread) {
	t.tps.remove(t)
}

func (tpClass) Requeue(t *Thread) {
	t.tps.addHead(t)
}

func (tpClass) Pick(rq *RunQueue) *Thread {
	// Never pick a thread while partitions are not being scheduled.
	if !rq.tp.timer.isRunning() {
		return nil
	}
	return rq.tp.tps.pick()
}

func (tpClass) Migrate(t *Thread, dst *RunQueue) {
	// The partition schedule is a per-CPU property and cannot follow a
	// thread to another run queue, so a migrating thread falls back to
	// the fifo class at its current effective priority. A subsequent
	// policy call may put it back under tp with a partition that fits
	// the destination CPU's schedule.
	setSchedParamLocked(t, FIFO, Param{Priority: t.cprio})
}

func (tpClass) CheckParam(t *Thread, p Param) error {
	tp := &t.rq.tp
	if tp.gps == nil {
		return fmt.Errorf("no schedule installed on cpu %d: %w", t.rq.cpu, ErrInvalidArgument)
	}
	if p.Priority < model.MinTPPriority || p.Priority > model.MaxTPPriority {
		return fmt.Errorf("tp priority %d out of range [%d, %d]: %w",
			p.Priority, model.MinTPPriority, model.MaxTPPriority, ErrInvalidArgument)
	}
	if p.Partition < 0 || p.Partition >= model.MaxPartitions {
		return fmt.Errorf("partition %d out of range [0, %d): %w",
			p.Partition, model.MaxPartitions, ErrInvalidArgument)
	}
	return nil
}

func (tpClass) SetParam(t *Thread, p Param) bool {
	tp := &t.rq.tp
	t.tps = &tp.partitions[p.Partition]
	t.ptid = p.Partition
	return setEffectivePriority(t, p.Priority)
}

func (tpClass) GetParam(t *Thread) Param {
	return Param{Priority: t.cprio, Partition: t.ptid}
}

func (tpClass) TrackPriority(t *Thread, p *Param) {
	// The assigned partition never changes across a priority boost:
	// letting a thread consume another partition's window time would
	// defeat the whole partitioning contract. Only an explicit policy
	// call moves a thread between partitions, so a reset boils down to
	// reinstating the base priority.
	if p != nil {
		if p.Partition != t.ptid {
			t.rq.logger.Warn("priority tracking may not cross partitions",
				"thread_id", t.id, "partition", t.ptid, "requested", p.Partition)
		}
		t.cprio = p.Priority
	} else {
		t.cprio = t.bprio
	}
}

func (tpClass) CeilPriority(t *Thread, prio int) {
	if prio > model.MaxTPPriority {
		prio = model.MaxTPPriority
	}
	t.cprio = prio
}

func (tpClass) Declare(t *Thread, p Param) error {
	t.rq.tp.threads[t] = struct{}{}
	return nil
}

func (tpClass) Forget(t *Thread) {
	delete(t.rq.tp.threads, t)
	t.tps = nil
	t.ptid = model.PartitionIdle
}

func (tpClass) Control(rq *RunQueue, req *ControlRequest) (*ControlInfo, error) {
	tp := &rq.tp

	switch req.Op {
	case ControlInstall:
		if len(req.Windows) == 0 {
			// Installing an empty schedule uninstalls.
			return nil, tp.switchSchedule(nil)
		}
		gps, err := NewScheduleTable(req.Windows)
		if err != nil {
			return nil, err
		}
		return nil, tp.switchSchedule(gps)

	case ControlUninstall:
		return nil, tp.switchSchedule(nil)

	case ControlStart:
		rq.lock()
		tp.startLocked()
		started := tp.timer.isRunning()
		window, partition := tp.curWindow, tp.curPartition
		rq.unlock()
		if started {
			rq.core.emitWindow(rq.cpu, window, partition)
		}
		return nil, nil

	case ControlStop:
		rq.lock()
		tp.stopLocked()
		rq.unlock()
		return nil, nil

	case ControlGet:
		rq.lock()
		gps := tp.gps
		if gps != nil {
			gps.retain()
		}
		rq.unlock()
		if gps == nil {
			return &ControlInfo{}, nil
		}
		// Copy outside the lock; the snapshot reference keeps the
		// table alive even if it is uninstalled concurrently.
		count, windows := gps.Snapshot(req.MaxWindows)
		tp.putSchedule(gps)
		return &ControlInfo{WindowCount: count, Windows: windows}, nil

	default:
		return nil, fmt.Errorf("unknown tp control op %d: %w", req.Op, ErrInvalidArgument)
	}
}
