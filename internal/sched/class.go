package sched

import "github.com/me/gotp/pkg/model"

// Class is the capability set every scheduling policy implements. The
// run queue invokes all of it under its lock, except Control, which may
// build state before taking the lock.
//
// Queue operations only touch per-class state embedded in the run queue;
// cross-class decisions (who runs next) are made by the run queue walking
// its classes by descending weight.
type Class interface {
	// Name returns the class name ("tp", "fifo").
	Name() string

	// Policy returns the externally visible policy identifier.
	Policy() model.Policy

	// Weight orders classes on a run queue; higher weight classes are
	// polled first when electing the next thread.
	Weight() int

	// Init prepares the per-class state embedded in rq.
	Init(rq *RunQueue)

	// Enqueue links a runnable thread at the tail of its priority level.
	Enqueue(t *Thread)

	// Dequeue unlinks a thread from its run queue.
	Dequeue(t *Thread)

	// Requeue links a preempted thread back at the head of its priority
	// level so it resumes before equal-priority peers.
	Requeue(t *Thread)

	// Pick elects and removes the best runnable thread of this class,
	// or returns nil to let lower-weight classes run.
	Pick(rq *RunQueue) *Thread

	// Migrate adjusts a thread that is moving to dst. Called while the
	// thread is unlinked from its current run queue.
	Migrate(t *Thread, dst *RunQueue)

	// CheckParam validates params against the thread's target run queue
	// without mutating anything.
	CheckParam(t *Thread, p Param) error

	// SetParam applies validated params and reports whether the change
	// requires a reschedule.
	SetParam(t *Thread, p Param) bool

	// GetParam reads back the thread's current scheduling parameters.
	GetParam(t *Thread) Param

	// TrackPriority follows a priority-inheritance boost (p != nil) or
	// restores the base priority (p == nil). It must never move the
	// thread between partitions.
	TrackPriority(t *Thread, p *Param)

	// CeilPriority applies a priority-ceiling boost, clamped to the
	// class's maximum.
	CeilPriority(t *Thread, prio int)

	// Declare attaches a thread to this class on its run queue.
	Declare(t *Thread, p Param) error

	// Forget detaches a thread from this class.
	Forget(t *Thread)

	// Control handles administrative requests against one CPU's state
	// for this class. Classes without a control plane return
	// ErrInvalidArgument.
	Control(rq *RunQueue, req *ControlRequest) (*ControlInfo, error)
}

// ControlOp selects the administrative operation a ControlRequest carries.
type ControlOp int

const (
	ControlInstall ControlOp = iota
	ControlUninstall
	ControlStart
	ControlStop
	ControlGet
)

// ControlRequest is the argument block for Class.Control.
type ControlRequest struct {
	Op ControlOp

	// Windows is the schedule to install; an empty list uninstalls.
	Windows []model.Window

	// MaxWindows caps how many windows ControlGet copies out. Negative
	// means all.
	MaxWindows int
}

// ControlInfo is the result block for Class.Control.
type ControlInfo struct {
	// WindowCount is the full number of windows in the installed table,
	// regardless of how many were copied.
	WindowCount int
	Windows     []model.Window
}
