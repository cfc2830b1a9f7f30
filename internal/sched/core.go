package sched

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/me/gotp/pkg/model"
)

// Listener observes scheduling decisions. Callbacks run outside the run
// queue lock and must not block; thread identities are passed as ids so
// listeners never touch live scheduler state.
type Listener interface {
	// OnSwitch reports a context switch on a CPU. Empty ids stand for
	// the idle CPU.
	OnSwitch(cpu int, prev, next string)

	// OnWindow reports a window activation. Partition is the idle
	// sentinel for holes in the frame.
	OnWindow(cpu, window, partition int)

	// OnOverrun reports a thread caught still running at the boundary
	// of the window it owned.
	OnOverrun(cpu, window int, threadID string)
}

// ThreadParams configures a thread's scheduling identity.
type ThreadParams struct {
	Name        string
	Policy      model.Policy
	Priority    int
	Partition   int
	WarnOverrun bool
}

// Option configures a Core.
type Option func(*Core)

// WithClock injects the clock driving frame timers and timestamps.
// Tests and simulations pass a mock; the daemon uses the real one.
func WithClock(c clock.Clock) Option {
	return func(core *Core) {
		core.c = c
	}
}

// Core owns the per-CPU run queues and the thread registry, and plays
// the part of the surrounding kernel: it creates and destroys threads,
// applies policy changes, and runs the dispatch pass after every state
// change that requests one.
//
// Administrative thread operations serialize on the registry lock, then
// take the target run queue lock; frame ticks take only their run queue
// lock. That ordering is fixed: never acquire the registry lock while
// holding a run queue lock.
type Core struct {
	logger *slog.Logger
	c      clock.Clock
	rqs    []*RunQueue

	mu      sync.Mutex
	threads map[string]*Thread

	listenerMu sync.RWMutex
	listeners  []Listener
}

// New creates a core scheduling cpus virtual CPUs, each carrying the
// fifo and tp classes.
func New(cpus int, logger *slog.Logger, opts ...Option) (*Core, error) {
	if cpus < 1 {
		return nil, fmt.Errorf("cpu count %d must be at least 1: %w", cpus, ErrInvalidArgument)
	}
	core := &Core{
		logger:  logger.With("component", "core"),
		c:       clock.New(),
		threads: make(map[string]*Thread),
	}
	for _, opt := range opts {
		opt(core)
	}
	for cpu := 0; cpu < cpus; cpu++ {
		core.rqs = append(core.rqs, newRunQueue(cpu, core.c, core, []Class{FIFO, TP}, logger))
	}
	return core, nil
}

// Clock returns the clock the core schedules against.
func (c *Core) Clock() clock.Clock {
	return c.c
}

// CPUs returns the number of CPUs the core schedules.
func (c *Core) CPUs() int {
	return len(c.rqs)
}

// AddListener registers a scheduling event observer.
func (c *Core) AddListener(l Listener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

func (c *Core) runQueue(cpu int) (*RunQueue, error) {
	if cpu < 0 || cpu >= len(c.rqs) {
		return nil, fmt.Errorf("cpu %d out of range [0, %d): %w", cpu, len(c.rqs), ErrInvalidArgument)
	}
	return c.rqs[cpu], nil
}

// InstallSchedule validates windows, builds a schedule table and swaps
// it onto the CPU. An empty window list uninstalls instead.
func (c *Core) InstallSchedule(cpu int, windows []model.Window) error {
	return c.control(cpu, &ControlRequest{Op: ControlInstall, Windows: windows})
}

// UninstallSchedule removes the CPU's schedule table.
func (c *Core) UninstallSchedule(cpu int) error {
	return c.control(cpu, &ControlRequest{Op: ControlUninstall})
}

// StartSchedule activates cyclic window scheduling on the CPU. Without
// an installed table this is a no-op.
func (c *Core) StartSchedule(cpu int) error {
	return c.control(cpu, &ControlRequest{Op: ControlStart})
}

// StopSchedule halts window scheduling, keeping the table installed.
func (c *Core) StopSchedule(cpu int) error {
	return c.control(cpu, &ControlRequest{Op: ControlStop})
}

func (c *Core) control(cpu int, req *ControlRequest) error {
	rq, err := c.runQueue(cpu)
	if err != nil {
		return err
	}
	if _, err := TP.Control(rq, req); err != nil {
		return err
	}
	c.schedule(rq)
	return nil
}

// GetSchedule snapshots the CPU's installed schedule. The info carries
// the actual window count and at most maxWindows entries (negative for
// all); an uninstalled CPU yields a zero count.
func (c *Core) GetSchedule(cpu, maxWindows int) (*ControlInfo, error) {
	rq, err := c.runQueue(cpu)
	if err != nil {
		return nil, err
	}
	return TP.Control(rq, &ControlRequest{Op: ControlGet, MaxWindows: maxWindows})
}

// Attach creates a thread on the CPU under the requested policy and
// makes it runnable.
func (c *Core) Attach(cpu int, params ThreadParams) (*Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rq, err := c.runQueue(cpu)
	if err != nil {
		return nil, err
	}
	class := rq.classByPolicy(string(params.Policy))
	if class == nil {
		return nil, fmt.Errorf("unknown policy %q: %w", params.Policy, ErrInvalidArgument)
	}

	t := &Thread{
		id:        threadID(),
		name:      params.Name,
		createdAt: c.c.Now(),
		rq:        rq,
		class:     class,
		ptid:      model.PartitionIdle,
		overrunCh: make(chan int, 16),
	}
	if t.name == "" {
		t.name = t.id
	}
	if params.WarnOverrun {
		t.state |= tWarnOverrun
	}

	p := Param{Priority: params.Priority, Partition: params.Partition}
	rq.lock()
	if err := class.CheckParam(t, p); err != nil {
		rq.unlock()
		return nil, err
	}
	if err := class.Declare(t, p); err != nil {
		rq.unlock()
		return nil, err
	}
	class.SetParam(t, p)
	t.state |= tReady
	class.Enqueue(t)
	rq.setResched()
	rq.unlock()

	c.threads[t.id] = t
	c.schedule(rq)

	c.logger.Debug("thread attached", "thread_id", t.id, "name", t.name,
		"cpu", cpu, "policy", params.Policy, "priority", params.Priority)
	return t, nil
}

// Detach terminates a thread and removes it from the registry.
func (c *Core) Detach(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	rq := t.rq

	rq.lock()
	if t.state&tReady != 0 {
		t.class.Dequeue(t)
		t.state &^= tReady
	}
	t.state |= tDormant
	t.class.Forget(t)
	rq.setResched()
	rq.unlock()

	delete(c.threads, id)
	c.schedule(rq)

	c.logger.Debug("thread detached", "thread_id", id)
	return nil
}

// Block marks the running thread as waiting on a resource.
func (c *Core) Block(id string) error {
	return c.transition(id, model.ThreadStateWaiting, func(t *Thread) {
		t.state |= tWait
	}, model.ThreadStateRunning)
}

// Sleep marks the running thread as delayed and wakes it after d.
func (c *Core) Sleep(id string, d time.Duration) error {
	err := c.transition(id, model.ThreadStateDelayed, func(t *Thread) {
		t.state |= tDelay
	}, model.ThreadStateRunning)
	if err != nil {
		return err
	}
	c.c.AfterFunc(d, func() {
		c.wakeDelayed(id)
	})
	return nil
}

// Wake makes a waiting or delayed thread runnable again, queueing it
// behind equal-priority peers.
func (c *Core) Wake(id string) error {
	return c.transition(id, model.ThreadStateReady, func(t *Thread) {
		t.state &^= tWait | tDelay
		t.state |= tReady
		t.class.Enqueue(t)
	}, model.ThreadStateWaiting, model.ThreadStateDelayed)
}

// Yield puts the running thread at the back of its priority level.
func (c *Core) Yield(id string) error {
	return c.transition(id, model.ThreadStateReady, func(t *Thread) {
		t.state |= tReady
		t.class.Enqueue(t)
	}, model.ThreadStateRunning)
}

// transition applies a lifecycle change under the thread's run queue
// lock. The thread must currently be in one of the from states and the
// edge to the target state must exist in the thread state machine.
func (c *Core) transition(id string, to model.ThreadState, apply func(t *Thread), from ...model.ThreadState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	rq := t.rq

	rq.lock()
	cur := t.lifecycleState()
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed || !cur.CanTransitionTo(to) {
		rq.unlock()
		return &model.InvalidTransitionError{
			Entity: "Thread", ID: t.id, From: cur.String(), To: to.String(),
		}
	}
	apply(t)
	rq.setResched()
	rq.unlock()

	c.schedule(rq)
	return nil
}

// wakeDelayed is the sleep timer handler. The thread may have been
// woken, detached or retargeted in the meantime; only a still-delayed
// thread is touched.
func (c *Core) wakeDelayed(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return
	}
	rq := t.rq

	rq.lock()
	if t.state&tDelay == 0 {
		rq.unlock()
		return
	}
	t.state &^= tDelay
	t.state |= tReady
	t.class.Enqueue(t)
	rq.setResched()
	rq.unlock()

	c.schedule(rq)
}

// SetPolicy re-declares a thread under new scheduling parameters,
// possibly changing its class.
func (c *Core) SetPolicy(id string, params ThreadParams) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	rq := t.rq
	class := rq.classByPolicy(string(params.Policy))
	if class == nil {
		return fmt.Errorf("unknown policy %q: %w", params.Policy, ErrInvalidArgument)
	}
	p := Param{Priority: params.Priority, Partition: params.Partition}

	rq.lock()
	if err := class.CheckParam(t, p); err != nil {
		rq.unlock()
		return err
	}
	if params.WarnOverrun {
		t.state |= tWarnOverrun
	} else {
		t.state &^= tWarnOverrun
	}
	setSchedParamLocked(t, class, p)
	rq.unlock()

	c.schedule(rq)
	return nil
}

// Migrate moves a thread to another CPU. A tp thread is demoted to the
// fifo class on the way, because partition schedules do not span CPUs.
func (c *Core) Migrate(id string, cpu int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	dst, err := c.runQueue(cpu)
	if err != nil {
		return err
	}
	src := t.rq
	if src == dst {
		return nil
	}

	src.lock()
	queued := t.state&tReady != 0
	if queued {
		t.class.Dequeue(t)
		t.state &^= tReady
	}
	running := src.curr == t
	if running {
		src.curr = nil
	}
	t.class.Migrate(t, dst)
	src.setResched()
	src.unlock()

	dst.lock()
	t.rq = dst
	if queued || running {
		t.state |= tReady
		t.class.Enqueue(t)
	}
	dst.setResched()
	dst.unlock()

	c.schedule(src)
	c.schedule(dst)

	c.logger.Debug("thread migrated", "thread_id", id, "from", src.cpu, "to", cpu,
		"policy", t.class.Policy())
	return nil
}

// TrackPriority follows a priority-inheritance boost for the thread, or
// restores its base priority when p is nil. Partition assignments are
// never affected.
func (c *Core) TrackPriority(id string, p *Param) error {
	return c.adjustPriority(id, func(t *Thread) {
		t.class.TrackPriority(t, p)
	})
}

// CeilPriority applies a priority-ceiling boost to the thread.
func (c *Core) CeilPriority(id string, prio int) error {
	return c.adjustPriority(id, func(t *Thread) {
		t.class.CeilPriority(t, prio)
	})
}

// adjustPriority rewrites the effective priority of a thread with the
// dequeue-adjust-requeue discipline the queues require.
func (c *Core) adjustPriority(id string, adjust func(t *Thread)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	rq := t.rq

	rq.lock()
	queued := t.state&tReady != 0
	if queued {
		t.class.Dequeue(t)
		t.state &^= tReady
	}
	adjust(t)
	if queued {
		t.state |= tReady
		t.class.Enqueue(t)
	}
	rq.setResched()
	rq.unlock()

	c.schedule(rq)
	return nil
}

// GetParam reads back a thread's current scheduling parameters.
func (c *Core) GetParam(id string) (Param, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return Param{}, fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	rq := t.rq
	rq.lock()
	p := t.class.GetParam(t)
	rq.unlock()
	return p, nil
}

// schedule runs one dispatch pass on the run queue if a reschedule was
// requested: put a still-runnable current thread back ahead of its
// peers, walk the classes for the best candidate, and publish the
// switch.
func (c *Core) schedule(rq *RunQueue) {
	wasOOB := rq.stageState.OOB()
	if !wasOOB {
		rq.stageState.EnterOOB()
		defer rq.stageState.LeaveOOB()
	}

	rq.lock()
	if !rq.needRes {
		rq.unlock()
		return
	}
	rq.needRes = false

	prev := rq.curr
	if prev != nil && prev.state&blockBits == 0 && prev.state&tReady == 0 {
		prev.state |= tReady
		prev.class.Requeue(prev)
	}
	next := rq.pickNext()
	if next != nil {
		next.state &^= tReady
	}
	rq.curr = next
	rq.unlock()

	if prev == next {
		return
	}
	prevID, nextID := "", ""
	if prev != nil {
		prevID = prev.id
	}
	if next != nil {
		nextID = next.id
		next.dispatches.Add(1)
	}
	c.emitSwitch(rq.cpu, prevID, nextID)
}

// notifyOverrun delivers the diagnostic overrun signal for a window the
// thread failed to yield in. Runs without any scheduler lock.
func (c *Core) notifyOverrun(cpu int, t *Thread, window int) {
	t.overruns.Add(1)
	select {
	case t.overrunCh <- window:
	default:
	}
	c.logger.Warn("window overrun", "cpu", cpu, "window", window,
		"thread_id", t.id, "name", t.name)

	c.listenerMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnOverrun(cpu, window, t.id)
	}
}

func (c *Core) emitWindow(cpu, window, partition int) {
	c.listenerMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnWindow(cpu, window, partition)
	}
}

func (c *Core) emitSwitch(cpu int, prev, next string) {
	c.listenerMu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnSwitch(cpu, prev, next)
	}
}

// ThreadInfo snapshots one thread.
func (c *Core) ThreadInfo(id string) (model.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[id]
	if !ok {
		return model.Thread{}, fmt.Errorf("thread %q: %w", id, ErrNotFound)
	}
	return c.snapshotThread(t), nil
}

// Threads snapshots every live thread, oldest first.
func (c *Core) Threads() []model.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.Thread, 0, len(c.threads))
	for _, t := range c.threads {
		out = append(out, c.snapshotThread(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (c *Core) snapshotThread(t *Thread) model.Thread {
	rq := t.rq
	rq.lock()
	info := model.Thread{
		ID:          t.id,
		Name:        t.name,
		CPU:         rq.cpu,
		Policy:      t.class.Policy(),
		Priority:    t.cprio,
		Partition:   t.ptid,
		State:       t.lifecycleState(),
		WarnOverrun: t.state&tWarnOverrun != 0,
		Dispatches:  t.dispatches.Load(),
		Overruns:    t.overruns.Load(),
		CreatedAt:   t.createdAt,
	}
	rq.unlock()
	return info
}

// CPUStatus snapshots the scheduling state of one CPU.
func (c *Core) CPUStatus(cpu int) (model.CPUStatus, error) {
	rq, err := c.runQueue(cpu)
	if err != nil {
		return model.CPUStatus{}, err
	}

	rq.lock()
	tp := &rq.tp
	status := model.CPUStatus{
		CPU:             rq.cpu,
		State:           model.ScheduleStateEmpty,
		Stage:           rq.stageState.Name(),
		AttachedThreads: len(tp.threads),
	}
	if tp.gps != nil {
		status.State = model.ScheduleStateInstalled
		status.WindowCount = tp.gps.Len()
		status.FrameDuration = model.Duration(tp.gps.FrameDuration())
	}
	if tp.timer.isRunning() {
		status.State = model.ScheduleStateRunning
		window, partition := tp.curWindow, tp.curPartition
		status.CurrentWindow = &window
		status.CurrentPartition = &partition
	}
	if rq.curr != nil {
		status.RunningThread = rq.curr.name
	}
	rq.unlock()
	return status, nil
}

// CPUStatuses snapshots every CPU.
func (c *Core) CPUStatuses() []model.CPUStatus {
	out := make([]model.CPUStatus, 0, len(c.rqs))
	for cpu := range c.rqs {
		status, err := c.CPUStatus(cpu)
		if err != nil {
			continue
		}
		out = append(out, status)
	}
	return out
}

// setSchedParamLocked applies a possibly class-changing parameter update
// to a thread. The caller holds the thread's run queue lock and has
// validated the params with CheckParam.
func setSchedParamLocked(t *Thread, class Class, p Param) {
	rq := t.rq

	queued := t.state&tReady != 0
	if queued {
		t.class.Dequeue(t)
		t.state &^= tReady
	}
	if t.class != class {
		t.class.Forget(t)
		t.class = class
		class.Declare(t, p)
	}
	effect := class.SetParam(t, p)
	if queued {
		t.state |= tReady
		class.Enqueue(t)
	}
	if effect || queued {
		rq.setResched()
	}
}

func threadID() string {
	return "thr_" + uuid.New().String()[:8]
}
