// Package workload spawns synthetic threads and drives their duty
// cycles against the scheduling core: a thread runs for a configured
// slice of CPU time each time it is dispatched, then sleeps or yields.
// Together with a window schedule this produces realistic partition
// occupancy, including overruns when a thread's slice exceeds its
// window.
package workload

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/pkg/model"
)

// Config describes one synthetic thread.
type Config struct {
	Name        string
	CPU         int
	Policy      model.Policy
	Priority    int
	Partition   int
	WarnOverrun bool

	// RunFor is the CPU time consumed per dispatch before the thread
	// gives up the CPU; zero means the thread never yields on its own.
	RunFor time.Duration

	// SleepFor is how long the thread sleeps after exhausting RunFor;
	// zero makes it yield instead, staying runnable.
	SleepFor time.Duration
}

// dutyCycle tracks the workload state of one spawned thread.
type dutyCycle struct {
	id       string
	runFor   time.Duration
	sleepFor time.Duration
	timer    *clock.Timer
}

// Runner owns the synthetic threads and reacts to dispatch decisions.
//
// Lock ordering: the core's locks are always taken before the runner
// mutex. Listener callbacks arrive with core locks held further up the
// stack, so the runner never calls back into the core while holding its
// own mutex.
type Runner struct {
	core   *sched.Core
	c      clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]*dutyCycle
}

// NewRunner creates a Runner bound to the core and registers it as a
// scheduling listener.
func NewRunner(core *sched.Core, logger *slog.Logger) *Runner {
	r := &Runner{
		core:    core,
		c:       core.Clock(),
		logger:  logger.With("component", "workload"),
		threads: make(map[string]*dutyCycle),
	}
	core.AddListener(r)
	return r
}

// Spawn attaches a new thread and starts driving its duty cycle.
func (r *Runner) Spawn(cfg Config) (model.Thread, error) {
	thr, err := r.core.Attach(cfg.CPU, sched.ThreadParams{
		Name:        cfg.Name,
		Policy:      cfg.Policy,
		Priority:    cfg.Priority,
		Partition:   cfg.Partition,
		WarnOverrun: cfg.WarnOverrun,
	})
	if err != nil {
		return model.Thread{}, err
	}

	dc := &dutyCycle{id: thr.ID(), runFor: cfg.RunFor, sleepFor: cfg.SleepFor}
	r.mu.Lock()
	r.threads[dc.id] = dc
	r.mu.Unlock()

	// The first dispatch may have happened before the duty cycle was
	// registered; arm it now if the thread already owns its CPU.
	info, err := r.core.ThreadInfo(dc.id)
	if err == nil && info.State == model.ThreadStateRunning {
		r.armSlice(dc.id)
	}

	r.logger.Info("thread spawned", "thread_id", dc.id, "name", thr.Name(),
		"cpu", cfg.CPU, "policy", cfg.Policy,
		"run_for", cfg.RunFor, "sleep_for", cfg.SleepFor)
	return r.describe(dc.id)
}

// Kill stops driving the thread and detaches it from the core.
func (r *Runner) Kill(id string) error {
	r.mu.Lock()
	dc, ok := r.threads[id]
	if ok {
		if dc.timer != nil {
			dc.timer.Stop()
			dc.timer = nil
		}
		delete(r.threads, id)
	}
	r.mu.Unlock()

	if err := r.core.Detach(id); err != nil {
		return err
	}
	r.logger.Info("thread killed", "thread_id", id)
	return nil
}

// Thread returns the workload view of one thread: the core snapshot
// plus the duty cycle parameters.
func (r *Runner) Thread(id string) (model.Thread, error) {
	return r.describe(id)
}

// Threads returns every live thread with duty cycle parameters filled
// in for the ones this runner drives.
func (r *Runner) Threads() []model.Thread {
	infos := r.core.Threads()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range infos {
		if dc, ok := r.threads[infos[i].ID]; ok {
			infos[i].RunFor = model.Duration(dc.runFor)
			infos[i].SleepFor = model.Duration(dc.sleepFor)
		}
	}
	return infos
}

func (r *Runner) describe(id string) (model.Thread, error) {
	info, err := r.core.ThreadInfo(id)
	if err != nil {
		return model.Thread{}, err
	}
	r.mu.Lock()
	if dc, ok := r.threads[id]; ok {
		info.RunFor = model.Duration(dc.runFor)
		info.SleepFor = model.Duration(dc.sleepFor)
	}
	r.mu.Unlock()
	return info, nil
}

// OnSwitch drives the duty cycle: losing the CPU cancels the pending
// slice timer, gaining it arms a fresh one.
func (r *Runner) OnSwitch(cpu int, prev, next string) {
	r.mu.Lock()
	if dc, ok := r.threads[prev]; ok && dc.timer != nil {
		dc.timer.Stop()
		dc.timer = nil
	}
	r.mu.Unlock()

	if next != "" {
		r.armSlice(next)
	}
}

// OnWindow is uninteresting to the workload driver.
func (r *Runner) OnWindow(cpu, window, partition int) {}

// OnOverrun logs the overrun against the driven thread.
func (r *Runner) OnOverrun(cpu, window int, threadID string) {
	r.mu.Lock()
	_, ok := r.threads[threadID]
	r.mu.Unlock()
	if ok {
		r.logger.Warn("workload overran its window",
			"thread_id", threadID, "cpu", cpu, "window", window)
	}
}

// armSlice programs the exhaustion timer for a thread that just gained
// the CPU.
func (r *Runner) armSlice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc, ok := r.threads[id]
	if !ok || dc.runFor <= 0 {
		return
	}
	if dc.timer != nil {
		dc.timer.Stop()
	}
	dc.timer = r.c.AfterFunc(dc.runFor, func() {
		r.exhaust(id)
	})
}

// exhaust runs when a thread has consumed its slice: it goes to sleep,
// or yields when no sleep is configured.
func (r *Runner) exhaust(id string) {
	r.mu.Lock()
	dc, ok := r.threads[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	dc.timer = nil
	sleepFor := dc.sleepFor
	r.mu.Unlock()

	var err error
	if sleepFor > 0 {
		err = r.core.Sleep(id, sleepFor)
	} else {
		err = r.core.Yield(id)
	}
	if err != nil {
		// The thread lost the CPU between the timer firing and the
		// call; the next dispatch rearms it.
		r.logger.Debug("slice expiry raced a preemption", "thread_id", id, "error", err)
	}
}

// SpawnFromRequest converts an API spawn request and spawns it.
func (r *Runner) SpawnFromRequest(req *model.SpawnRequest) (model.Thread, error) {
	if req.Policy == "" {
		return model.Thread{}, fmt.Errorf("policy is required: %w", sched.ErrInvalidArgument)
	}
	return r.Spawn(Config{
		Name:        req.Name,
		CPU:         req.CPU,
		Policy:      req.Policy,
		Priority:    req.Priority,
		Partition:   req.Partition,
		WarnOverrun: req.WarnOverrun,
		RunFor:      req.RunFor.Std(),
		SleepFor:    req.SleepFor.Std(),
	})
}
