// Package scenario runs JavaScript scheduling scenarios against a
// simulated core on a mock clock. Scripts install schedules, spawn
// workloads and advance virtual time; the engine records every window
// activation, context switch and overrun into a trace.
//
// The script API:
//
//	tp.install(cpu, [{offset: "0ms", duration: "10ms", partition: 0}, ...])
//	tp.uninstall(cpu)
//	tp.start(cpu)
//	tp.stop(cpu)
//	id = spawn({name, cpu, policy, priority, partition, warn_overrun, run_for, sleep_for})
//	kill(id)
//	advance("25ms")
//	snap = snapshot()        // {cpus: [...], threads: [...]}
//	log("message")
//
// Durations are strings in Go syntax ("10ms") or plain nanosecond
// numbers; partitions are indices or the keyword "idle".
package scenario

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dop251/goja"

	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/internal/workload"
	"github.com/me/gotp/pkg/model"
)

// WindowEvent is one window activation in a trace.
type WindowEvent struct {
	At        model.Duration `json:"at"`
	CPU       int            `json:"cpu"`
	Window    int            `json:"window"`
	Partition int            `json:"partition"`
}

// SwitchEvent is one context switch in a trace. Empty thread ids stand
// for the idle CPU.
type SwitchEvent struct {
	At   model.Duration `json:"at"`
	CPU  int            `json:"cpu"`
	Prev string         `json:"prev,omitempty"`
	Next string         `json:"next,omitempty"`
}

// OverrunEvent is one window overrun in a trace.
type OverrunEvent struct {
	At       model.Duration `json:"at"`
	CPU      int            `json:"cpu"`
	Window   int            `json:"window"`
	ThreadID string         `json:"thread_id"`
}

// LogEntry is one script log line with its virtual timestamp.
type LogEntry struct {
	At      model.Duration `json:"at"`
	Message string         `json:"message"`
}

// Trace is the full record of a scenario run.
type Trace struct {
	Duration model.Duration `json:"duration"`
	Windows  []WindowEvent  `json:"windows"`
	Switches []SwitchEvent  `json:"switches"`
	Overruns []OverrunEvent `json:"overruns"`
	Logs     []LogEntry     `json:"logs"`
}

// Engine runs scenario scripts.
type Engine struct {
	cpus   int
	logger *slog.Logger
}

// NewEngine creates an Engine simulating the given number of CPUs.
func NewEngine(cpus int, logger *slog.Logger) *Engine {
	return &Engine{cpus: cpus, logger: logger.With("component", "scenario")}
}

// Run executes one script against a fresh simulated core and returns
// the recorded trace.
func (e *Engine) Run(script string) (*Trace, error) {
	mock := clock.NewMock()
	core, err := sched.New(e.cpus, e.logger, sched.WithClock(mock))
	if err != nil {
		return nil, err
	}

	s := &session{
		core:   core,
		runner: workload.NewRunner(core, e.logger),
		mock:   mock,
		start:  mock.Now(),
		trace:  &Trace{},
	}
	core.AddListener(s)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := s.bind(vm); err != nil {
		return nil, err
	}

	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	s.trace.Duration = model.Duration(mock.Now().Sub(s.start))
	e.logger.Debug("scenario finished",
		"duration", s.trace.Duration,
		"windows", len(s.trace.Windows),
		"switches", len(s.trace.Switches),
		"overruns", len(s.trace.Overruns))
	return s.trace, nil
}

// session is the per-run state exposed to the script.
type session struct {
	core   *sched.Core
	runner *workload.Runner
	mock   *clock.Mock
	start  time.Time

	mu    sync.Mutex
	trace *Trace
}

func (s *session) bind(vm *goja.Runtime) error {
	tp := map[string]any{
		"install":   s.install,
		"uninstall": s.uninstall,
		"start":     s.startCPU,
		"stop":      s.stopCPU,
		"get":       s.get,
	}
	if err := vm.Set("tp", tp); err != nil {
		return fmt.Errorf("set tp: %w", err)
	}
	for name, fn := range map[string]any{
		"spawn":    s.spawn,
		"kill":     s.kill,
		"advance":  s.advance,
		"snapshot": s.snapshot,
		"log":      s.logLine,
	} {
		if err := vm.Set(name, fn); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

func (s *session) elapsed() model.Duration {
	return model.Duration(s.mock.Now().Sub(s.start))
}

// scriptWindow carries loosely typed window fields from JS.
type scriptWindow struct {
	Offset    any `json:"offset"`
	Duration  any `json:"duration"`
	Partition any `json:"partition"`
}

// scriptThread carries loosely typed spawn options from JS.
type scriptThread struct {
	Name        string `json:"name"`
	CPU         int    `json:"cpu"`
	Policy      string `json:"policy"`
	Priority    int    `json:"priority"`
	Partition   any    `json:"partition"`
	WarnOverrun bool   `json:"warn_overrun"`
	RunFor      any    `json:"run_for"`
	SleepFor    any    `json:"sleep_for"`
}

func (s *session) install(cpu int, windows []scriptWindow) error {
	converted := make([]model.Window, 0, len(windows))
	for i, w := range windows {
		offset, err := coerceDuration(w.Offset)
		if err != nil {
			return fmt.Errorf("window %d offset: %w", i, err)
		}
		duration, err := coerceDuration(w.Duration)
		if err != nil {
			return fmt.Errorf("window %d duration: %w", i, err)
		}
		partition, err := coercePartition(w.Partition)
		if err != nil {
			return fmt.Errorf("window %d partition: %w", i, err)
		}
		converted = append(converted, model.Window{
			Offset:    model.Duration(offset),
			Duration:  model.Duration(duration),
			Partition: partition,
		})
	}
	return s.core.InstallSchedule(cpu, converted)
}

func (s *session) uninstall(cpu int) error {
	return s.core.UninstallSchedule(cpu)
}

func (s *session) startCPU(cpu int) error {
	return s.core.StartSchedule(cpu)
}

func (s *session) stopCPU(cpu int) error {
	return s.core.StopSchedule(cpu)
}

func (s *session) get(cpu int) (map[string]any, error) {
	info, err := s.core.GetSchedule(cpu, -1)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"window_count": info.WindowCount,
		"windows":      info.Windows,
	}, nil
}

func (s *session) spawn(opts scriptThread) (string, error) {
	partition := 0
	if opts.Partition != nil {
		p, err := coercePartition(opts.Partition)
		if err != nil {
			return "", fmt.Errorf("partition: %w", err)
		}
		partition = p
	}
	runFor, err := coerceOptionalDuration(opts.RunFor)
	if err != nil {
		return "", fmt.Errorf("run_for: %w", err)
	}
	sleepFor, err := coerceOptionalDuration(opts.SleepFor)
	if err != nil {
		return "", fmt.Errorf("sleep_for: %w", err)
	}

	thr, err := s.runner.Spawn(workload.Config{
		Name:        opts.Name,
		CPU:         opts.CPU,
		Policy:      model.Policy(opts.Policy),
		Priority:    opts.Priority,
		Partition:   partition,
		WarnOverrun: opts.WarnOverrun,
		RunFor:      runFor,
		SleepFor:    sleepFor,
	})
	if err != nil {
		return "", err
	}
	return thr.ID, nil
}

func (s *session) kill(id string) error {
	return s.runner.Kill(id)
}

func (s *session) advance(spec any) error {
	d, err := coerceDuration(spec)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("advance: duration %s must not be negative", d)
	}
	s.mock.Add(d)
	return nil
}

func (s *session) snapshot() map[string]any {
	return map[string]any{
		"cpus":    s.core.CPUStatuses(),
		"threads": s.runner.Threads(),
	}
}

func (s *session) logLine(msg string) {
	s.mu.Lock()
	s.trace.Logs = append(s.trace.Logs, LogEntry{At: s.elapsed(), Message: msg})
	s.mu.Unlock()
}

// OnSwitch records a context switch into the trace.
func (s *session) OnSwitch(cpu int, prev, next string) {
	s.mu.Lock()
	s.trace.Switches = append(s.trace.Switches, SwitchEvent{
		At: s.elapsed(), CPU: cpu, Prev: prev, Next: next,
	})
	s.mu.Unlock()
}

// OnWindow records a window activation into the trace.
func (s *session) OnWindow(cpu, window, partition int) {
	s.mu.Lock()
	s.trace.Windows = append(s.trace.Windows, WindowEvent{
		At: s.elapsed(), CPU: cpu, Window: window, Partition: partition,
	})
	s.mu.Unlock()
}

// OnOverrun records an overrun into the trace.
func (s *session) OnOverrun(cpu, window int, threadID string) {
	s.mu.Lock()
	s.trace.Overruns = append(s.trace.Overruns, OverrunEvent{
		At: s.elapsed(), CPU: cpu, Window: window, ThreadID: threadID,
	})
	s.mu.Unlock()
}

func coerceDuration(v any) (time.Duration, error) {
	switch x := v.(type) {
	case string:
		d, err := time.ParseDuration(x)
		if err != nil {
			return 0, fmt.Errorf("parsing duration %q: %w", x, err)
		}
		return d, nil
	case int64:
		return time.Duration(x), nil
	case float64:
		return time.Duration(x), nil
	default:
		return 0, fmt.Errorf("invalid duration value: %v", v)
	}
}

func coerceOptionalDuration(v any) (time.Duration, error) {
	if v == nil {
		return 0, nil
	}
	return coerceDuration(v)
}

func coercePartition(v any) (int, error) {
	switch x := v.(type) {
	case string:
		if x == "idle" {
			return model.PartitionIdle, nil
		}
		return 0, fmt.Errorf("partition must be an index or %q, got %q", "idle", x)
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	default:
		return 0, fmt.Errorf("invalid partition value: %v", v)
	}
}
