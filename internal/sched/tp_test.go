package sched

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/me/gotp/internal/logging"
	"github.com/me/gotp/pkg/model"
)

func testCore(t *testing.T, cpus int) (*Core, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	core, err := New(cpus, logging.Nop(), WithClock(mock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return core, mock
}

// threeWindowSchedule is the canonical 25ms frame used across the tests:
// partition 0 for 10ms, a 5ms idle hole, then partition 1 for 10ms.
func threeWindowSchedule() []model.Window {
	return []model.Window{
		win(0, 10*time.Millisecond, 0),
		win(10*time.Millisecond, 5*time.Millisecond, model.PartitionIdle),
		win(15*time.Millisecond, 10*time.Millisecond, 1),
	}
}

type windowEvent struct {
	window    int
	partition int
	at        time.Duration
}

type switchEvent struct {
	prev string
	next string
}

type overrunEvent struct {
	cpu      int
	window   int
	threadID string
}

// recorder captures scheduling events with mock-clock timestamps.
type recorder struct {
	c    clock.Clock
	base time.Time

	mu       sync.Mutex
	windows  []windowEvent
	switches []switchEvent
	overruns []overrunEvent
}

func newRecorder(core *Core, c clock.Clock) *recorder {
	r := &recorder{c: c, base: c.Now()}
	core.AddListener(r)
	return r
}

func (r *recorder) OnSwitch(cpu int, prev, next string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switches = append(r.switches, switchEvent{prev: prev, next: next})
}

func (r *recorder) OnWindow(cpu, window, partition int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, windowEvent{
		window:    window,
		partition: partition,
		at:        r.c.Now().Sub(r.base),
	})
}

func (r *recorder) OnOverrun(cpu, window int, threadID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overruns = append(r.overruns, overrunEvent{cpu: cpu, window: window, threadID: threadID})
}

func (r *recorder) windowEvents() []windowEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]windowEvent(nil), r.windows...)
}

func (r *recorder) switchEvents() []switchEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]switchEvent(nil), r.switches...)
}

func (r *recorder) overrunEvents() []overrunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]overrunEvent(nil), r.overruns...)
}

// TestSchedule_WindowSequence runs the 25ms frame for two full cycles and
// checks that windows activate in order at 0, 10, 15, 25, 35, 40 and 50ms,
// never skipping or repeating.
func TestSchedule_WindowSequence(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}

	mock.Add(50 * time.Millisecond)

	want := []windowEvent{
		{window: 0, partition: 0, at: 0},
		{window: 1, partition: model.PartitionIdle, at: 10 * time.Millisecond},
		{window: 2, partition: 1, at: 15 * time.Millisecond},
		{window: 0, partition: 0, at: 25 * time.Millisecond},
		{window: 1, partition: model.PartitionIdle, at: 35 * time.Millisecond},
		{window: 2, partition: 1, at: 40 * time.Millisecond},
		{window: 0, partition: 0, at: 50 * time.Millisecond},
	}
	got := rec.windowEvents()
	if len(got) != len(want) {
		t.Fatalf("window events = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("window event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestCPUStatus_ReflectsActiveWindow(t *testing.T) {
	core, mock := testCore(t, 1)

	status, err := core.CPUStatus(0)
	if err != nil {
		t.Fatalf("CPUStatus() error = %v", err)
	}
	if status.State != model.ScheduleStateEmpty {
		t.Errorf("State = %q, want empty", status.State)
	}

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	status, _ = core.CPUStatus(0)
	if status.State != model.ScheduleStateInstalled {
		t.Errorf("State = %q, want installed", status.State)
	}
	if status.WindowCount != 3 {
		t.Errorf("WindowCount = %d, want 3", status.WindowCount)
	}
	if status.FrameDuration.Std() != 25*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 25ms", status.FrameDuration.Std())
	}

	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}
	mock.Add(12 * time.Millisecond)

	status, _ = core.CPUStatus(0)
	if status.State != model.ScheduleStateRunning {
		t.Errorf("State = %q, want running", status.State)
	}
	if status.CurrentWindow == nil || *status.CurrentWindow != 1 {
		t.Errorf("CurrentWindow = %v, want 1", status.CurrentWindow)
	}
	if status.CurrentPartition == nil || *status.CurrentPartition != model.PartitionIdle {
		t.Errorf("CurrentPartition = %v, want idle", status.CurrentPartition)
	}
}

// TestScheduleNext_ResyncsOnFrameBoundary drives the advance path with a
// frame start far in the past and verifies it jumps whole frames forward
// instead of drifting window by window.
func TestScheduleNext_ResyncsOnFrameBoundary(t *testing.T) {
	core, mock := testCore(t, 1)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}

	rq := core.rqs[0]
	now := mock.Now()

	rq.lock()
	tp := &rq.tp
	tp.tfStart = now.Add(-67 * time.Millisecond)
	tp.wnext = 1
	tp.scheduleNext()
	deadline := tp.timer.deadline
	wnext := tp.wnext
	frameStart := tp.tfStart
	rq.unlock()

	// -67ms + 3 full 25ms frames lands 8ms in the future.
	wantDeadline := now.Add(8 * time.Millisecond)
	if !deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", deadline.Sub(now), wantDeadline.Sub(now))
	}
	if !frameStart.Equal(wantDeadline) {
		t.Errorf("frame start = %v, want the resync boundary %v",
			frameStart.Sub(now), wantDeadline.Sub(now))
	}
	if wnext != 0 {
		t.Errorf("wnext = %d, want 0 after a frame resync", wnext)
	}
	if !deadline.After(now) {
		t.Error("resynchronized deadline must be in the future")
	}
}

// TestTick_OverrunNotification checks that a thread holding the CPU past
// the boundary of its window is notified with the index of the window it
// overran, exactly once per overrun boundary.
func TestTick_OverrunNotification(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.InstallSchedule(0, []model.Window{
		win(0, 10*time.Millisecond, 0),
		win(10*time.Millisecond, 10*time.Millisecond, 1),
	}); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}

	busy, err := core.Attach(0, ThreadParams{
		Name: "busy", Policy: model.PolicyTP, Priority: 50, Partition: 0,
		WarnOverrun: true,
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	// Boundaries at 10ms (overrun of window 0), 20ms (idle partition 1,
	// nothing running), 30ms (overrun of window 0 again).
	mock.Add(30 * time.Millisecond)

	got := rec.overrunEvents()
	want := []overrunEvent{
		{cpu: 0, window: 0, threadID: busy.ID()},
		{cpu: 0, window: 0, threadID: busy.ID()},
	}
	if len(got) != len(want) {
		t.Fatalf("overrun events = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("overrun event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	select {
	case window := <-busy.OverrunNotices():
		if window != 0 {
			t.Errorf("overrun notice = window %d, want 0", window)
		}
	default:
		t.Error("expected an overrun notice on the thread channel")
	}

	info, err := core.ThreadInfo(busy.ID())
	if err != nil {
		t.Fatalf("ThreadInfo() error = %v", err)
	}
	if info.Overruns != 2 {
		t.Errorf("Overruns = %d, want 2", info.Overruns)
	}
}

// TestTick_NoOverrunWithoutWarnAttribute: the overrun machinery only
// fires for threads that asked for it.
func TestTick_NoOverrunWithoutWarnAttribute(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.InstallSchedule(0, []model.Window{
		win(0, 10*time.Millisecond, 0),
		win(10*time.Millisecond, 10*time.Millisecond, 1),
	}); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}
	if _, err := core.Attach(0, ThreadParams{
		Name: "busy", Policy: model.PolicyTP, Priority: 50, Partition: 0,
	}); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	mock.Add(30 * time.Millisecond)

	if got := rec.overrunEvents(); len(got) != 0 {
		t.Errorf("overrun events = %+v, want none", got)
	}
}

// TestTick_NoOverrunAfterVoluntaryYield: a thread that blocked before the
// boundary is not notified even with the warn attribute set.
func TestTick_NoOverrunAfterVoluntaryYield(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.InstallSchedule(0, []model.Window{
		win(0, 10*time.Millisecond, 0),
		win(10*time.Millisecond, 10*time.Millisecond, 1),
	}); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}
	polite, err := core.Attach(0, ThreadParams{
		Name: "polite", Policy: model.PolicyTP, Priority: 50, Partition: 0,
		WarnOverrun: true,
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	mock.Add(5 * time.Millisecond)
	if err := core.Block(polite.ID()); err != nil {
		t.Fatalf("Block() error = %v", err)
	}
	mock.Add(25 * time.Millisecond)

	if got := rec.overrunEvents(); len(got) != 0 {
		t.Errorf("overrun events = %+v, want none after a voluntary block", got)
	}
}

func TestControl_InstallBusyWithAttachedThreads(t *testing.T) {
	core, _ := testCore(t, 1)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	thr, err := core.Attach(0, ThreadParams{
		Name: "pinned", Policy: model.PolicyTP, Priority: 10, Partition: 0,
	})
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	if err := core.InstallSchedule(0, threeWindowSchedule()); !errors.Is(err, ErrBusy) {
		t.Errorf("InstallSchedule() with attached thread error = %v, want ErrBusy", err)
	}
	if err := core.UninstallSchedule(0); !errors.Is(err, ErrBusy) {
		t.Errorf("UninstallSchedule() with attached thread error = %v, want ErrBusy", err)
	}

	// The rejected change must leave the installed table untouched.
	info, err := core.GetSchedule(0, -1)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if info.WindowCount != 3 {
		t.Errorf("WindowCount = %d, want 3 after rejected change", info.WindowCount)
	}

	if err := core.Detach(thr.ID()); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if err := core.UninstallSchedule(0); err != nil {
		t.Errorf("UninstallSchedule() after detach error = %v", err)
	}
}

func TestControl_InstallRejectsInvalidWindows(t *testing.T) {
	core, _ := testCore(t, 1)

	err := core.InstallSchedule(0, []model.Window{
		win(0, 10*time.Millisecond, 0),
		win(5*time.Millisecond, 10*time.Millisecond, 1),
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("InstallSchedule() error = %v, want ErrInvalidArgument", err)
	}

	// Nothing must have been installed by the failed call.
	info, err := core.GetSchedule(0, -1)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if info.WindowCount != 0 {
		t.Errorf("WindowCount = %d, want 0", info.WindowCount)
	}
}

func TestControl_InstallZeroWindowsUninstalls(t *testing.T) {
	core, _ := testCore(t, 1)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.InstallSchedule(0, nil); err != nil {
		t.Fatalf("InstallSchedule(nil) error = %v", err)
	}

	status, _ := core.CPUStatus(0)
	if status.State != model.ScheduleStateEmpty {
		t.Errorf("State = %q, want empty after zero-window install", status.State)
	}
}

func TestControl_StartWithoutTableIsNoop(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.StartSchedule(0); err != nil {
		t.Errorf("StartSchedule() without a table error = %v, want nil", err)
	}
	mock.Add(50 * time.Millisecond)

	if got := rec.windowEvents(); len(got) != 0 {
		t.Errorf("window events = %+v, want none", got)
	}
	status, _ := core.CPUStatus(0)
	if status.State != model.ScheduleStateEmpty {
		t.Errorf("State = %q, want empty", status.State)
	}
}

func TestControl_StopHaltsWindowAdvance(t *testing.T) {
	core, mock := testCore(t, 1)
	rec := newRecorder(core, mock)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}
	mock.Add(10 * time.Millisecond)

	if err := core.StopSchedule(0); err != nil {
		t.Fatalf("StopSchedule() error = %v", err)
	}
	seen := len(rec.windowEvents())
	mock.Add(100 * time.Millisecond)

	if got := len(rec.windowEvents()); got != seen {
		t.Errorf("window events after stop = %d, want %d", got, seen)
	}
	status, _ := core.CPUStatus(0)
	if status.State != model.ScheduleStateInstalled {
		t.Errorf("State = %q, want installed after stop", status.State)
	}
}

// TestControl_ReinstallStopsRunningTimer: swapping tables while the frame
// timer runs stops the slicing as part of the same critical section.
func TestControl_ReinstallStopsRunningTimer(t *testing.T) {
	core, mock := testCore(t, 1)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}
	if err := core.StartSchedule(0); err != nil {
		t.Fatalf("StartSchedule() error = %v", err)
	}
	mock.Add(12 * time.Millisecond)

	if err := core.InstallSchedule(0, []model.Window{
		win(0, 20*time.Millisecond, 2),
	}); err != nil {
		t.Fatalf("InstallSchedule() over a running schedule error = %v", err)
	}

	status, _ := core.CPUStatus(0)
	if status.State != model.ScheduleStateInstalled {
		t.Errorf("State = %q, want installed (timer stopped by the swap)", status.State)
	}
	if status.WindowCount != 1 {
		t.Errorf("WindowCount = %d, want 1", status.WindowCount)
	}
}

func TestControl_GetScheduleRoundTrip(t *testing.T) {
	core, _ := testCore(t, 1)

	installed := threeWindowSchedule()
	if err := core.InstallSchedule(0, installed); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}

	info, err := core.GetSchedule(0, -1)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if info.WindowCount != len(installed) {
		t.Errorf("WindowCount = %d, want %d", info.WindowCount, len(installed))
	}
	for i, w := range info.Windows {
		if w != installed[i] {
			t.Errorf("window %d = %+v, want %+v", i, w, installed[i])
		}
	}

	info, err = core.GetSchedule(0, 1)
	if err != nil {
		t.Fatalf("GetSchedule(max=1) error = %v", err)
	}
	if info.WindowCount != 3 || len(info.Windows) != 1 {
		t.Errorf("GetSchedule(max=1) = count %d, %d windows; want count 3, 1 window",
			info.WindowCount, len(info.Windows))
	}
}

// TestSchedule_TableRefcountAcrossUninstall: snapshot holders keep the
// table alive after the run queue dropped its own reference.
func TestSchedule_TableRefcountAcrossUninstall(t *testing.T) {
	core, _ := testCore(t, 1)

	if err := core.InstallSchedule(0, threeWindowSchedule()); err != nil {
		t.Fatalf("InstallSchedule() error = %v", err)
	}

	rq := core.rqs[0]
	rq.lock()
	gps := rq.tp.gps
	gps.retain()
	gps.retain()
	rq.unlock()

	if err := core.UninstallSchedule(0); err != nil {
		t.Fatalf("UninstallSchedule() error = %v", err)
	}

	if gps.release() {
		t.Error("table freed while a snapshot holder remains")
	}
	if !gps.release() {
		t.Error("last release must free the table")
	}
}

func TestControl_InvalidCPU(t *testing.T) {
	core, _ := testCore(t, 2)

	if err := core.InstallSchedule(5, threeWindowSchedule()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("InstallSchedule(cpu=5) error = %v, want ErrInvalidArgument", err)
	}
	if err := core.InstallSchedule(-1, threeWindowSchedule()); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("InstallSchedule(cpu=-1) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := core.GetSchedule(7, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("GetSchedule(cpu=7) error = %v, want ErrInvalidArgument", err)
	}
}
