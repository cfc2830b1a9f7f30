// Package stage tracks the per-CPU execution stage: out-of-band (the
// low-latency stage scheduling decisions run on) versus in-band (general
// purpose work), plus the in-band stall bit that logically masks in-band
// activity while a scheduler critical section is held.
//
// The stall bit mirrors interrupt masking: code running between Stall and
// Unstall on a CPU cannot be re-entered by in-band work on that CPU. The
// run-queue lock stalls on acquire and unstalls on release, so everything
// under the lock observes a stalled in-band stage.
package stage

import "sync/atomic"

const (
	flagOOB     = 1 << 0
	flagStalled = 1 << 1
)

// Stage names as reported by status endpoints.
const (
	NameOOB    = "oob"
	NameInBand = "in-band"
)

// State holds the stage bits of one CPU. All methods are safe for
// concurrent use and never block.
type State struct {
	bits atomic.Uint32
}

// EnterOOB switches the CPU to the out-of-band stage.
func (s *State) EnterOOB() {
	s.bits.Or(flagOOB)
}

// LeaveOOB returns the CPU to the in-band stage.
func (s *State) LeaveOOB() {
	s.bits.And(^uint32(flagOOB))
}

// OOB reports whether the CPU currently runs on the out-of-band stage.
func (s *State) OOB() bool {
	return s.bits.Load()&flagOOB != 0
}

// InBand reports whether the CPU currently runs on the in-band stage.
func (s *State) InBand() bool {
	return !s.OOB()
}

// Stall masks the in-band stage on this CPU.
func (s *State) Stall() {
	s.bits.Or(flagStalled)
}

// Unstall unmasks the in-band stage on this CPU.
func (s *State) Unstall() {
	s.bits.And(^uint32(flagStalled))
}

// Stalled reports whether the in-band stage is masked.
func (s *State) Stalled() bool {
	return s.bits.Load()&flagStalled != 0
}

// TestAndStall stalls the in-band stage and reports whether it was already
// stalled, so nested sections can restore the outer state on exit.
func (s *State) TestAndStall() bool {
	old := s.bits.Or(flagStalled)
	return old&flagStalled != 0
}

// RestoreStall puts the stall bit back to a state previously returned by
// TestAndStall.
func (s *State) RestoreStall(stalled bool) {
	if !stalled {
		s.Unstall()
	}
}

// Name returns the stage name for status reporting.
func (s *State) Name() string {
	if s.OOB() {
		return NameOOB
	}
	return NameInBand
}
