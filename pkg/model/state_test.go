package model

import "testing"

func TestThreadState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    ThreadState
		terminal bool
	}{
		{ThreadStateReady, false},
		{ThreadStateRunning, false},
		{ThreadStateWaiting, false},
		{ThreadStateDelayed, false},
		{ThreadStateTerminated, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("ThreadState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestThreadState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ThreadState
		to    ThreadState
		valid bool
	}{
		// Valid transitions
		{ThreadStateReady, ThreadStateRunning, true},
		{ThreadStateReady, ThreadStateTerminated, true},
		{ThreadStateRunning, ThreadStateReady, true},
		{ThreadStateRunning, ThreadStateWaiting, true},
		{ThreadStateRunning, ThreadStateDelayed, true},
		{ThreadStateRunning, ThreadStateTerminated, true},
		{ThreadStateWaiting, ThreadStateReady, true},
		{ThreadStateDelayed, ThreadStateReady, true},

		// Invalid transitions
		{ThreadStateReady, ThreadStateWaiting, false},
		{ThreadStateReady, ThreadStateDelayed, false},
		{ThreadStateWaiting, ThreadStateRunning, false},
		{ThreadStateWaiting, ThreadStateDelayed, false},
		{ThreadStateDelayed, ThreadStateRunning, false},
		{ThreadStateTerminated, ThreadStateReady, false},
		{ThreadStateTerminated, ThreadStateRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ThreadState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestScheduleState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ScheduleState
		to    ScheduleState
		valid bool
	}{
		// Valid transitions
		{ScheduleStateEmpty, ScheduleStateInstalled, true},
		{ScheduleStateInstalled, ScheduleStateInstalled, true},
		{ScheduleStateInstalled, ScheduleStateRunning, true},
		{ScheduleStateInstalled, ScheduleStateEmpty, true},
		{ScheduleStateRunning, ScheduleStateInstalled, true},
		{ScheduleStateRunning, ScheduleStateEmpty, true},

		// Invalid transitions
		{ScheduleStateEmpty, ScheduleStateRunning, false},
		{ScheduleStateEmpty, ScheduleStateEmpty, false},
		{ScheduleStateRunning, ScheduleStateRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ScheduleState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}
