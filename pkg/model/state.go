package model

// ThreadState represents the lifecycle state of a Thread.
type ThreadState string

const (
	ThreadStateReady      ThreadState = "ready"
	ThreadStateRunning    ThreadState = "running"
	ThreadStateWaiting    ThreadState = "waiting"
	ThreadStateDelayed    ThreadState = "delayed"
	ThreadStateTerminated ThreadState = "terminated"
)

// String returns the string representation of the thread state.
func (s ThreadState) String() string {
	return string(s)
}

// IsTerminal returns true if the thread is in a final state.
func (s ThreadState) IsTerminal() bool {
	return s == ThreadStateTerminated
}

// ValidThreadTransitions defines the allowed state transitions for Threads.
var ValidThreadTransitions = map[ThreadState][]ThreadState{
	ThreadStateReady:   {ThreadStateRunning, ThreadStateTerminated},
	ThreadStateRunning: {ThreadStateReady, ThreadStateWaiting, ThreadStateDelayed, ThreadStateTerminated},
	ThreadStateWaiting: {ThreadStateReady, ThreadStateTerminated},
	ThreadStateDelayed: {ThreadStateReady, ThreadStateTerminated},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ThreadState) CanTransitionTo(next ThreadState) bool {
	for _, allowed := range ValidThreadTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScheduleState represents the partition-schedule state of one CPU.
type ScheduleState string

const (
	ScheduleStateEmpty     ScheduleState = "empty"
	ScheduleStateInstalled ScheduleState = "installed"
	ScheduleStateRunning   ScheduleState = "running"
)

// String returns the string representation of the schedule state.
func (s ScheduleState) String() string {
	return string(s)
}

// ValidScheduleTransitions defines the allowed schedule state transitions.
// Reinstalling over an installed table is allowed, hence the self edge.
var ValidScheduleTransitions = map[ScheduleState][]ScheduleState{
	ScheduleStateEmpty:     {ScheduleStateInstalled},
	ScheduleStateInstalled: {ScheduleStateInstalled, ScheduleStateRunning, ScheduleStateEmpty},
	ScheduleStateRunning:   {ScheduleStateInstalled, ScheduleStateEmpty},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ScheduleState) CanTransitionTo(next ScheduleState) bool {
	for _, allowed := range ValidScheduleTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Policy identifies which scheduling class a thread runs under.
type Policy string

const (
	PolicyTP   Policy = "tp"
	PolicyFIFO Policy = "fifo"
)
