package model

import "time"

// MaxPartitions is the number of real-time partitions available per CPU.
const MaxPartitions = 8

// PartitionIdle is the sentinel partition id for windows during which no
// real-time partition owns the CPU.
const PartitionIdle = -1

// Priority bounds for threads under the time-partitioning policy.
const (
	MinTPPriority = 1
	MaxTPPriority = 99
)

// Window is one entry of a partition schedule: a contiguous slice of the
// repeating frame, bound to a partition or to idle time.
type Window struct {
	Offset    Duration `json:"offset" yaml:"offset"`
	Duration  Duration `json:"duration" yaml:"duration"`
	Partition int      `json:"partition" yaml:"partition"`
}

// Schedule describes the partition schedule installed on one CPU.
//
// WindowCount always carries the full number of windows in the installed
// table; Windows may be a truncated prefix when the caller asked for fewer.
type Schedule struct {
	CPU           int       `json:"cpu"`
	Windows       []Window  `json:"windows"`
	WindowCount   int       `json:"window_count"`
	FrameDuration Duration  `json:"frame_duration"`
	Started       bool      `json:"started"`
	InstalledAt   time.Time `json:"installed_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// InstallRequest is the payload for installing a schedule on a CPU.
type InstallRequest struct {
	Windows []Window `json:"windows"`
}

// CPUStatus summarizes the scheduling state of one CPU.
type CPUStatus struct {
	CPU              int           `json:"cpu"`
	State            ScheduleState `json:"state"`
	Stage            string        `json:"stage"`
	WindowCount      int           `json:"window_count"`
	FrameDuration    Duration      `json:"frame_duration,omitempty"`
	CurrentWindow    *int          `json:"current_window,omitempty"`
	CurrentPartition *int          `json:"current_partition,omitempty"`
	AttachedThreads  int           `json:"attached_threads"`
	RunningThread    string        `json:"running_thread,omitempty"`
}
