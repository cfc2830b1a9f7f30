package model

import "time"

// Thread is the externally visible description of a scheduled thread.
type Thread struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CPU      int    `json:"cpu"`
	Policy   Policy `json:"policy"`
	Priority int    `json:"priority"`

	// Partition is the owning partition under the tp policy, or -1 when
	// the thread runs under another policy.
	Partition   int         `json:"partition"`
	State       ThreadState `json:"state"`
	WarnOverrun bool        `json:"warn_overrun"`
	RunFor      Duration    `json:"run_for,omitempty"`
	SleepFor    Duration    `json:"sleep_for,omitempty"`
	Dispatches  int64       `json:"dispatches"`
	Overruns    int64       `json:"overruns"`
	CreatedAt   time.Time   `json:"created_at"`
}

// SpawnRequest asks the daemon to create a synthetic thread.
type SpawnRequest struct {
	Name        string   `json:"name"`
	CPU         int      `json:"cpu"`
	Policy      Policy   `json:"policy"`
	Priority    int      `json:"priority"`
	Partition   int      `json:"partition"`
	WarnOverrun bool     `json:"warn_overrun"`
	RunFor      Duration `json:"run_for"`
	SleepFor    Duration `json:"sleep_for"`
}

// PolicyRequest changes the scheduling parameters of a thread.
type PolicyRequest struct {
	Policy    Policy `json:"policy"`
	Priority  int    `json:"priority"`
	Partition int    `json:"partition"`
}

// MigrateRequest moves a thread to another CPU.
type MigrateRequest struct {
	CPU int `json:"cpu"`
}
