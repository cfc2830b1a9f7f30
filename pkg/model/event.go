package model

import "time"

// EventType classifies entries of the scheduler audit trail.
type EventType string

const (
	EventInstall   EventType = "install"
	EventUninstall EventType = "uninstall"
	EventStart     EventType = "start"
	EventStop      EventType = "stop"
	EventSpawn     EventType = "spawn"
	EventKill      EventType = "kill"
	EventMigrate   EventType = "migrate"
	EventOverrun   EventType = "overrun"
)

// Event is one entry of the scheduler audit trail.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	CPU       int       `json:"cpu"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Thread    string    `json:"thread,omitempty"`
	Window    *int      `json:"window,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
