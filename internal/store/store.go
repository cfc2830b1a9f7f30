package store

import (
	"context"

	"github.com/me/gotp/pkg/model"
)

// Store defines the persistence layer for schedules and scheduling
// events. Schedules are written through on every control call so the
// daemon can reinstall them after a restart; events are an append-only
// audit trail.
type Store interface {
	// Schedule persistence
	SaveSchedule(ctx context.Context, sched *model.Schedule) error
	GetSchedule(ctx context.Context, cpu int) (*model.Schedule, error)
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)
	DeleteSchedule(ctx context.Context, cpu int) error
	SetScheduleStarted(ctx context.Context, cpu int, started bool) error

	// Event log
	AppendEvent(ctx context.Context, ev *model.Event) error
	ListEvents(ctx context.Context, opts model.ListOptions) ([]*model.Event, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
