package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/internal/store"
	"github.com/me/gotp/pkg/model"
)

// subscriberBuffer is the per-client queue depth for SSE delivery.
// Slow clients drop events rather than stall the scheduler.
const subscriberBuffer = 16

// eventHub appends scheduler events to the store and fans them out to
// SSE subscribers. Control handlers record their own events; overruns
// arrive through the sched.Listener hooks.
type eventHub struct {
	core   *sched.Core
	store  store.Store
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan *model.Event]struct{}
}

func newEventHub(core *sched.Core, st store.Store, logger *slog.Logger) *eventHub {
	return &eventHub{
		core:   core,
		store:  st,
		logger: logger.With("component", "events"),
		subs:   make(map[chan *model.Event]struct{}),
	}
}

// record stamps the event, persists it and broadcasts it. Persistence
// failures are logged, not propagated; losing an audit row must not fail
// the control call that caused it.
func (h *eventHub) record(ctx context.Context, ev *model.Event) {
	ev.ID = eventID()
	ev.CreatedAt = time.Now().UTC()

	if err := h.store.AppendEvent(ctx, ev); err != nil {
		h.logger.Error("append event", "type", ev.Type, "cpu", ev.CPU, "error", err)
	}
	h.broadcast(ev)
}

func (h *eventHub) broadcast(ev *model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

// subscribe registers an SSE client. The returned cancel func must be
// called when the client disconnects.
func (h *eventHub) subscribe() (<-chan *model.Event, func()) {
	ch := make(chan *model.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// OnOverrun records threads caught running past their window boundary.
func (h *eventHub) OnOverrun(cpu, window int, threadID string) {
	name := ""
	if info, err := h.core.ThreadInfo(threadID); err == nil {
		name = info.Name
	}
	w := window
	h.record(context.Background(), &model.Event{
		Type:     model.EventOverrun,
		CPU:      cpu,
		ThreadID: threadID,
		Thread:   name,
		Window:   &w,
	})
}

func (h *eventHub) OnSwitch(cpu int, prev, next string) {}

func (h *eventHub) OnWindow(cpu, window, partition int) {}

func eventID() string {
	return "evt_" + uuid.New().String()[:8]
}
