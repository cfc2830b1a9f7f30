package sched

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/me/gotp/pkg/model"
)

// window is one schedule table entry. Durations are implicit: a window
// runs from its offset to the next window's offset (or to the end of the
// frame for the last one).
type window struct {
	offset    time.Duration
	partition int
}

// ScheduleTable is an immutable, reference-counted partition schedule
// covering one full repeating frame.
//
// The installing run queue holds one reference; snapshots taken by
// GetSchedule hold another for the duration of the copy. The table is
// dead once the last reference is dropped.
type ScheduleTable struct {
	windows       []window
	frameDuration time.Duration
	refs          atomic.Int32
}

// NewScheduleTable validates the window list and builds a table with an
// initial reference count of one.
//
// Windows must be strictly contiguous: the first offset is zero and each
// subsequent offset equals the running sum of prior durations. Gaps are
// expressed as windows assigned to the idle partition instead.
func NewScheduleTable(windows []model.Window) (*ScheduleTable, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("empty window list: %w", ErrInvalidArgument)
	}

	st := &ScheduleTable{windows: make([]window, 0, len(windows))}
	var nextOffset time.Duration
	for i, w := range windows {
		if w.Offset.Std() != nextOffset {
			return nil, fmt.Errorf("window %d: offset %v, expected %v: %w",
				i, w.Offset.Std(), nextOffset, ErrInvalidArgument)
		}
		if w.Duration.Std() <= 0 {
			return nil, fmt.Errorf("window %d: duration %v must be positive: %w",
				i, w.Duration.Std(), ErrInvalidArgument)
		}
		if w.Partition < model.PartitionIdle || w.Partition >= model.MaxPartitions {
			return nil, fmt.Errorf("window %d: partition %d out of range: %w",
				i, w.Partition, ErrInvalidArgument)
		}
		st.windows = append(st.windows, window{offset: nextOffset, partition: w.Partition})
		nextOffset += w.Duration.Std()
	}
	st.frameDuration = nextOffset
	st.refs.Store(1)

	return st, nil
}

// retain takes an additional reference. Callers must already hold one,
// or hold the lock of the run queue the table is installed on.
func (st *ScheduleTable) retain() *ScheduleTable {
	st.refs.Add(1)
	return st
}

// release drops one reference and reports whether it was the last. The
// caller must not touch the table once release returns true.
func (st *ScheduleTable) release() bool {
	return st.refs.Add(-1) == 0
}

// Len returns the number of windows in the table.
func (st *ScheduleTable) Len() int {
	return len(st.windows)
}

// FrameDuration returns the length of one full frame.
func (st *ScheduleTable) FrameDuration() time.Duration {
	return st.frameDuration
}

// Snapshot copies out up to max windows with derived durations, returning
// the actual window count of the table. A negative max means all.
func (st *ScheduleTable) Snapshot(max int) (int, []model.Window) {
	n := len(st.windows)
	if max < 0 || max > n {
		max = n
	}
	out := make([]model.Window, 0, max)
	for i := 0; i < max; i++ {
		end := st.frameDuration
		if i+1 < n {
			end = st.windows[i+1].offset
		}
		out = append(out, model.Window{
			Offset:    model.Duration(st.windows[i].offset),
			Duration:  model.Duration(end - st.windows[i].offset),
			Partition: st.windows[i].partition,
		})
	}
	return n, out
}
