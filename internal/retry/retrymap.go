// Package retry implements the rescheduler's in-memory retry budget. It is
// intentionally non-durable: an entry exists only for the lifetime of the
// rescheduler process that created it (see DESIGN.md, "durable retries").
package retry

import (
	"github.com/google/uuid"
)

// DefaultAttempts is the number of retries a newly observed failed task is
// granted (R in spec.md §4.4).
const DefaultAttempts = 5

// Map tracks remaining retry attempts per task ID. It is not safe for
// concurrent use — the rescheduler owns it from a single goroutine.
type Map struct {
	attempts map[uuid.UUID]int
	initial  int
}

// NewMap creates a retry map that grants initial attempts to every task
// it first observes as failed.
func NewMap(initial int) *Map {
	return &Map{
		attempts: make(map[uuid.UUID]int),
		initial:  initial,
	}
}

// Reconcile applies one rescheduler tick against the current failed set:
//
//  1. any tracked id no longer in failedIDs is dropped (the task left the
//     failed state, so its budget resets if it fails again later).
//  2. any id in failedIDs absent from the map is inserted with the initial
//     budget.
//  3. any id already tracked has its budget decremented, floored at zero —
//     a floor-zero entry stays in the map until the task leaves the failed
//     set, it is not requeued again.
//
// It returns the ids whose remaining budget is still greater than zero —
// these are the ones the rescheduler should requeue this tick.
func (m *Map) Reconcile(failedIDs []uuid.UUID) []uuid.UUID {
	failed := make(map[uuid.UUID]struct{}, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = struct{}{}
	}

	for id := range m.attempts {
		if _, stillFailed := failed[id]; !stillFailed {
			delete(m.attempts, id)
		}
	}

	for _, id := range failedIDs {
		remaining, tracked := m.attempts[id]
		if !tracked {
			m.attempts[id] = m.initial
			continue
		}
		if remaining > 0 {
			m.attempts[id] = remaining - 1
		}
	}

	var eligible []uuid.UUID
	for _, id := range failedIDs {
		if m.attempts[id] > 0 {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// Len reports the current size of the map — bounded by |failedIDs| after
// any call to Reconcile.
func (m *Map) Len() int {
	return len(m.attempts)
}

// Remaining returns the tracked budget for id and whether it is tracked
// at all. Exposed for tests and metrics, not used in the reconcile path.
func (m *Map) Remaining(id uuid.UUID) (int, bool) {
	v, ok := m.attempts[id]
	return v, ok
}
