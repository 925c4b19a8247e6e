package retry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestMap_Reconcile_FirstObservation(t *testing.T) {
	m := NewMap(5)
	id := uuid.New()

	eligible := m.Reconcile([]uuid.UUID{id})

	assert.Equal(t, []uuid.UUID{id}, eligible)
	remaining, tracked := m.Remaining(id)
	assert.True(t, tracked)
	assert.Equal(t, 5, remaining)
}

func TestMap_Reconcile_DecrementsOnRepeatFailure(t *testing.T) {
	m := NewMap(5)
	id := uuid.New()

	m.Reconcile([]uuid.UUID{id}) // -> 5
	m.Reconcile([]uuid.UUID{id}) // -> 4
	eligible := m.Reconcile([]uuid.UUID{id})

	assert.Equal(t, []uuid.UUID{id}, eligible)
	remaining, _ := m.Remaining(id)
	assert.Equal(t, 3, remaining)
}

func TestMap_Reconcile_ExhaustionStopsEligibility(t *testing.T) {
	m := NewMap(2)
	id := uuid.New()

	// initial observation: 2
	eligible := m.Reconcile([]uuid.UUID{id})
	assert.Equal(t, []uuid.UUID{id}, eligible)

	// tick 2: 2 -> 1, still eligible
	eligible = m.Reconcile([]uuid.UUID{id})
	assert.Equal(t, []uuid.UUID{id}, eligible)

	// tick 3: 1 -> 0, no longer eligible
	eligible = m.Reconcile([]uuid.UUID{id})
	assert.Empty(t, eligible)

	// floor-zero entry is sticky: stays tracked, stays ineligible
	eligible = m.Reconcile([]uuid.UUID{id})
	assert.Empty(t, eligible)
	remaining, tracked := m.Remaining(id)
	assert.True(t, tracked)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 1, m.Len())
}

func TestMap_Reconcile_DropsEntryWhenTaskLeavesFailedSet(t *testing.T) {
	m := NewMap(5)
	id := uuid.New()

	m.Reconcile([]uuid.UUID{id})
	assert.Equal(t, 1, m.Len())

	// task succeeded, no longer in the failed set
	m.Reconcile(nil)
	assert.Equal(t, 0, m.Len())
	_, tracked := m.Remaining(id)
	assert.False(t, tracked)
}

func TestMap_Reconcile_ResetsBudgetAfterLeavingAndReturning(t *testing.T) {
	m := NewMap(2)
	id := uuid.New()

	m.Reconcile([]uuid.UUID{id}) // 2
	m.Reconcile([]uuid.UUID{id}) // 1
	m.Reconcile([]uuid.UUID{id}) // 0, ineligible
	m.Reconcile(nil)             // task succeeded, entry dropped

	// task fails again later: fresh budget, not stuck at 0
	eligible := m.Reconcile([]uuid.UUID{id})
	assert.Equal(t, []uuid.UUID{id}, eligible)
	remaining, _ := m.Remaining(id)
	assert.Equal(t, 2, remaining)
}

func TestMap_Reconcile_Empty(t *testing.T) {
	m := NewMap(5)
	eligible := m.Reconcile(nil)
	assert.Empty(t, eligible)
	assert.Equal(t, 0, m.Len())
}

func TestMap_Reconcile_MultipleIndependentIDs(t *testing.T) {
	m := NewMap(5)
	a, b := uuid.New(), uuid.New()

	eligible := m.Reconcile([]uuid.UUID{a, b})
	assert.ElementsMatch(t, []uuid.UUID{a, b}, eligible)

	// b recovers, a keeps failing
	eligible = m.Reconcile([]uuid.UUID{a})
	assert.Equal(t, []uuid.UUID{a}, eligible)
	assert.Equal(t, 1, m.Len())
}
