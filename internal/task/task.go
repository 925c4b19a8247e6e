package task

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// ParseStatus recovers a Status from its persisted string form.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return Status(s), nil
	default:
		return "", ErrUnknownStatus
	}
}

// validTransitions enumerates the only legal status transitions. Anything
// not listed here is rejected by CanTransitionTo.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending}, // the rescheduler's retry edge
	StatusCompleted:  {},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s Status) CanTransitionTo(target Status) bool {
	for _, candidate := range validTransitions[s] {
		if candidate == target {
			return true
		}
	}
	return false
}

// Payload is the structured document every task carries. It is immutable
// once a Task is created.
type Payload struct {
	Quality float64 `json:"quality"`
	Length  uint32  `json:"length"`
	Title   string  `json:"title"`
}

// Task is the persistent unit of work. Its ID is a random v4 UUID that
// the store assigns at insert time. lease_batch scans pending rows
// ordered by ID ascending; because IDs are random, that order is not
// insertion order.
type Task struct {
	ID        uuid.UUID
	Topic     string
	Payload   Payload
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New constructs a pending task with fresh timestamps. The store is the
// one that actually assigns the ID and persists created/updated times;
// this constructor exists for tests and in-memory store fakes.
func New(topic string, payload Payload) Task {
	now := time.Now().UTC()
	return Task{
		ID:        uuid.New(),
		Topic:     topic,
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
