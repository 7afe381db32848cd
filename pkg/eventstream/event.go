package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeOperationTimed is emitted when a timed store or cache
	// operation finishes.
	EventTypeOperationTimed = "twin.operation.timed"

	// EventTypeMemoryChanged is emitted after a memory is stored, updated or
	// deleted.
	EventTypeMemoryChanged = "twin.memory.changed"
)

// MemoryAction names the write that produced a MemoryChangedEvent.
type MemoryAction string

const (
	MemoryStored  MemoryAction = "stored"
	MemoryUpdated MemoryAction = "updated"
	MemoryDeleted MemoryAction = "deleted"
)

// EventSource identifies the process that emitted an event.
type EventSource struct {
	Service  string `json:"service"`
	Hostname string `json:"hostname,omitempty"`
}

// OperationTimedEvent is a transport-neutral payload describing one timed
// operation.
type OperationTimedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`
	Operation     string      `json:"operation"`
	StartedAt     time.Time   `json:"started_at"`
	DurationMs    int64       `json:"duration_ms"`
	Level         string      `json:"level"`
	Error         string      `json:"error,omitempty"`
}

// MemoryChangedEvent is a transport-neutral payload describing a committed
// write to the memory store.
type MemoryChangedEvent struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	EventID       string       `json:"event_id"`
	EmittedAt     time.Time    `json:"emitted_at"`
	Source        EventSource  `json:"source"`
	Action        MemoryAction `json:"action"`
	MemoryID      uuid.UUID    `json:"memory_id"`
	Kind          string       `json:"kind,omitempty"`
}

// NewOperationTimedEvent fills in the envelope fields of an operation event.
func NewOperationTimedEvent(source EventSource, operation string, startedAt time.Time, elapsed time.Duration) *OperationTimedEvent {
	return &OperationTimedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeOperationTimed,
		EventID:       newEventID(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Operation:     operation,
		StartedAt:     startedAt.UTC(),
		DurationMs:    elapsed.Milliseconds(),
	}
}

// NewMemoryChangedEvent fills in the envelope fields of a memory event.
func NewMemoryChangedEvent(source EventSource, action MemoryAction, id uuid.UUID, kind string) *MemoryChangedEvent {
	return &MemoryChangedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeMemoryChanged,
		EventID:       newEventID(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Action:        action,
		MemoryID:      id,
		Kind:          kind,
	}
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
