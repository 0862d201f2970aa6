package domain

import (
	"fmt"
	"regexp"
	"time"
)

// MaxTaskPayload bounds a queued task payload at 256 KiB.
const MaxTaskPayload = 256 * 1024

var queueNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,254}$`)

// Task is a unit of deferred work enqueued to an external task-queue backend.
type Task struct {
	ID        string
	Queue     string
	Payload   []byte
	Priority  Priority
	Metadata  map[string]string
	CreatedAt time.Time
}

func (t *Task) Validate() error {
	if t.Queue == "" {
		return NewValidationError("queue", "queue name is required")
	}
	if !queueNamePattern.MatchString(t.Queue) {
		return NewValidationError("queue", fmt.Sprintf("queue name %q is malformed", t.Queue))
	}
	if len(t.Payload) == 0 {
		return NewValidationError("payload", "payload is required")
	}
	if len(t.Payload) > MaxTaskPayload {
		return NewValidationError("payload", fmt.Sprintf("payload exceeds %d bytes (got %d)", MaxTaskPayload, len(t.Payload)))
	}
	if t.Priority != "" && !t.Priority.IsValid() {
		return NewValidationError("priority", fmt.Sprintf("invalid priority %q", t.Priority))
	}
	return nil
}
