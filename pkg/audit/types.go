package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Event is a single row of the audit trail.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Result     Result         `json:"result"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks required fields.
func (e Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("%w: id is required", ErrEventValidation)
	}
	return nil
}

// Storage persists a batch of events atomically.
type Storage interface {
	StoreBatch(ctx context.Context, events []Event) error
}

// StorageFunc adapts a function to Storage.
type StorageFunc func(ctx context.Context, events []Event) error

func (f StorageFunc) StoreBatch(ctx context.Context, events []Event) error {
	return f(ctx, events)
}
