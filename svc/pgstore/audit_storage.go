package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cenety/saaskit/pkg/audit"
)

// AuditStorage writes audit events to audit_logs with COPY.
type AuditStorage struct {
	db DB
}

var _ audit.Storage = (*AuditStorage)(nil)

// NewAuditStorage panics on a nil db.
func NewAuditStorage(db DB) *AuditStorage {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &AuditStorage{db: db}
}

var auditColumns = []string{
	"id", "user_id", "action", "resource", "resource_id",
	"result", "error", "request_id", "metadata", "created_at",
}

func (s *AuditStorage) StoreBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(events))
	for _, e := range events {
		var metadata any
		if len(e.Metadata) > 0 {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return errors.Join(ErrFailedToStoreAuditEvents, err)
			}
			metadata = b
		}
		var userID any
		if e.UserID != uuid.Nil {
			userID = e.UserID
		}
		rows = append(rows, []any{
			e.ID, userID, e.Action, nullString(e.Resource), nullString(e.ResourceID),
			string(e.Result), nullString(e.Error), nullString(e.RequestID), metadata, e.CreatedAt.UTC(),
		})
	}

	if _, err := s.db.CopyFrom(ctx, pgx.Identifier{"audit_logs"}, auditColumns, pgx.CopyFromRows(rows)); err != nil {
		return errors.Join(ErrFailedToStoreAuditEvents, err)
	}
	return nil
}
