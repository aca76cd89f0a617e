package pgstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenety/saaskit/pkg/audit"
	"github.com/cenety/saaskit/svc/pgstore"
)

var auditColumns = []string{
	"id", "user_id", "action", "resource", "resource_id",
	"result", "error", "request_id", "metadata", "created_at",
}

func TestAuditStorage_StoreBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	events := []audit.Event{
		{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			Action:    "subscription.synced",
			Resource:  "subscription",
			Result:    audit.ResultSuccess,
			Metadata:  map[string]any{"provider": "stripe"},
			CreatedAt: time.Now(),
		},
		{
			ID:        uuid.New(),
			Action:    "subscription.sync_failed",
			Result:    audit.ResultError,
			Error:     "payment provider unavailable",
			CreatedAt: time.Now(),
		},
	}

	t.Run("copies rows", func(t *testing.T) {
		t.Parallel()

		mock := newMock(t)
		mock.ExpectCopyFrom(pgx.Identifier{"audit_logs"}, auditColumns).WillReturnResult(2)

		require.NoError(t, pgstore.NewAuditStorage(mock).StoreBatch(ctx, events))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		t.Parallel()

		mock := newMock(t)
		require.NoError(t, pgstore.NewAuditStorage(mock).StoreBatch(ctx, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("copy failure", func(t *testing.T) {
		t.Parallel()

		mock := newMock(t)
		mock.ExpectCopyFrom(pgx.Identifier{"audit_logs"}, auditColumns).WillReturnError(errors.New("disk full"))

		err := pgstore.NewAuditStorage(mock).StoreBatch(ctx, events)
		assert.ErrorIs(t, err, pgstore.ErrFailedToStoreAuditEvents)
	})
}
