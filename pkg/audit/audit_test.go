package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cenety/saaskit/pkg/audit"
)

type memoryStorage struct {
	mu      sync.Mutex
	batches [][]audit.Event
	err     error
}

func (m *memoryStorage) StoreBatch(_ context.Context, events []audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, append([]audit.Event(nil), events...))
	return nil
}

func (m *memoryStorage) events() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

func (m *memoryStorage) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type ctxKey struct{}

func TestLogger_Log(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := &memoryStorage{}
	l := audit.NewLogger(store,
		audit.WithClock(func() time.Time { return now }),
		audit.WithRequestIDExtractor(func(ctx context.Context) string {
			id, _ := ctx.Value(ctxKey{}).(string)
			return id
		}),
	)

	userID := uuid.New()
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")

	l.Log(ctx, userID, "subscription.synced", nil, map[string]any{
		"resource":    "subscription",
		"resource_id": "sub_1",
		"plan":        "pro",
	})
	l.Log(ctx, userID, "subscription.sync_failed", errors.New("provider down"), nil)

	events := store.events()
	require.Len(t, events, 2)

	ok := events[0]
	assert.NotEqual(t, uuid.Nil, ok.ID)
	assert.Equal(t, userID, ok.UserID)
	assert.Equal(t, audit.ResultSuccess, ok.Result)
	assert.Equal(t, "subscription", ok.Resource)
	assert.Equal(t, "sub_1", ok.ResourceID)
	assert.Equal(t, map[string]any{"plan": "pro"}, ok.Metadata)
	assert.Equal(t, "req-1", ok.RequestID)
	assert.Equal(t, now, ok.CreatedAt)

	failed := events[1]
	assert.Equal(t, audit.ResultError, failed.Result)
	assert.Equal(t, "provider down", failed.Error)
	assert.Nil(t, failed.Metadata)
}

func TestLogger_StorageFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	store := &memoryStorage{err: errors.New("db down")}
	l := audit.NewLogger(store)

	assert.NotPanics(t, func() {
		l.Log(context.Background(), uuid.New(), "subscription.synced", nil, nil)
	})
}

func TestLogger_SkipsInvalidEvents(t *testing.T) {
	t.Parallel()

	store := &memoryStorage{}
	audit.NewLogger(store).Log(context.Background(), uuid.New(), "", nil, nil)
	assert.Empty(t, store.events())
}

func TestNewLogger_PanicsOnNilStorage(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { audit.NewLogger(nil) })
	assert.Panics(t, func() { audit.NewAsyncStorage(nil, nil, audit.AsyncOptions{}) })
}

func TestAsyncStorage_BatchesAndFlushesOnClose(t *testing.T) {
	t.Parallel()

	store := &memoryStorage{}
	async := audit.NewAsyncStorage(store, nil, audit.AsyncOptions{
		BatchSize:    3,
		BatchTimeout: time.Hour,
	})

	l := audit.NewLogger(async)
	userID := uuid.New()
	for range 7 {
		l.Log(context.Background(), userID, "subscription.synced", nil, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))

	assert.Len(t, store.events(), 7)
	assert.Equal(t, 3, store.batchCount())

	// closed storage rejects writes, and a second Close is harmless
	err := async.StoreBatch(context.Background(), []audit.Event{{ID: uuid.New(), Action: "late"}})
	assert.ErrorIs(t, err, audit.ErrStorageNotAvailable)
	assert.NoError(t, async.Close(ctx))
}

func TestAsyncStorage_FlushesOnTimeout(t *testing.T) {
	t.Parallel()

	store := &memoryStorage{}
	async := audit.NewAsyncStorage(store, nil, audit.AsyncOptions{
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = async.Close(context.Background()) })

	audit.NewLogger(async).Log(context.Background(), uuid.New(), "subscription.cleared", nil, nil)

	assert.Eventually(t, func() bool { return len(store.events()) == 1 }, 2*time.Second, 10*time.Millisecond)
}
