package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siaga/internal/types"
)

func sampleItem(id string, priority int, created time.Time) Item {
	return Item{
		ID:          types.ID(id),
		OwnerID:     "call-1",
		ActionType:  ActionEmergencyReport,
		Payload:     EmergencyReportPayload{CallID: "call-1", ReportID: "rep-1", Severity: "berat", Location: &types.Point{Lat: -6.2, Lng: 106.8}},
		Priority:    priority,
		Status:      StatusPending,
		MaxRetries:  3,
		ScheduledAt: created,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestSQLiteStore_RoundTripAndOrdering(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, db)
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(ctx, sampleItem("b", 2, base)))
	require.NoError(t, store.Put(ctx, sampleItem("a", 0, base.Add(time.Minute))))
	require.NoError(t, store.Put(ctx, sampleItem("c", 2, base.Add(-time.Minute))))

	items, err := store.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, types.ID("a"), items[0].ID)
	assert.Equal(t, types.ID("c"), items[1].ID)
	assert.Equal(t, types.ID("b"), items[2].ID)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	payload, ok := got.Payload.(EmergencyReportPayload)
	require.True(t, ok)
	assert.Equal(t, "berat", payload.Severity)
	assert.Equal(t, base.Add(time.Minute), got.CreatedAt)

	got.Status = StatusCompleted
	require.NoError(t, store.Put(ctx, got))
	items, _ = store.ListByStatus(ctx, StatusPending)
	assert.Len(t, items, 2)

	require.NoError(t, store.Delete(ctx, "a"))
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

type brokenStore struct {
	*MemoryStore
	down bool
}

var errDown = errors.New("disk full")

func (b *brokenStore) Put(ctx context.Context, item Item) error {
	if b.down {
		return errDown
	}
	return b.MemoryStore.Put(ctx, item)
}

func (b *brokenStore) ListByStatus(ctx context.Context, status Status) ([]Item, error) {
	if b.down {
		return nil, errDown
	}
	return b.MemoryStore.ListByStatus(ctx, status)
}

func TestFallbackStore_BuffersWhilePrimaryDown(t *testing.T) {
	primary := &brokenStore{MemoryStore: NewMemoryStore(), down: true}
	store := NewFallbackStore(primary, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, sampleItem("x", 1, now)))
	assert.True(t, store.Degraded())

	items, err := store.ListByStatus(ctx, StatusPending)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 0, primary.Len())

	primary.down = false
	moved, err := store.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.False(t, store.Degraded())
	assert.Equal(t, 1, primary.Len())
}

func TestQueue_EnqueueSurvivesBrokenStore(t *testing.T) {
	primary := &brokenStore{MemoryStore: NewMemoryStore(), down: true}
	q := New(primary, online(), Options{})
	var applied int
	q.Register(ActionEmergencyReport, func(context.Context, Payload) error {
		applied++
		return nil
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "call-1", EmergencyReportPayload{CallID: "call-1"}, 0)
	require.NoError(t, err)

	primary.down = false
	res, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, applied)
}

func TestDecodePayload_Unknown(t *testing.T) {
	_, err := DecodePayload("teleport", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	dsn := os.Getenv("SIAGA_DB_DSN")
	if dsn == "" {
		t.Skip("SIAGA_DB_DSN not set; skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	store, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	id := fmt.Sprintf("item_test_%d", now.UnixNano())
	item := sampleItem(id, 0, now)
	t.Cleanup(func() { _ = store.Delete(context.Background(), item.ID) })

	require.NoError(t, store.Put(ctx, item))
	got, err := store.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Payload, got.Payload)
	assert.True(t, item.CreatedAt.Equal(got.CreatedAt))

	item.Status = StatusCompleted
	require.NoError(t, store.Put(ctx, item))
	done, err := store.ListByStatus(ctx, StatusCompleted)
	require.NoError(t, err)
	var found bool
	for _, it := range done {
		found = found || it.ID == item.ID
	}
	assert.True(t, found)

	require.NoError(t, store.Delete(ctx, item.ID))
	_, err = store.Get(ctx, item.ID)
	assert.ErrorIs(t, err, ErrItemNotFound)
}
