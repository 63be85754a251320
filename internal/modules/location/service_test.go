package location

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siaga/internal/modules/syncqueue"
	"siaga/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdate_LastWriteWins(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, discardLogger())
	ctx := context.Background()
	t0 := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "amb-1", Position: types.Point{Lat: -6.2, Lng: 106.8}, CapturedAt: t0.Add(time.Minute)}))
	// an older fix delivered late must not overwrite the newer one
	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "amb-1", Position: types.Point{Lat: -6.3, Lng: 106.9}, CapturedAt: t0}))

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, -6.2, all[0].Position.Lat)
	assert.Len(t, store.Snapshots(), 1)
}

func TestUpdate_RejectsInvalid(t *testing.T) {
	svc := NewService(NewMemoryStore(), discardLogger())
	ctx := context.Background()
	assert.ErrorIs(t, svc.Update(ctx, AmbulancePosition{Position: types.Point{Lat: 1, Lng: 1}}), ErrInvalidPosition)
	assert.ErrorIs(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "a", Position: types.Point{Lat: 91, Lng: 1}}), ErrInvalidPosition)
}

func TestLive_DropsStale(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, discardLogger())
	now := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "fresh", Position: types.Point{Lat: -6.2, Lng: 106.8}, CapturedAt: now.Add(-time.Minute)}))
	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "stale", Position: types.Point{Lat: -6.2, Lng: 106.8}, CapturedAt: now.Add(-time.Hour)}))

	live, err := svc.Live(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, types.ID("fresh"), live[0].AmbulanceID)

	all, err := svc.Live(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestNearby_UsesIndexAndStaleness(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, discardLogger())
	now := time.Now()
	ctx := context.Background()
	target := types.Point{Lat: -6.20, Lng: 106.80}

	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "near", Position: types.Point{Lat: -6.21, Lng: 106.80}, CapturedAt: now}))
	require.NoError(t, svc.Update(ctx, AmbulancePosition{AmbulanceID: "far", Position: types.Point{Lat: -7.20, Lng: 106.80}, CapturedAt: now}))

	got, err := svc.Nearby(ctx, target, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.ID("near"), got[0].AmbulanceID)
}

func TestNATSFeedHandle(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, discardLogger())
	feed := NewNATSFeed(nil, "siaga.positions", svc, discardLogger())

	feed.handle(context.Background(), []byte(`{"ambulance_id":"amb-9","position":{"lat":-6.2,"lng":106.8},"captured_at":"2026-10-01T08:00:00Z"}`))
	feed.handle(context.Background(), []byte(`not json`))

	all, err := store.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.ID("amb-9"), all[0].AmbulanceID)
}

func TestRTDBEntryToPosition(t *testing.T) {
	speed := 12.5
	entry := rtdbAmbulanceEntry{Lat: -6.2, Lng: 106.8, Accuracy: 8, Speed: &speed, Timestamp: 1790000000000}
	pos := entry.toPosition("amb-2")
	assert.Equal(t, types.ID("amb-2"), pos.AmbulanceID)
	assert.Equal(t, int64(1790000000000), pos.CapturedAt.UnixMilli())
	assert.Equal(t, &speed, pos.SpeedMps)
}

func TestRedisStoreUpsert(t *testing.T) {
	redisAddr := os.Getenv("SIAGA_REDIS_ADDR")
	if redisAddr == "" {
		t.Skip("SIAGA_REDIS_ADDR not set; skipping integration test")
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	store := NewStore(nil, rdb) // snapshots need Postgres and are skipped when db is nil
	ctx := context.Background()
	id := types.ID(fmt.Sprintf("amb_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		rdb.ZRem(ctx, ambulanceGeoKey, string(id))
		rdb.Del(ctx, positionKey(id))
	})

	now := time.Now().UTC()
	applied, err := store.Upsert(ctx, AmbulancePosition{AmbulanceID: id, Position: types.Point{Lat: -6.2, Lng: 106.8}, CapturedAt: now})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Upsert(ctx, AmbulancePosition{AmbulanceID: id, Position: types.Point{Lat: -6.5, Lng: 106.8}, CapturedAt: now.Add(-time.Minute)})
	require.NoError(t, err)
	assert.False(t, applied)

	ids, err := store.Nearby(ctx, types.Point{Lat: -6.2, Lng: 106.8}, 1)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

type offlineConn struct{ online bool }

func (c *offlineConn) IsOnline() bool { return c.online }

func TestReport_QueuesWhileOfflineAndReplays(t *testing.T) {
	store := NewMemoryStore()
	conn := &offlineConn{}
	q := syncqueue.New(syncqueue.NewMemoryStore(), conn, syncqueue.Options{})
	svc := NewService(store, discardLogger()).WithOutbox(q, conn)
	svc.RegisterApply(q)
	ctx := context.Background()

	queued, err := svc.Report(ctx, AmbulancePosition{AmbulanceID: "amb-1", Position: types.Point{Lat: -6.2, Lng: 106.8}})
	require.NoError(t, err)
	assert.True(t, queued)
	all, _ := store.All(ctx)
	assert.Empty(t, all)

	conn.online = true
	res, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	all, _ = store.All(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, types.ID("amb-1"), all[0].AmbulanceID)

	queued, err = svc.Report(ctx, AmbulancePosition{AmbulanceID: "amb-1", Position: types.Point{Lat: -6.21, Lng: 106.8}})
	require.NoError(t, err)
	assert.False(t, queued)
}
