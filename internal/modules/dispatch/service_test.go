package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siaga/internal/modules/syncqueue"
	"siaga/internal/types"
	"siaga/pkg/e"
)

type switchConn struct{ offline atomic.Bool }

func (c *switchConn) IsOnline() bool { return !c.offline.Load() }

type harness struct {
	store *MemoryStore
	conn  *switchConn
	queue *syncqueue.Queue
	svc   *Service
}

func newHarness() *harness {
	return newHarnessWith(syncqueue.NewMemoryStore(), syncqueue.Options{})
}

func newHarnessWith(items syncqueue.QueueStore, opts syncqueue.Options) *harness {
	h := &harness{store: NewMemoryStore(), conn: &switchConn{}}
	h.queue = syncqueue.New(items, h.conn, opts)
	h.svc = NewService(h.store, h.queue, h.conn, nil)
	h.svc.RegisterApply(h.queue)
	return h
}

func report(id string) Report {
	return Report{ID: types.ID(id), Severity: SeverityBerat, EmergencyType: "trauma", Location: &jakarta, ReporterID: "citizen-1"}
}

func TestService_OnlineLifecycle(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	out, err := h.svc.CreateFromReport(ctx, report("rep-1"))
	require.NoError(t, err)
	assert.False(t, out.Queued)
	id := out.Call.ID

	_, err = h.svc.Dispatch(ctx, id, "amb-1", "rs-1")
	require.NoError(t, err)
	_, err = h.svc.Advance(ctx, id, StatusEnRoute, nil)
	require.NoError(t, err)
	arrived, err := h.svc.Advance(ctx, id, StatusArrived, &Evidence{Coordinate: &jakarta})
	require.NoError(t, err)
	assert.Equal(t, ArrivalConfirmed, arrived.Call.ArrivalNote)
	_, err = h.svc.Complete(ctx, id, "crew-1")
	require.NoError(t, err)

	stored, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 4, stored.StatusVersion)

	trs, err := h.svc.Transitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, trs, 5)
	assert.Equal(t, StatusNone, trs[0].From)
	assert.Equal(t, StatusCompleted, trs[4].To)
}

func TestService_CreateIsIdempotentOnReport(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.svc.CreateFromReport(ctx, report("rep-dup"))
	require.NoError(t, err)
	second, err := h.svc.CreateFromReport(ctx, report("rep-dup"))
	require.NoError(t, err)
	assert.Equal(t, first.Call.ID, second.Call.ID)

	calls, _ := h.store.ListByStatus(ctx, StatusReceived)
	assert.Len(t, calls, 1)
}

func TestService_RejectsInvalidLocation(t *testing.T) {
	h := newHarness()
	r := report("rep-bad")
	r.Location = &types.Point{Lat: 123, Lng: 0}
	_, err := h.svc.CreateFromReport(context.Background(), r)
	assert.ErrorIs(t, err, ErrInvalidReport)
}

func TestService_InvalidTransition(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, _ := h.svc.CreateFromReport(ctx, report("rep-2"))

	_, err := h.svc.Advance(ctx, out.Call.ID, StatusArrived, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_OfflineQueuesAndReplaysInOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.conn.offline.Store(true)

	out, err := h.svc.CreateFromReport(ctx, report("rep-off"))
	require.NoError(t, err)
	assert.True(t, out.Queued)
	id := out.Call.ID

	disp, err := h.svc.Dispatch(ctx, id, "amb-7", "")
	require.NoError(t, err)
	assert.True(t, disp.Queued)

	// Local state is visible while offline.
	got, err := h.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, got.Status)
	_, err = h.store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	busy, err := h.svc.BusyAmbulances(ctx)
	require.NoError(t, err)
	assert.Contains(t, busy, types.ID("amb-7"))

	h.conn.offline.Store(false)
	// Still behind the backlog, so this queues too.
	enRoute, err := h.svc.Advance(ctx, id, StatusEnRoute, nil)
	require.NoError(t, err)
	assert.True(t, enRoute.Queued)

	res, err := h.queue.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)

	stored, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEnRoute, stored.Status)
	assert.Equal(t, 2, stored.StatusVersion)
	assert.Equal(t, types.ID("amb-7"), *stored.AmbulanceID)
	backlog, err := h.svc.Backlog(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, backlog)

	// Backlog drained: next write goes straight to the store.
	arrived, err := h.svc.Advance(ctx, id, StatusArrived, nil)
	require.NoError(t, err)
	assert.False(t, arrived.Queued)
}

func TestService_TransientStoreErrorFallsBackToQueue(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.store.Err = fmt.Errorf("create call: %w", e.ErrUnavailable)

	out, err := h.svc.CreateFromReport(ctx, report("rep-flaky"))
	require.NoError(t, err)
	assert.True(t, out.Queued)

	res, err := h.queue.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	h.store.Err = nil
	pending, _ := h.queue.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestService_NonTransientStoreErrorIsReturned(t *testing.T) {
	h := newHarness()
	h.store.Err = fmt.Errorf("create call: %w", e.ErrInvalidInput)
	_, err := h.svc.CreateFromReport(context.Background(), report("rep-broken"))
	assert.ErrorIs(t, err, e.ErrInvalidInput)
}

func TestApplyStatus_IsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, _ := h.svc.CreateFromReport(ctx, report("rep-idem"))
	disp, err := h.svc.Dispatch(ctx, out.Call.ID, "amb-1", "")
	require.NoError(t, err)

	payload := statusPayload(disp.Call, disp.Transition)
	require.NoError(t, h.svc.ApplyStatus(ctx, payload))
	require.NoError(t, h.svc.ApplyStatus(ctx, payload))

	trs, _ := h.store.Transitions(ctx, out.Call.ID)
	assert.Len(t, trs, 2)
}

func TestApplyStatus_VersionGapRetries(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, _ := h.svc.CreateFromReport(ctx, report("rep-gap"))

	err := h.svc.ApplyStatus(ctx, syncqueue.StatusUpdatePayload{CallID: out.Call.ID, From: "dispatched", To: "en_route", Version: 2})
	assert.ErrorIs(t, err, ErrVersionGap)
}

func TestService_ConcurrentTransitionsSerialize(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, _ := h.svc.CreateFromReport(ctx, report("rep-race"))
	id := out.Call.ID

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := h.svc.Dispatch(ctx, id, "amb-1", "")
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := h.svc.Cancel(ctx, id, "operator", "caller hung up")
		errs <- err
	}()
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		assert.True(t, errors.Is(err, ErrInvalidTransition), "unexpected error: %v", err)
	}
	// Dispatch then cancel are both legal; cancel then dispatch is not.
	assert.GreaterOrEqual(t, success, 1)

	stored, _ := h.store.Get(ctx, id)
	assert.Equal(t, success, stored.StatusVersion)
}

func TestService_PendingOrdersByPriority(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	low := report("rep-low")
	low.Severity = SeverityRingan
	_, err := h.svc.CreateFromReport(ctx, low)
	require.NoError(t, err)
	crit, err := h.svc.CreateFromReport(ctx, report("rep-crit"))
	require.NoError(t, err)

	pending, err := h.svc.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, crit.Call.ID, pending[0].ID)
}

func TestService_WithdrawnTransitionReleasesCall(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	out, err := h.svc.CreateFromReport(ctx, report("rep-withdrawn"))
	require.NoError(t, err)
	id := out.Call.ID

	h.conn.offline.Store(true)
	disp, err := h.svc.Dispatch(ctx, id, "amb-1", "")
	require.NoError(t, err)
	require.True(t, disp.Queued)
	_, err = h.queue.Cancel(ctx, disp.QueueItem)
	require.NoError(t, err)
	h.conn.offline.Store(false)

	got, err := h.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status, "the withdrawn dispatch is not shown")
	assert.Equal(t, 0, got.StatusVersion)

	_, err = h.svc.Advance(ctx, id, StatusEnRoute, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	again, err := h.svc.Dispatch(ctx, id, "amb-2", "")
	require.NoError(t, err)
	assert.False(t, again.Queued, "nothing is queued ahead of it")

	stored, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, stored.Status)
	assert.Equal(t, 1, stored.StatusVersion)
	assert.Equal(t, types.ID("amb-2"), *stored.AmbulanceID)

	busy, err := h.svc.BusyAmbulances(ctx)
	require.NoError(t, err)
	assert.NotContains(t, busy, types.ID("amb-1"))
}

func TestService_FailedTransitionReleasesCall(t *testing.T) {
	h := newHarnessWith(syncqueue.NewMemoryStore(), syncqueue.Options{MaxRetries: 1})
	ctx := context.Background()
	out, err := h.svc.CreateFromReport(ctx, report("rep-failed"))
	require.NoError(t, err)
	id := out.Call.ID

	h.store.Err = fmt.Errorf("update call: %w", e.ErrUnavailable)
	disp, err := h.svc.Dispatch(ctx, id, "amb-1", "")
	require.NoError(t, err)
	require.True(t, disp.Queued)

	res, err := h.queue.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	h.store.Err = nil

	backlog, err := h.svc.Backlog(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, backlog, "failed items are not a backlog")

	again, err := h.svc.Dispatch(ctx, id, "amb-1", "")
	require.NoError(t, err)
	assert.False(t, again.Queued)
	stored, err := h.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.StatusVersion)
}

func TestService_QueuedWritesSurviveRestart(t *testing.T) {
	items := syncqueue.NewMemoryStore()
	before := newHarnessWith(items, syncqueue.Options{})
	ctx := context.Background()
	before.conn.offline.Store(true)

	out, err := before.svc.CreateFromReport(ctx, report("rep-restart"))
	require.NoError(t, err)
	id := out.Call.ID
	_, err = before.svc.Dispatch(ctx, id, "amb-7", "rs-1")
	require.NoError(t, err)

	// A fresh service over the same queue and call store, as after a restart.
	after := newHarnessWith(items, syncqueue.Options{})
	after.store = before.store
	after.svc = NewService(after.store, after.queue, after.conn, nil)
	after.svc.RegisterApply(after.queue)

	got, err := after.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDispatched, got.Status)
	assert.Equal(t, types.ID("amb-7"), *got.AmbulanceID)

	enRoute, err := after.svc.Advance(ctx, id, StatusEnRoute, nil)
	require.NoError(t, err)
	assert.True(t, enRoute.Queued, "must not overtake the queued writes")
	assert.Equal(t, 2, enRoute.Call.StatusVersion)

	res, err := after.queue.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Completed)
	assert.Zero(t, res.Failed)

	stored, err := after.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusEnRoute, stored.Status)
	assert.Equal(t, 2, stored.StatusVersion)
}

func TestService_TerminalCallsLeaveCache(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	done, err := h.svc.CreateFromReport(ctx, report("rep-done"))
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, done.Call.ID, "operator", "duplicate")
	require.NoError(t, err)

	h.conn.offline.Store(true)
	queued, err := h.svc.CreateFromReport(ctx, report("rep-queued"))
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, queued.Call.ID, "operator", "hoax")
	require.NoError(t, err)
	_, held := h.svc.cached(queued.Call.ID)
	assert.True(t, held, "queued terminal state stays until applied")

	h.conn.offline.Store(false)
	_, err = h.queue.Flush(ctx)
	require.NoError(t, err)

	h.svc.mu.RLock()
	assert.Empty(t, h.svc.cache)
	assert.Empty(t, h.svc.byReport)
	h.svc.mu.RUnlock()

	got, err := h.svc.Get(ctx, queued.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestService_ReportAtOriginKeepsTarget(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	origin := types.Point{}

	arrive := func(reportID string, crew types.Point) EmergencyCall {
		r := report(reportID)
		r.Location = &origin
		out, err := h.svc.CreateFromReport(ctx, r)
		require.NoError(t, err)
		require.NotNil(t, out.Call.Target)
		_, err = h.svc.Dispatch(ctx, out.Call.ID, "amb-1", "")
		require.NoError(t, err)
		_, err = h.svc.Advance(ctx, out.Call.ID, StatusEnRoute, nil)
		require.NoError(t, err)
		arrived, err := h.svc.Advance(ctx, out.Call.ID, StatusArrived, &Evidence{Coordinate: &crew})
		require.NoError(t, err)
		return arrived.Call
	}

	assert.Equal(t, ArrivalConfirmed, arrive("rep-origin-near", types.Point{Lat: 0.00045}).ArrivalNote)
	assert.Equal(t, "discrepancy: 500m", arrive("rep-origin-far", types.Point{Lat: 0.0045}).ArrivalNote)
}

func TestService_QueuedReportAtOriginKeepsTarget(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.conn.offline.Store(true)
	r := report("rep-origin-queued")
	r.Location = &types.Point{}
	out, err := h.svc.CreateFromReport(ctx, r)
	require.NoError(t, err)
	require.True(t, out.Queued)

	h.conn.offline.Store(false)
	_, err = h.queue.Flush(ctx)
	require.NoError(t, err)

	stored, err := h.store.Get(ctx, out.Call.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Target)
	assert.Equal(t, types.Point{}, *stored.Target)
}

func TestService_ReportWithoutLocation(t *testing.T) {
	h := newHarness()
	r := report("rep-nowhere")
	r.Location = nil
	out, err := h.svc.CreateFromReport(context.Background(), r)
	require.NoError(t, err)
	assert.Nil(t, out.Call.Target)
}
