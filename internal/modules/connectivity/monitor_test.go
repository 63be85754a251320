package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siaga/internal/modules/syncqueue"
)

type countingFlusher struct{ calls atomic.Int32 }

func (f *countingFlusher) Flush(context.Context) (syncqueue.FlushResult, error) {
	f.calls.Add(1)
	return syncqueue.FlushResult{}, nil
}

func TestSetOnline_FlushesOncePerReconnect(t *testing.T) {
	f := &countingFlusher{}
	m := NewMonitor(nil, f, Options{})
	events := m.Subscribe()

	m.SetOnline(true)
	m.SetOnline(true)
	m.Wait()
	assert.Equal(t, int32(1), f.calls.Load())

	m.SetOnline(false)
	m.Wait()
	assert.Equal(t, int32(1), f.calls.Load(), "going offline never flushes")

	m.SetOnline(true)
	m.Wait()
	assert.Equal(t, int32(2), f.calls.Load())

	kinds := []EventKind{}
	for len(events) > 0 {
		kinds = append(kinds, (<-events).Kind)
	}
	assert.Equal(t, []EventKind{EventOnline, EventOffline, EventOnline}, kinds)
}

func TestReconnect_DrainsQueueOnce(t *testing.T) {
	m := NewMonitor(nil, nil, Options{})
	q := syncqueue.New(syncqueue.NewMemoryStore(), m, syncqueue.Options{})
	m.flusher = q

	var applied atomic.Int32
	q.Register(syncqueue.ActionLocationUpdate, func(context.Context, syncqueue.Payload) error {
		applied.Add(1)
		return nil
	})
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "amb-1", syncqueue.LocationUpdatePayload{AmbulanceID: "amb-1"}, 2)
	require.NoError(t, err)

	// Offline: nothing happens to the queue.
	m.SetOnline(false)
	m.Wait()
	pending, _ := q.Pending(ctx)
	assert.Len(t, pending, 1)

	m.SetOnline(true)
	m.Wait()
	assert.Equal(t, int32(1), applied.Load())
	stats, _ := q.Stats(ctx)
	assert.Equal(t, 1, stats.Completed)
}

func TestProbe_TracksReachabilitySeparately(t *testing.T) {
	var fail atomic.Bool
	prober := ProberFunc(func(context.Context) error {
		if fail.Load() {
			return errors.New("connection refused")
		}
		return nil
	})
	f := &countingFlusher{}
	m := NewMonitor(prober, f, Options{InitialOnline: true})
	ctx := context.Background()

	fail.Store(true)
	assert.Error(t, m.Probe(ctx))
	assert.False(t, m.Reachable())
	assert.True(t, m.IsOnline(), "probe does not override the platform signal")
	assert.Equal(t, "connection refused", m.Status().LastError)

	fail.Store(false)
	require.NoError(t, m.Probe(ctx))
	assert.True(t, m.Reachable())
	m.Wait()
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestProbe_DrivesOnlineWhenConfigured(t *testing.T) {
	var fail atomic.Bool
	prober := ProberFunc(func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})
	f := &countingFlusher{}
	m := NewMonitor(prober, f, Options{ProbeDrivesOnline: true})
	ctx := context.Background()

	fail.Store(true)
	_ = m.Probe(ctx)
	assert.False(t, m.IsOnline())

	fail.Store(false)
	_ = m.Probe(ctx)
	_ = m.Probe(ctx)
	m.Wait()
	assert.True(t, m.IsOnline())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := &countingFlusher{}
	m := NewMonitor(ProberFunc(func(context.Context) error { return nil }), f,
		Options{ProbeInterval: 10 * time.Millisecond, FlushInterval: 10 * time.Millisecond, ProbeDrivesOnline: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, m.IsOnline())
	assert.GreaterOrEqual(t, f.calls.Load(), int32(1))
}

func TestHTTPProber(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := HTTPProber{URL: srv.URL}
	assert.NoError(t, p.Probe(context.Background()))
	healthy.Store(false)
	assert.Error(t, p.Probe(context.Background()))
}

func TestAll(t *testing.T) {
	ok := ProberFunc(func(context.Context) error { return nil })
	bad := ProberFunc(func(context.Context) error { return errors.New("redis down") })
	assert.NoError(t, All(ok, nil, ok).Probe(context.Background()))
	assert.ErrorContains(t, All(ok, bad).Probe(context.Background()), "redis down")
}

func TestSetOnline_NoFlushAfterRunReturns(t *testing.T) {
	f := &countingFlusher{}
	m := NewMonitor(nil, f, Options{ProbeInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	m.SetOnline(true)
	m.Wait()
	assert.True(t, m.IsOnline(), "the signal is still recorded")
	assert.Zero(t, f.calls.Load())
}
