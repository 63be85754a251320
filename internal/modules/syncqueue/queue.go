// README: Offline-first queue. Enqueue always lands locally; Flush replays pending
// items through registered apply functions once connectivity is back.
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"siaga/internal/types"
)

// ApplyFunc performs one action against the backend. It must be idempotent.
type ApplyFunc func(ctx context.Context, p Payload) error

// Connectivity reports whether the backend is reachable.
type Connectivity interface {
	IsOnline() bool
}

type Options struct {
	MaxRetries    int
	Backoff       Backoff
	OwnerParallel int
	Logger        *slog.Logger
	Now           func() time.Time
}

type FlushResult struct {
	Attempted int  `json:"attempted"`
	Completed int  `json:"completed"`
	Retried   int  `json:"retried"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
	Coalesced bool `json:"coalesced"`
}

type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

type Queue struct {
	store  QueueStore
	conn   Connectivity
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	appliers map[ActionType]ApplyFunc

	// claimMu serialises pending -> processing/cancelled decisions.
	claimMu sync.Mutex
	flights singleflight.Group
}

func New(store QueueStore, conn Connectivity, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff == nil {
		opts.Backoff = LinearBackoff{Step: 30 * time.Second}
	}
	if opts.OwnerParallel <= 0 {
		opts.OwnerParallel = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if _, ok := store.(*FallbackStore); !ok {
		store = NewFallbackStore(store, opts.Logger)
	}
	return &Queue{
		store:    store,
		conn:     conn,
		opts:     opts,
		logger:   opts.Logger.With("component", "syncqueue"),
		appliers: make(map[ActionType]ApplyFunc),
	}
}

func (q *Queue) Register(action ActionType, fn ApplyFunc) {
	q.mu.Lock()
	q.appliers[action] = fn
	q.mu.Unlock()
}

func (q *Queue) applier(action ActionType) (ApplyFunc, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	fn, ok := q.appliers[action]
	return fn, ok
}

// Enqueue records an action locally. Lower priority values are flushed first.
func (q *Queue) Enqueue(ctx context.Context, ownerID string, payload Payload, priority int) (Item, error) {
	if payload == nil {
		return Item{}, errors.New("enqueue: nil payload")
	}
	now := q.opts.Now().UTC()
	item := Item{
		ID:          types.ID(uuid.NewString()),
		OwnerID:     ownerID,
		ActionType:  payload.Action(),
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		MaxRetries:  q.opts.MaxRetries,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.store.Put(ctx, item); err != nil {
		return Item{}, err
	}
	q.logger.Debug("enqueued", "id", item.ID, "owner", ownerID, "action", item.ActionType, "priority", priority)
	return item, nil
}

// Flush processes every due pending item. Concurrent calls share a single
// pass. When offline it returns immediately without touching the store.
func (q *Queue) Flush(ctx context.Context) (FlushResult, error) {
	if q.conn != nil && !q.conn.IsOnline() {
		return FlushResult{Skipped: true}, nil
	}
	v, err, shared := q.flights.Do("flush", func() (any, error) {
		return q.flushOnce(ctx)
	})
	res, _ := v.(FlushResult)
	res.Coalesced = shared
	return res, err
}

func (q *Queue) flushOnce(ctx context.Context) (FlushResult, error) {
	if fb, ok := q.store.(*FallbackStore); ok && fb.Degraded() {
		if _, err := fb.Drain(ctx); err != nil {
			q.logger.Warn("drain buffered items", "err", err)
		}
	}

	pending, err := q.store.ListByStatus(ctx, StatusPending)
	if err != nil {
		return FlushResult{}, fmt.Errorf("list pending: %w", err)
	}

	now := q.opts.Now()
	owners := make([]string, 0)
	byOwner := make(map[string][]Item)
	for _, item := range pending {
		if item.ScheduledAt.After(now) {
			continue
		}
		if _, ok := byOwner[item.OwnerID]; !ok {
			owners = append(owners, item.OwnerID)
		}
		byOwner[item.OwnerID] = append(byOwner[item.OwnerID], item)
	}

	var (
		resMu sync.Mutex
		res   FlushResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.OwnerParallel)
	for _, owner := range owners {
		items := byOwner[owner]
		g.Go(func() error {
			// Items of one owner run in order so a call's transitions land in sequence.
			for _, item := range items {
				if gctx.Err() != nil {
					return nil
				}
				outcome, ok := q.process(gctx, item)
				if !ok {
					continue
				}
				resMu.Lock()
				res.Attempted++
				switch outcome {
				case StatusCompleted:
					res.Completed++
				case StatusFailed:
					res.Failed++
				default:
					res.Retried++
				}
				resMu.Unlock()
				if outcome == StatusPending {
					// Later items of this owner may depend on this one.
					return nil
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.Attempted > 0 {
		q.logger.Info("flush done", "attempted", res.Attempted, "completed", res.Completed,
			"retried", res.Retried, "failed", res.Failed)
	}
	return res, ctx.Err()
}

// process runs one item. ok is false when the item was no longer claimable.
func (q *Queue) process(ctx context.Context, item Item) (Status, bool) {
	claimed, ok := q.claim(ctx, item.ID)
	if !ok {
		return "", false
	}
	item = claimed

	fn, found := q.applier(item.ActionType)
	if !found || item.Payload == nil {
		item.Status = StatusFailed
		item.ErrorMessage = fmt.Sprintf("%v: %s", ErrUnknownAction, item.ActionType)
		item.UpdatedAt = q.opts.Now().UTC()
		q.put(ctx, item)
		q.logger.Error("dropping item with unknown action", "id", item.ID, "action", item.ActionType)
		return StatusFailed, true
	}

	err := safeApply(ctx, fn, item.Payload)
	now := q.opts.Now().UTC()
	item.UpdatedAt = now
	if err == nil {
		item.Status = StatusCompleted
		item.ErrorMessage = ""
		q.put(ctx, item)
		return StatusCompleted, true
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Interrupted flush, not a failed attempt.
		item.Status = StatusPending
		q.put(context.WithoutCancel(ctx), item)
		return StatusPending, true
	}

	item.RetryCount++
	item.ErrorMessage = err.Error()
	if item.RetryCount >= item.MaxRetries {
		item.Status = StatusFailed
		q.put(ctx, item)
		q.logger.Error("sync item failed permanently", "id", item.ID, "owner", item.OwnerID,
			"action", item.ActionType, "retries", item.RetryCount, "err", err)
		return StatusFailed, true
	}
	item.Status = StatusPending
	item.ScheduledAt = now.Add(q.opts.Backoff.Delay(item.RetryCount))
	q.put(ctx, item)
	q.logger.Warn("sync item will retry", "id", item.ID, "retry", item.RetryCount,
		"next_attempt", item.ScheduledAt, "err", err)
	return StatusPending, true
}

func (q *Queue) claim(ctx context.Context, id types.ID) (Item, bool) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	item, err := q.store.Get(ctx, id)
	if err != nil || item.Status != StatusPending || item.ScheduledAt.After(q.opts.Now()) {
		return Item{}, false
	}
	item.Status = StatusProcessing
	item.UpdatedAt = q.opts.Now().UTC()
	if err := q.store.Put(ctx, item); err != nil {
		return Item{}, false
	}
	return item, true
}

func (q *Queue) put(ctx context.Context, item Item) {
	if err := q.store.Put(ctx, item); err != nil {
		q.logger.Error("persist sync item", "id", item.ID, "status", item.Status, "err", err)
	}
}

func safeApply(ctx context.Context, fn ApplyFunc, p Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrApplyFailure, r)
		}
	}()
	return fn(ctx, p)
}

// Cancel withdraws a pending item. Items already processing or terminal are
// left alone.
func (q *Queue) Cancel(ctx context.Context, id types.ID) (Item, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if item.Status != StatusPending {
		return item, ErrNotPending
	}
	item.Status = StatusCancelled
	item.UpdatedAt = q.opts.Now().UTC()
	if err := q.store.Put(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Requeue gives a failed item a fresh set of attempts.
func (q *Queue) Requeue(ctx context.Context, id types.ID) (Item, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	item, err := q.store.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if item.Status != StatusFailed {
		return item, ErrNotFailed
	}
	now := q.opts.Now().UTC()
	item.Status = StatusPending
	item.RetryCount = 0
	item.ErrorMessage = ""
	item.ScheduledAt = now
	item.UpdatedAt = now
	if err := q.store.Put(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

func (q *Queue) Get(ctx context.Context, id types.ID) (Item, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) List(ctx context.Context, status Status) ([]Item, error) {
	return q.store.ListByStatus(ctx, status)
}

func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	return q.store.ListByStatus(ctx, StatusPending)
}

func (q *Queue) Failed(ctx context.Context) ([]Item, error) {
	return q.store.ListByStatus(ctx, StatusFailed)
}

// Outstanding lists the pending and processing items of owner in flush order.
func (q *Queue) Outstanding(ctx context.Context, ownerID string) ([]Item, error) {
	var out []Item
	for _, status := range []Status{StatusProcessing, StatusPending} {
		items, err := q.store.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.OwnerID == ownerID {
				out = append(out, item)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// OutstandingOwners counts pending and processing items per owner.
func (q *Queue) OutstandingOwners(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, status := range []Status{StatusProcessing, StatusPending} {
		items, err := q.store.ListByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			counts[item.OwnerID]++
		}
	}
	return counts, nil
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	for _, st := range []struct {
		status Status
		dst    *int
	}{
		{StatusPending, &s.Pending},
		{StatusProcessing, &s.Processing},
		{StatusCompleted, &s.Completed},
		{StatusFailed, &s.Failed},
		{StatusCancelled, &s.Cancelled},
	} {
		items, err := q.store.ListByStatus(ctx, st.status)
		if err != nil {
			return Stats{}, err
		}
		*st.dst = len(items)
	}
	return s, nil
}

// Purge deletes completed and cancelled items last touched before
// now-olderThan. Failed items stay until an operator requeues them.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := q.opts.Now().Add(-olderThan)
	removed := 0
	for _, status := range []Status{StatusCompleted, StatusCancelled} {
		items, err := q.store.ListByStatus(ctx, status)
		if err != nil {
			return removed, err
		}
		for _, item := range items {
			if !item.UpdatedAt.Before(cutoff) {
				continue
			}
			if err := q.store.Delete(ctx, item.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Recover returns items stuck in processing, left behind by a crash mid-flush,
// to pending. Call it once at startup before the first Flush.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()
	items, err := q.store.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		item.Status = StatusPending
		item.UpdatedAt = q.opts.Now().UTC()
		if err := q.store.Put(ctx, item); err != nil {
			return 0, err
		}
	}
	if len(items) > 0 {
		q.logger.Warn("recovered interrupted sync items", "count", len(items))
	}
	return len(items), nil
}
