// README: Dispatch service serializes call transitions and persists them online or through the sync queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"siaga/internal/modules/syncqueue"
	"siaga/internal/types"
	"siaga/pkg/e"
)

var (
	ErrNotFound      = errors.New("emergency call not found")
	ErrConflict      = errors.New("emergency call state conflict")
	ErrInvalidReport = errors.New("invalid emergency report")
)

type CallStore interface {
	Create(ctx context.Context, call *EmergencyCall) (bool, error)
	Get(ctx context.Context, id types.ID) (*EmergencyCall, error)
	GetByReport(ctx context.Context, reportID types.ID) (*EmergencyCall, error)
	UpdateStatus(ctx context.Context, call *EmergencyCall, fromVersion int) (bool, error)
	AppendTransition(ctx context.Context, tr *Transition) error
	Transitions(ctx context.Context, callID types.ID) ([]Transition, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]EmergencyCall, error)
}

// Outbox buffers writes while the backend is unreachable. A call's backlog is
// whatever the outbox still holds for it, so withdrawn, failed and recovered
// items are accounted for without extra bookkeeping here.
type Outbox interface {
	Enqueue(ctx context.Context, ownerID string, payload syncqueue.Payload, priority int) (syncqueue.Item, error)
	Outstanding(ctx context.Context, ownerID string) ([]syncqueue.Item, error)
	OutstandingOwners(ctx context.Context) (map[string]int, error)
}

type Connectivity interface {
	IsOnline() bool
}

// Outcome is the result of a create or transition. Queued means the write is
// waiting in the sync queue rather than stored.
type Outcome struct {
	Call       EmergencyCall `json:"call"`
	Transition Transition    `json:"transition"`
	Queued     bool          `json:"queued"`
	QueueItem  types.ID      `json:"queue_item_id,omitempty"`
}

// cacheEntry is the local copy of a call. queued marks state that only exists in
// the sync queue so far.
type cacheEntry struct {
	call   EmergencyCall
	queued bool
}

type Service struct {
	store  CallStore
	outbox Outbox
	conn   Connectivity
	logger *slog.Logger
	now    func() time.Time
	locks  *keyedMutex

	// cache holds open calls and calls with queued writes; terminal calls are
	// dropped once stored.
	mu       sync.RWMutex
	cache    map[types.ID]cacheEntry
	byReport map[types.ID]types.ID
}

func NewService(store CallStore, outbox Outbox, conn Connectivity, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		outbox:   outbox,
		conn:     conn,
		logger:   logger.With("component", "dispatch"),
		now:      time.Now,
		locks:    newKeyedMutex(),
		cache:    make(map[types.ID]cacheEntry),
		byReport: make(map[types.ID]types.ID),
	}
}

func (s *Service) online() bool {
	return s.conn == nil || s.conn.IsOnline()
}

// CreateFromReport opens one call per report. Repeating a report returns the
// existing call. A report without a location opens a call without a target.
func (s *Service) CreateFromReport(ctx context.Context, report Report) (Outcome, error) {
	if report.Location != nil && !report.Location.Valid() {
		return Outcome{}, fmt.Errorf("%w: location out of range", ErrInvalidReport)
	}
	if report.ID == "" {
		report.ID = types.ID(uuid.NewString())
	}
	if report.ReportedAt.IsZero() {
		report.ReportedAt = s.now().UTC()
	}

	unlock := s.locks.Lock("report:" + string(report.ID))
	defer unlock()

	if id, ok := s.cachedReport(report.ID); ok {
		out, err := s.existing(ctx, id)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Outcome{}, err
		}
		// The queued report was withdrawn before it reached the store.
	}
	if s.online() {
		existing, err := s.store.GetByReport(ctx, report.ID)
		if err == nil {
			s.refresh(*existing)
			return Outcome{Call: *existing}, nil
		}
		if !errors.Is(err, ErrNotFound) && !e.Transient(err) {
			return Outcome{}, err
		}
	}

	now := s.now().UTC()
	call := Create(report, now)
	tr := Transition{CallID: call.ID, From: StatusNone, To: StatusReceived, Note: "report " + string(report.ID), At: now}
	if report.ReporterID != "" {
		reporter := report.ReporterID
		tr.ActorID = &reporter
	}
	out := Outcome{Call: call, Transition: tr}

	if s.online() {
		created, err := s.store.Create(ctx, &call)
		if err == nil {
			if !created {
				// Lost a race with another node for the same report.
				existing, gerr := s.store.GetByReport(ctx, report.ID)
				if gerr != nil {
					return Outcome{}, gerr
				}
				s.refresh(*existing)
				return Outcome{Call: *existing}, nil
			}
			s.appendTransition(ctx, &tr)
			s.refresh(call)
			s.logger.Info("call created", "call_id", call.ID, "report_id", report.ID, "priority", call.Priority)
			return out, nil
		}
		if !e.Transient(err) {
			return Outcome{}, err
		}
		s.logger.Warn("store unavailable, queueing report", "call_id", call.ID, "err", err)
	}

	item, err := s.outbox.Enqueue(ctx, string(call.ID), reportPayload(call, report), call.Priority.QueueRank())
	if err != nil {
		return Outcome{}, err
	}
	s.rememberQueued(call)
	out.Queued = true
	out.QueueItem = item.ID
	s.logger.Info("call queued", "call_id", call.ID, "report_id", report.ID, "item_id", item.ID)
	return out, nil
}

func (s *Service) existing(ctx context.Context, id types.ID) (Outcome, error) {
	unlock := s.locks.Lock(string(id))
	defer unlock()
	call, backlog, err := s.loadState(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Call: call, Queued: backlog > 0}, nil
}

// Advance applies one lifecycle step to the call.
func (s *Service) Advance(ctx context.Context, id types.ID, next Status, ev *Evidence) (Outcome, error) {
	unlock := s.locks.Lock(string(id))
	defer unlock()

	call, backlog, err := s.loadState(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	updated, tr, err := Advance(call, next, ev, s.now().UTC())
	if err != nil {
		return Outcome{}, err
	}
	return s.persistTransition(ctx, call, updated, tr, backlog > 0)
}

func (s *Service) Dispatch(ctx context.Context, id, ambulanceID, hospitalID types.ID) (Outcome, error) {
	return s.Advance(ctx, id, StatusDispatched, &Evidence{AmbulanceID: ambulanceID, HospitalID: hospitalID, Note: "matched"})
}

func (s *Service) Complete(ctx context.Context, id types.ID, actor types.ID) (Outcome, error) {
	return s.Advance(ctx, id, StatusCompleted, &Evidence{ActorID: actor})
}

func (s *Service) Cancel(ctx context.Context, id types.ID, actor types.ID, reason string) (Outcome, error) {
	return s.Advance(ctx, id, StatusCancelled, &Evidence{ActorID: actor, Note: reason})
}

// persistTransition writes straight to the store only when nothing for the
// call is still queued, so a direct write never overtakes a queued one.
func (s *Service) persistTransition(ctx context.Context, prev, next EmergencyCall, tr Transition, behind bool) (Outcome, error) {
	out := Outcome{Call: next, Transition: tr}
	if s.online() && !behind {
		ok, err := s.store.UpdateStatus(ctx, &next, prev.StatusVersion)
		if err == nil {
			if !ok {
				s.forget(next.ID)
				return Outcome{}, fmt.Errorf("%w: %s at version %d", ErrConflict, next.ID, prev.StatusVersion)
			}
			s.appendTransition(ctx, &tr)
			s.refresh(next)
			s.logger.Info("call transition", "call_id", next.ID, "from", tr.From, "to", tr.To)
			return out, nil
		}
		if !e.Transient(err) {
			return Outcome{}, err
		}
		s.logger.Warn("store unavailable, queueing transition", "call_id", next.ID, "err", err)
	}

	item, err := s.outbox.Enqueue(ctx, string(next.ID), statusPayload(next, tr), next.Priority.QueueRank())
	if err != nil {
		return Outcome{}, err
	}
	s.rememberQueued(next)
	out.Queued = true
	out.QueueItem = item.ID
	s.logger.Info("call transition queued", "call_id", next.ID, "from", tr.From, "to", tr.To, "item_id", item.ID)
	return out, nil
}

func (s *Service) appendTransition(ctx context.Context, tr *Transition) {
	if err := s.store.AppendTransition(ctx, tr); err != nil {
		s.logger.Warn("append transition", "call_id", tr.CallID, "err", err)
	}
}

// Get prefers the local copy while writes for the call are queued.
func (s *Service) Get(ctx context.Context, id types.ID) (EmergencyCall, error) {
	unlock := s.locks.Lock(string(id))
	defer unlock()
	call, _, err := s.loadState(ctx, id)
	return call, err
}

func (s *Service) Transitions(ctx context.Context, id types.ID) ([]Transition, error) {
	return s.store.Transitions(ctx, id)
}

// Backlog reports how many queued writes for id are outstanding.
func (s *Service) Backlog(ctx context.Context, id types.ID) (int, error) {
	items, err := s.outstanding(ctx, id)
	return len(items), err
}

// loadState returns the current view of a call and the size of its backlog.
// Callers hold the call lock.
//
// With nothing queued the store is authoritative. With a backlog the local
// copy is, rebuilt from the queued items when the process restarted since
// they were written.
func (s *Service) loadState(ctx context.Context, id types.ID) (EmergencyCall, int, error) {
	items, err := s.outstanding(ctx, id)
	if err != nil {
		return EmergencyCall{}, 0, err
	}
	local, haveLocal := s.cached(id)

	if len(items) == 0 {
		if s.online() {
			stored, err := s.store.Get(ctx, id)
			switch {
			case err == nil:
				s.refresh(*stored)
				return *stored, 0, nil
			case errors.Is(err, ErrNotFound):
				s.forget(id)
				return EmergencyCall{}, 0, err
			case !e.Transient(err):
				return EmergencyCall{}, 0, err
			}
		}
		if haveLocal && !local.queued {
			return local.call, 0, nil
		}
		// Any local copy came from a write that is no longer queued and
		// cannot be checked against the store right now.
		return EmergencyCall{}, 0, fmt.Errorf("%w: call %s", e.ErrUnavailable, id)
	}

	if haveLocal && local.queued {
		return local.call, len(items), nil
	}
	call, err := s.rebuild(ctx, id, items)
	if err != nil {
		return EmergencyCall{}, 0, err
	}
	s.rememberQueued(call)
	return call, len(items), nil
}

// rebuild replays queued writes over the stored call, or over the queued
// report when the call never reached the store.
func (s *Service) rebuild(ctx context.Context, id types.ID, items []syncqueue.Item) (EmergencyCall, error) {
	var (
		base  EmergencyCall
		found bool
	)
	if s.online() {
		stored, err := s.store.Get(ctx, id)
		switch {
		case err == nil:
			base, found = *stored, true
		case !errors.Is(err, ErrNotFound) && !e.Transient(err):
			return EmergencyCall{}, err
		}
	}
	if !found {
		for _, item := range items {
			if rp, ok := item.Payload.(syncqueue.EmergencyReportPayload); ok {
				base, found = callFromReport(rp), true
				break
			}
		}
	}
	if !found {
		if local, ok := s.cached(id); ok {
			base, found = local.call, true
		}
	}
	if !found {
		return EmergencyCall{}, fmt.Errorf("%w: call %s", e.ErrUnavailable, id)
	}
	for _, item := range items {
		if sp, ok := item.Payload.(syncqueue.StatusUpdatePayload); ok && sp.Version > base.StatusVersion {
			base = withStatus(base, sp)
		}
	}
	return base, nil
}

func (s *Service) outstanding(ctx context.Context, id types.ID) ([]syncqueue.Item, error) {
	if s.outbox == nil {
		return nil, nil
	}
	items, err := s.outbox.Outstanding(ctx, string(id))
	if err != nil {
		return nil, fmt.Errorf("sync backlog for %s: %w", id, err)
	}
	return items, nil
}

// Pending lists received calls without an ambulance, most urgent first.
func (s *Service) Pending(ctx context.Context) ([]EmergencyCall, error) {
	calls, err := s.list(ctx, StatusReceived)
	if err != nil {
		return nil, err
	}
	out := calls[:0]
	for _, c := range calls {
		if c.AmbulanceID == nil {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.QueueRank(), out[j].Priority.QueueRank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// BusyAmbulances returns ambulances assigned to calls that are not terminal.
func (s *Service) BusyAmbulances(ctx context.Context) (map[types.ID]struct{}, error) {
	calls, err := s.list(ctx, StatusDispatched, StatusEnRoute, StatusArrived)
	if err != nil {
		return nil, err
	}
	busy := make(map[types.ID]struct{}, len(calls))
	for _, c := range calls {
		if c.AmbulanceID != nil {
			busy[*c.AmbulanceID] = struct{}{}
		}
	}
	return busy, nil
}

// list merges stored calls with local copies of calls whose writes are still
// queued. Offline, every local copy stands in for the store.
func (s *Service) list(ctx context.Context, statuses ...Status) ([]EmergencyCall, error) {
	online := s.online()
	merged := make(map[types.ID]EmergencyCall)
	if online {
		stored, err := s.store.ListByStatus(ctx, statuses...)
		if err != nil && !e.Transient(err) {
			return nil, err
		}
		for _, c := range stored {
			merged[c.ID] = c
		}
	}
	var backlog map[string]int
	if s.outbox != nil {
		var err error
		backlog, err = s.outbox.OutstandingOwners(ctx)
		if err != nil {
			return nil, fmt.Errorf("sync backlog: %w", err)
		}
	}
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	for id, entry := range s.cache {
		c := entry.call
		if online && backlog[string(id)] == 0 {
			continue
		}
		if !online && entry.queued && backlog[string(id)] == 0 {
			// withdrawn write; the store copy is unknown offline
			continue
		}
		if cur, ok := merged[id]; ok && cur.StatusVersion >= c.StatusVersion {
			continue
		}
		if want[c.Status] {
			merged[id] = c
		} else {
			delete(merged, id)
		}
	}
	s.mu.RUnlock()

	out := make([]EmergencyCall, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Service) cached(id types.ID) (cacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[id]
	return c, ok
}

func (s *Service) cachedReport(reportID types.ID) (types.ID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReport[reportID]
	return id, ok
}

// refresh records c as stored. Terminal calls leave the cache.
func (s *Service) refresh(c EmergencyCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status.Terminal() {
		s.dropLocked(c.ID)
		return
	}
	s.cache[c.ID] = cacheEntry{call: c}
	s.byReport[c.ReportID] = c.ID
}

// rememberQueued records c as written to the sync queue only.
func (s *Service) rememberQueued(c EmergencyCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.cache[c.ID]; ok && cur.queued && cur.call.StatusVersion > c.StatusVersion {
		return
	}
	s.cache[c.ID] = cacheEntry{call: c, queued: true}
	s.byReport[c.ReportID] = c.ID
}

// markApplied notes that the queued write producing version of id has been
// stored. Later queued writes keep the local copy marked queued.
func (s *Service) markApplied(id types.ID, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cache[id]
	if !ok || cur.call.StatusVersion != version {
		return
	}
	if cur.call.Status.Terminal() {
		s.dropLocked(id)
		return
	}
	cur.queued = false
	s.cache[id] = cur
}

func (s *Service) forget(id types.ID) {
	s.mu.Lock()
	s.dropLocked(id)
	s.mu.Unlock()
}

func (s *Service) dropLocked(id types.ID) {
	if cur, ok := s.cache[id]; ok {
		if s.byReport[cur.call.ReportID] == id {
			delete(s.byReport, cur.call.ReportID)
		}
		delete(s.cache, id)
	}
}

func reportPayload(call EmergencyCall, report Report) syncqueue.EmergencyReportPayload {
	return syncqueue.EmergencyReportPayload{
		CallID:        call.ID,
		ReportID:      report.ID,
		Severity:      report.Severity,
		EmergencyType: report.EmergencyType,
		Priority:      string(call.Priority),
		Location:      report.Location,
		ReporterID:    report.ReporterID,
		Description:   report.Description,
		ReportedAt:    report.ReportedAt,
		CreatedAt:     call.CreatedAt,
	}
}

func statusPayload(call EmergencyCall, tr Transition) syncqueue.StatusUpdatePayload {
	return syncqueue.StatusUpdatePayload{
		CallID:      call.ID,
		From:        string(tr.From),
		To:          string(tr.To),
		Version:     call.StatusVersion,
		AmbulanceID: call.AmbulanceID,
		HospitalID:  call.HospitalID,
		ActorID:     tr.ActorID,
		Note:        tr.Note,
		ArrivalNote: call.ArrivalNote,
		Notes:       call.Notes,
		At:          tr.At,
	}
}
