// README: Connectivity monitor: online signal, backend reachability, and flush on reconnect.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"siaga/internal/modules/syncqueue"
)

// Flusher is the queue side of a reconnect.
type Flusher interface {
	Flush(ctx context.Context) (syncqueue.FlushResult, error)
}

type EventKind string

const (
	EventOnline      EventKind = "online"
	EventOffline     EventKind = "offline"
	EventReachable   EventKind = "reachable"
	EventUnreachable EventKind = "unreachable"
)

type Event struct {
	Kind EventKind `json:"kind"`
	At   time.Time `json:"at"`
	Err  string    `json:"error,omitempty"`
}

type Status struct {
	Online    bool      `json:"online"`
	Reachable bool      `json:"reachable"`
	LastProbe time.Time `json:"last_probe,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Options struct {
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	FlushInterval time.Duration
	// InitialOnline seeds the online signal before the first probe.
	InitialOnline bool
	// ProbeDrivesOnline makes probe results the online signal, for hosts
	// without a platform network callback such as the server. The two then
	// move together; Reachable and the reachable events still report probe
	// results alone. Leave it false where the platform calls SetOnline.
	ProbeDrivesOnline bool
	Logger            *slog.Logger
}

type Monitor struct {
	prober  Prober
	flusher Flusher
	opts    Options
	logger  *slog.Logger

	online    atomic.Bool
	reachable atomic.Bool

	mu        sync.Mutex
	lastProbe time.Time
	lastErr   string
	subs      []chan Event

	// runMu guards the Run lifecycle: reconnect flushes use Run's context,
	// and none start once Run has returned.
	runMu    sync.Mutex
	flushCtx context.Context
	stopped  bool
	wg       sync.WaitGroup
}

func NewMonitor(prober Prober, flusher Flusher, opts Options) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Monitor{
		prober:  prober,
		flusher: flusher,
		opts:    opts,
		logger:  opts.Logger.With("component", "connectivity"),
	}
	m.online.Store(opts.InitialOnline)
	m.reachable.Store(opts.InitialOnline)
	return m
}

func (m *Monitor) IsOnline() bool { return m.online.Load() }

// Reachable is the last probe verdict, independent of the online signal.
func (m *Monitor) Reachable() bool { return m.reachable.Load() }

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Online:    m.IsOnline(),
		Reachable: m.Reachable(),
		LastProbe: m.lastProbe,
		LastError: m.lastErr,
	}
}

// Subscribe returns a buffered channel of state changes. Slow subscribers
// miss events rather than block the monitor.
func (m *Monitor) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// SetOnline records the platform online signal. Only an offline to online
// edge triggers a flush, and only one per edge.
func (m *Monitor) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		m.logger.Info("online")
		m.publish(Event{Kind: EventOnline, At: time.Now()})
		m.triggerFlush()
		return
	}
	m.logger.Warn("offline")
	m.publish(Event{Kind: EventOffline, At: time.Now()})
}

func (m *Monitor) triggerFlush() {
	if m.flusher == nil {
		return
	}
	m.runMu.Lock()
	if m.stopped {
		m.runMu.Unlock()
		m.logger.Debug("monitor stopped, reconnect flush skipped")
		return
	}
	ctx := context.Background()
	if m.flushCtx != nil {
		ctx = m.flushCtx
	}
	m.wg.Add(1)
	m.runMu.Unlock()
	go func() {
		defer m.wg.Done()
		res, err := m.flusher.Flush(ctx)
		if err != nil {
			m.logger.Error("reconnect flush", "err", err)
			return
		}
		m.logger.Info("reconnect flush", "attempted", res.Attempted, "completed", res.Completed, "failed", res.Failed)
	}()
}

// Probe runs one health check and records reachability.
func (m *Monitor) Probe(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.prober.Probe(pctx)
	cancel()

	m.mu.Lock()
	m.lastProbe = time.Now()
	if err != nil {
		m.lastErr = err.Error()
	} else {
		m.lastErr = ""
	}
	m.mu.Unlock()

	ok := err == nil
	if prev := m.reachable.Swap(ok); prev != ok {
		ev := Event{Kind: EventReachable, At: time.Now()}
		if !ok {
			ev = Event{Kind: EventUnreachable, At: time.Now(), Err: err.Error()}
			m.logger.Warn("backend unreachable", "err", err)
		} else {
			m.logger.Info("backend reachable")
		}
		m.publish(ev)
	}
	if m.opts.ProbeDrivesOnline {
		m.SetOnline(ok)
	}
	return err
}

// Run probes at ProbeInterval and flushes at FlushInterval while online,
// until ctx is cancelled. It waits for in-flight reconnect flushes on exit.
func (m *Monitor) Run(ctx context.Context) {
	m.runMu.Lock()
	m.flushCtx = ctx
	m.stopped = false
	m.runMu.Unlock()
	defer func() {
		m.runMu.Lock()
		m.stopped = true
		m.runMu.Unlock()
		m.wg.Wait()
	}()

	_ = m.Probe(ctx)

	probe := time.NewTicker(m.opts.ProbeInterval)
	defer probe.Stop()
	var flushC <-chan time.Time
	if m.opts.FlushInterval > 0 && m.flusher != nil {
		flush := time.NewTicker(m.opts.FlushInterval)
		defer flush.Stop()
		flushC = flush.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			_ = m.Probe(ctx)
		case <-flushC:
			if !m.IsOnline() {
				continue
			}
			if _, err := m.flusher.Flush(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("periodic flush", "err", err)
			}
		}
	}
}

// Wait blocks until reconnect flushes started so far have returned.
func (m *Monitor) Wait() { m.wg.Wait() }

func (m *Monitor) publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
