// Package diagnostics carries per-resource outcome events from worker hosts to
// listeners such as the structured logger, the status endpoint and tests.
package diagnostics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"resourcewatch/internal/types"
)

type Event struct {
	Worker      string
	CycleID     string
	ResourceID  string
	ProcessType types.ProcessType
	ResultType  types.ResultType
	Duration    time.Duration
	Error       string
	Retryable   bool
	RetryCount  uint
	BannedUntil *time.Time
	Dangling    bool
	At          time.Time
}

func FromOutcome(o types.Outcome) Event {
	ev := Event{
		Worker:      o.WorkerName,
		CycleID:     o.CycleID,
		ResourceID:  o.ResourceID,
		ProcessType: o.ProcessType,
		ResultType:  o.ResultType,
		Duration:    o.Duration,
		Retryable:   o.Retryable,
		Dangling:    o.Dangling(),
		At:          time.Now(),
	}
	switch {
	case o.Err != nil:
		ev.Error = o.Err.Error()
	case o.StateErr != nil:
		ev.Error = o.StateErr.Error()
	}
	if o.State != nil {
		ev.RetryCount = o.State.RetryCount
		if o.State.BannedUntil != nil {
			t := *o.State.BannedUntil
			ev.BannedUntil = &t
		}
	}
	return ev
}

type Listener interface {
	OnEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(ev Event) {
	f(ev)
}

// Emitter is what a worker host writes outcomes to. Implementations must be
// safe for concurrent use by all workers of all hosts.
type Emitter interface {
	Emit(Event)
}

// Dispatcher queues events on a buffered channel and delivers them to its
// listeners from a single goroutine, so listeners never run concurrently.
type Dispatcher struct {
	events    chan Event
	listeners []Listener
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(buffer int, listeners ...Listener) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &Dispatcher{
		events:    make(chan Event, buffer),
		listeners: listeners,
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		for _, l := range d.listeners {
			l.OnEvent(ev)
		}
	}
}

// Emit blocks when the buffer is full rather than dropping events.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Emit(ev Event) {
	r.OnEvent(ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) ForResource(id string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.ResourceID == id {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type LogListener struct {
	logger *slog.Logger
}

func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) OnEvent(ev Event) {
	attrs := []any{
		"worker", ev.Worker,
		"cycle_id", ev.CycleID,
		"resource_id", ev.ResourceID,
		"process_type", ev.ProcessType.String(),
		"result_type", ev.ResultType.String(),
		"duration", ev.Duration,
	}

	switch {
	case ev.Dangling:
		l.logger.Error("Resource processed but state not recorded", append(attrs, "error", ev.Error)...)
	case ev.ResultType == types.ResultError && !ev.Retryable:
		l.logger.Error("Resource failed permanently", append(attrs, "error", ev.Error, "retry_count", ev.RetryCount, "retryable", false)...)
	case ev.ResultType == types.ResultError:
		if ev.BannedUntil != nil {
			attrs = append(attrs, "banned_until", ev.BannedUntil.Format(time.RFC3339))
		}
		l.logger.Warn("Resource failed", append(attrs, "error", ev.Error, "retry_count", ev.RetryCount)...)
	case ev.ProcessType.Actionable():
		l.logger.Info("Resource processed", attrs...)
	default:
		l.logger.Debug("Resource skipped", attrs...)
	}
}
