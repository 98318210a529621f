package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"resourcewatch/internal/diagnostics"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
)

type HostState int32

const (
	HostIdle HostState = iota
	HostListing
	HostDispatching
	HostDraining
	HostStopped
)

func (s HostState) String() string {
	switch s {
	case HostIdle:
		return "idle"
	case HostListing:
		return "listing"
	case HostDispatching:
		return "dispatching"
	case HostDraining:
		return "draining"
	case HostStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type HostConfig struct {
	Name     string
	Tenant   string
	Provider types.Provider
	Store    storage.StateStore
	Chain    *Chain
	Emitter  diagnostics.Emitter
	Logger   *slog.Logger

	Sleep                      time.Duration
	MaxRetries                 uint
	BanDuration                time.Duration
	RetryBackoff               time.Duration
	DegreeOfParallelism        int
	IgnoreState                bool
	SkipResourcesOlderThanDays int
	// ResourceTimeout bounds Fetch plus the chain. Zero disables it.
	ResourceTimeout time.Duration
	StateTimeout    time.Duration
	ShutdownGrace   time.Duration
	RunOnce         bool

	Now func() time.Time
}

// CycleReport summarizes one cycle for logging and tests.
type CycleReport struct {
	CycleID    string
	Listed     int
	Skipped    int
	Dispatched int
	Succeeded  int
	Failed     int
	Abandoned  int
}

// Host runs the watch cycle of one worker: list, classify, dispatch a bounded
// number of workers, drain, sleep.
type Host struct {
	cfg      HostConfig
	policy   PolicyConfig
	logger   *slog.Logger
	inflight *inflightSet
	// sem bounds workers across cycles, including stages still running
	// after their resource timed out.
	sem     *semaphore.Weighted
	trigger chan struct{}
	state    atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("host name is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("host %s: provider is required", cfg.Name)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("host %s: state store is required", cfg.Name)
	}
	if cfg.Chain == nil {
		cfg.Chain = NewChain()
	}
	if cfg.Tenant == "" {
		cfg.Tenant = cfg.Name
	}
	if cfg.DegreeOfParallelism < 1 {
		cfg.DegreeOfParallelism = 1
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = 5 * time.Minute
	}
	if cfg.StateTimeout <= 0 {
		cfg.StateTimeout = 30 * time.Second
	}
	if cfg.ShutdownGrace < 0 {
		cfg.ShutdownGrace = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &Host{
		cfg: cfg,
		policy: PolicyConfig{
			MaxRetries:   cfg.MaxRetries,
			BanDuration:  cfg.BanDuration,
			RetryBackoff: cfg.RetryBackoff,
		},
		logger:   cfg.Logger.With("worker", cfg.Name, "tenant", cfg.Tenant),
		inflight: newInflightSet(),
		sem:      semaphore.NewWeighted(int64(cfg.DegreeOfParallelism)),
		trigger:  make(chan struct{}, 1),
	}
	return h, nil
}

func (h *Host) Name() string {
	return h.cfg.Name
}

func (h *Host) Tenant() string {
	return h.cfg.Tenant
}

func (h *Host) State() HostState {
	return HostState(h.state.Load())
}

func (h *Host) setState(s HostState) {
	h.state.Store(int32(s))
}

func (h *Host) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Trigger wakes a sleeping host so the next cycle starts now. It never
// interrupts a cycle in progress.
func (h *Host) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// Start runs cycles until ctx is cancelled, Stop is called, or after one
// cycle when RunOnce is set.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return fmt.Errorf("host %s already running", h.cfg.Name)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.running = true
	h.cancel = cancel
	h.done = done
	h.mu.Unlock()

	defer func() {
		cancel()
		h.shutdownCollaborators()
		h.setState(HostStopped)
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(done)
	}()

	if err := h.cfg.Provider.Initialize(runCtx); err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", h.cfg.Provider.Name(), err)
	}
	if err := h.cfg.Chain.Initialize(runCtx); err != nil {
		return fmt.Errorf("host %s: %w", h.cfg.Name, err)
	}

	h.logger.Info("Worker started",
		"provider", h.cfg.Provider.Name(),
		"stages", h.cfg.Chain.Stages(),
		"degree_of_parallelism", h.cfg.DegreeOfParallelism,
		"sleep", h.cfg.Sleep,
		"run_once", h.cfg.RunOnce)

	for {
		_, err := h.RunCycle(runCtx)
		if h.cfg.RunOnce {
			if err != nil && runCtx.Err() == nil {
				return err
			}
			return nil
		}
		if runCtx.Err() != nil {
			return nil
		}

		h.setState(HostIdle)
		if !h.sleep(runCtx) {
			return nil
		}
	}
}

func (h *Host) sleep(ctx context.Context) bool {
	timer := time.NewTimer(h.cfg.Sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-h.trigger:
		h.logger.Debug("Woken up early by trigger")
		return true
	}
}

// Stop cancels the host and waits for Start to return, which includes the
// shutdown grace period given to in-flight workers.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("host %s did not stop in time: %w", h.cfg.Name, ctx.Err())
	}
}

func (h *Host) shutdownCollaborators() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.cfg.Chain.Shutdown(ctx); err != nil {
		h.logger.Warn("Processor chain shutdown failed", "error", err)
	}
	if err := h.cfg.Provider.Shutdown(ctx); err != nil {
		h.logger.Warn("Provider shutdown failed", "error", err)
	}
	h.logger.Info("Worker stopped")
}

// RunCycle performs one list/classify/dispatch/drain pass. It returns an
// error only when listing fails or ctx is cancelled; per-resource failures
// are reported through diagnostics and state.
func (h *Host) RunCycle(ctx context.Context) (CycleReport, error) {
	cycleID := uuid.NewString()
	report := CycleReport{CycleID: cycleID}
	logger := h.logger.With("cycle_id", cycleID)
	started := time.Now()

	h.setState(HostListing)
	now := h.cfg.Now()
	filter := h.listFilter(now)

	listed, err := h.list(ctx, filter)
	if err != nil {
		h.setState(HostIdle)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		logger.Error("Failed to list resources, cycle aborted", "provider", h.cfg.Provider.Name(), "error", err)
		return report, fmt.Errorf("list resources: %w", err)
	}
	report.Listed = len(listed)

	h.setState(HostDispatching)

	// Workers outlive cancellation of ctx by up to ShutdownGrace.
	workCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()
	var abandoned atomic.Bool

	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for _, meta := range listed {
		if ctx.Err() != nil {
			break
		}
		if filter.Excludes(meta) {
			report.Skipped++
			continue
		}
		if meta.ResourceID == "" {
			logger.Warn("Provider listed a resource without an id, ignoring it")
			continue
		}

		if !h.inflight.TryAdd(meta.ResourceID) {
			logger.Debug("Resource already in flight", "resource_id", meta.ResourceID)
			h.emit(types.Outcome{
				WorkerName:  h.cfg.Name,
				CycleID:     cycleID,
				ResourceID:  meta.ResourceID,
				ProcessType: types.ProcessNothingToDo,
			})
			continue
		}

		prev, pt, err := h.classify(ctx, meta, now)
		if err != nil {
			h.inflight.Remove(meta.ResourceID)
			if ctx.Err() != nil {
				break
			}
			failed.Add(1)
			logger.Error("Failed to read resource state", "resource_id", meta.ResourceID, "error", err)
			h.emit(types.Outcome{
				WorkerName:  h.cfg.Name,
				CycleID:     cycleID,
				ResourceID:  meta.ResourceID,
				ProcessType: types.ProcessNothingToDo,
				ResultType:  types.ResultError,
				Err:         fmt.Errorf("read state: %w", err),
				Retryable:   true,
			})
			continue
		}

		if !pt.Actionable() {
			h.inflight.Remove(meta.ResourceID)
			h.emit(types.Outcome{
				WorkerName:  h.cfg.Name,
				CycleID:     cycleID,
				ResourceID:  meta.ResourceID,
				ProcessType: pt,
				State:       prev,
			})
			continue
		}

		if err := h.sem.Acquire(ctx, 1); err != nil {
			h.inflight.Remove(meta.ResourceID)
			break
		}
		report.Dispatched++

		id := meta.ResourceID
		c := newClaim(func() {
			h.inflight.Remove(id)
			h.sem.Release(1)
		})

		wg.Add(1)
		go func(meta types.ResourceMetadata, prev *types.ResourceState, pt types.ProcessType) {
			defer wg.Done()
			defer c.done()

			outcome, ok := h.process(workCtx, &abandoned, c, cycleID, meta, prev, pt)
			if !ok {
				return
			}
			if outcome.ResultType == types.ResultError {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
			h.emit(outcome)
		}(meta, prev, pt)
	}

	h.setState(HostDraining)
	report.Abandoned = h.drain(ctx, &wg, &abandoned, abandon, logger)
	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	h.setState(HostIdle)

	logger.Info("Cycle completed",
		"listed", report.Listed,
		"skipped", report.Skipped,
		"dispatched", report.Dispatched,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"abandoned", report.Abandoned,
		"duration", time.Since(started))

	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

func (h *Host) listFilter(now time.Time) types.ListFilter {
	if h.cfg.SkipResourcesOlderThanDays <= 0 {
		return types.ListFilter{}
	}
	return types.ListFilter{ModifiedSince: now.AddDate(0, 0, -h.cfg.SkipResourcesOlderThanDays)}
}

// list collects the whole listing before anything is dispatched.
func (h *Host) list(ctx context.Context, filter types.ListFilter) ([]types.ResourceMetadata, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	items, errs := h.cfg.Provider.List(listCtx, filter)
	var out []types.ResourceMetadata
	for items != nil || errs != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case meta, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			out = append(out, meta)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (h *Host) classify(ctx context.Context, meta types.ResourceMetadata, now time.Time) (*types.ResourceState, types.ProcessType, error) {
	st, found, err := h.cfg.Store.Get(ctx, h.cfg.Tenant, meta.ResourceID)
	if err != nil {
		return nil, types.ProcessNothingToDo, err
	}
	var prev *types.ResourceState
	if found {
		prev = &st
	}

	var pt types.ProcessType
	if h.cfg.IgnoreState {
		pt = classifyIgnoringState(prev, now)
	} else {
		pt = Classify(meta, prev, now)
	}

	if pt == types.ProcessModified && !retryDue(prev, h.policy, now) {
		return prev, types.ProcessNothingToDo, nil
	}
	return prev, pt, nil
}

func (h *Host) drain(ctx context.Context, wg *sync.WaitGroup, abandoned *atomic.Bool, abandon context.CancelFunc, logger *slog.Logger) int {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0
	case <-ctx.Done():
	}

	logger.Info("Cancellation requested, waiting for in-flight workers",
		"in_flight", h.inflight.Len(),
		"grace", h.cfg.ShutdownGrace)

	timer := time.NewTimer(h.cfg.ShutdownGrace)
	defer timer.Stop()

	select {
	case <-done:
		return 0
	case <-timer.C:
		abandoned.Store(true)
		abandon()
		n := h.inflight.Len()
		logger.Warn("Shutdown grace period expired, abandoning workers", "abandoned", n)
		return n
	}
}

type runResult struct {
	res *types.Resource
	err error
}

// process handles one actionable resource. It reports false when the worker
// was abandoned, in which case nothing was written.
func (h *Host) process(ctx context.Context, abandoned *atomic.Bool, c *claim, cycleID string, meta types.ResourceMetadata, prev *types.ResourceState, pt types.ProcessType) (types.Outcome, bool) {
	started := time.Now()
	outcome := types.Outcome{
		WorkerName:  h.cfg.Name,
		CycleID:     cycleID,
		ResourceID:  meta.ResourceID,
		ProcessType: pt,
	}

	var extensions []byte
	if prev != nil {
		extensions = prev.Extensions
	}

	res, err := h.runResource(ctx, c, meta, pt, extensions)
	outcome.Duration = time.Since(started)

	if abandoned.Load() || ctx.Err() != nil {
		h.logger.Warn("Worker abandoned before finishing, state not written",
			"cycle_id", cycleID,
			"resource_id", meta.ResourceID)
		return outcome, false
	}

	attempt := Attempt{
		Tenant:     h.cfg.Tenant,
		Metadata:   meta,
		Result:     types.ResultNormal,
		Extensions: extensions,
	}
	if err != nil {
		outcome.ResultType = types.ResultError
		outcome.Err = err
		outcome.Retryable = types.IsRetryable(err)
		attempt.Result = types.ResultError
	} else {
		attempt.Extensions = res.Extensions
	}

	next := Decide(prev, attempt, h.policy, h.cfg.Now())
	outcome.State = &next

	if abandoned.Load() {
		return outcome, false
	}

	stateCtx, cancel := context.WithTimeout(ctx, h.cfg.StateTimeout)
	defer cancel()
	if err := h.cfg.Store.Upsert(stateCtx, h.cfg.Tenant, meta.ResourceID, next); err != nil {
		outcome.StateErr = err
		if outcome.ResultType == types.ResultNormal {
			h.logger.Error("Dangling success: resource was processed but its state could not be recorded, it will be processed again next cycle",
				"cycle_id", cycleID,
				"resource_id", meta.ResourceID,
				"fingerprint", meta.Fingerprint,
				"error", err)
		} else {
			h.logger.Error("Failed to record failure state",
				"cycle_id", cycleID,
				"resource_id", meta.ResourceID,
				"processing_error", outcome.Err,
				"error", err)
		}
	}

	return outcome, true
}

// runResource fetches the content and runs the chain under ResourceTimeout.
// A stage that ignores its context is left behind once the timeout expires,
// still holding c until it returns.
func (h *Host) runResource(ctx context.Context, c *claim, meta types.ResourceMetadata, pt types.ProcessType, extensions []byte) (*types.Resource, error) {
	rctx := ctx
	if h.cfg.ResourceTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, h.cfg.ResourceTimeout)
		defer cancel()
	}

	ch := make(chan runResult, 1)
	c.hold()
	go func() {
		defer c.done()
		defer func() {
			if r := recover(); r != nil {
				ch <- runResult{err: fmt.Errorf("panic while processing resource: %v", r)}
			}
		}()

		content, err := h.cfg.Provider.Fetch(rctx, meta.ResourceID)
		if err != nil {
			ch <- runResult{err: fmt.Errorf("fetch: %w", err)}
			return
		}

		res := types.NewResource(h.cfg.Tenant, meta, content, pt, extensions)
		if err := h.cfg.Chain.Run(rctx, res); err != nil {
			ch <- runResult{err: err}
			return
		}
		ch <- runResult{res: res}
	}()

	var r runResult
	select {
	case r = <-ch:
	case <-rctx.Done():
		r = runResult{err: rctx.Err()}
	}

	if r.err != nil && ctx.Err() == nil && errors.Is(rctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("resource timed out after %s: %w", h.cfg.ResourceTimeout, r.err)
	}
	return r.res, r.err
}

func (h *Host) emit(o types.Outcome) {
	if h.cfg.Emitter == nil {
		return
	}
	h.cfg.Emitter.Emit(diagnostics.FromOutcome(o))
}
