package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/types"
)

func TestNewResourceThenUnchangedThenModified(t *testing.T) {
	provider := newFakeProvider(meta("blog-1", "v1"))
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)

	report := f.cycle(t)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, stage.count("blog-1"))

	st, found := f.state(t, "blog-1")
	require.True(t, found)
	assert.Equal(t, "v1", st.Fingerprint)
	assert.Zero(t, st.RetryCount)
	assert.Nil(t, st.BannedUntil)
	ev := f.lastEvent(t, "blog-1")
	assert.Equal(t, types.ProcessNew, ev.ProcessType)
	assert.Equal(t, types.ResultNormal, ev.ResultType)

	f.cycle(t)
	assert.Equal(t, 1, stage.count("blog-1"))
	assert.Equal(t, types.ProcessNothingToDo, f.lastEvent(t, "blog-1").ProcessType)

	provider.setItems(meta("blog-1", "v2"))
	f.cycle(t)
	assert.Equal(t, 2, stage.count("blog-1"))
	assert.Equal(t, types.ProcessModified, f.lastEvent(t, "blog-1").ProcessType)
	st, _ = f.state(t, "blog-1")
	assert.Equal(t, "v2", st.Fingerprint)
}

func TestNewerModifiedTimeIsModified(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := newFakeProvider(types.ResourceMetadata{ResourceID: "doc", Modified: base})
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)

	f.cycle(t)
	provider.setItems(types.ResourceMetadata{ResourceID: "doc", Modified: base.Add(time.Minute)})
	f.cycle(t)

	assert.Equal(t, 2, stage.count("doc"))
	st, _ := f.state(t, "doc")
	assert.True(t, base.Add(time.Minute).Equal(st.Modified))
}

func TestRetriesThenBanThenExpiry(t *testing.T) {
	provider := newFakeProvider(meta("blog-1", "v1"))
	stage := newRecordingStage()
	stage.fail("blog-1", errFlaky)
	f := newFixture(t, provider, NewChain(stage), nil)

	for want := uint(1); want <= 2; want++ {
		f.cycle(t)
		st, found := f.state(t, "blog-1")
		require.True(t, found)
		assert.Equal(t, want, st.RetryCount)
		assert.Nil(t, st.BannedUntil, "not banned after %d failures", want)
		assert.Empty(t, st.Fingerprint)
	}

	f.cycle(t)
	st, _ := f.state(t, "blog-1")
	assert.Equal(t, uint(3), st.RetryCount)
	require.NotNil(t, st.BannedUntil)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *st.BannedUntil)
	ev := f.lastEvent(t, "blog-1")
	assert.Equal(t, types.ResultError, ev.ResultType)
	assert.True(t, ev.Retryable)
	assert.NotNil(t, ev.BannedUntil)

	f.cycle(t)
	assert.Equal(t, 3, stage.count("blog-1"))
	assert.Equal(t, 3, provider.fetchCount("blog-1"))
	assert.Equal(t, types.ProcessBanned, f.lastEvent(t, "blog-1").ProcessType)

	f.clock.Advance(time.Hour + time.Second)
	stage.fail("blog-1", nil)
	f.cycle(t)
	assert.Equal(t, 4, stage.count("blog-1"))
	assert.Equal(t, types.ProcessModified, f.lastEvent(t, "blog-1").ProcessType)

	st, _ = f.state(t, "blog-1")
	assert.Zero(t, st.RetryCount)
	assert.Nil(t, st.BannedUntil)
	assert.Equal(t, "v1", st.Fingerprint)
}

func TestFailureKeepsLastProcessedVersion(t *testing.T) {
	provider := newFakeProvider(meta("blog-1", "v1"))
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)
	f.cycle(t)

	provider.setItems(meta("blog-1", "v2"))
	stage.fail("blog-1", errFlaky)
	f.cycle(t)

	st, _ := f.state(t, "blog-1")
	assert.Equal(t, "v1", st.Fingerprint)
	assert.Equal(t, uint(1), st.RetryCount)

	stage.fail("blog-1", nil)
	f.cycle(t)
	assert.Equal(t, 3, stage.count("blog-1"))
	st, _ = f.state(t, "blog-1")
	assert.Equal(t, "v2", st.Fingerprint)
	assert.Zero(t, st.RetryCount)
}

func TestFailuresAreIsolated(t *testing.T) {
	provider := newFakeProvider(metas(5)...)
	stage := newRecordingStage()
	stage.fail("r-02", errFlaky)
	f := newFixture(t, provider, NewChain(stage), nil)

	report := f.cycle(t)
	assert.Equal(t, 4, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	for _, m := range metas(5) {
		st, found := f.state(t, m.ResourceID)
		require.True(t, found, m.ResourceID)
		if m.ResourceID == "r-02" {
			assert.Equal(t, uint(1), st.RetryCount)
		} else {
			assert.Zero(t, st.RetryCount)
			assert.Equal(t, "v1", st.Fingerprint)
		}
	}
}

func TestFetchErrorIsRecorded(t *testing.T) {
	provider := newFakeProvider(meta("gone", "v1"))
	provider.fetchErr["gone"] = errors.New("404")
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)

	f.cycle(t)
	assert.Zero(t, stage.count("gone"))
	st, found := f.state(t, "gone")
	require.True(t, found)
	assert.Equal(t, uint(1), st.RetryCount)
	assert.Contains(t, f.lastEvent(t, "gone").Error, "fetch")
}

func TestConcurrencyIsBounded(t *testing.T) {
	var active, peak atomic.Int32
	stage := stageFunc{name: "slow", fn: func(ctx context.Context, res *types.Resource) error {
		cur := active.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil
	}}
	f := newFixture(t, newFakeProvider(metas(12)...), NewChain(stage), func(c *HostConfig) {
		c.DegreeOfParallelism = 3
	})

	report := f.cycle(t)
	assert.Equal(t, 12, report.Dispatched)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
	assert.Len(t, f.recorder.Events(), 12)
}

func TestIgnoreStateReprocessesButHonorsBans(t *testing.T) {
	provider := newFakeProvider(meta("ok", "v1"), meta("banned", "v1"))
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), func(c *HostConfig) {
		c.IgnoreState = true
	})

	until := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.store.Upsert(context.Background(), "blogs", "banned", types.ResourceState{RetryCount: 5, BannedUntil: &until}))

	f.cycle(t)
	f.cycle(t)

	assert.Equal(t, 2, stage.count("ok"))
	assert.Zero(t, stage.count("banned"))
	assert.Equal(t, types.ProcessModified, f.lastEvent(t, "ok").ProcessType)
	assert.Equal(t, types.ProcessBanned, f.lastEvent(t, "banned").ProcessType)
}

func TestSkipOlderResourcesIsPureFilter(t *testing.T) {
	f := newFixture(t, newFakeProvider(), NewChain(newRecordingStage()), func(c *HostConfig) {
		c.SkipResourcesOlderThanDays = 7
	})
	now := f.clock.Now()
	f.provider.setItems(
		types.ResourceMetadata{ResourceID: "fresh", Fingerprint: "v1", Modified: now.Add(-24 * time.Hour)},
		types.ResourceMetadata{ResourceID: "stale", Fingerprint: "v1", Modified: now.AddDate(0, 0, -30)},
		meta("undated", "v1"),
	)

	report := f.cycle(t)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, now.AddDate(0, 0, -7), f.provider.lastFilter.ModifiedSince)

	_, found := f.state(t, "stale")
	assert.False(t, found)
	assert.Empty(t, f.recorder.ForResource("stale"))
	_, found = f.state(t, "fresh")
	assert.True(t, found)
	_, found = f.state(t, "undated")
	assert.True(t, found, "resources without a modification time are never age-filtered")
}

func TestListingFailureAbortsCycle(t *testing.T) {
	provider := newFakeProvider(meta("a", "v1"))
	provider.listErr = errors.New("connection refused")
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)

	_, err := f.host.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Zero(t, stage.count("a"))
	assert.Zero(t, f.store.Len())
	assert.Empty(t, f.recorder.Events())
	assert.Equal(t, HostIdle, f.host.State())
}

func TestStateReadFailureIsPerResource(t *testing.T) {
	stage := newRecordingStage()
	f := newFixture(t, newFakeProvider(meta("a", "v1")), NewChain(stage), nil)
	f.store.getErr = errors.New("disk I/O error")

	report := f.cycle(t)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, stage.count("a"))
	ev := f.lastEvent(t, "a")
	assert.Equal(t, types.ResultError, ev.ResultType)
	assert.Contains(t, ev.Error, "read state")
}

func TestDanglingSuccessIsReportedAndReprocessed(t *testing.T) {
	stage := newRecordingStage()
	f := newFixture(t, newFakeProvider(meta("blog-1", "v1")), NewChain(stage), nil)
	f.store.setUpsertErr(errors.New("database is locked"))

	f.cycle(t)
	ev := f.lastEvent(t, "blog-1")
	assert.True(t, ev.Dangling)
	assert.Equal(t, types.ResultNormal, ev.ResultType)
	assert.Contains(t, ev.Error, "database is locked")

	f.store.setUpsertErr(nil)
	f.cycle(t)
	assert.Equal(t, 2, stage.count("blog-1"))
	_, found := f.state(t, "blog-1")
	assert.True(t, found)
}

func TestNonRetryableErrorStillCountsRetries(t *testing.T) {
	stage := newRecordingStage()
	stage.fail("bad", types.NonRetryablef("malformed document"))
	f := newFixture(t, newFakeProvider(meta("bad", "v1")), NewChain(stage), nil)

	f.cycle(t)
	ev := f.lastEvent(t, "bad")
	assert.Equal(t, types.ResultError, ev.ResultType)
	assert.False(t, ev.Retryable)
	assert.Contains(t, ev.Error, "stage record")

	st, _ := f.state(t, "bad")
	assert.Equal(t, uint(1), st.RetryCount)
}

func TestFilteredResourceCountsAsProcessed(t *testing.T) {
	filter := stageFunc{name: "keywords", fn: func(ctx context.Context, res *types.Resource) error {
		return types.NewFilteredError("keywords", res.ID(), "no keyword matched")
	}}
	after := newRecordingStage()
	f := newFixture(t, newFakeProvider(meta("post", "v1")), NewChain(filter, after), nil)

	f.cycle(t)
	assert.Zero(t, after.count("post"))
	assert.Equal(t, types.ResultNormal, f.lastEvent(t, "post").ResultType)
	st, _ := f.state(t, "post")
	assert.Equal(t, "v1", st.Fingerprint)
}

func TestExtensionsRoundTripThroughChain(t *testing.T) {
	codec := types.JSONCodec[map[string]int]{}
	fail := false
	counter := stageFunc{name: "count", fn: func(ctx context.Context, res *types.Resource) error {
		seen, err := codec.Decode(res.Extensions)
		if err != nil {
			return err
		}
		if seen == nil {
			seen = map[string]int{}
		}
		seen["runs"]++
		res.Extensions, err = codec.Encode(seen)
		if err != nil {
			return err
		}
		if fail {
			return errFlaky
		}
		return nil
	}}
	provider := newFakeProvider(meta("doc", "v1"))
	f := newFixture(t, provider, NewChain(counter), nil)

	f.cycle(t)
	provider.setItems(meta("doc", "v2"))
	f.cycle(t)

	st, _ := f.state(t, "doc")
	seen, err := codec.Decode(st.Extensions)
	require.NoError(t, err)
	assert.Equal(t, 2, seen["runs"])

	fail = true
	provider.setItems(meta("doc", "v3"))
	f.cycle(t)
	st, _ = f.state(t, "doc")
	seen, err = codec.Decode(st.Extensions)
	require.NoError(t, err)
	assert.Equal(t, 2, seen["runs"], "extensions unchanged on failure")
}

func TestResourceTimeoutIsRetryableError(t *testing.T) {
	stuck := stageFunc{name: "stuck", fn: func(ctx context.Context, res *types.Resource) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	f := newFixture(t, newFakeProvider(meta("slow", "v1")), NewChain(stuck), func(c *HostConfig) {
		c.ResourceTimeout = 30 * time.Millisecond
	})

	f.cycle(t)
	ev := f.lastEvent(t, "slow")
	assert.Equal(t, types.ResultError, ev.ResultType)
	assert.True(t, ev.Retryable)
	assert.Contains(t, ev.Error, "timed out")

	st, found := f.state(t, "slow")
	require.True(t, found)
	assert.Equal(t, uint(1), st.RetryCount)
}

func TestTimedOutStageKeepsItsSlotUntilItReturns(t *testing.T) {
	release := make(chan struct{})
	var active, peak, calls atomic.Int32
	stubborn := stageFunc{name: "stubborn", fn: func(ctx context.Context, res *types.Resource) error {
		calls.Add(1)
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		defer active.Add(-1)
		<-release
		return nil
	}}
	f := newFixture(t, newFakeProvider(meta("a", "v1")), NewChain(stubborn), func(c *HostConfig) {
		c.DegreeOfParallelism = 1
		c.ResourceTimeout = 30 * time.Millisecond
	})

	f.cycle(t)
	first := f.lastEvent(t, "a")
	assert.Equal(t, types.ResultError, first.ResultType)
	assert.Contains(t, first.Error, "timed out")

	for i := 0; i < 2; i++ {
		report := f.cycle(t)
		assert.Zero(t, report.Dispatched)
		assert.Equal(t, types.ProcessNothingToDo, f.lastEvent(t, "a").ProcessType)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), peak.Load())

	close(release)
	require.Eventually(t, func() bool { return f.host.inflight.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	report := f.cycle(t)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestCycleOverlappingInFlightWorkerSkipsResource(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32
	slow := stageFunc{name: "slow", fn: func(ctx context.Context, res *types.Resource) error {
		calls.Add(1)
		started <- struct{}{}
		<-gate
		return nil
	}}
	f := newFixture(t, newFakeProvider(meta("page", "v1")), NewChain(slow), nil)

	done := make(chan CycleReport, 1)
	go func() {
		report, _ := f.host.RunCycle(context.Background())
		done <- report
	}()
	<-started

	second := f.cycle(t)
	assert.Zero(t, second.Dispatched)

	events := f.recorder.ForResource("page")
	require.Len(t, events, 1)
	assert.Equal(t, second.CycleID, events[0].CycleID)
	assert.Equal(t, types.ProcessNothingToDo, events[0].ProcessType)
	_, found := f.state(t, "page")
	assert.False(t, found, "overlapping cycle must not write state")

	close(gate)
	first := <-done
	assert.Equal(t, 1, first.Dispatched)
	assert.Equal(t, int32(1), calls.Load())

	st, found := f.state(t, "page")
	require.True(t, found)
	assert.Equal(t, "v1", st.Fingerprint)
	assert.Equal(t, types.ProcessNew, f.lastEvent(t, "page").ProcessType)
}

func TestCancellationLetsInFlightWorkFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once
	blocking := stageFunc{name: "blocking", fn: func(ctx context.Context, res *types.Resource) error {
		startOnce.Do(func() { close(started) })
		<-release
		return nil
	}}
	f := newFixture(t, newFakeProvider(metas(5)...), NewChain(blocking), func(c *HostConfig) {
		c.DegreeOfParallelism = 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		report CycleReport
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := f.host.RunCycle(ctx)
		done <- result{report, err}
	}()

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	r := <-done
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 1, r.report.Dispatched)
	assert.Zero(t, r.report.Abandoned)

	st, found := f.state(t, "r-00")
	require.True(t, found)
	assert.Zero(t, st.RetryCount, "cancellation never counts as a retry")
	_, found = f.state(t, "r-01")
	assert.False(t, found, "no dispatch after cancellation")
}

func TestGraceExpiryAbandonsWorkersWithoutWritingState(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	stubborn := stageFunc{name: "stubborn", fn: func(ctx context.Context, res *types.Resource) error {
		close(started)
		<-release
		return nil
	}}
	f := newFixture(t, newFakeProvider(meta("long", "v1")), NewChain(stubborn), func(c *HostConfig) {
		c.ShutdownGrace = 30 * time.Millisecond
		c.ResourceTimeout = 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan CycleReport, 1)
	go func() {
		report, _ := f.host.RunCycle(ctx)
		done <- report
	}()

	<-started
	cancel()

	select {
	case report := <-done:
		assert.Equal(t, 1, report.Abandoned)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not return after grace period")
	}

	time.Sleep(20 * time.Millisecond)
	_, found := f.state(t, "long")
	assert.False(t, found)
	assert.Empty(t, f.recorder.ForResource("long"))
}

func TestDuplicateIDInListingIsNotProcessedTwice(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	slow := stageFunc{name: "slow", fn: func(ctx context.Context, res *types.Resource) error {
		calls.Add(1)
		<-gate
		return nil
	}}
	f := newFixture(t, newFakeProvider(meta("dup", "v1"), meta("dup", "v1")), NewChain(slow), nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(gate)
	}()
	report := f.cycle(t)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, report.Dispatched)
	events := f.recorder.ForResource("dup")
	require.Len(t, events, 2)
	assert.Equal(t, types.ProcessNothingToDo, events[0].ProcessType)
}

func TestRetryBackoffDelaysRedispatch(t *testing.T) {
	stage := newRecordingStage()
	stage.fail("r", errFlaky)
	f := newFixture(t, newFakeProvider(meta("r", "v1")), NewChain(stage), func(c *HostConfig) {
		c.MaxRetries = 10
		c.RetryBackoff = time.Minute
	})

	f.cycle(t)
	assert.Equal(t, 1, stage.count("r"))

	f.cycle(t)
	assert.Equal(t, 1, stage.count("r"), "still backing off")
	assert.Equal(t, types.ProcessNothingToDo, f.lastEvent(t, "r").ProcessType)

	f.clock.Advance(time.Minute)
	f.cycle(t)
	assert.Equal(t, 2, stage.count("r"))

	f.clock.Advance(time.Minute)
	f.cycle(t)
	assert.Equal(t, 2, stage.count("r"), "second retry waits two minutes")

	f.clock.Advance(time.Minute)
	f.cycle(t)
	assert.Equal(t, 3, stage.count("r"))
}

func TestStartRunOnce(t *testing.T) {
	provider := newFakeProvider(meta("a", "v1"))
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), func(c *HostConfig) {
		c.RunOnce = true
	})

	require.NoError(t, f.host.Start(context.Background()))
	assert.Equal(t, 1, stage.count("a"))
	assert.Equal(t, HostStopped, f.host.State())
	assert.False(t, f.host.IsRunning())
	assert.Equal(t, 1, provider.inits)
	assert.Equal(t, 1, provider.shutdowns)
}

func TestTriggerWakesSleepingHostAndStopReturns(t *testing.T) {
	provider := newFakeProvider(meta("a", "v1"))
	stage := newRecordingStage()
	f := newFixture(t, provider, NewChain(stage), nil)

	errCh := make(chan error, 1)
	go func() { errCh <- f.host.Start(context.Background()) }()

	require.Eventually(t, func() bool { return stage.count("a") == 1 && f.host.State() == HostIdle }, 2*time.Second, 5*time.Millisecond)

	provider.setItems(meta("a", "v2"))
	f.host.Trigger()
	require.Eventually(t, func() bool { return stage.count("a") == 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.host.Stop(ctx))
	require.NoError(t, <-errCh)
	assert.Equal(t, HostStopped, f.host.State())
}

func TestStartTwiceFails(t *testing.T) {
	f := newFixture(t, newFakeProvider(), NewChain(), nil)
	go func() { _ = f.host.Start(context.Background()) }()
	require.Eventually(t, f.host.IsRunning, time.Second, 5*time.Millisecond)

	err := f.host.Start(context.Background())
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.host.Stop(ctx))
}

func TestNewHostValidation(t *testing.T) {
	_, err := NewHost(HostConfig{Name: "x"})
	assert.Error(t, err)

	h, err := NewHost(HostConfig{Name: "x", Provider: newFakeProvider(), Store: &failingStore{}})
	require.NoError(t, err)
	assert.Equal(t, "x", h.Tenant())
	assert.Equal(t, 1, h.cfg.DegreeOfParallelism)
}
