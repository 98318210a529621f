package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"resourcewatch/internal/diagnostics"
	"resourcewatch/internal/storage/memory"
	"resourcewatch/internal/types"
)

type fakeProvider struct {
	mu         sync.Mutex
	items      []types.ResourceMetadata
	listErr    error
	fetchErr   map[string]error
	fetches    map[string]int
	lastFilter types.ListFilter
	inits      int
	shutdowns  int
}

func newFakeProvider(items ...types.ResourceMetadata) *fakeProvider {
	return &fakeProvider{
		items:    items,
		fetchErr: make(map[string]error),
		fetches:  make(map[string]int),
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	p.inits++
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdowns++
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) setItems(items ...types.ResourceMetadata) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = items
}

func (p *fakeProvider) List(ctx context.Context, filter types.ListFilter) (<-chan types.ResourceMetadata, <-chan error) {
	p.mu.Lock()
	items := append([]types.ResourceMetadata(nil), p.items...)
	listErr := p.listErr
	p.lastFilter = filter
	p.mu.Unlock()

	out := make(chan types.ResourceMetadata)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, it := range items {
			select {
			case out <- it:
			case <-ctx.Done():
				return
			}
		}
		if listErr != nil {
			errs <- listErr
		}
	}()
	return out, errs
}

func (p *fakeProvider) Fetch(ctx context.Context, id string) (*types.ResourceContent, error) {
	p.mu.Lock()
	p.fetches[id]++
	err := p.fetchErr[id]
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &types.ResourceContent{
		ResourceID: id,
		Data:       []byte("content of " + id),
		Attributes: map[string]string{"title": id},
	}, nil
}

func (p *fakeProvider) fetchCount(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[id]
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, res *types.Resource) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Process(ctx context.Context, res *types.Resource) error {
	return s.fn(ctx, res)
}

// recordingStage counts calls per resource and fails for ids in failing.
type recordingStage struct {
	mu      sync.Mutex
	calls   map[string]int
	failing map[string]error
}

func newRecordingStage() *recordingStage {
	return &recordingStage{calls: make(map[string]int), failing: make(map[string]error)}
}

func (s *recordingStage) Name() string { return "record" }

func (s *recordingStage) Process(ctx context.Context, res *types.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[res.ID()]++
	return s.failing[res.ID()]
}

func (s *recordingStage) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failing, id)
		return
	}
	s.failing[id] = err
}

func (s *recordingStage) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingStore struct {
	*memory.StateStore
	mu        sync.Mutex
	upsertErr error
	getErr    error
}

func (s *failingStore) setUpsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErr = err
}

func (s *failingStore) Get(ctx context.Context, tenant, id string) (types.ResourceState, bool, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return types.ResourceState{}, false, err
	}
	return s.StateStore.Get(ctx, tenant, id)
}

func (s *failingStore) Upsert(ctx context.Context, tenant, id string, st types.ResourceState) error {
	s.mu.Lock()
	err := s.upsertErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.StateStore.Upsert(ctx, tenant, id, st)
}

type fixture struct {
	provider *fakeProvider
	store    *failingStore
	recorder *diagnostics.Recorder
	clock    *testClock
	host     *Host
}

func newFixture(t *testing.T, provider *fakeProvider, chain *Chain, tweak func(*HostConfig)) *fixture {
	t.Helper()
	f := &fixture{
		provider: provider,
		store:    &failingStore{StateStore: memory.NewStateStore()},
		recorder: diagnostics.NewRecorder(),
		clock:    newTestClock(),
	}
	cfg := HostConfig{
		Name:                "blogs",
		Provider:            provider,
		Store:               f.store,
		Chain:               chain,
		Emitter:             f.recorder,
		Sleep:               time.Hour,
		MaxRetries:          2,
		BanDuration:         time.Hour,
		DegreeOfParallelism: 4,
		ResourceTimeout:     5 * time.Second,
		StateTimeout:        time.Second,
		ShutdownGrace:       5 * time.Second,
		Now:                 f.clock.Now,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	host, err := NewHost(cfg)
	require.NoError(t, err)
	f.host = host
	return f
}

func (f *fixture) cycle(t *testing.T) CycleReport {
	t.Helper()
	report, err := f.host.RunCycle(context.Background())
	require.NoError(t, err)
	return report
}

func (f *fixture) state(t *testing.T, id string) (types.ResourceState, bool) {
	t.Helper()
	st, found, err := f.store.StateStore.Get(context.Background(), f.host.Tenant(), id)
	require.NoError(t, err)
	return st, found
}

func (f *fixture) lastEvent(t *testing.T, id string) diagnostics.Event {
	t.Helper()
	events := f.recorder.ForResource(id)
	require.NotEmpty(t, events, "no events for %s", id)
	return events[len(events)-1]
}

func meta(id, fingerprint string) types.ResourceMetadata {
	return types.ResourceMetadata{ResourceID: id, Fingerprint: fingerprint}
}

func metas(n int) []types.ResourceMetadata {
	out := make([]types.ResourceMetadata, n)
	for i := range out {
		out[i] = meta(fmt.Sprintf("r-%02d", i), "v1")
	}
	return out
}

var errFlaky = errors.New("upstream unavailable")
