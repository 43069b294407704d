package handler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"contact-aggregator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProbe mocks Probe.
type MockProbe struct {
	mock.Mock
}

func (m *MockProbe) QueryCandidates(ctx context.Context, intent Intent) ([]Candidate, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Candidate), args.Error(1)
}

func (m *MockProbe) QueryPreferred(ctx context.Context, intent Intent) (*Preferred, error) {
	args := m.Called(ctx, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Preferred), args.Error(1)
}

func component(pkg string) models.ComponentID {
	return models.ComponentID{Package: pkg, Class: pkg + ".MainActivity"}
}

func TestResolve_NoCandidates_CachedAsNil(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	probe.On("QueryCandidates", ctx, ProbeIntent("x.none")).Return([]Candidate{}, nil).Once()

	cache := NewCache(probe, zap.NewNop())

	_, ok := cache.ResolveLabel(ctx, "x.none")
	assert.False(t, ok)
	_, ok = cache.ResolveComponent(ctx, "x.none")
	assert.False(t, ok)
	assert.False(t, cache.HasHandler(ctx, "x.none"))
	assert.Equal(t, 1, cache.Len())

	probe.AssertExpectations(t)
	probe.AssertNumberOfCalls(t, "QueryCandidates", 1)
}

func TestResolve_SingleCandidate(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	probe.On("QueryCandidates", ctx, ProbeIntent("x.chat")).
		Return([]Candidate{{Component: component("org.chat"), Label: "Chat"}}, nil).Once()

	cache := NewCache(probe, zap.NewNop())

	label, ok := cache.ResolveLabel(ctx, "x.chat")
	require.True(t, ok)
	assert.Equal(t, "Chat", label)

	comp, ok := cache.ResolveComponent(ctx, "x.chat")
	require.True(t, ok)
	assert.Equal(t, component("org.chat"), comp)

	probe.AssertExpectations(t)
	probe.AssertNotCalled(t, "QueryPreferred", mock.Anything, mock.Anything)
}

func TestResolve_SystemHandlerWinsWhenAmbiguous(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	intent := ProbeIntent("x.custom")
	probe.On("QueryCandidates", ctx, intent).Return([]Candidate{
		{Component: component("com.first"), Label: "First"},
		{Component: component("com.second"), Label: "Second"},
		{Component: component("com.system"), Label: "System", System: true},
	}, nil).Once()
	probe.On("QueryPreferred", ctx, intent).
		Return(&Preferred{Component: component("android.resolver"), Disambiguation: true}, nil).Once()

	cache := NewCache(probe, zap.NewNop())

	comp, ok := cache.ResolveComponent(ctx, "x.custom")
	require.True(t, ok)
	assert.Equal(t, component("com.system"), comp)

	label, ok := cache.ResolveLabel(ctx, "x.custom")
	require.True(t, ok)
	assert.Equal(t, "System", label)

	probe.AssertExpectations(t)
}

func TestResolve_FirstSystemHandlerInCandidateOrder(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	intent := ProbeIntent("x.custom")
	probe.On("QueryCandidates", ctx, intent).Return([]Candidate{
		{Component: component("com.first"), Label: "First"},
		{Component: component("com.sys1"), Label: "Sys1", System: true},
		{Component: component("com.sys2"), Label: "Sys2", System: true},
	}, nil)
	probe.On("QueryPreferred", ctx, intent).Return(nil, nil)

	cache := NewCache(probe, zap.NewNop())

	comp, ok := cache.ResolveComponent(ctx, "x.custom")
	require.True(t, ok)
	assert.Equal(t, component("com.sys1"), comp)
}

func TestResolve_FirstCandidateWithoutSystemHandler(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	intent := ProbeIntent("x.custom")
	probe.On("QueryCandidates", ctx, intent).Return([]Candidate{
		{Component: component("com.first"), Label: "First"},
		{Component: component("com.second"), Label: "Second"},
	}, nil)
	probe.On("QueryPreferred", ctx, intent).Return(nil, errors.New("resolver unavailable"))

	cache := NewCache(probe, zap.NewNop())

	comp, ok := cache.ResolveComponent(ctx, "x.custom")
	require.True(t, ok)
	assert.Equal(t, component("com.first"), comp)
}

func TestResolve_PreferredHandler(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	intent := ProbeIntent("x.custom")
	probe.On("QueryCandidates", ctx, intent).Return([]Candidate{
		{Component: component("com.first"), Label: "First"},
		{Component: component("com.system"), Label: "System", System: true},
		{Component: component("com.chosen"), Label: "Chosen"},
	}, nil)
	probe.On("QueryPreferred", ctx, intent).
		Return(&Preferred{Component: component("com.chosen")}, nil)

	cache := NewCache(probe, zap.NewNop())

	comp, ok := cache.ResolveComponent(ctx, "x.custom")
	require.True(t, ok)
	assert.Equal(t, component("com.chosen"), comp)

	label, _ := cache.ResolveLabel(ctx, "x.custom")
	assert.Equal(t, "Chosen", label)
}

func TestResolve_ProbeErrorCachedAsNil(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	probe.On("QueryCandidates", ctx, ProbeIntent("x.broken")).
		Return(nil, errors.New("registry down")).Once()

	cache := NewCache(probe, zap.NewNop())

	assert.False(t, cache.HasHandler(ctx, "x.broken"))
	assert.False(t, cache.HasHandler(ctx, "x.broken"))
	probe.AssertExpectations(t)
}

func TestResolve_CancelledContextNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := new(MockProbe)
	probe.On("QueryCandidates", mock.Anything, ProbeIntent("x.chat")).
		Return(nil, context.Canceled).Once()

	cache := NewCache(probe, zap.NewNop())

	assert.False(t, cache.HasHandler(ctx, "x.chat"))
	assert.Equal(t, 0, cache.Len())
}

func TestClear_ResetsEntries(t *testing.T) {
	ctx := context.Background()
	probe := new(MockProbe)
	probe.On("QueryCandidates", ctx, ProbeIntent("x.chat")).
		Return([]Candidate{{Component: component("org.chat"), Label: "Chat"}}, nil).Twice()

	cache := NewCache(probe, zap.NewNop())

	assert.True(t, cache.HasHandler(ctx, "x.chat"))
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	assert.True(t, cache.HasHandler(ctx, "x.chat"))

	probe.AssertExpectations(t)
}

// blockingProbe holds QueryCandidates until release is closed.
type blockingProbe struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (p *blockingProbe) QueryCandidates(ctx context.Context, intent Intent) ([]Candidate, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.started)
		<-p.release
	}
	return []Candidate{{Component: component("org.chat"), Label: "Chat"}}, nil
}

func (p *blockingProbe) QueryPreferred(ctx context.Context, intent Intent) (*Preferred, error) {
	return nil, nil
}

func TestClear_InFlightResolutionDoesNotRepopulate(t *testing.T) {
	ctx := context.Background()
	probe := &blockingProbe{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(probe, zap.NewNop())

	done := make(chan bool)
	go func() {
		done <- cache.HasHandler(ctx, "x.chat")
	}()

	<-probe.started
	cache.Clear()
	close(probe.release)

	assert.True(t, <-done)
	assert.Equal(t, 0, cache.Len())
}

func TestResolve_ConcurrentCallersShareOneProbe(t *testing.T) {
	ctx := context.Background()
	probe := &blockingProbe{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(probe, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cache.HasHandler(ctx, "x.chat")
	}()
	<-probe.started

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, cache.HasHandler(ctx, "x.chat"))
		}()
	}
	close(probe.release)
	wg.Wait()

	assert.True(t, cache.HasHandler(ctx, "x.chat"))
	probe.mu.Lock()
	defer probe.mu.Unlock()
	assert.LessOrEqual(t, probe.calls, 5)
	assert.Equal(t, 1, cache.Len())
}

// leaderProbe blocks its first QueryCandidates until release is closed and
// then reports the caller's cancellation, if any.
type leaderProbe struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (p *leaderProbe) QueryCandidates(ctx context.Context, intent Intent) ([]Candidate, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.started)
		<-p.release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return []Candidate{{Component: component("org.chat"), Label: "Chat"}}, nil
}

func (p *leaderProbe) QueryPreferred(ctx context.Context, intent Intent) (*Preferred, error) {
	return nil, nil
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	probe := &leaderProbe{started: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(probe, zap.NewNop())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan bool)
	go func() {
		leaderDone <- cache.HasHandler(leaderCtx, "x.chat")
	}()
	<-probe.started

	followerDone := make(chan bool)
	go func() {
		followerDone <- cache.HasHandler(context.Background(), "x.chat")
	}()
	// let the second caller join the in-flight resolution
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(probe.release)

	assert.False(t, <-leaderDone)
	assert.True(t, <-followerDone)
	assert.Equal(t, 1, cache.Len())

	label, ok := cache.ResolveLabel(context.Background(), "x.chat")
	assert.True(t, ok)
	assert.Equal(t, "Chat", label)
}
