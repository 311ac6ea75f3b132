package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matbeedotcom/remotemedia-sdk-sub004/pkg/errdefs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine is a test double for Engine.
type fakeEngine struct {
	mu        sync.Mutex
	created   []CreateRequest
	stopped   []string
	removed   []string
	running   map[string]bool
	createErr error
}

func (f *fakeEngine) Create(ctx context.Context, req CreateRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	if f.running == nil {
		f.running = make(map[string]bool)
	}
	f.running[req.Name] = true
	return fmt.Sprintf("cid-%d", len(f.created)), nil
}

func (f *fakeEngine) Stop(ctx context.Context, nameOrID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, nameOrID)
	if f.running != nil {
		f.running[nameOrID] = false
	}
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, nameOrID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, nameOrID)
	delete(f.running, nameOrID)
	return nil
}

func (f *fakeEngine) Running(ctx context.Context, nameOrID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[nameOrID], nil
}

func (f *fakeEngine) setRunning(name string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == nil {
		f.running = make(map[string]bool)
	}
	f.running[name] = running
}

func (f *fakeEngine) stopCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.stopped {
		if s == name {
			n++
		}
	}
	return n
}

var _ Engine = (*fakeEngine)(nil)

// TestRegistry_ShareAcrossSessions tests the two-session sharing lifecycle
func TestRegistry_ShareAcrossSessions(t *testing.T) {
	engine := &fakeEngine{}
	reg := NewRegistry(engine, testLogger())
	ctx := context.Background()

	inst, created, err := reg.GetOrCreate(ctx, "stt", "sess-x")
	require.NoError(t, err)
	require.True(t, created, "first caller must be the creator")
	assert.Equal(t, "remotemedia-node-stt", inst.Name)
	assert.Equal(t, []string{"sess-x"}, inst.Sessions)

	_, err = reg.Register("stt", "cid-1", "stt:latest")
	require.NoError(t, err)

	inst2, created2, err := reg.GetOrCreate(ctx, "stt", "sess-y")
	require.NoError(t, err)
	assert.False(t, created2, "second session must reuse the instance")
	assert.Equal(t, inst.Name, inst2.Name)
	assert.ElementsMatch(t, []string{"sess-x", "sess-y"}, inst2.Sessions)
	assert.Equal(t, 1, reg.Count())

	// Removing the first session leaves the container serving the second.
	_, shouldStop := reg.RemoveSession("stt", "sess-x")
	assert.False(t, shouldStop)
	got, ok := reg.Get("stt")
	require.True(t, ok)
	assert.Equal(t, []string{"sess-y"}, got.Sessions)

	// Removing the last session triggers exactly one stop decision.
	gone, shouldStop := reg.RemoveSession("stt", "sess-y")
	require.True(t, shouldStop)
	assert.Equal(t, "remotemedia-node-stt", gone.Name)
	_, ok = reg.Get("stt")
	assert.False(t, ok, "instance must be unregistered once empty")

	// Duplicate removal is a no-op.
	_, shouldStop = reg.RemoveSession("stt", "sess-y")
	assert.False(t, shouldStop)
}

// TestRegistry_ConcurrentCreateCollapses tests single-create under racing callers
func TestRegistry_ConcurrentCreateCollapses(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())

	const n = 8
	var createdCount int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			_, created, err := reg.GetOrCreate(context.Background(), "vad", fmt.Sprintf("sess-%d", i))
			assert.NoError(t, err)
			if created {
				atomic.AddInt32(&createdCount, 1)
				time.Sleep(50 * time.Millisecond) // simulated engine latency
				_, err := reg.Register("vad", "cid-vad", "vad:latest")
				assert.NoError(t, err)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&createdCount), "exactly one caller creates the container")
	inst, ok := reg.Get("vad")
	require.True(t, ok)
	assert.Len(t, inst.Sessions, n, "every caller must end up attached")
}

// TestRegistry_CancelHandsOffCreation tests waiter promotion after a failed create
func TestRegistry_CancelHandsOffCreation(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())

	_, created, err := reg.GetOrCreate(context.Background(), "tts", "sess-1")
	require.NoError(t, err)
	require.True(t, created)

	type result struct {
		created bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		_, c, err := reg.GetOrCreate(context.Background(), "tts", "sess-2")
		done <- result{created: c, err: err}
	}()

	time.Sleep(50 * time.Millisecond)
	reg.Cancel("tts")

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.True(t, res.created, "waiter must become the creator after a cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Cancel")
	}
}

// TestRegistry_GetOrCreate_WaiterHonorsContext tests cancellation while blocked
func TestRegistry_GetOrCreate_WaiterHonorsContext(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())

	_, created, err := reg.GetOrCreate(context.Background(), "stt", "sess-1")
	require.NoError(t, err)
	require.True(t, created)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := reg.GetOrCreate(ctx, "stt", "sess-2")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter ignored context cancellation")
	}
}

// TestRegistry_RegisterWithoutReservation tests the misuse guard
func TestRegistry_RegisterWithoutReservation(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())

	_, err := reg.Register("ghost", "cid-1", "ghost:latest")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInstanceNotFound)
}

// TestRegistry_AddSession tests explicit attach to a live instance
func TestRegistry_AddSession(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())
	ctx := context.Background()

	// No instance yet: explicit attach must fail rather than reserve.
	_, err := reg.AddSession("stt", "sess-early")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInstanceNotFound)

	_, created, err := reg.GetOrCreate(ctx, "stt", "sess-1")
	require.NoError(t, err)
	require.True(t, created)

	// A pending reservation is not a live instance either.
	_, err = reg.AddSession("stt", "sess-early")
	assert.ErrorIs(t, err, errdefs.ErrInstanceNotFound)

	_, err = reg.Register("stt", "cid-1", "stt:latest")
	require.NoError(t, err)

	inst, err := reg.AddSession("stt", "sess-2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, inst.Sessions)

	// Attaching an existing member does not double-count it.
	inst, err = reg.AddSession("stt", "sess-2")
	require.NoError(t, err)
	assert.Len(t, inst.Sessions, 2)

	_, shouldStop := reg.RemoveSession("stt", "sess-2")
	assert.False(t, shouldStop)
	_, shouldStop = reg.RemoveSession("stt", "sess-1")
	assert.True(t, shouldStop, "detaching the last member must trigger the stop decision")
}

// TestRegistry_UnhealthyInstanceRefused tests that dead containers are not handed out
func TestRegistry_UnhealthyInstanceRefused(t *testing.T) {
	reg := NewRegistry(&fakeEngine{}, testLogger())
	ctx := context.Background()

	_, created, err := reg.GetOrCreate(ctx, "stt", "sess-1")
	require.NoError(t, err)
	require.True(t, created)
	_, err = reg.Register("stt", "cid-1", "stt:latest")
	require.NoError(t, err)

	require.True(t, reg.markHealth("stt", HealthUnhealthy))

	_, _, err = reg.GetOrCreate(ctx, "stt", "sess-2")
	require.Error(t, err)
	assert.True(t, errdefs.IsCode(err, errdefs.CodeContainerCreateFailed))

	// Existing members can still detach and trigger teardown.
	gone, shouldStop := reg.RemoveSession("stt", "sess-1")
	require.True(t, shouldStop)
	assert.Equal(t, HealthUnhealthy, gone.Health)
}

// TestRegistry_Teardown tests the stop-then-remove engine sequence
func TestRegistry_Teardown(t *testing.T) {
	engine := &fakeEngine{}
	reg := NewRegistry(engine, testLogger())
	ctx := context.Background()

	_, created, err := reg.GetOrCreate(ctx, "stt", "sess-1")
	require.NoError(t, err)
	require.True(t, created)
	inst, err := reg.Register("stt", "cid-1", "stt:latest")
	require.NoError(t, err)

	gone, shouldStop := reg.RemoveSession("stt", "sess-1")
	require.True(t, shouldStop)

	require.NoError(t, reg.Teardown(ctx, gone, 5*time.Second))
	assert.Equal(t, 1, engine.stopCount(inst.Name), "exactly one stop")
	assert.Equal(t, []string{inst.Name}, engine.removed)
}

// TestHealthMonitor_MarksUnhealthy tests health probing
func TestHealthMonitor_MarksUnhealthy(t *testing.T) {
	engine := &fakeEngine{}
	reg := NewRegistry(engine, testLogger())
	ctx := context.Background()

	_, created, err := reg.GetOrCreate(ctx, "stt", "sess-1")
	require.NoError(t, err)
	require.True(t, created)
	inst, err := reg.Register("stt", "cid-1", "stt:latest")
	require.NoError(t, err)

	hm := NewHealthMonitor(reg, time.Minute)

	engine.setRunning(inst.Name, true)
	hm.probe(ctx)
	got, ok := reg.Get("stt")
	require.True(t, ok)
	assert.Equal(t, HealthHealthy, got.Health)

	engine.setRunning(inst.Name, false)
	hm.probe(ctx)
	got, ok = reg.Get("stt")
	require.True(t, ok)
	assert.Equal(t, HealthUnhealthy, got.Health)
}
