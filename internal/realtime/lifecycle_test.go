package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

type mirrorCall struct {
	online  bool
	user    realtime.UserID
	session realtime.SessionID
}

type fakeMirror struct {
	mu    sync.Mutex
	calls []mirrorCall
	err   error
}

func (m *fakeMirror) Online(_ context.Context, user realtime.UserID, session realtime.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{online: true, user: user, session: session})
	return m.err
}

func (m *fakeMirror) Offline(_ context.Context, user realtime.UserID, session realtime.SessionID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mirrorCall{online: false, user: user, session: session})
	return m.err
}

func (m *fakeMirror) recorded() []mirrorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mirrorCall(nil), m.calls...)
}

// stallingStore blocks every lastSeen write until its context ends, the way a
// partitioned database does.
type stallingStore struct {
	mu      sync.Mutex
	expired []realtime.UserID
}

func (s *stallingStore) RecordLastSeen(ctx context.Context, user realtime.UserID, _ time.Time) error {
	<-ctx.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = append(s.expired, user)
	return ctx.Err()
}

func (s *stallingStore) expiredUsers() []realtime.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.UserID(nil), s.expired...)
}

func TestLifecycle_ConnectBindsAndBroadcasts(t *testing.T) {
	f := newFixture(t)

	alice := f.connect(t, "s-alice", "alice")
	assert.Equal(t, ids("alice"), alice.lastOnline(t))

	bob := f.connect(t, "s-bob", "bob")
	assert.Equal(t, ids("alice", "bob"), alice.lastOnline(t))
	assert.Equal(t, ids("alice", "bob"), bob.lastOnline(t))

	got, ok := f.registry.Get("bob")
	require.True(t, ok)
	assert.Equal(t, bob.ID(), got.ID())
}

func TestLifecycle_DegradedConnection(t *testing.T) {
	for _, raw := range []string{"", "   ", "undefined", "null"} {
		t.Run(fmt.Sprintf("user id %q", raw), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			alice := f.connect(t, "s-alice", "alice")

			anon := newSession("s-anon")
			state := f.lifecycle.Connect(ctx, anon, raw)
			assert.Equal(t, realtime.StateDegraded, state)

			// Degraded sessions receive broadcasts but are not addressable.
			assert.Equal(t, ids("alice"), anon.lastOnline(t))
			assert.Equal(t, ids("alice"), f.registry.SnapshotKeys())
			_, bound := f.registry.UserOf(anon)
			assert.False(t, bound)

			alice.reset()
			assert.False(t, f.lifecycle.Disconnect(ctx, anon))
			f.flush(t)
			assert.Empty(t, f.store.lastSeenCalls())
			assert.Zero(t, alice.count(t, realtime.EventOnlineUsers))
			assert.Equal(t, 1, f.registry.Attached())
		})
	}
}

func TestLifecycle_DisconnectOfRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "s-alice", "alice")
	bob := f.connect(t, "s-bob", "bob")
	alice.reset()

	assert.True(t, f.lifecycle.Disconnect(ctx, bob))
	f.flush(t)

	calls := f.store.lastSeenCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, realtime.UserID("bob"), calls[0].user)
	assert.Equal(t, fixedNow, calls[0].at)

	assert.Equal(t, 1, alice.count(t, realtime.EventOnlineUsers))
	assert.Equal(t, ids("alice"), alice.lastOnline(t))

	// A duplicate disconnect for the same session changes nothing.
	alice.reset()
	assert.False(t, f.lifecycle.Disconnect(ctx, bob))
	f.flush(t)
	assert.Len(t, f.store.lastSeenCalls(), 1)
	assert.Zero(t, alice.count(t, realtime.EventOnlineUsers))
}

func TestLifecycle_ReconnectBeforeStaleDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	watcher := f.connect(t, "s-watch", "carol")
	first := f.connect(t, "tab-1", "alice")
	second := f.connect(t, "tab-2", "alice")
	watcher.reset()

	// The first tab's disconnect arrives after the second tab bound.
	assert.False(t, f.lifecycle.Disconnect(ctx, first))
	f.flush(t)

	got, ok := f.registry.Get("alice")
	require.True(t, ok)
	assert.Equal(t, second.ID(), got.ID())
	assert.Empty(t, f.store.lastSeenCalls(), "alice is still online under the newer session")
	assert.Zero(t, watcher.count(t, realtime.EventOnlineUsers))
}

func TestLifecycle_LastSeenFailureDoesNotBlockBroadcast(t *testing.T) {
	f := newFixture(t)
	f.store.lastSeenErr = errStoreDown
	ctx := context.Background()
	alice := f.connect(t, "s-alice", "alice")
	bob := f.connect(t, "s-bob", "bob")
	alice.reset()

	assert.True(t, f.lifecycle.Disconnect(ctx, bob))
	f.flush(t)
	assert.Len(t, f.store.lastSeenCalls(), 1)
	assert.Equal(t, ids("alice"), alice.lastOnline(t))
	assert.Equal(t, 1, f.registry.Len())
}

func TestLifecycle_PresenceMirror(t *testing.T) {
	mirror := &fakeMirror{err: errStoreDown}
	f := newFixture(t, realtime.WithPresenceMirror(mirror))
	ctx := context.Background()

	s := f.connect(t, "s-alice", "alice")
	require.True(t, f.lifecycle.Disconnect(ctx, s))
	f.flush(t)

	assert.Equal(t, []mirrorCall{
		{online: true, user: "alice", session: "s-alice"},
		{online: false, user: "alice", session: "s-alice"},
	}, mirror.recorded())
	assert.Equal(t, 0, f.registry.Len())
}

func TestLifecycle_HungStoreDoesNotStallConnections(t *testing.T) {
	registry := realtime.NewRegistry()
	broadcaster := realtime.NewBroadcaster(registry, nil, zaptest.NewLogger(t))
	store := &stallingStore{}
	lifecycle := newLifecycle(t, registry, broadcaster, store, realtime.WithStoreTimeout(500*time.Millisecond))
	ctx := context.Background()

	alice := newSession("s-alice")
	bob := newSession("s-bob")
	require.Equal(t, realtime.StateBound, lifecycle.Connect(ctx, alice, "alice"))
	require.Equal(t, realtime.StateBound, lifecycle.Connect(ctx, bob, "bob"))
	bob.reset()

	start := time.Now()
	assert.True(t, lifecycle.Disconnect(ctx, alice))
	carol := newSession("s-carol")
	assert.Equal(t, realtime.StateBound, lifecycle.Connect(ctx, carol, "carol"))
	assert.Less(t, time.Since(start), 250*time.Millisecond, "connect waited on the store")

	frames := bob.received(t)
	require.NotEmpty(t, frames)
	var afterAlice []realtime.UserID
	require.NoError(t, json.Unmarshal(frames[0].Data, &afterAlice))
	assert.Equal(t, ids("bob"), afterAlice)
	assert.Equal(t, ids("bob", "carol"), carol.lastOnline(t))

	flushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, lifecycle.Flush(flushCtx))
	assert.Equal(t, ids("alice"), store.expiredUsers(), "the write is bounded by the store timeout")
}

func TestLifecycle_ConcurrentConnectsYieldExactPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 32

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			f.lifecycle.Connect(ctx, newSession(fmt.Sprintf("s%02d", i)), fmt.Sprintf("u%02d", i))
		}(i)
	}
	wg.Wait()

	watcher := newSession("watcher")
	f.registry.Attach(watcher)
	f.broadcaster.BroadcastPresence(ctx)

	online := watcher.lastOnline(t)
	require.Len(t, online, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, realtime.UserID(fmt.Sprintf("u%02d", i)), online[i])
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", realtime.StateConnecting.String())
	assert.Equal(t, "bound", realtime.StateBound.String())
	assert.Equal(t, "degraded", realtime.StateDegraded.String())
	assert.Equal(t, "unbound", realtime.StateUnbound.String())
	assert.Equal(t, "unknown", realtime.State(42).String())
}

func TestLifecycle_CloseDrainsQueuedWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.connect(t, "s-alice", "alice")
	bob := f.connect(t, "s-bob", "bob")

	require.True(t, f.lifecycle.Disconnect(ctx, bob))
	require.NoError(t, f.lifecycle.Close(ctx))
	assert.Len(t, f.store.lastSeenCalls(), 1, "queued writes run before Close returns")

	assert.ErrorIs(t, f.lifecycle.Flush(ctx), realtime.ErrLifecycleClosed)

	// Presence still works; only the store write is dropped.
	watcher := newSession("s-watch")
	f.registry.Attach(watcher)
	assert.True(t, f.lifecycle.Disconnect(ctx, alice))
	assert.Equal(t, ids(), watcher.lastOnline(t))
	assert.Len(t, f.store.lastSeenCalls(), 1)
}
