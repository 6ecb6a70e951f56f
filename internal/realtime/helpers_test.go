package realtime_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

type received struct {
	Event realtime.EventName `json:"event"`
	Data  json.RawMessage    `json:"data"`
}

// fakeSession records every frame it accepts. A full session rejects frames
// the way a client with an overflowing send buffer does.
type fakeSession struct {
	id     realtime.SessionID
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newSession(id string) *fakeSession {
	return &fakeSession{id: realtime.SessionID(id)}
}

func (s *fakeSession) ID() realtime.SessionID { return s.id }

func (s *fakeSession) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return true
}

func (s *fakeSession) received(t *testing.T) []received {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]received, 0, len(s.frames))
	for _, frame := range s.frames {
		var r received
		require.NoError(t, json.Unmarshal(frame, &r))
		out = append(out, r)
	}
	return out
}

func (s *fakeSession) count(t *testing.T, event realtime.EventName) int {
	t.Helper()
	n := 0
	for _, r := range s.received(t) {
		if r.Event == event {
			n++
		}
	}
	return n
}

func (s *fakeSession) last(t *testing.T, event realtime.EventName) json.RawMessage {
	t.Helper()
	var data json.RawMessage
	for _, r := range s.received(t) {
		if r.Event == event {
			data = r.Data
		}
	}
	require.NotNil(t, data, "no %s frame received", event)
	return data
}

func (s *fakeSession) lastOnline(t *testing.T) []realtime.UserID {
	t.Helper()
	var online []realtime.UserID
	require.NoError(t, json.Unmarshal(s.last(t, realtime.EventOnlineUsers), &online))
	return online
}

type lastSeenCall struct {
	user realtime.UserID
	at   time.Time
}

type seenCall struct {
	conversation realtime.ConversationID
	except       realtime.UserID
}

// fakeStore records calls and returns the configured errors.
type fakeStore struct {
	mu           sync.Mutex
	lastSeen     []lastSeenCall
	seen         []seenCall
	participants map[realtime.ConversationID][]realtime.UserID
	lastSeenErr  error
	seenErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{participants: make(map[realtime.ConversationID][]realtime.UserID)}
}

func (f *fakeStore) MarkMessagesSeen(_ context.Context, c realtime.ConversationID, except realtime.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, seenCall{conversation: c, except: except})
	return f.seenErr
}

func (f *fakeStore) RecordLastSeen(_ context.Context, user realtime.UserID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen = append(f.lastSeen, lastSeenCall{user: user, at: at})
	return f.lastSeenErr
}

func (f *fakeStore) Participants(_ context.Context, c realtime.ConversationID) ([]realtime.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.participants[c]
	if !ok {
		return nil, errNoConversation
	}
	return members, nil
}

func (f *fakeStore) lastSeenCalls() []lastSeenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lastSeenCall(nil), f.lastSeen...)
}

func (f *fakeStore) seenCalls() []seenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seenCall(nil), f.seen...)
}

type testError string

func (e testError) Error() string { return string(e) }

const (
	errNoConversation = testError("conversation not found")
	errStoreDown      = testError("store unavailable")
)

var fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	registry    *realtime.Registry
	store       *fakeStore
	broadcaster *realtime.Broadcaster
	lifecycle   *realtime.Lifecycle
	relay       *realtime.Relay
	seen        *realtime.SeenPropagator
	notifier    *realtime.Notifier
	dispatcher  *realtime.Dispatcher
}

func newFixture(t *testing.T, opts ...realtime.LifecycleOption) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := realtime.NewRegistry()
	metrics, err := realtime.NewMetrics(nil, registry)
	require.NoError(t, err)

	store := newFakeStore()
	broadcaster := realtime.NewBroadcaster(registry, metrics, logger)
	relay := realtime.NewRelay(registry, metrics, logger)
	seen := realtime.NewSeenPropagator(registry, store, store, metrics, logger)

	opts = append([]realtime.LifecycleOption{realtime.WithClock(func() time.Time { return fixedNow })}, opts...)
	lifecycle := newLifecycle(t, registry, broadcaster, store, opts...)
	return &fixture{
		registry:    registry,
		store:       store,
		broadcaster: broadcaster,
		lifecycle:   lifecycle,
		relay:       relay,
		seen:        seen,
		notifier:    realtime.NewNotifier(registry, metrics, logger),
		dispatcher:  realtime.NewDispatcher(registry, relay, seen),
	}
}

// newLifecycle builds a Lifecycle whose store writer is drained when the test
// ends.
func newLifecycle(
	t *testing.T,
	registry *realtime.Registry,
	broadcaster *realtime.Broadcaster,
	lastSeen realtime.LastSeenRecorder,
	opts ...realtime.LifecycleOption,
) *realtime.Lifecycle {
	t.Helper()
	l := realtime.NewLifecycle(registry, broadcaster, lastSeen, zaptest.NewLogger(t), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, l.Close(ctx))
	})
	return l
}

// flush waits for the queued lastSeen and mirror writes.
func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.lifecycle.Flush(ctx))
}

// connect binds a fresh session for user.
func (f *fixture) connect(t *testing.T, sessionID, user string) *fakeSession {
	t.Helper()
	s := newSession(sessionID)
	state := f.lifecycle.Connect(context.Background(), s, user)
	require.Equal(t, realtime.StateBound, state)
	return s
}

func (s *fakeSession) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}

func ids(users ...string) []realtime.UserID {
	out := make([]realtime.UserID, len(users))
	for i, u := range users {
		out[i] = realtime.UserID(u)
	}
	return out
}
