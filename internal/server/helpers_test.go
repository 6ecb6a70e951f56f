package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

const testOrigin = "http://localhost:8080"

// recordingStore remembers lastSeen writes and seen marks.
type recordingStore struct {
	mu       sync.Mutex
	lastSeen []realtime.UserID
	seen     []realtime.ConversationID
}

func (s *recordingStore) MarkMessagesSeen(_ context.Context, conv realtime.ConversationID, _ realtime.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, conv)
	return nil
}

func (s *recordingStore) RecordLastSeen(_ context.Context, user realtime.UserID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = append(s.lastSeen, user)
	return nil
}

func (s *recordingStore) Participants(context.Context, realtime.ConversationID) ([]realtime.UserID, error) {
	return nil, nil
}

func (s *recordingStore) lastSeenUsers() []realtime.UserID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.UserID(nil), s.lastSeen...)
}

func (s *recordingStore) seenConversations() []realtime.ConversationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.ConversationID(nil), s.seen...)
}

// testNode is a complete realtime node behind an httptest server.
type testNode struct {
	cfg       *Config
	registry  *realtime.Registry
	lifecycle *realtime.Lifecycle
	hub       *Hub
	store     *recordingStore
	server    *httptest.Server
}

func newTestNode(t *testing.T, mutate func(*Config)) *testNode {
	t.Helper()
	st := &recordingStore{}
	node := newTestNodeWithStore(t, mutate, st)
	node.store = st
	return node
}

// newTestNodeWithStore builds a node backed by st.
func newTestNodeWithStore(t *testing.T, mutate func(*Config), st realtime.Store) *testNode {
	t.Helper()

	cfg := NewConfig()
	cfg.NodeID = "test-node"
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Sanitize()

	logger := zaptest.NewLogger(t)
	registry := realtime.NewRegistry()
	metrics, err := realtime.NewMetrics(nil, registry)
	require.NoError(t, err)

	broadcaster := realtime.NewBroadcaster(registry, metrics, logger)
	lifecycle := realtime.NewLifecycle(registry, broadcaster, st, logger,
		realtime.WithStoreTimeout(cfg.StoreTimeout))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lifecycle.Close(ctx)
	})
	relay := realtime.NewRelay(registry, metrics, logger)
	seen := realtime.NewSeenPropagator(registry, st, st, metrics, logger)
	dispatcher := realtime.NewDispatcher(registry, relay, seen)

	hub := NewHub(lifecycle, dispatcher, logger)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	srv := httptest.NewServer(SetupRoutes(NewHandlers(hub, registry, nil, cfg, logger)))
	t.Cleanup(srv.Close)

	return &testNode{cfg: cfg, registry: registry, lifecycle: lifecycle, hub: hub, server: srv}
}

// flush waits for queued lastSeen writes.
func (n *testNode) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.lifecycle.Flush(ctx))
}

func (n *testNode) wsURL(userID string) string {
	u := "ws" + strings.TrimPrefix(n.server.URL, "http") + "/ws"
	if userID != "" {
		u += "?userId=" + userID
	}
	return u
}

func (n *testNode) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, err := n.dialWithOrigin(userID, testOrigin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (n *testNode) dialWithOrigin(userID, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(n.wsURL(userID), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readUntil skips frames until one named event arrives.
func readUntil(t *testing.T, conn *websocket.Conn, event realtime.EventName) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == string(event) {
			return f
		}
	}
}

// readOnline waits for a presence broadcast listing exactly want.
func readOnline(t *testing.T, conn *websocket.Conn, want ...string) {
	t.Helper()
	if want == nil {
		want = []string{}
	}
	for {
		f := readUntil(t, conn, realtime.EventOnlineUsers)
		var got []string
		require.NoError(t, json.Unmarshal(f.Data, &got))
		if slices.Equal(got, want) {
			return
		}
	}
}
