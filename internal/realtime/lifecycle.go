package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle state of one transport connection.
type State int

// Connection states. Connecting moves to Bound or Degraded on Connect, and
// either of those moves to Unbound on Disconnect. Unbound is terminal.
const (
	StateConnecting State = iota
	StateBound
	StateDegraded
	StateUnbound
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateBound:
		return "bound"
	case StateDegraded:
		return "degraded"
	case StateUnbound:
		return "unbound"
	default:
		return "unknown"
	}
}

// Default bounds of the store write queue.
const (
	DefaultStoreTimeout = 5 * time.Second
	DefaultStoreQueue   = 1024
)

// Lifecycle binds transport sessions to users on connect and releases them on
// disconnect, keeping the Registry, the durable lastSeen and the presence
// broadcast in step.
//
// Registry changes and broadcasts happen on the calling goroutine. The lastSeen
// write and the presence mirror updates are queued and run in order on a
// background writer, each under its own deadline, so a slow or hung store
// never holds up the caller.
type Lifecycle struct {
	registry     *Registry
	broadcaster  *Broadcaster
	lastSeen     LastSeenRecorder
	mirror       PresenceMirror
	now          func() time.Time
	storeTimeout time.Duration
	storeQueue   int
	writes       *persister
	logger       *zap.Logger
}

// LifecycleOption customizes a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithPresenceMirror publishes bind and unbind transitions to m.
func WithPresenceMirror(m PresenceMirror) LifecycleOption {
	return func(l *Lifecycle) { l.mirror = m }
}

// WithClock replaces time.Now for the lastSeen timestamp.
func WithClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// WithStoreTimeout bounds each lastSeen and mirror write. Non-positive values
// are ignored.
func WithStoreTimeout(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.storeTimeout = d
		}
	}
}

// WithStoreQueue sets how many store writes may wait before new ones are
// dropped.
func WithStoreQueue(n int) LifecycleOption {
	return func(l *Lifecycle) {
		if n > 0 {
			l.storeQueue = n
		}
	}
}

// NewLifecycle creates a Lifecycle and starts its store writer. Call Close
// to stop it.
func NewLifecycle(
	registry *Registry,
	broadcaster *Broadcaster,
	lastSeen LastSeenRecorder,
	logger *zap.Logger,
	opts ...LifecycleOption,
) *Lifecycle {
	l := &Lifecycle{
		registry:     registry,
		broadcaster:  broadcaster,
		lastSeen:     lastSeen,
		now:          time.Now,
		storeTimeout: DefaultStoreTimeout,
		storeQueue:   DefaultStoreQueue,
		logger:       logger.Named("lifecycle"),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.writes = newPersister(l.storeQueue, l.storeTimeout, l.logger)
	return l
}

// Connect attaches s and binds it to the user named in the handshake. A
// missing or malformed user id leaves the connection degraded: it receives
// broadcasts but cannot be addressed. A presence broadcast follows in both
// cases so the new connection learns the current online set.
func (l *Lifecycle) Connect(ctx context.Context, s Session, rawUserID string) State {
	l.registry.Attach(s)

	user, ok := ParseUserID(rawUserID)
	if !ok {
		l.logger.Warn("Connection has no usable user id; leaving it unbound",
			zap.String("session", string(s.ID())),
			zap.String("raw_user_id", rawUserID))
		l.broadcaster.BroadcastPresence(ctx)
		return StateDegraded
	}

	if prev := l.registry.Bind(user, s); prev != nil {
		l.logger.Info("Session superseded by reconnect",
			zap.String("user", string(user)),
			zap.String("previous", string(prev.ID())),
			zap.String("session", string(s.ID())))
	}
	if l.mirror != nil {
		sid := s.ID()
		l.writes.submit("presence online", func(ctx context.Context) {
			if err := l.mirror.Online(ctx, user, sid); err != nil {
				l.logger.Warn("Mirroring online presence failed", zap.String("user", string(user)), zap.Error(err))
			}
		})
	}
	l.logger.Info("Session bound",
		zap.String("user", string(user)),
		zap.String("session", string(s.ID())),
		zap.Int("online", l.registry.Len()))

	l.broadcaster.BroadcastPresence(ctx)
	return StateBound
}

// Disconnect detaches s. When s was the session on record for its user, the
// user goes offline: presence is broadcast and lastSeen is queued for
// writing, once. A superseded or repeated disconnect does neither and returns
// false.
//
// A failed or timed out lastSeen write is logged.
func (l *Lifecycle) Disconnect(ctx context.Context, s Session) bool {
	l.registry.Detach(s)

	user, ok := l.registry.Unbind(s)
	if !ok {
		l.logger.Debug("Disconnect of session not on record", zap.String("session", string(s.ID())))
		return false
	}

	l.logger.Info("Session unbound",
		zap.String("user", string(user)),
		zap.String("session", string(s.ID())),
		zap.Int("online", l.registry.Len()))
	l.broadcaster.BroadcastPresence(ctx)

	at := l.now()
	sid := s.ID()
	l.writes.submit("last seen", func(ctx context.Context) {
		if err := l.lastSeen.RecordLastSeen(ctx, user, at); err != nil {
			l.logger.Error("Recording lastSeen failed", zap.String("user", string(user)), zap.Error(err))
		}
		if l.mirror == nil {
			return
		}
		if err := l.mirror.Offline(ctx, user, sid, at); err != nil {
			l.logger.Warn("Mirroring offline presence failed", zap.String("user", string(user)), zap.Error(err))
		}
	})
	return true
}

// Flush waits until every store write queued before the call has finished.
func (l *Lifecycle) Flush(ctx context.Context) error {
	return l.writes.flush(ctx)
}

// Close stops the store writer after the queued writes have run, or returns
// when ctx is done.
func (l *Lifecycle) Close(ctx context.Context) error {
	return l.writes.close(ctx)
}
