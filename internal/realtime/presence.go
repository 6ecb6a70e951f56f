package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Broadcaster pushes the online set to every attached session.
//
// The set is always sent in full so clients can render it idempotently; there
// are no deltas and no sequence numbers. A client may observe a set that is
// already stale by the time it arrives.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *zap.Logger
}

// NewBroadcaster creates a Broadcaster reading from registry.
func NewBroadcaster(registry *Registry, metrics *Metrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("presence"),
	}
}

// BroadcastPresence sends onlineUsers to every attached session, bound or not,
// and returns how many sessions accepted the frame.
func (b *Broadcaster) BroadcastPresence(ctx context.Context) int {
	online := b.registry.SnapshotKeys()
	frame, err := EncodeEvent(EventOnlineUsers, online)
	if err != nil {
		b.logger.Error("Encoding presence set failed", zap.Error(err))
		return 0
	}

	sessions := b.registry.Sessions()
	delivered := 0
	for _, s := range sessions {
		if deliver(ctx, b.metrics, s, EventOnlineUsers, frame) {
			delivered++
		}
	}
	b.metrics.broadcast(ctx)

	b.logger.Debug("Presence broadcast",
		zap.Strings("online", userIDStrings(online)),
		zap.Int("sessions", len(sessions)),
		zap.Int("delivered", delivered))
	return delivered
}
