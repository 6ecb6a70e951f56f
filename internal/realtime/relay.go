package realtime

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SignalKind is an ephemeral client-to-client hint.
type SignalKind string

// Signal kinds.
const (
	SignalStartTyping SignalKind = "startTyping"
	SignalStopTyping  SignalKind = "stopTyping"
)

// ErrUnknownSignal is returned for a signal kind the Relay does not forward.
var ErrUnknownSignal = errors.New("realtime: unknown signal kind")

// Relay forwards typing signals between two users. Signals to an offline user
// are dropped: they are hints, not state.
type Relay struct {
	registry *Registry
	metrics  *Metrics
	logger   *zap.Logger
}

// NewRelay creates a Relay.
func NewRelay(registry *Registry, metrics *Metrics, logger *zap.Logger) *Relay {
	return &Relay{registry: registry, metrics: metrics, logger: logger.Named("relay")}
}

// Relay forwards kind from one user to another and reports whether it was
// queued on the recipient's session.
func (r *Relay) Relay(ctx context.Context, kind SignalKind, from, to UserID) (bool, error) {
	var event EventName
	switch kind {
	case SignalStartTyping:
		event = EventTypingStarted
	case SignalStopTyping:
		event = EventTypingStopped
	default:
		return false, ErrUnknownSignal
	}

	s, ok := r.registry.Get(to)
	if !ok {
		r.metrics.signal(ctx, kind, outcomeOffline)
		return false, nil
	}

	frame, err := EncodeEvent(event, TypingPayload{FromUserID: from})
	if err != nil {
		return false, err
	}
	if !deliver(ctx, r.metrics, s, event, frame) {
		r.metrics.signal(ctx, kind, outcomeDropped)
		r.logger.Debug("Typing signal dropped", zap.String("to", string(to)))
		return false, nil
	}
	r.metrics.signal(ctx, kind, outcomeDelivered)
	return true, nil
}
