package realtime

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Inbound frame types sent by clients.
const (
	InboundStartTyping     = "startTyping"
	InboundStopTyping      = "stopTyping"
	InboundAcknowledgeSeen = "acknowledgeSeen"
)

// Dispatch errors. None of them closes the connection.
var (
	ErrMalformedFrame   = errors.New("realtime: malformed inbound frame")
	ErrUnknownFrame     = errors.New("realtime: unknown inbound frame type")
	ErrUnboundSender    = errors.New("realtime: sender session never bound to a user")
	ErrMissingRecipient = errors.New("realtime: inbound frame names no recipient")
)

// Inbound is the JSON shape of every client frame. Only the fields relevant to
// Type are read.
type Inbound struct {
	Type              string         `json:"type"`
	ToUserID          UserID         `json:"toUserId,omitempty"`
	ConversationID    ConversationID `json:"conversationId,omitempty"`
	CounterpartUserID UserID         `json:"counterpartUserId,omitempty"`
}

// Dispatcher routes client frames to the Relay and the SeenPropagator. The
// sender is always the user the session bound as at connect, never a field of
// the frame. A session superseded by a newer one of the same user keeps
// sending as that user.
type Dispatcher struct {
	registry *Registry
	relay    *Relay
	seen     *SeenPropagator
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(registry *Registry, relay *Relay, seen *SeenPropagator) *Dispatcher {
	return &Dispatcher{registry: registry, relay: relay, seen: seen}
}

// Handle decodes frame received on s and acts on it.
func (d *Dispatcher) Handle(ctx context.Context, s Session, frame []byte) error {
	var in Inbound
	if err := json.Unmarshal(frame, &in); err != nil {
		return errors.Wrap(ErrMalformedFrame, err.Error())
	}

	from, ok := d.registry.IdentityOf(s)
	if !ok {
		return ErrUnboundSender
	}

	switch in.Type {
	case InboundStartTyping, InboundStopTyping:
		to, ok := ParseUserID(string(in.ToUserID))
		if !ok {
			return ErrMissingRecipient
		}
		_, err := d.relay.Relay(ctx, SignalKind(in.Type), from, to)
		return err

	case InboundAcknowledgeSeen:
		counterpart, ok := ParseUserID(string(in.CounterpartUserID))
		if !ok || in.ConversationID == "" {
			return ErrMissingRecipient
		}
		d.seen.Acknowledge(ctx, from, in.ConversationID, counterpart)
		return nil

	default:
		return errors.Wrapf(ErrUnknownFrame, "type %q", in.Type)
	}
}
