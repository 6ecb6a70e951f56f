package realtime

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SeenPropagator tells senders that their messages in a conversation were
// seen. Receipts only say that the conversation's unseen boundary advanced,
// not which messages, so repeating one is harmless.
type SeenPropagator struct {
	registry     *Registry
	marker       SeenMarker
	participants ParticipantSource
	metrics      *Metrics
	logger       *zap.Logger
}

// NewSeenPropagator creates a SeenPropagator.
func NewSeenPropagator(
	registry *Registry,
	marker SeenMarker,
	participants ParticipantSource,
	metrics *Metrics,
	logger *zap.Logger,
) *SeenPropagator {
	return &SeenPropagator{
		registry:     registry,
		marker:       marker,
		participants: participants,
		metrics:      metrics,
		logger:       logger.Named("seen"),
	}
}

// ConversationOpened is the passive trigger, run after viewer fetched the
// conversation and the store already marked its messages seen. Every other
// online participant gets conversationSeen. A nil participants slice is read
// from the ParticipantSource. It returns the number of receipts queued.
func (p *SeenPropagator) ConversationOpened(
	ctx context.Context,
	conversation ConversationID,
	viewer UserID,
	participants []UserID,
) (int, error) {
	if participants == nil {
		members, err := p.participants.Participants(ctx, conversation)
		if err != nil {
			return 0, errors.Wrapf(err, "load participants of %s", conversation)
		}
		participants = members
	}

	frame, err := EncodeEvent(EventConversationSeen, ConversationSeenPayload{ConversationID: conversation})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, user := range distinct(participants) {
		if user == viewer {
			continue
		}
		if p.notify(ctx, user, frame) {
			sent++
		}
	}
	return sent, nil
}

// Acknowledge is the active trigger, sent by a client whose conversation view
// is still open. It marks the conversation seen for viewer and notifies the
// counterpart. A failed mark is logged and the receipt is still sent.
func (p *SeenPropagator) Acknowledge(
	ctx context.Context,
	viewer UserID,
	conversation ConversationID,
	counterpart UserID,
) bool {
	if err := p.marker.MarkMessagesSeen(ctx, conversation, viewer); err != nil {
		p.logger.Error("Marking messages seen failed",
			zap.String("conversation", string(conversation)),
			zap.String("viewer", string(viewer)),
			zap.Error(err))
	}

	frame, err := EncodeEvent(EventConversationSeen, ConversationSeenPayload{ConversationID: conversation})
	if err != nil {
		p.logger.Error("Encoding seen receipt failed", zap.Error(err))
		return false
	}
	return p.notify(ctx, counterpart, frame)
}

func (p *SeenPropagator) notify(ctx context.Context, user UserID, frame []byte) bool {
	s, ok := p.registry.Get(user)
	if !ok {
		p.metrics.push(ctx, EventConversationSeen, outcomeOffline)
		return false
	}
	return deliver(ctx, p.metrics, s, EventConversationSeen, frame)
}
