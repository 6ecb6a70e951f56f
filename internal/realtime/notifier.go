package realtime

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MutationKind names a committed change that online participants are told
// about.
type MutationKind string

// Mutation kinds. Each matches the event name its recipients receive, except
// removals, which also send groupUpdated to the remaining members.
const (
	MutationNewMessage       = MutationKind(EventNewMessage)
	MutationMessageDeleted   = MutationKind(EventMessageDeleted)
	MutationGroupUpdated     = MutationKind(EventGroupUpdated)
	MutationRemovedFromGroup = MutationKind(EventRemovedFromGroup)
)

// Validation errors returned by Notify before anything is pushed.
var (
	ErrUnknownMutation     = errors.New("realtime: unknown mutation kind")
	ErrMissingConversation = errors.New("realtime: mutation has no conversation id")
	ErrMissingRemovedUser  = errors.New("realtime: removal has no removed user id")
	ErrMissingMessage      = errors.New("realtime: deletion has no message id")
)

// Mutation describes a durable change that has already been committed.
//
// Participants lists the users to notify. For a removal it holds the members
// that remain in the group; RemovedUserID names the one who left.
type Mutation struct {
	Kind              MutationKind    `json:"kind"`
	ConversationID    ConversationID  `json:"conversationId"`
	OriginatorID      UserID          `json:"originatorId,omitempty"`
	ExcludeOriginator bool            `json:"excludeOriginator,omitempty"`
	Participants      []UserID        `json:"participants"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	MessageID         string          `json:"messageId,omitempty"`
	GroupName         string          `json:"groupName,omitempty"`
	RemovedUserID     UserID          `json:"removedUserId,omitempty"`
}

// Report counts what happened to one mutation's pushes.
type Report struct {
	Delivered int `json:"delivered"`
	Offline   int `json:"offline"`
	Dropped   int `json:"dropped"`
}

func (r *Report) add(o Report) {
	r.Delivered += o.Delivered
	r.Offline += o.Offline
	r.Dropped += o.Dropped
}

// Notifier pushes committed mutations to the participants that are online.
// Delivery is at most once per participant per mutation and nothing is queued
// for offline users; they catch up by fetching through the REST API.
type Notifier struct {
	registry *Registry
	metrics  *Metrics
	logger   *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(registry *Registry, metrics *Metrics, logger *zap.Logger) *Notifier {
	return &Notifier{registry: registry, metrics: metrics, logger: logger.Named("notifier")}
}

// Notify fans m out. It must only be called after the write behind m has
// committed, so that every recipient can fetch the state it is told about.
func (n *Notifier) Notify(ctx context.Context, m Mutation) (Report, error) {
	if m.ConversationID == "" {
		return Report{}, ErrMissingConversation
	}

	var report Report
	switch m.Kind {
	case MutationNewMessage:
		report = n.fanout(ctx, EventNewMessage, m.Payload, n.recipients(m))
	case MutationMessageDeleted:
		if m.MessageID == "" {
			return Report{}, ErrMissingMessage
		}
		report = n.fanout(ctx, EventMessageDeleted, MessageDeletedPayload{
			ConversationID: m.ConversationID,
			MessageID:      m.MessageID,
		}, n.recipients(m))
	case MutationGroupUpdated:
		report = n.fanout(ctx, EventGroupUpdated, m.Payload, n.recipients(m))
	case MutationRemovedFromGroup:
		if m.RemovedUserID == "" {
			return Report{}, ErrMissingRemovedUser
		}
		remaining := make([]UserID, 0, len(m.Participants))
		for _, user := range n.recipients(m) {
			if user != m.RemovedUserID {
				remaining = append(remaining, user)
			}
		}
		report = n.fanout(ctx, EventGroupUpdated, m.Payload, remaining)
		report.add(n.fanout(ctx, EventRemovedFromGroup, RemovedFromGroupPayload{
			ConversationID: m.ConversationID,
			GroupName:      m.GroupName,
		}, []UserID{m.RemovedUserID}))
	default:
		return Report{}, errors.Wrapf(ErrUnknownMutation, "kind %q", m.Kind)
	}

	n.logger.Debug("Mutation fanned out",
		zap.String("kind", string(m.Kind)),
		zap.String("conversation", string(m.ConversationID)),
		zap.Int("delivered", report.Delivered),
		zap.Int("offline", report.Offline),
		zap.Int("dropped", report.Dropped))
	return report, nil
}

// NewMessage notifies every participant but the sender of a new message.
func (n *Notifier) NewMessage(
	ctx context.Context,
	conversation ConversationID,
	sender UserID,
	participants []UserID,
	message json.RawMessage,
) (Report, error) {
	return n.Notify(ctx, Mutation{
		Kind:              MutationNewMessage,
		ConversationID:    conversation,
		OriginatorID:      sender,
		ExcludeOriginator: true,
		Participants:      participants,
		Payload:           message,
	})
}

// MessageDeleted notifies every participant, the author's other devices
// included, that a message was deleted.
func (n *Notifier) MessageDeleted(
	ctx context.Context,
	conversation ConversationID,
	messageID string,
	participants []UserID,
) (Report, error) {
	return n.Notify(ctx, Mutation{
		Kind:           MutationMessageDeleted,
		ConversationID: conversation,
		Participants:   participants,
		MessageID:      messageID,
	})
}

// GroupUpdated sends the new group state to participants. A non-empty actor is
// left out, as when an admin renames the group they are looking at.
func (n *Notifier) GroupUpdated(
	ctx context.Context,
	conversation ConversationID,
	actor UserID,
	participants []UserID,
	group json.RawMessage,
) (Report, error) {
	return n.Notify(ctx, Mutation{
		Kind:              MutationGroupUpdated,
		ConversationID:    conversation,
		OriginatorID:      actor,
		ExcludeOriginator: actor != "",
		Participants:      participants,
		Payload:           group,
	})
}

// RemovedFromGroup tells removed that they left the group and sends the new
// group state to the remaining members.
func (n *Notifier) RemovedFromGroup(
	ctx context.Context,
	conversation ConversationID,
	groupName string,
	removed UserID,
	remaining []UserID,
	group json.RawMessage,
) (Report, error) {
	return n.Notify(ctx, Mutation{
		Kind:           MutationRemovedFromGroup,
		ConversationID: conversation,
		Participants:   remaining,
		Payload:        group,
		GroupName:      groupName,
		RemovedUserID:  removed,
	})
}

func (n *Notifier) recipients(m Mutation) []UserID {
	users := distinct(m.Participants)
	if !m.ExcludeOriginator || m.OriginatorID == "" {
		return users
	}
	out := users[:0]
	for _, user := range users {
		if user != m.OriginatorID {
			out = append(out, user)
		}
	}
	return out
}

func (n *Notifier) fanout(ctx context.Context, event EventName, data any, users []UserID) Report {
	var report Report
	if len(users) == 0 {
		return report
	}

	// Raw payloads are embedded as-is; an empty one is sent as null.
	if raw, ok := data.(json.RawMessage); ok && len(raw) == 0 {
		data = nil
	}
	frame, err := EncodeEvent(event, data)
	if err != nil {
		n.logger.Error("Encoding fanout event failed", zap.String("event", string(event)), zap.Error(err))
		report.Dropped = len(users)
		return report
	}

	for _, user := range users {
		s, ok := n.registry.Get(user)
		if !ok {
			n.metrics.push(ctx, event, outcomeOffline)
			report.Offline++
			continue
		}
		if deliver(ctx, n.metrics, s, event, frame) {
			report.Delivered++
		} else {
			report.Dropped++
		}
	}
	return report
}

// distinct returns ids without duplicates or empty values, in first-seen order.
func distinct(ids []UserID) []UserID {
	seen := make(map[UserID]struct{}, len(ids))
	out := make([]UserID, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
