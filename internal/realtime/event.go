package realtime

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// EventName is the name of an outbound push as seen by clients.
type EventName string

// Outbound push names.
const (
	EventOnlineUsers      EventName = "onlineUsers"
	EventTypingStarted    EventName = "typingStarted"
	EventTypingStopped    EventName = "typingStopped"
	EventNewMessage       EventName = "newMessage"
	EventMessageDeleted   EventName = "messageDeleted"
	EventGroupUpdated     EventName = "groupUpdated"
	EventRemovedFromGroup EventName = "removedFromGroup"
	EventConversationSeen EventName = "conversationSeen"
)

// Envelope is the JSON frame written to a session for every push.
type Envelope struct {
	Event EventName `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// TypingPayload is carried by typingStarted and typingStopped.
type TypingPayload struct {
	FromUserID UserID `json:"fromUserId"`
}

// ConversationSeenPayload is carried by conversationSeen.
type ConversationSeenPayload struct {
	ConversationID ConversationID `json:"conversationId"`
}

// MessageDeletedPayload is carried by messageDeleted.
type MessageDeletedPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	MessageID      string         `json:"messageId"`
}

// RemovedFromGroupPayload is carried by removedFromGroup.
type RemovedFromGroupPayload struct {
	ConversationID ConversationID `json:"conversationId"`
	GroupName      string         `json:"groupName"`
}

// EncodeEvent renders a push frame.
func EncodeEvent(name EventName, data any) ([]byte, error) {
	frame, err := json.Marshal(Envelope{Event: name, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s event", name)
	}
	return frame, nil
}

// deliver queues frame on s and records the outcome.
func deliver(ctx context.Context, m *Metrics, s Session, event EventName, frame []byte) bool {
	if s.Send(frame) {
		m.push(ctx, event, outcomeDelivered)
		return true
	}
	m.push(ctx, event, outcomeDropped)
	return false
}
