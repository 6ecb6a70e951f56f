package realtime

import (
	"context"
	"time"
)

// SeenMarker marks the messages of a conversation as seen, except those sent
// by exceptUser.
type SeenMarker interface {
	MarkMessagesSeen(ctx context.Context, conversation ConversationID, exceptUser UserID) error
}

// LastSeenRecorder persists the time a user was last connected.
type LastSeenRecorder interface {
	RecordLastSeen(ctx context.Context, user UserID, at time.Time) error
}

// ParticipantSource reads the members of a conversation.
type ParticipantSource interface {
	Participants(ctx context.Context, conversation ConversationID) ([]UserID, error)
}

// Store is the durable storage the core is called around.
type Store interface {
	SeenMarker
	LastSeenRecorder
	ParticipantSource
}

// PresenceMirror publishes presence transitions outside the process, for
// example to a shared cache read by other gateway nodes. Offline names the
// session that went away so that a newer session of the same user is kept.
type PresenceMirror interface {
	Online(ctx context.Context, user UserID, session SessionID) error
	Offline(ctx context.Context, user UserID, session SessionID, at time.Time) error
}

// NopStore satisfies Store without persisting anything. It is used when no
// database is configured.
type NopStore struct{}

// MarkMessagesSeen implements SeenMarker.
func (NopStore) MarkMessagesSeen(context.Context, ConversationID, UserID) error { return nil }

// RecordLastSeen implements LastSeenRecorder.
func (NopStore) RecordLastSeen(context.Context, UserID, time.Time) error { return nil }

// Participants implements ParticipantSource.
func (NopStore) Participants(context.Context, ConversationID) ([]UserID, error) { return nil, nil }
