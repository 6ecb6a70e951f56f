package realtime

import "strings"

// UserID identifies an account. It is the key of the Registry.
type UserID string

// SessionID identifies one live transport connection.
type SessionID string

// ConversationID identifies a direct conversation or a group.
type ConversationID string

// Session is one live transport connection as seen by the core. Send must not
// block: it reports false when the frame could not be queued.
type Session interface {
	ID() SessionID
	Send(frame []byte) bool
}

// ParseUserID validates a user id taken from a connection handshake. Browsers
// serialize missing values as "undefined" or "null", so those are rejected too.
func ParseUserID(raw string) (UserID, bool) {
	id := strings.TrimSpace(raw)
	switch id {
	case "", "undefined", "null":
		return "", false
	}
	return UserID(id), true
}

func userIDStrings(ids []UserID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
