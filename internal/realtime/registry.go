package realtime

import (
	"sort"
	"sync"
)

// Registry tracks which session is on record for each online user, plus every
// attached session whether or not it is bound to a user.
//
// At most one session is on record per user. Binding a second session for the
// same user supersedes the first one, which stays attached (it still receives
// presence broadcasts) but is no longer addressable. The bySession index mirrors
// byUser so that unbinding on disconnect does not scan the whole map.
//
// identity keeps the user each attached session bound as at connect, whether
// or not it is still on record, so a superseded tab can still send.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[UserID]Session
	bySession map[SessionID]UserID
	attached  map[SessionID]Session
	identity  map[SessionID]UserID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:    make(map[UserID]Session),
		bySession: make(map[SessionID]UserID),
		attached:  make(map[SessionID]Session),
		identity:  make(map[SessionID]UserID),
	}
}

// Attach adds a session to the connected set.
func (r *Registry) Attach(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached[s.ID()] = s
}

// Detach removes a session from the connected set. It reports whether the
// session was attached.
func (r *Registry) Detach(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attached[s.ID()]; !ok {
		return false
	}
	delete(r.attached, s.ID())
	delete(r.identity, s.ID())
	return true
}

// Bind records s as the session of user, returning the session it superseded,
// if any. The superseded session is left attached and is not closed.
func (r *Registry) Bind(user UserID, s Session) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid := s.ID()

	// A session carries one identity; drop a binding it held for someone else.
	if other, ok := r.bySession[sid]; ok && other != user {
		if cur, ok := r.byUser[other]; ok && cur.ID() == sid {
			delete(r.byUser, other)
		}
	}

	prev, hadPrev := r.byUser[user]
	if hadPrev && prev.ID() != sid {
		delete(r.bySession, prev.ID())
	}

	r.byUser[user] = s
	r.bySession[sid] = user
	if _, ok := r.attached[sid]; ok {
		r.identity[sid] = user
	}

	if hadPrev && prev.ID() != sid {
		return prev
	}
	return nil
}

// Unbind removes the binding held by s. It returns the user that went offline
// and true only when s was still the session on record; a session that has
// been superseded, or that was already unbound, is a no-op.
func (r *Registry) Unbind(s Session) (UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sid := s.ID()
	user, ok := r.bySession[sid]
	if !ok {
		return "", false
	}
	delete(r.bySession, sid)

	cur, ok := r.byUser[user]
	if !ok || cur.ID() != sid {
		return "", false
	}
	delete(r.byUser, user)
	return user, true
}

// Get returns the session on record for user.
func (r *Registry) Get(user UserID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byUser[user]
	return s, ok
}

// UserOf returns the user s is bound to, if s is the session on record.
func (r *Registry) UserOf(s Session) (UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.bySession[s.ID()]
	return user, ok
}

// IdentityOf returns the user s bound as, even after a newer session of that
// user superseded it. It is empty once s is detached or if s never bound.
func (r *Registry) IdentityOf(s Session) (UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.identity[s.ID()]
	return user, ok
}

// SnapshotKeys returns the online users in ascending order. The result is
// never nil.
func (r *Registry) SnapshotKeys() []UserID {
	r.mu.RLock()
	keys := make([]UserID, 0, len(r.byUser))
	for user := range r.byUser {
		keys = append(keys, user)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Sessions returns a snapshot of every attached session.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.attached))
	for _, s := range r.attached {
		out = append(out, s)
	}
	return out
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Attached returns the number of attached sessions.
func (r *Registry) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attached)
}
