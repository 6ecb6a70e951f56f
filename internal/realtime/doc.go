// Package realtime implements the presence and event-fanout core of the chat
// gateway.
//
// A Registry maps each online user to the one transport session currently on
// record for them. The Lifecycle binds and unbinds sessions as connections come
// and go, the Broadcaster pushes the full online set to every attached session,
// the Relay forwards typing hints, the SeenPropagator emits read receipts and the
// Notifier pushes committed mutations to online participants. Every push is best
// effort: a recipient that is not connected is skipped, never queued.
package realtime
