package realtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

func TestBroadcaster_EmptySetIsSentAsList(t *testing.T) {
	f := newFixture(t)
	anon := newSession("anon")
	f.registry.Attach(anon)

	assert.Equal(t, 1, f.broadcaster.BroadcastPresence(context.Background()))

	got := anon.received(t)
	require.Len(t, got, 1)
	assert.Equal(t, realtime.EventOnlineUsers, got[0].Event)
	assert.JSONEq(t, `[]`, string(got[0].Data))
}

func TestBroadcaster_CountsOnlyAcceptedFrames(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "s-alice", "alice")
	bob := f.connect(t, "s-bob", "bob")
	bob.full = true
	alice.reset()

	assert.Equal(t, 1, f.broadcaster.BroadcastPresence(context.Background()))
	assert.Equal(t, ids("alice", "bob"), alice.lastOnline(t))
}
