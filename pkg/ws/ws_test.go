package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalaz-foundation/forge/pkg/event"
)

func TestRelayAttachToForwardsPublications(t *testing.T) {
	relay := NewRelay()
	d := event.NewSync()
	relay.AttachTo(d)

	require.NoError(t, d.TriggerSync("user.created", map[string]any{"id": 1}))

	select {
	case frame := <-relay.frames:
		assert.Equal(t, "user.created", frame.Event)
		assert.Equal(t, map[string]any{"id": 1}, frame.Payload)
		assert.NotEmpty(t, frame.At)
	default:
		t.Fatal("expected a frame to be enqueued")
	}
}

func TestRelayForwardDropsWhenFull(t *testing.T) {
	relay := NewRelay()
	for i := 0; i < cap(relay.frames)+10; i++ {
		relay.Forward("e", i) // must never block
	}
	assert.Len(t, relay.frames, cap(relay.frames))
}

func TestClientWants(t *testing.T) {
	c := &Client{}
	assert.True(t, c.wants("anything"), "no subscription means all events")

	c.events = map[string]bool{"user.created": true}
	assert.True(t, c.wants("user.created"))
	assert.False(t, c.wants("order.shipped"))
}
