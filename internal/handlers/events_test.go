package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/services"
)

func newTestEventsHandler(t *testing.T) *EventsHandler {
	t.Helper()

	cfg := config.Defaults()
	manager := services.NewDevServerManager(cfg)
	t.Cleanup(manager.StopAll)

	handler := NewEventsHandler(manager)
	t.Cleanup(handler.Stop)
	return handler
}

func receiveEvent(t *testing.T, ch chan SSEMessage) SSEMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return SSEMessage{}
	}
}

func TestEventsHandler_EmitStarted_ReachesSubscriber(t *testing.T) {
	handler := newTestEventsHandler(t)

	id, ch := handler.Subscribe()
	defer handler.Unsubscribe(id)

	handler.EmitDevServerStarted("/proj/wt", 3001, "http://localhost:3001")

	msg := receiveEvent(t, ch)
	assert.Equal(t, DevServerStartedEvent, msg.Event.Type)
	assert.NotEmpty(t, msg.ID)

	payload, ok := msg.Event.Payload.(DevServerStartedPayload)
	require.True(t, ok)
	assert.Equal(t, "/proj/wt", payload.WorktreePath)
	assert.Equal(t, 3001, payload.Port)
	assert.Equal(t, "http://localhost:3001", payload.URL)
	assert.NotZero(t, payload.Timestamp)
}

func TestEventsHandler_EmitOutputAndStopped_Payloads(t *testing.T) {
	handler := newTestEventsHandler(t)

	id, ch := handler.Subscribe()
	defer handler.Unsubscribe(id)

	handler.EmitDevServerOutput("/proj/wt", "ready on :3001\n")
	handler.EmitDevServerStopped("/proj/wt", 3001, 137, "killed")

	out := receiveEvent(t, ch)
	assert.Equal(t, DevServerOutputEvent, out.Event.Type)
	outPayload, ok := out.Event.Payload.(DevServerOutputPayload)
	require.True(t, ok)
	assert.Equal(t, "ready on :3001\n", outPayload.Content)

	stopped := receiveEvent(t, ch)
	assert.Equal(t, DevServerStoppedEvent, stopped.Event.Type)
	stoppedPayload, ok := stopped.Event.Payload.(DevServerStoppedPayload)
	require.True(t, ok)
	assert.Equal(t, 3001, stoppedPayload.Port)
	assert.Equal(t, 137, stoppedPayload.ExitCode)
	assert.Equal(t, "killed", stoppedPayload.Error)
}

func TestEventsHandler_Broadcast_ReachesAllSubscribers(t *testing.T) {
	handler := newTestEventsHandler(t)

	id1, ch1 := handler.Subscribe()
	defer handler.Unsubscribe(id1)
	id2, ch2 := handler.Subscribe()
	defer handler.Unsubscribe(id2)

	handler.EmitDevServerStarted("/proj/wt", 3002, "http://localhost:3002")

	for _, ch := range []chan SSEMessage{ch1, ch2} {
		msg := receiveEvent(t, ch)
		assert.Equal(t, DevServerStartedEvent, msg.Event.Type)
	}
}

func TestEventsHandler_Unsubscribe_ClosesChannel(t *testing.T) {
	handler := newTestEventsHandler(t)

	id, ch := handler.Subscribe()
	handler.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)

	// Repeat unsubscribes and broadcasts after removal must not panic.
	handler.Unsubscribe(id)
	handler.EmitDevServerOutput("/proj/wt", "late")
}

func TestEventsHandler_Stop_DisconnectsSubscribers(t *testing.T) {
	handler := newTestEventsHandler(t)

	_, ch := handler.Subscribe()
	handler.Stop()

	_, open := <-ch
	assert.False(t, open)

	// Stop is idempotent.
	handler.Stop()
}
