package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe("c1")
	other := b.Subscribe("c2")

	b.Publish("c1", Event{Type: TypeJobStarted, Data: map[string]any{"x": 1}})

	select {
	case got := <-ch:
		assert.Equal(t, TypeJobStarted, got.Type)
		assert.Equal(t, 1, got.Data["x"])
		assert.False(t, got.At.IsZero())
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case <-other:
		t.Fatal("event leaked to another company")
	default:
	}

	b.Unsubscribe("c1", ch)
	_, ok := <-ch
	require.False(t, ok, "channel should be closed after unsubscribe")
	// second unsubscribe is a no-op
	b.Unsubscribe("c1", ch)
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewMemory()
	_ = b.Subscribe("c1")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ { b.Publish("c1", Event{Type: "x"}) }
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
