package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJSON(t *testing.T) {
	bus := NewEventBus(nil)

	var got []Event
	bus.Subscribe("booking.created", func(e Event) error {
		got = append(got, e)
		return nil
	})

	require.NoError(t, bus.PublishJSON("booking.created", map[string]int64{"id": 42}))
	require.NoError(t, bus.PublishJSON("booking.rescheduled", map[string]int64{"id": 43}))

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	var payload map[string]int64
	require.NoError(t, got[0].Decode(&payload))
	assert.Equal(t, int64(42), payload["id"])
}

func TestPublish_WildcardAndFailingHandler(t *testing.T) {
	bus := NewEventBus(nil)

	calls := 0
	bus.Subscribe("series.created", func(Event) error {
		calls++
		return errors.New("boom")
	})
	bus.Subscribe("*", func(Event) error {
		calls++
		return nil
	})

	bus.Publish(Event{Type: "series.created"})
	bus.Publish(Event{Type: "other"})
	assert.Equal(t, 3, calls)
}

func TestPublishJSON_MarshalError(t *testing.T) {
	bus := NewEventBus(nil)
	err := bus.PublishJSON("x", make(chan int))
	assert.Error(t, err)
}
