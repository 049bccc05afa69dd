package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	type payload struct {
		Reference string `json:"reference"`
	}

	var got []string
	bus.Subscribe(BookingCreated, func(e Event) error {
		var p payload
		require.NoError(t, e.Decode(&p))
		got = append(got, p.Reference)
		assert.False(t, e.CreatedAt.IsZero())
		return nil
	})
	bus.Subscribe(BookingCreated, func(Event) error { return errors.New("boom") })
	bus.Subscribe(BookingCreated, func(Event) error {
		got = append(got, "second")
		return nil
	})

	require.NoError(t, bus.PublishJSON(BookingCreated, payload{Reference: "TRP-1"}))
	require.NoError(t, bus.PublishJSON(PaymentConfirmed, payload{Reference: "TRP-2"}))

	assert.Equal(t, []string{"TRP-1", "second"}, got, "a failing handler does not stop the others")
	assert.Error(t, bus.PublishJSON(BookingCreated, func() {}))
}
