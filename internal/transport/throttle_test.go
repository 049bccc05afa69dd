package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_BurstThenRefill(t *testing.T) {
	clk := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(1, 2)
	th.now = func() time.Time { return clk }

	assert.True(t, th.Allow("alice"))
	assert.True(t, th.Allow("alice"))
	assert.False(t, th.Allow("alice"))

	// other users have their own bucket
	assert.True(t, th.Allow("bob"))

	clk = clk.Add(time.Second)
	assert.True(t, th.Allow("alice"))
	assert.False(t, th.Allow("alice"))
}

func TestThrottle_Sweep(t *testing.T) {
	clk := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	th := NewThrottle(1, 1)
	th.now = func() time.Time { return clk }

	th.Allow("alice")
	clk = clk.Add(5 * time.Minute)
	th.Allow("bob")
	assert.Equal(t, 2, th.Len())

	clk = clk.Add(6 * time.Minute)
	assert.Equal(t, 1, th.Sweep())
	assert.Equal(t, 1, th.Len())
}

func TestThrottle_NilAllows(t *testing.T) {
	var th *Throttle
	assert.True(t, th.Allow("anyone"))
}
