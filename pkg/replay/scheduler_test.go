package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock advances only when slept on or told to.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func TestDelay(t *testing.T) {
	tests := []struct {
		name      string
		prev, cur float64
		speed     float64
		want      time.Duration
	}{
		{name: "one second at nominal speed", prev: 0, cur: 1_000_000, speed: 1.0, want: time.Second},
		{name: "one second at double speed", prev: 0, cur: 1_000_000, speed: 2.0, want: 500 * time.Millisecond},
		{name: "one second at half speed", prev: 0, cur: 1_000_000, speed: 0.5, want: 2 * time.Second},
		{name: "sub millisecond gap", prev: 10, cur: 260, speed: 1.0, want: 250 * time.Microsecond},
		{name: "equal timestamps", prev: 5, cur: 5, speed: 1.0, want: 0},
		{name: "timestamps going backwards", prev: 2_000_000, cur: 1_000_000, speed: 1.0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(tt.prev, tt.cur, tt.speed)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Microsecond))
		})
	}
}

func TestScheduler_Wait(t *testing.T) {
	clock := newFakeClock()
	s := NewScheduler(clock)

	assert.Equal(t, time.Second, s.Wait(0, 1_000_000, 1.0))
	assert.Equal(t, time.Duration(0), s.Wait(1_000_000, 1_000_000, 1.0))
	assert.Equal(t, time.Duration(0), s.Wait(1_000_000, 0, 1.0))

	// non-positive gaps skip the sleep entirely
	assert.Equal(t, []time.Duration{time.Second}, clock.sleeps)
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
}
