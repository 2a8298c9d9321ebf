package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() { got = append(got, "a") })
	c.AfterFunc(5*time.Second, func() { got = append(got, "late") })

	c.Advance(2 * time.Second)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, time.Unix(2, 0), c.Now())
}

func TestFakeAdvanceFiresTimersRegisteredDuringAdvance(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	require.Equal(t, 3, ticks)
}

func TestFakeStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeNonPositiveDurationRunsImmediately(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	c.AfterFunc(0, func() { fired = true })
	assert.True(t, fired)
}
