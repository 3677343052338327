package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresInOrder(t *testing.T) {
	c := NewFake()
	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() { got = append(got, "a") })
	c.AfterFunc(5*time.Second, func() { got = append(got, "c") })

	c.Advance(3 * time.Second)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, c.Pending())
}

func TestFake_ChainedTimers(t *testing.T) {
	c := NewFake()
	fired := 0
	var tick func()
	tick = func() {
		fired++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)

	assert.Equal(t, 3, fired)
}

func TestFake_Stop(t *testing.T) {
	c := NewFake()
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Minute)

	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_NextIn(t *testing.T) {
	c := NewFake()
	_, ok := c.NextIn()
	assert.False(t, ok)

	c.AfterFunc(20*time.Second, func() {})
	c.AfterFunc(time.Second, func() {})

	d, ok := c.NextIn()
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}
