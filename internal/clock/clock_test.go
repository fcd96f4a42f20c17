package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })

	c.Advance(999 * time.Millisecond)
	assert.Empty(t, fired)
	assert.Equal(t, 2, c.Pending())

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"early", "late"}, fired)
	assert.Zero(t, c.Pending())
}

func TestFake_StopAfterFireReturnsFalse(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	timer := c.AfterFunc(time.Second, func() {})

	c.Advance(time.Second)
	assert.False(t, timer.Stop())

	other := c.AfterFunc(time.Second, func() { t.Fatal("остановленный таймер сработал") })
	assert.True(t, other.Stop())
	assert.False(t, other.Stop())
	c.Advance(time.Hour)
}
