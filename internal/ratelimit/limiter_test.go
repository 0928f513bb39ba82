package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_CapacityOneDeniesSecondCall(t *testing.T) {
	l := New(1, time.Second)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_RefillsAfterInterval(t *testing.T) {
	l := New(1, 10*time.Millisecond)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	time.Sleep(25 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLimiter_NeverExceedsCapacity(t *testing.T) {
	l := New(2, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, l.Available())
}
