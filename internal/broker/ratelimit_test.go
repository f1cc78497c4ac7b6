package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowRequestWithinWindow(t *testing.T) {
	l := NewLimiter(3, 10, true)
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.True(t, l.AllowRequest("1.2.3.4", now), "request %d should be allowed", i)
	}
	assert.False(t, l.AllowRequest("1.2.3.4", now), "the 4th request in the same window should be rejected")

	// A different address has its own independent bucket.
	assert.True(t, l.AllowRequest("5.6.7.8", now), "a different address should be unaffected by another's bucket")
}

func TestLimiterSlidesWindowForward(t *testing.T) {
	l := NewLimiter(2, 10, true)
	now := time.Now()

	require.True(t, l.AllowRequest("1.2.3.4", now))
	require.True(t, l.AllowRequest("1.2.3.4", now))
	require.False(t, l.AllowRequest("1.2.3.4", now), "the 3rd request should be rejected")

	later := now.Add(rateLimitWindow + time.Second)
	assert.True(t, l.AllowRequest("1.2.3.4", later), "a request after the window has elapsed should be allowed again")
}

func TestLimiterAllowConnectionIsIndependentOfRequests(t *testing.T) {
	l := NewLimiter(1, 1, true)
	now := time.Now()

	require.True(t, l.AllowRequest("1.2.3.4", now))
	assert.True(t, l.AllowConnection("1.2.3.4", now), "the connection gate should have its own independent bucket")
	assert.False(t, l.AllowConnection("1.2.3.4", now), "the 2nd connection in the same window should be rejected")
}

func TestLimiterDisabledAlwaysAllows(t *testing.T) {
	l := NewLimiter(1, 1, false)
	now := time.Now()

	for i := 0; i < 5; i++ {
		assert.True(t, l.AllowRequest("1.2.3.4", now), "request %d should be allowed while disabled", i)
		assert.True(t, l.AllowConnection("1.2.3.4", now), "connection %d should be allowed while disabled", i)
	}
}
