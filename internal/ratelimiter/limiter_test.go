package ratelimiter

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	var l *CallerLimiter
	assert.True(t, l.Allow("client:1", time.Now()))
	assert.Zero(t, l.Len())

	assert.Nil(t, New(0, 10, time.Minute))
	assert.Nil(t, New(5, 0, time.Minute))
}

func TestBurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	require.NotNil(t, l)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("client:1", now))
	assert.True(t, l.Allow("client:1", now))
	assert.False(t, l.Allow("client:1", now))

	// Other callers have their own bucket.
	assert.True(t, l.Allow("client:2", now))

	assert.True(t, l.Allow("client:1", now.Add(time.Second)))
	assert.False(t, l.Allow("client:1", now.Add(time.Second)))
}

func TestBlankKeySharesAnonymousBucket(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("", now))
	assert.False(t, l.Allow("   ", now))
	assert.Equal(t, 1, l.Len())
}

func TestIdleBucketsAreSwept(t *testing.T) {
	l := New(100, 100, time.Minute)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < sweepEvery-1; i++ {
		l.Allow(fmt.Sprintf("client:%d", i), start)
	}
	assert.Equal(t, sweepEvery-1, l.Len())

	// The next call triggers a sweep well after every bucket went idle.
	l.Allow("client:late", start.Add(2*time.Minute))
	assert.Equal(t, 1, l.Len())
}
