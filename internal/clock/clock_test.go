package clock_test

import (
	"math"
	"testing"
	"time"

	"codeberg.org/mutker/streamctl/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestMillisSinceAcrossWrap(t *testing.T) {
	before := clock.Millis(math.MaxUint32 - 499)
	after := before.Add(1500 * time.Millisecond)

	assert.Less(t, uint32(after), uint32(before), "counter should have wrapped")
	assert.Equal(t, uint32(1500), after.Since(before))
	assert.True(t, after.Elapsed(before, time.Second))
	assert.False(t, after.Elapsed(before, 2*time.Second))
}

func TestFakeSleepAdvances(t *testing.T) {
	f := clock.NewFake(0)
	start := f.Now()

	f.Sleep(7 * time.Millisecond)
	f.Sleep(0)

	assert.Equal(t, 7*time.Millisecond, f.Now().Sub(start))
	assert.Equal(t, clock.Millis(7), f.Millis())
	assert.Equal(t, 7*time.Millisecond, f.Slept())
}
