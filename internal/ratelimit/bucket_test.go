package ratelimit

import (
	"testing"
	"time"

	"github.com/cuemby/usbthief/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBucketStartsFull(t *testing.T) {
	b := New(Config{RateBytesPerSec: 1000, BurstSize: 4000})
	assert.Equal(t, float64(4000), b.tokens)
	assert.Equal(t, float64(1000), b.Rate())
}

func TestAcquireUnlimitedWhenRateZero(t *testing.T) {
	b := New(Config{RateBytesPerSec: 0, BurstSize: 100})

	done := make(chan struct{})
	go func() {
		b.Acquire(1 << 30)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Acquire blocked despite rate <= 0")
	}
}

func TestAcquireWithinBurstDoesNotBlock(t *testing.T) {
	b := New(Config{RateBytesPerSec: 10, BurstSize: 100})

	start := time.Now()
	b.Acquire(50)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireBlocksForDeficit(t *testing.T) {
	b := New(Config{RateBytesPerSec: 100, BurstSize: 100})
	b.Acquire(100) // drain the bucket entirely

	start := time.Now()
	b.Acquire(50) // needs a 1s refill tick to reach 100 tokens
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
}

func TestSetRateLimitUpdatesRate(t *testing.T) {
	b := New(Config{RateBytesPerSec: 10, BurstSize: 10})
	b.SetRateLimit(500)
	assert.Equal(t, float64(500), b.Rate())
}

func TestAdjustByLoadLevelUsesConfiguredPercentages(t *testing.T) {
	b := New(Config{RateBytesPerSec: 1000, BurstSize: 1000, MediumPercent: 0.7, HighPercent: 0.4})

	b.AdjustByLoadLevel(model.LoadMedium)
	assert.Equal(t, float64(700), b.Rate())

	b.AdjustByLoadLevel(model.LoadHigh)
	assert.Equal(t, float64(400), b.Rate())
}

func TestAdjustByLoadLevelDefaultsBaseRateOnFirstCall(t *testing.T) {
	b := New(Config{RateBytesPerSec: 200, BurstSize: 200})
	require.Equal(t, float64(0), b.baseRate)

	b.AdjustByLoadLevel(model.LoadHigh)
	assert.Equal(t, float64(200), b.baseRate)
	assert.InDelta(t, 80, b.Rate(), 0.001)
}

func TestAdjustByLoadLevelReraiseRequiresHysteresis(t *testing.T) {
	b := New(Config{
		RateBytesPerSec: 1000,
		BurstSize:       1000,
		HighPercent:     0.4,
		Hysteresis:      200 * time.Millisecond,
	})

	b.AdjustByLoadLevel(model.LoadHigh)
	assert.Equal(t, float64(400), b.Rate())

	// Immediately back to LOW: must not re-raise yet.
	b.AdjustByLoadLevel(model.LoadLow)
	assert.Equal(t, float64(400), b.Rate())

	time.Sleep(250 * time.Millisecond)
	b.AdjustByLoadLevel(model.LoadLow)
	assert.Equal(t, float64(1000), b.Rate())
}

func TestAdjustByLoadLevelNoHysteresisReraisesImmediately(t *testing.T) {
	b := New(Config{RateBytesPerSec: 1000, BurstSize: 1000, HighPercent: 0.4})

	b.AdjustByLoadLevel(model.LoadHigh)
	b.AdjustByLoadLevel(model.LoadLow)
	assert.Equal(t, float64(1000), b.Rate())
}

func TestSpeedRecorderReceivesAcquiredBytes(t *testing.T) {
	b := New(Config{RateBytesPerSec: 0, BurstSize: 100})
	rec := &fakeRecorder{}
	b.SetSpeedRecorder(rec)

	b.Acquire(42)

	require.Len(t, rec.recorded, 1)
	assert.Equal(t, int64(42), rec.recorded[0])
}

type fakeRecorder struct {
	recorded []int64
}

func (f *fakeRecorder) Record(bytes int64) {
	f.recorded = append(f.recorded, bytes)
}
