// Package ratelimit implements the token bucket spec.md §4.3 describes:
// a mutable byte-per-second rate with an immutable burst ceiling, whole
// second refill quantization, and blocking acquisition.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/model"
)

// SpeedRecorder is the optional speed-statistics collaborator a Bucket
// reports successful acquisitions to. internal/speed implements it.
type SpeedRecorder interface {
	Record(bytes int64)
}

// Bucket is a token bucket rate limiter. Acquire blocks the calling
// goroutine until enough tokens accumulate; SetRateLimit and
// AdjustByLoadLevel can be called concurrently from another goroutine.
type Bucket struct {
	mu sync.Mutex

	rate       float64 // bytes/sec, mutable
	burst      float64 // immutable ceiling
	tokens     float64
	lastRefill time.Time

	baseRate       float64 // configured base for load adjustment; 0 = unset
	mediumPercent  float64
	highPercent    float64
	hysteresis     time.Duration
	lowSince       time.Time
	lowSinceValid  bool
	lastAppliedPct float64

	recorder SpeedRecorder
}

// Config configures a Bucket's load-adjustment behavior.
type Config struct {
	RateBytesPerSec float64
	BurstSize       float64
	// BaseRate is the rate AdjustByLoadLevel scales from; 0 means the
	// current rate is taken as the base on the first adjustment.
	BaseRate float64
	// MediumPercent and HighPercent are the fraction of base rate applied
	// at MEDIUM and HIGH load (spec.md default 70/40).
	MediumPercent float64
	HighPercent   float64
	// Hysteresis is how long load must stay LOW before the rate re-raises
	// to 100% of base, damping oscillation at the threshold boundary.
	Hysteresis time.Duration
}

// New constructs a Bucket starting full at burst capacity.
func New(cfg Config) *Bucket {
	if cfg.MediumPercent <= 0 {
		cfg.MediumPercent = 0.70
	}
	if cfg.HighPercent <= 0 {
		cfg.HighPercent = 0.40
	}
	b := &Bucket{
		rate:           cfg.RateBytesPerSec,
		burst:          cfg.BurstSize,
		tokens:         cfg.BurstSize,
		lastRefill:     time.Now(),
		baseRate:       cfg.BaseRate,
		mediumPercent:  cfg.MediumPercent,
		highPercent:    cfg.HighPercent,
		hysteresis:     cfg.Hysteresis,
		lastAppliedPct: 1.0,
	}
	return b
}

// SetSpeedRecorder attaches the optional speed-statistics collaborator.
func (b *Bucket) SetSpeedRecorder(r SpeedRecorder) {
	b.mu.Lock()
	b.recorder = r
	b.mu.Unlock()
}

// Acquire blocks until tokens >= bytes, or returns immediately if the
// current rate is <= 0 (unlimited).
func (b *Bucket) Acquire(bytes int64) {
	b.mu.Lock()
	b.refillLocked()

	for {
		if b.rate <= 0 {
			break
		}
		if b.tokens >= float64(bytes) {
			b.tokens -= float64(bytes)
			break
		}
		deficit := float64(bytes) - b.tokens
		wait := time.Duration(math.Ceil(deficit/b.rate)) * time.Second
		b.mu.Unlock()
		time.Sleep(wait)
		b.mu.Lock()
		b.refillLocked()
	}
	b.mu.Unlock()

	if r := b.recorderSnapshot(); r != nil {
		r.Record(bytes)
	}
}

func (b *Bucket) recorderSnapshot() SpeedRecorder {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recorder
}

// refillLocked adds whole-second elapsed*rate tokens, capped at burst.
// Must be called with b.mu held.
func (b *Bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill)
	wholeSeconds := math.Floor(elapsed.Seconds())
	if wholeSeconds <= 0 {
		return
	}
	b.tokens += wholeSeconds * b.rate
	if b.tokens > b.burst {
		b.tokens = b.burst
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(wholeSeconds) * time.Second)
}

// SetRateLimit updates the mutable rate. In-flight waiters pick up the new
// rate on their next refill recompute.
func (b *Bucket) SetRateLimit(rate float64) {
	b.mu.Lock()
	b.rate = rate
	b.mu.Unlock()
}

// Rate returns the current rate in bytes/sec.
func (b *Bucket) Rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

// AdjustByLoadLevel multiplies the configured base rate by the percentage
// for level (LOW=100%, MEDIUM/HIGH from configuration) and applies it. If
// no base rate was configured, the current rate becomes the base the first
// time this is called. A re-raise to LOW's 100% only takes effect after
// load has held LOW for the configured hysteresis window; downward
// adjustments (MEDIUM, HIGH) always apply immediately.
func (b *Bucket) AdjustByLoadLevel(level model.LoadLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.baseRate <= 0 {
		b.baseRate = b.rate
	}

	var pct float64
	switch level {
	case model.LoadLow:
		pct = 1.0
	case model.LoadMedium:
		pct = b.mediumPercent
	case model.LoadHigh:
		pct = b.highPercent
	default:
		pct = 1.0
	}

	if level != model.LoadLow {
		b.lowSinceValid = false
		b.applyPercentLocked(pct)
		return
	}

	// LOW: anything that is not an increase over the last applied
	// percentage applies immediately; an actual re-raise must wait out
	// the hysteresis window first, unless none is configured.
	if pct <= b.lastAppliedPct {
		b.lowSinceValid = false
		b.applyPercentLocked(pct)
		return
	}
	if b.hysteresis <= 0 {
		b.applyPercentLocked(pct)
		b.lowSinceValid = false
		return
	}
	if !b.lowSinceValid {
		b.lowSinceValid = true
		b.lowSince = time.Now()
		return
	}
	if time.Since(b.lowSince) >= b.hysteresis {
		b.applyPercentLocked(pct)
		b.lowSinceValid = false
	}
}

func (b *Bucket) applyPercentLocked(pct float64) {
	b.lastAppliedPct = pct
	b.rate = b.baseRate * pct
}
