// Package load computes the composite load score that the rate limiter
// and scheduler use to back off under pressure (spec.md §4.4).
package load

import (
	"sync"
	"time"

	"github.com/cuemby/usbthief/internal/metrics"
	"github.com/cuemby/usbthief/internal/model"
)

const (
	cacheTTL = 500 * time.Millisecond

	defaultHighThreshold = 70
	defaultLowThreshold  = 40

	weightQueueDepth = 0.35
	weightCopySpeed  = 0.35
	weightActivity   = 0.15
	weightRejections = 0.15

	fallbackSpeedMBs = 10.0
	fallbackActivity = 0.5
	speedFloorMBs    = 10.0
	speedCeilingMBs  = 1.0

	rejectionWindow = 5 * time.Second
)

// QueueDepthSource reports how many tasks are pending in the copy
// executor's queue. internal/scheduler implements it.
type QueueDepthSource interface {
	QueueDepth() int
}

// SpeedSource reports the current global copy speed in MB/s. Returns
// ok=false when no sample is available yet. internal/speed implements it.
type SpeedSource interface {
	GlobalSpeedMBs() (speed float64, ok bool)
}

// ActivitySource reports the bounded worker pool's active/max ratio and
// recent rejection count. internal/copyexec implements it.
type ActivitySource interface {
	ActivityRatio() float64
	RejectionsSince(window time.Duration) int
}

// Config configures the threshold boundaries the evaluator maps scores to.
type Config struct {
	HighThreshold int
	LowThreshold  int
}

// Evaluator computes and caches the composite LoadScore.
type Evaluator struct {
	queue    QueueDepthSource
	speed    SpeedSource
	activity ActivitySource

	highThreshold int
	lowThreshold  int

	mu        sync.Mutex
	cached    model.LoadScore
	cachedAt  time.Time
	hasCached bool
}

// New constructs an Evaluator over the given collaborators.
func New(queue QueueDepthSource, speed SpeedSource, activity ActivitySource, cfg Config) *Evaluator {
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = defaultHighThreshold
	}
	if cfg.LowThreshold <= 0 {
		cfg.LowThreshold = defaultLowThreshold
	}
	return &Evaluator{
		queue:         queue,
		speed:         speed,
		activity:      activity,
		highThreshold: cfg.HighThreshold,
		lowThreshold:  cfg.LowThreshold,
	}
}

// Evaluate returns the cached score if it is younger than 500ms, otherwise
// resamples the collaborators and recomputes. Never blocks on I/O: all
// collaborator methods are expected to be in-memory reads.
func (e *Evaluator) Evaluate() model.LoadScore {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.hasCached && time.Since(e.cachedAt) < cacheTTL {
		return e.cached
	}

	score := e.sample()
	e.cached = score
	e.cachedAt = time.Now()
	e.hasCached = true
	return score
}

func (e *Evaluator) sample() model.LoadScore {
	depth := 0
	if e.queue != nil {
		depth = e.queue.QueueDepth()
	}
	depthScore := clamp(float64(depth))

	speedMBs := fallbackSpeedMBs
	if e.speed != nil {
		if sampled, ok := e.speed.GlobalSpeedMBs(); ok {
			speedMBs = sampled
		}
	}
	speedScore := speedScoreFor(speedMBs)

	activity := fallbackActivity
	rejections := 0
	if e.activity != nil {
		activity = e.activity.ActivityRatio()
		rejections = e.activity.RejectionsSince(rejectionWindow)
	}
	activityScore := clamp(activity * 100)
	rejectionScore := clamp(float64(rejections))

	composite := depthScore*weightQueueDepth +
		speedScore*weightCopySpeed +
		activityScore*weightActivity +
		rejectionScore*weightRejections

	score := int(composite + 0.5)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	level := model.LevelFor(score, e.highThreshold, e.lowThreshold)
	loadScore, err := model.NewLoadScore(score, level)
	if err != nil {
		// Construction only fails on an out-of-range score, which the
		// clamps above already prevent; fall back to LOW at 0 if it ever
		// does, rather than propagating an error from a non-blocking read.
		loadScore, _ = model.NewLoadScore(0, model.LoadLow)
	}
	metrics.LoadScore.Set(float64(loadScore.Score))
	return loadScore
}

// speedScoreFor maps global copy speed to a 0-100 pressure score: at or
// above speedFloorMBs (10 MB/s) pressure is 0, at or below speedCeilingMBs
// (1 MB/s) pressure is 100, linear in between.
func speedScoreFor(speedMBs float64) float64 {
	switch {
	case speedMBs >= speedFloorMBs:
		return 0
	case speedMBs <= speedCeilingMBs:
		return 100
	default:
		span := speedFloorMBs - speedCeilingMBs
		return (speedFloorMBs - speedMBs) / span * 100
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
