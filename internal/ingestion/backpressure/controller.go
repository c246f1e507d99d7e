// Package backpressure watches the transport event queue that feeds the
// ingestion pipeline.
//
// The queue only fills when the pipeline falls behind the broker. The
// controller turns its fill ratio into a level with hysteresis so a
// backlog shows up once in logs and metrics instead of flapping. Nothing
// is dropped or throttled here; the bounded store stays the only place
// that discards data.
package backpressure

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the current backlog level.
type Level int

const (
	// LevelNormal - the pipeline keeps up with the broker.
	LevelNormal Level = iota

	// LevelWarning - events are queueing up.
	LevelWarning

	// LevelCritical - the queue is mostly full.
	LevelCritical

	// LevelEmergency - the queue is full and the transport is blocked.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// UsageFunc reports the queue fill ratio in [0, 1].
type UsageFunc func() float64

// ChannelUsage reports the fill ratio of ch. An unbuffered channel is
// always empty.
func ChannelUsage[T any](ch chan T) UsageFunc {
	return func() float64 {
		if cap(ch) == 0 {
			return 0
		}
		return float64(len(ch)) / float64(cap(ch))
	}
}

// Thresholds defines queue usage thresholds (0.0-1.0).
type Thresholds struct {
	Warning   float64
	Critical  float64
	Emergency float64
}

// Config configures a Controller.
type Config struct {
	Thresholds Thresholds

	// Hysteresis a level must fall below its threshold before stepping down.
	Hysteresis float64

	// Cooldown is the minimum time between evaluations.
	Cooldown time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Warning:   0.50,
			Critical:  0.80,
			Emergency: 0.95,
		},
		Hysteresis: 0.10,
	}
}

// Controller tracks the backlog level of one queue.
type Controller struct {
	mu sync.RWMutex

	config Config
	usage  UsageFunc
	now    func() time.Time

	// Current state
	level     atomic.Int32
	lastCheck time.Time
	lastLevel Level

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level, usage float64)
}

// Stats holds controller statistics.
type Stats struct {
	CurrentLevel   Level
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	PeakUsage      float64
	Usage          float64
}

// New creates a controller over usage.
func New(cfg Config, usage UsageFunc) *Controller {
	return &Controller{
		config: cfg,
		usage:  usage,
		now:    time.Now,
	}
}

// SetOnLevelChange sets the callback for level changes. It runs with the
// controller lock held and must not call back into the controller.
func (c *Controller) SetOnLevelChange(fn func(old, new Level, usage float64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Run evaluates the queue every interval until ctx is done.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Check evaluates current conditions and updates the level.
func (c *Controller) Check() Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Respect cooldown
	if !c.lastCheck.IsZero() && now.Sub(c.lastCheck) < c.config.Cooldown {
		return Level(c.level.Load())
	}
	c.lastCheck = now

	usage := c.usage()
	if usage > c.stats.PeakUsage {
		c.stats.PeakUsage = usage
	}

	newLevel := c.determineLevel(usage)
	if newLevel != c.lastLevel {
		c.setLevel(newLevel, usage)
	}

	return newLevel
}

// determineLevel determines the level based on usage.
func (c *Controller) determineLevel(usage float64) Level {
	thresholds := c.config.Thresholds
	hysteresis := c.config.Hysteresis

	// Going up (increasing pressure)
	if usage >= thresholds.Emergency {
		return LevelEmergency
	}
	if usage >= thresholds.Critical && c.lastLevel < LevelCritical {
		return LevelCritical
	}
	if usage >= thresholds.Warning && c.lastLevel < LevelWarning {
		return LevelWarning
	}

	// Going down (decreasing pressure) - one step at a time, with hysteresis
	switch c.lastLevel {
	case LevelEmergency:
		if usage < thresholds.Emergency-hysteresis {
			return LevelCritical
		}
		return LevelEmergency
	case LevelCritical:
		if usage < thresholds.Critical-hysteresis {
			return LevelWarning
		}
		return LevelCritical
	case LevelWarning:
		if usage < thresholds.Warning-hysteresis {
			return LevelNormal
		}
		return LevelWarning
	default:
		return LevelNormal
	}
}

// setLevel updates the current level and fires the callback.
func (c *Controller) setLevel(newLevel Level, usage float64) {
	oldLevel := c.lastLevel
	c.lastLevel = newLevel
	c.level.Store(int32(newLevel))
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel, usage)
	}
}

// CurrentLevel returns the current level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// Usage returns the current fill ratio.
func (c *Controller) Usage() float64 {
	return c.usage()
}

// Stats returns current statistics.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := c.stats
	st.CurrentLevel = c.CurrentLevel()
	st.Usage = c.usage()
	return st
}
