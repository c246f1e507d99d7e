// Package aggregate computes summary statistics over snapshots of samples.
//
// Everything here runs on private copies taken from the store, after the
// store's lock has been released. None of the types are safe for
// concurrent use.
package aggregate

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultAccuracy is the relative accuracy of percentile sketches.
const DefaultAccuracy = 0.01

// Series maintains running statistics for a single measurement.
// It supports optional percentile calculation using DDSketch.
type Series struct {
	count int64
	sum   float64
	min   float64
	max   float64

	// DDSketch for percentiles (nil if disabled)
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// NewSeries creates an empty series without percentiles.
func NewSeries() *Series {
	return &Series{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
}

// NewSeriesWithPercentiles creates an empty series that also tracks
// quantiles with the given relative accuracy. A non-positive accuracy
// selects DefaultAccuracy.
func NewSeriesWithPercentiles(accuracy float64) *Series {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}

	s := NewSeries()
	s.accuracy = accuracy
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		s.sketch = sketch
	}
	return s
}

// Add adds a value to the series.
func (s *Series) Add(value float64) {
	s.count++
	s.sum += value

	if value < s.min {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}

	if s.sketch != nil {
		// Add only fails on values the sketch cannot index (NaN, Inf),
		// which validation rejects before samples reach the store.
		_ = s.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (s *Series) Count() int64 {
	return s.count
}

// IsEmpty returns true if no values have been added.
func (s *Series) IsEmpty() bool {
	return s.count == 0
}

// Sum returns the sum of all values (0 when empty).
func (s *Series) Sum() float64 {
	return s.sum
}

// Mean returns the arithmetic mean. The second result is false when empty.
func (s *Series) Mean() (float64, bool) {
	if s.count == 0 {
		return 0, false
	}
	return s.sum / float64(s.count), true
}

// Min returns the smallest value. The second result is false when empty.
func (s *Series) Min() (float64, bool) {
	if s.count == 0 {
		return 0, false
	}
	return s.min, true
}

// Max returns the largest value. The second result is false when empty.
func (s *Series) Max() (float64, bool) {
	if s.count == 0 {
		return 0, false
	}
	return s.max, true
}

// HasPercentiles returns true if the series tracks quantiles.
func (s *Series) HasPercentiles() bool {
	return s.sketch != nil
}

// Quantile returns the approximate value at quantile q in [0, 1].
// The second result is false when percentiles are disabled or the
// series is empty.
func (s *Series) Quantile(q float64) (float64, bool) {
	if s.sketch == nil || s.count == 0 {
		return 0, false
	}
	v, err := s.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Merge combines another series into this one.
func (s *Series) Merge(other *Series) {
	if other == nil || other.count == 0 {
		return
	}

	s.count += other.count
	s.sum += other.sum

	if other.min < s.min {
		s.min = other.min
	}
	if other.max > s.max {
		s.max = other.max
	}

	if s.sketch != nil && other.sketch != nil {
		_ = s.sketch.MergeWith(other.sketch)
	}
}

// Reset clears the series for reuse.
func (s *Series) Reset() {
	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = -math.MaxFloat64

	if s.sketch != nil {
		// Create a new sketch rather than relying on in-place clearing.
		sketch, err := ddsketch.NewDefaultDDSketch(s.accuracy)
		if err == nil {
			s.sketch = sketch
		}
	}
}
