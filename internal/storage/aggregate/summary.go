package aggregate

import (
	"time"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// Options controls optional work done while summarizing.
type Options struct {
	// Percentiles enables temperature p50/p90/p99.
	Percentiles bool

	// Accuracy is the relative accuracy of the percentile sketch.
	Accuracy float64
}

// Summary accumulates the weather statistics of a sequence of samples.
type Summary struct {
	temp      *Series
	humidity  *Series
	windAvg   *Series
	windMax   *Series
	rain      *Series
	first     time.Time
	last      time.Time
	hasSample bool
}

// NewSummary creates an empty summary.
func NewSummary(opts Options) *Summary {
	temp := NewSeries()
	if opts.Percentiles {
		temp = NewSeriesWithPercentiles(opts.Accuracy)
	}

	return &Summary{
		temp:     temp,
		humidity: NewSeries(),
		windAvg:  NewSeries(),
		windMax:  NewSeries(),
		rain:     NewSeries(),
	}
}

// Add folds one sample into the summary.
func (s *Summary) Add(sample *types.Sample) {
	s.temp.Add(sample.Temperature)
	s.humidity.Add(sample.Humidity)
	s.windAvg.Add(sample.WindSpeedAvg)
	s.windMax.Add(sample.WindSpeedMax)
	s.rain.Add(sample.RainAccumulated)

	if !s.hasSample || sample.ReceivedAt.Before(s.first) {
		s.first = sample.ReceivedAt
	}
	if !s.hasSample || sample.ReceivedAt.After(s.last) {
		s.last = sample.ReceivedAt
	}
	s.hasSample = true
}

// Count returns the number of samples added.
func (s *Summary) Count() int {
	return int(s.temp.Count())
}

// Result returns the statistics. With no samples every field except
// TotalReadings is nil.
func (s *Summary) Result() types.Statistics {
	result := types.Statistics{TotalReadings: s.Count()}
	if !s.hasSample {
		return result
	}

	result.AvgTemp = mean(s.temp)
	result.MaxTemp = maxOf(s.temp)
	result.MinTemp = minOf(s.temp)
	result.AvgHumidity = mean(s.humidity)
	result.AvgWindSpeed = mean(s.windAvg)
	result.MaxWindSpeed = maxOf(s.windMax)

	total := s.rain.Sum()
	result.TotalRain = &total

	first, last := s.first, s.last
	result.FirstReading = &first
	result.LastReading = &last

	if s.temp.HasPercentiles() {
		p50, ok50 := s.temp.Quantile(0.50)
		p90, ok90 := s.temp.Quantile(0.90)
		p99, ok99 := s.temp.Quantile(0.99)
		if ok50 && ok90 && ok99 {
			result.SetPercentiles(p50, p90, p99)
		}
	}

	return result
}

// Summarize computes the statistics of samples.
func Summarize(samples []types.Sample, opts Options) types.Statistics {
	s := NewSummary(opts)
	for i := range samples {
		s.Add(&samples[i])
	}
	return s.Result()
}

// Bucketize groups time-ordered samples into fixed-width buckets aligned
// to multiples of width and summarizes each one. Buckets without samples
// are omitted. A non-positive width yields a single bucket spanning the
// samples.
func Bucketize(samples []types.Sample, width time.Duration, opts Options) []types.BucketStatistics {
	if len(samples) == 0 {
		return []types.BucketStatistics{}
	}

	if width <= 0 {
		stats := Summarize(samples, opts)
		return []types.BucketStatistics{{
			BucketStart: samples[0].ReceivedAt.UTC(),
			BucketEnd:   samples[len(samples)-1].ReceivedAt.UTC(),
			Statistics:  stats,
		}}
	}

	var (
		buckets []types.BucketStatistics
		current *Summary
		start   time.Time
	)

	flush := func() {
		if current == nil || current.Count() == 0 {
			return
		}
		buckets = append(buckets, types.BucketStatistics{
			BucketStart: start,
			BucketEnd:   start.Add(width),
			Statistics:  current.Result(),
		})
	}

	for i := range samples {
		bucketStart := types.TruncateToWidth(samples[i].ReceivedAt, width)
		if current == nil || !bucketStart.Equal(start) {
			// New bucket - complete the old one
			flush()
			current = NewSummary(opts)
			start = bucketStart
		}
		current.Add(&samples[i])
	}
	flush()

	return buckets
}

func mean(s *Series) *float64 {
	v, ok := s.Mean()
	if !ok {
		return nil
	}
	return &v
}

func minOf(s *Series) *float64 {
	v, ok := s.Min()
	if !ok {
		return nil
	}
	return &v
}

func maxOf(s *Series) *float64 {
	v, ok := s.Max()
	if !ok {
		return nil
	}
	return &v
}
