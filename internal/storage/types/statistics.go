package types

import "time"

// Statistics is a point-in-time summary computed from a snapshot of samples.
// It is never persisted.
//
// TotalReadings is always present. Every other field is nil when the
// snapshot was empty: an absent mean is different from a mean of zero.
type Statistics struct {
	TotalReadings int `json:"total_readings"`

	AvgTemp      *float64 `json:"avg_temp"`
	MaxTemp      *float64 `json:"max_temp"`
	MinTemp      *float64 `json:"min_temp"`
	AvgHumidity  *float64 `json:"avg_humidity"`
	AvgWindSpeed *float64 `json:"avg_wind_speed"`
	MaxWindSpeed *float64 `json:"max_wind_speed"`
	TotalRain    *float64 `json:"total_rain"`

	FirstReading *time.Time `json:"first_reading"`
	LastReading  *time.Time `json:"last_reading"`

	// Temperature percentiles (nil if disabled or empty)
	TempP50 *float64 `json:"temp_p50,omitempty"`
	TempP90 *float64 `json:"temp_p90,omitempty"`
	TempP99 *float64 `json:"temp_p99,omitempty"`
}

// IsEmpty returns true if no samples were summarized.
func (s *Statistics) IsEmpty() bool {
	return s.TotalReadings == 0
}

// HasPercentiles returns true if percentile data is available.
func (s *Statistics) HasPercentiles() bool {
	return s.TempP50 != nil
}

// SetPercentiles sets all temperature percentile values.
func (s *Statistics) SetPercentiles(p50, p90, p99 float64) {
	s.TempP50 = &p50
	s.TempP90 = &p90
	s.TempP99 = &p99
}

// BucketStatistics is the summary of one fixed-width time bucket.
type BucketStatistics struct {
	BucketStart time.Time `json:"bucket_start"`
	BucketEnd   time.Time `json:"bucket_end"`
	Statistics
}

// Duration returns the bucket width.
func (b *BucketStatistics) Duration() time.Duration {
	return b.BucketEnd.Sub(b.BucketStart)
}

// Health status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Health reports upstream connectivity and store fill level.
type Health struct {
	Status          string     `json:"status"`
	MQTTConnected   bool       `json:"mqtt_connected"`
	TotalReadings   int        `json:"total_readings"`
	LastReadingTime *time.Time `json:"last_reading_time"`
}
