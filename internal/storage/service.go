package storage

import (
	"sync/atomic"
	"time"

	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/query"
	"github.com/xtxerr/meteo/internal/storage/types"
)

// Connectivity reports whether the upstream transport session is up.
type Connectivity interface {
	Connected() bool
}

// Service is the read-side facade consumed by the presentation layer.
// It combines the ring buffer, the query engine and the connectivity flag.
type Service struct {
	buffer *buffer.RingBuffer
	query  *query.Engine
	conn   Connectivity

	clears    atomic.Int64
	startTime time.Time
}

// New creates a new storage service.
func New(buf *buffer.RingBuffer, engine *query.Engine, conn Connectivity) *Service {
	return &Service{
		buffer:    buf,
		query:     engine,
		conn:      conn,
		startTime: time.Now(),
	}
}

// FetchLatest returns the newest min(n, count) samples, oldest first.
func (s *Service) FetchLatest(n int) ([]types.Sample, error) {
	return s.query.Latest(n)
}

// FetchRange returns the samples received within filter, oldest first.
func (s *Service) FetchRange(filter buffer.SampleFilter) []types.Sample {
	return s.query.Range(filter)
}

// FetchStats returns aggregate statistics over the samples within filter.
func (s *Service) FetchStats(filter buffer.SampleFilter) types.Statistics {
	return s.query.Statistics(filter)
}

// FetchBuckets returns per-bucket statistics over the samples within filter.
func (s *Service) FetchBuckets(filter buffer.SampleFilter, width time.Duration) ([]types.BucketStatistics, error) {
	return s.query.Buckets(filter, width)
}

// FetchCount returns the number of stored samples.
func (s *Service) FetchCount() int {
	return s.query.Count()
}

// FetchHealth reports connectivity and store fill level.
func (s *Service) FetchHealth() types.Health {
	connected := s.conn != nil && s.conn.Connected()

	health := types.Health{
		Status:        types.StatusDegraded,
		MQTTConnected: connected,
		TotalReadings: s.buffer.Len(),
	}
	if connected {
		health.Status = types.StatusHealthy
	}

	if newest, ok := s.buffer.PeekNewest(); ok {
		ts := newest.ReceivedAt
		health.LastReadingTime = &ts
	}

	return health
}

// ClearAll removes every stored sample. Callers are responsible for
// gating access; nothing here asks for confirmation.
func (s *Service) ClearAll() {
	s.buffer.Clear()
	s.clears.Add(1)
}

// Stats returns combined statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Uptime: time.Since(s.startTime),
		Buffer: s.buffer.Stats(),
		Query:  s.query.Stats(),
		Clears: s.clears.Load(),
	}
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Uptime time.Duration
	Buffer buffer.BufferStats
	Query  query.Stats
	Clears int64
}

// Buffer returns the underlying ring buffer.
func (s *Service) Buffer() *buffer.RingBuffer {
	return s.buffer
}

// Engine returns the query engine.
func (s *Service) Engine() *query.Engine {
	return s.query
}
