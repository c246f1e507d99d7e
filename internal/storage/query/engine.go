// Package query answers point, range and aggregate queries over the
// bounded store.
//
// The engine never holds the store's lock while computing: it takes a copy
// through the buffer and aggregates that copy afterwards.
package query

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/aggregate"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/types"
)

// MaxBuckets bounds the number of buckets a single Buckets call may span.
const MaxBuckets = 10000

// Config holds engine settings.
type Config struct {
	// Percentiles enables temperature p50/p90/p99 in statistics.
	Percentiles bool

	// PercentileAccuracy is the relative accuracy of the sketch.
	PercentileAccuracy float64
}

// Engine provides query capabilities over the ring buffer.
type Engine struct {
	buffer *buffer.RingBuffer
	opts   aggregate.Options

	// Concurrent identical statistics requests share one computation.
	group singleflight.Group

	// Statistics
	queries   atomic.Int64
	rows      atomic.Int64
	rejected  atomic.Int64
	coalesced atomic.Int64
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Rejected        int64
	Coalesced       int64
}

// New creates a query engine over buf.
func New(buf *buffer.RingBuffer, cfg Config) *Engine {
	return &Engine{
		buffer: buf,
		opts: aggregate.Options{
			Percentiles: cfg.Percentiles,
			Accuracy:    cfg.PercentileAccuracy,
		},
	}
}

// Latest returns the newest min(n, Count) samples, oldest first.
// Returns ErrInvalidLimit if n < 1.
func (e *Engine) Latest(n int) ([]types.Sample, error) {
	if n < 1 {
		e.rejected.Add(1)
		return nil, fmt.Errorf("limit %d must be at least 1: %w", n, errors.ErrInvalidLimit)
	}

	samples := e.buffer.Latest(n)
	e.record(len(samples))
	return samples, nil
}

// Range returns samples with receipt time inside the filter, oldest first.
// Inverted bounds yield an empty result, not an error.
func (e *Engine) Range(filter buffer.SampleFilter) []types.Sample {
	samples := e.buffer.Range(filter)
	e.record(len(samples))
	return samples
}

// Statistics computes aggregate statistics over the samples inside the
// filter. An open filter summarizes the whole store.
//
// Concurrent calls with the same filter share one result only while the
// store is unchanged, so a call observes every write that returned before
// it started. Callers must treat the returned pointers as read-only.
func (e *Engine) Statistics(filter buffer.SampleFilter) types.Statistics {
	e.queries.Add(1)

	key := filterKey("stats", filter, 0) + "|" + strconv.FormatInt(e.buffer.Generation(), 10)
	v, _, shared := e.group.Do(key, func() (interface{}, error) {
		samples := e.buffer.Range(filter)
		return aggregate.Summarize(samples, e.opts), nil
	})
	if shared {
		e.coalesced.Add(1)
	}

	return v.(types.Statistics)
}

// Buckets computes statistics per fixed-width time bucket aligned to
// multiples of width. Buckets without samples are omitted.
// Returns ErrInvalidParameter for a non-positive width or one that would
// split the filtered span into more than MaxBuckets buckets.
func (e *Engine) Buckets(filter buffer.SampleFilter, width time.Duration) ([]types.BucketStatistics, error) {
	if width <= 0 {
		e.rejected.Add(1)
		return nil, errors.NewInvalidParameter("width", "must be positive")
	}

	samples := e.buffer.Range(filter)
	if n := len(samples); n > 1 {
		span := samples[n-1].ReceivedAt.Sub(samples[0].ReceivedAt)
		if int64(span/width) >= MaxBuckets {
			e.rejected.Add(1)
			return nil, errors.NewInvalidParameter("width", fmt.Sprintf("%v yields more than %d buckets", width, MaxBuckets))
		}
	}

	buckets := aggregate.Bucketize(samples, width, e.opts)
	e.record(len(buckets))
	return buckets, nil
}

// Count returns the number of samples currently stored.
func (e *Engine) Count() int {
	return e.buffer.Len()
}

// Stats returns query statistics.
func (e *Engine) Stats() Stats {
	return Stats{
		QueriesExecuted: e.queries.Load(),
		RowsReturned:    e.rows.Load(),
		Rejected:        e.rejected.Load(),
		Coalesced:       e.coalesced.Load(),
	}
}

func (e *Engine) record(rows int) {
	e.queries.Add(1)
	e.rows.Add(int64(rows))
}

func filterKey(kind string, f buffer.SampleFilter, width time.Duration) string {
	return fmt.Sprintf("%s|%d|%d|%d", kind, unixNano(f.Since), unixNano(f.Until), width)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
