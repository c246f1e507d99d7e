package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	meteoerrors "github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/ingestion"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/metrics"
	"github.com/xtxerr/meteo/internal/storage"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/query"
	"github.com/xtxerr/meteo/internal/storage/types"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

const topic = "weather/station"

type stack struct {
	buf      *buffer.RingBuffer
	pipeline *ingestion.Pipeline
	svc      *storage.Service
	now      time.Time
}

func newStack(t *testing.T, capacity int) *stack {
	t.Helper()

	s := &stack{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)}
	s.buf = buffer.New(capacity)
	conn := ingestion.NewConnectivity()

	m := metrics.New()
	m.RegisterStore(s.buf)

	s.pipeline = ingestion.New(s.buf, conn, ingestion.Options{
		Clock: func() time.Time {
			s.now = s.now.Add(time.Second)
			return s.now
		},
		Observer: m,
		Logger:   logging.Discard(),
	})
	s.svc = storage.New(s.buf, query.New(s.buf, query.Config{Percentiles: true}), conn)
	return s
}

func (s *stack) publish(t *testing.T, temp float64) {
	s.pipeline.Handle(ingestion.Message(topic, testutil.PayloadJSON(t, map[string]any{"temp": temp})))
}

// TestIntegration_FullPipeline drives the pipeline with transport events and
// reads everything back through the facade.
func TestIntegration_FullPipeline(t *testing.T) {
	s := newStack(t, 5)

	health := s.svc.FetchHealth()
	if health.Status != types.StatusDegraded || health.MQTTConnected {
		t.Fatalf("expected degraded and disconnected before connect, got %+v", health)
	}

	// Messages before the session is up are dropped.
	s.publish(t, 99)
	if s.svc.FetchCount() != 0 {
		t.Fatal("message while disconnected should not be stored")
	}

	s.pipeline.Handle(ingestion.Connected())
	for i := 1; i <= 7; i++ {
		s.publish(t, float64(i))
	}

	// Capacity 5: readings 1 and 2 were evicted.
	latest, err := s.svc.FetchLatest(10)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(latest) != 5 {
		t.Fatalf("expected 5 readings, got %d", len(latest))
	}
	for i, r := range latest {
		if r.Temperature != float64(i+3) {
			t.Errorf("reading %d: expected temp %d, got %f", i, i+3, r.Temperature)
		}
		if i > 0 && r.ReceivedAt.Before(latest[i-1].ReceivedAt) {
			t.Errorf("reading %d received before its predecessor", i)
		}
	}

	stats := s.svc.FetchStats(buffer.SampleFilter{})
	if stats.TotalReadings != 5 || *stats.AvgTemp != 5 || *stats.MinTemp != 3 || *stats.MaxTemp != 7 {
		t.Errorf("unexpected statistics: %+v", stats)
	}
	if !stats.FirstReading.Equal(latest[0].ReceivedAt) || !stats.LastReading.Equal(latest[4].ReceivedAt) {
		t.Error("first/last reading do not match the stored window")
	}

	health = s.svc.FetchHealth()
	if health.Status != types.StatusHealthy || health.TotalReadings != 5 {
		t.Errorf("unexpected health: %+v", health)
	}
	if !health.LastReadingTime.Equal(latest[4].ReceivedAt) {
		t.Errorf("expected last reading time %v, got %v", latest[4].ReceivedAt, *health.LastReadingTime)
	}

	// Losing the session flips health but keeps the data.
	s.pipeline.Handle(ingestion.Disconnected(meteoerrors.ErrNotConnected))
	health = s.svc.FetchHealth()
	if health.MQTTConnected || health.TotalReadings != 5 {
		t.Errorf("unexpected health after disconnect: %+v", health)
	}

	st := s.pipeline.Stats()
	if st.DiscardedDisconnected != 1 || st.Stored != 7 {
		t.Errorf("unexpected pipeline stats: %+v", st)
	}
}

func TestIntegration_InvalidPayloads(t *testing.T) {
	s := newStack(t, 10)
	s.pipeline.Handle(ingestion.Connected())

	s.publish(t, 20)
	s.pipeline.Handle(ingestion.Message(topic, []byte("{not json")))
	s.pipeline.Handle(ingestion.Message(topic, testutil.PayloadJSON(t, map[string]any{"humidity": 150.0})))
	s.pipeline.Handle(ingestion.Message(topic, testutil.PayloadJSON(t, map[string]any{"pressure": nil})))
	s.publish(t, 22)

	if n := s.svc.FetchCount(); n != 2 {
		t.Fatalf("expected only the 2 valid readings stored, got %d", n)
	}

	st := s.pipeline.Stats()
	if st.DiscardedDecode != 1 {
		t.Errorf("expected 1 decode discard, got %d", st.DiscardedDecode)
	}
	if st.DiscardedValidation != 2 {
		t.Errorf("expected 2 validation discards, got %d", st.DiscardedValidation)
	}
}

func TestIntegration_RangeAndBuckets(t *testing.T) {
	s := newStack(t, 100)
	s.pipeline.Handle(ingestion.Connected())

	start := s.now
	for i := 0; i < 60; i++ {
		s.publish(t, float64(i))
	}

	// Stamps are start+1s .. start+60s.
	got := s.svc.FetchRange(buffer.SampleFilter{Since: start.Add(10 * time.Second), Until: start.Add(19 * time.Second)})
	if len(got) != 10 {
		t.Fatalf("expected 10 readings in range, got %d", len(got))
	}

	buckets, err := s.svc.FetchBuckets(buffer.SampleFilter{}, 30*time.Second)
	if err != nil {
		t.Fatalf("FetchBuckets: %v", err)
	}
	total := 0
	for _, b := range buckets {
		total += b.TotalReadings
	}
	if len(buckets) != 3 || total != 60 {
		t.Errorf("expected 3 buckets covering 60 readings, got %d buckets with %d", len(buckets), total)
	}

	if _, err := s.svc.FetchBuckets(buffer.SampleFilter{}, 0); !errors.Is(err, meteoerrors.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter for zero width, got %v", err)
	}
}

func TestIntegration_ClearAll(t *testing.T) {
	s := newStack(t, 10)
	s.pipeline.Handle(ingestion.Connected())
	s.publish(t, 1)
	s.publish(t, 2)

	s.svc.ClearAll()

	if s.svc.FetchCount() != 0 {
		t.Error("store should be empty after clear")
	}
	if s.svc.FetchHealth().LastReadingTime != nil {
		t.Error("health should report no last reading after clear")
	}

	s.publish(t, 3)
	latest, _ := s.svc.FetchLatest(5)
	if len(latest) != 1 || latest[0].Temperature != 3 {
		t.Errorf("expected only the post-clear reading, got %v", latest)
	}
	if s.svc.Stats().Clears != 1 {
		t.Errorf("expected 1 clear, got %d", s.svc.Stats().Clears)
	}
}

// TestIntegration_ConcurrentReaders runs the pipeline on its own goroutine
// while readers hammer the facade.
func TestIntegration_ConcurrentReaders(t *testing.T) {
	const capacity = 32
	s := newStack(t, capacity)

	events := make(chan ingestion.Event, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := testutil.NewTestHelper(t)
	h.Go(func() error {
		return s.pipeline.Run(ctx, events)
	})

	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		h.Add(1)
		go func() {
			defer h.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				latest, err := s.svc.FetchLatest(capacity * 2)
				if err != nil {
					h.Error(err)
					return
				}
				if len(latest) > capacity {
					h.Errorf("latest returned %d > capacity", len(latest))
					return
				}
				stats := s.svc.FetchStats(buffer.SampleFilter{})
				if stats.TotalReadings > capacity {
					h.Errorf("statistics over %d > capacity readings", stats.TotalReadings)
					return
				}
			}
		}()
	}

	events <- ingestion.Connected()
	for i := 0; i < 500; i++ {
		events <- ingestion.Message(topic, testutil.PayloadJSON(t, map[string]any{"temp": float64(i % 40)}))
	}
	close(events)

	if err := testutil.Eventually(5*time.Second, 5*time.Millisecond, func() bool {
		return s.pipeline.Stats().Received == 500
	}); err != nil {
		t.Fatal("pipeline did not drain the events")
	}
	close(stop)
	h.Wait()

	if s.svc.FetchCount() != capacity {
		t.Errorf("expected a full store of %d, got %d", capacity, s.svc.FetchCount())
	}
}
