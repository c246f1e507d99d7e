package query

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

var base = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, capacity int, temps ...float64) *Engine {
	t.Helper()

	buf := buffer.New(capacity)
	for _, s := range testutil.SampleSeries(base, time.Minute, temps...) {
		buf.Write(s)
	}
	return New(buf, Config{})
}

func TestEngine_Latest(t *testing.T) {
	e := newEngine(t, 10, 1, 2, 3, 4, 5)

	samples, err := e.Latest(2)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(samples) != 2 || samples[0].Temperature != 4 || samples[1].Temperature != 5 {
		t.Errorf("unexpected samples: %+v", samples)
	}

	samples, err = e.Latest(100)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(samples) != 5 {
		t.Errorf("expected 5 samples, got %d", len(samples))
	}
}

func TestEngine_LatestInvalidLimit(t *testing.T) {
	e := newEngine(t, 10, 1)

	for _, n := range []int{0, -1, -100} {
		_, err := e.Latest(n)
		if !errors.Is(err, errors.ErrInvalidLimit) {
			t.Errorf("n=%d: expected ErrInvalidLimit, got %v", n, err)
		}
	}

	if e.Stats().Rejected != 3 {
		t.Errorf("expected 3 rejected queries, got %d", e.Stats().Rejected)
	}
}

func TestEngine_LatestEmptyStore(t *testing.T) {
	e := newEngine(t, 10)

	samples, err := e.Latest(10)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if samples == nil || len(samples) != 0 {
		t.Errorf("expected empty non-nil result, got %v", samples)
	}
}

func TestEngine_Range(t *testing.T) {
	e := newEngine(t, 10, 1, 2, 3, 4, 5)

	got := e.Range(buffer.SampleFilter{
		Since: base.Add(time.Minute),
		Until: base.Add(3 * time.Minute),
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}

	inverted := e.Range(buffer.SampleFilter{
		Since: base.Add(3 * time.Minute),
		Until: base.Add(time.Minute),
	})
	if len(inverted) != 0 {
		t.Errorf("inverted range should be empty, got %d", len(inverted))
	}
}

func TestEngine_Statistics(t *testing.T) {
	buf := buffer.New(10)
	samples := testutil.SampleSeries(base, time.Minute, 10, 20, 30)
	samples[1].RainAccumulated = 5
	for _, s := range samples {
		buf.Write(s)
	}
	e := New(buf, Config{})

	stats := e.Statistics(buffer.SampleFilter{})

	if stats.TotalReadings != 3 {
		t.Fatalf("expected total_readings=3, got %d", stats.TotalReadings)
	}
	if *stats.AvgTemp != 20 || *stats.MaxTemp != 30 || *stats.MinTemp != 10 {
		t.Errorf("unexpected temps avg=%v max=%v min=%v", *stats.AvgTemp, *stats.MaxTemp, *stats.MinTemp)
	}
	if *stats.TotalRain != 5 {
		t.Errorf("expected total_rain=5, got %v", *stats.TotalRain)
	}
}

func TestEngine_StatisticsRanged(t *testing.T) {
	e := newEngine(t, 10, 10, 20, 30, 40)

	stats := e.Statistics(buffer.SampleFilter{Since: base.Add(2 * time.Minute)})

	if stats.TotalReadings != 2 {
		t.Fatalf("expected total_readings=2, got %d", stats.TotalReadings)
	}
	if math.Abs(*stats.AvgTemp-35) > 1e-9 {
		t.Errorf("expected avg_temp=35, got %v", *stats.AvgTemp)
	}
}

func TestEngine_StatisticsEmpty(t *testing.T) {
	e := newEngine(t, 10)

	stats := e.Statistics(buffer.SampleFilter{})

	if stats.TotalReadings != 0 {
		t.Errorf("expected total_readings=0, got %d", stats.TotalReadings)
	}
	if stats.AvgTemp != nil || stats.TotalRain != nil || stats.FirstReading != nil {
		t.Error("fields should be absent on an empty store")
	}
}

func TestEngine_StatisticsPercentiles(t *testing.T) {
	buf := buffer.New(200)
	for i := 1; i <= 100; i++ {
		buf.Write(testutil.NewSample(base.Add(time.Duration(i)*time.Second), float64(i)))
	}
	e := New(buf, Config{Percentiles: true, PercentileAccuracy: 0.01})

	stats := e.Statistics(buffer.SampleFilter{})

	if !stats.HasPercentiles() {
		t.Fatal("expected percentiles")
	}
	if math.Abs(*stats.TempP90-90) > 2 {
		t.Errorf("expected p90 near 90, got %v", *stats.TempP90)
	}
}

func TestEngine_Buckets(t *testing.T) {
	e := newEngine(t, 100, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	buckets, err := e.Buckets(buffer.SampleFilter{}, 5*time.Minute)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].TotalReadings != 5 || buckets[1].TotalReadings != 5 {
		t.Errorf("unexpected counts %d, %d", buckets[0].TotalReadings, buckets[1].TotalReadings)
	}
}

func TestEngine_BucketsInvalidWidth(t *testing.T) {
	e := newEngine(t, 100, 1, 2, 3)

	tests := []struct {
		name  string
		width time.Duration
	}{
		{"zero", 0},
		{"negative", -time.Minute},
		{"too many buckets", time.Nanosecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Buckets(buffer.SampleFilter{}, tt.width)
			if !errors.Is(err, errors.ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestEngine_Count(t *testing.T) {
	e := newEngine(t, 3, 1, 2, 3, 4, 5)

	if e.Count() != 3 {
		t.Errorf("expected count=3, got %d", e.Count())
	}
}

func TestEngine_ConcurrentStatistics(t *testing.T) {
	buf := buffer.New(500)
	e := New(buf, Config{Percentiles: true})

	h := testutil.NewTestHelper(t)
	defer h.Wait()

	var writer sync.WaitGroup
	writer.Add(1)
	stop := make(chan struct{})

	go func() {
		defer writer.Done()
		defer close(stop)
		for i := 0; i < 2000; i++ {
			buf.Write(testutil.NewSample(base.Add(time.Duration(i)*time.Second), float64(i%50)))
		}
	}()

	for r := 0; r < 4; r++ {
		h.Add(1)
		go func(id int) {
			defer h.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				stats := e.Statistics(buffer.SampleFilter{})
				if stats.TotalReadings > 500 {
					h.Errorf("reader %d: %d readings exceeds capacity", id, stats.TotalReadings)
					return
				}
				if stats.TotalReadings > 0 && (*stats.MinTemp > *stats.MaxTemp) {
					h.Errorf("reader %d: min %v > max %v", id, *stats.MinTemp, *stats.MaxTemp)
					return
				}
			}
		}(r)
	}

	writer.Wait()
}

func TestEngine_StatisticsSeesCompletedWrites(t *testing.T) {
	buf := buffer.New(200000)
	for i := 0; i < 100000; i++ {
		buf.Write(testutil.NewSample(base.Add(time.Duration(i)*time.Millisecond), 20))
	}
	e := New(buf, Config{})

	h := testutil.NewTestHelper(t)
	defer h.Wait()

	stop := make(chan struct{})
	for r := 0; r < 8; r++ {
		h.Add(1)
		go func() {
			defer h.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				e.Statistics(buffer.SampleFilter{})
			}
		}()
	}

	stale := 0
	for i := 0; i < 300; i++ {
		buf.Write(testutil.NewSample(base.Add(time.Hour+time.Duration(i)*time.Millisecond), 20))
		if got := e.Statistics(buffer.SampleFilter{}).TotalReadings; got < 100000+i+1 {
			stale++
		}
	}
	close(stop)

	if stale > 0 {
		t.Errorf("statistics missed a completed write in %d of 300 rounds", stale)
	}
}

func TestEngine_StatisticsAfterClear(t *testing.T) {
	e := newEngine(t, 10, 1, 2, 3)

	if got := e.Statistics(buffer.SampleFilter{}).TotalReadings; got != 3 {
		t.Fatalf("expected 3 readings, got %d", got)
	}

	e.buffer.Clear()

	if got := e.Statistics(buffer.SampleFilter{}).TotalReadings; got != 0 {
		t.Errorf("expected 0 readings after clear, got %d", got)
	}
}
