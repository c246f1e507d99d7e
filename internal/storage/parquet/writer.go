package parquet

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// ContentType is the media type of a Parquet file.
const ContentType = "application/vnd.apache.parquet"

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// SampleRow represents a sample in Parquet format.
type SampleRow struct {
	ReceivedAtNs     int64   `parquet:"received_at_ns"`
	Lat              float64 `parquet:"lat"`
	Lon              float64 `parquet:"lon"`
	Temperature      float64 `parquet:"temp"`
	Humidity         float64 `parquet:"humidity"`
	Pressure         float64 `parquet:"pressure"`
	RainIntensity    float64 `parquet:"rain_intensity"`
	RainIntensityMax float64 `parquet:"rain_intensity_max"`
	RainAccumulated  float64 `parquet:"rain_accumulated"`
	RainDuration     float64 `parquet:"rain_duration"`
	WindSpeedMin     float64 `parquet:"wind_speed_min"`
	WindSpeedMax     float64 `parquet:"wind_speed_max"`
	WindSpeedAvg     float64 `parquet:"wind_speed_avg"`
	WindDirMin       float64 `parquet:"wind_dir_min"`
	WindDirMax       float64 `parquet:"wind_dir_max"`
	WindDirAvg       float64 `parquet:"wind_dir_avg"`
	Lux              float64 `parquet:"lux"`
	TempInternal     float64 `parquet:"temp_int"`
	HumidityInternal float64 `parquet:"hum_int"`
	HeatingTemp      float64 `parquet:"heating_temp"`
	DumpingState     int32   `parquet:"dumping_state"`
	PM1              float64 `parquet:"pm1"`
	PM25             float64 `parquet:"pm2"`
	PM10             float64 `parquet:"pm3"`
}

// BucketRow represents one bucket of statistics in Parquet format.
// Absent statistics are null.
type BucketRow struct {
	BucketStartNs int64    `parquet:"bucket_start_ns"`
	BucketEndNs   int64    `parquet:"bucket_end_ns"`
	Count         int64    `parquet:"count"`
	AvgTemp       *float64 `parquet:"avg_temp,optional"`
	MinTemp       *float64 `parquet:"min_temp,optional"`
	MaxTemp       *float64 `parquet:"max_temp,optional"`
	AvgHumidity   *float64 `parquet:"avg_humidity,optional"`
	AvgWindSpeed  *float64 `parquet:"avg_wind_speed,optional"`
	MaxWindSpeed  *float64 `parquet:"max_wind_speed,optional"`
	TotalRain     *float64 `parquet:"total_rain,optional"`
	TempP50       *float64 `parquet:"temp_p50,optional"`
	TempP90       *float64 `parquet:"temp_p90,optional"`
	TempP99       *float64 `parquet:"temp_p99,optional"`
	FirstNs       *int64   `parquet:"first_ns,optional"`
	LastNs        *int64   `parquet:"last_ns,optional"`
}

// SampleToRow converts a Sample to a SampleRow.
func SampleToRow(s *types.Sample) SampleRow {
	return SampleRow{
		ReceivedAtNs:     s.ReceivedAt.UnixNano(),
		Lat:              s.Lat,
		Lon:              s.Lon,
		Temperature:      s.Temperature,
		Humidity:         s.Humidity,
		Pressure:         s.Pressure,
		RainIntensity:    s.RainIntensity,
		RainIntensityMax: s.RainIntensityMax,
		RainAccumulated:  s.RainAccumulated,
		RainDuration:     s.RainDuration,
		WindSpeedMin:     s.WindSpeedMin,
		WindSpeedMax:     s.WindSpeedMax,
		WindSpeedAvg:     s.WindSpeedAvg,
		WindDirMin:       s.WindDirMin,
		WindDirMax:       s.WindDirMax,
		WindDirAvg:       s.WindDirAvg,
		Lux:              s.Lux,
		TempInternal:     s.TempInternal,
		HumidityInternal: s.HumidityInternal,
		HeatingTemp:      s.HeatingTemp,
		DumpingState:     int32(s.DumpingState),
		PM1:              s.PM1,
		PM25:             s.PM25,
		PM10:             s.PM10,
	}
}

// RowToSample converts a SampleRow to a Sample.
func RowToSample(r *SampleRow) types.Sample {
	return types.Sample{
		ReceivedAt:       time.Unix(0, r.ReceivedAtNs).UTC(),
		Lat:              r.Lat,
		Lon:              r.Lon,
		Temperature:      r.Temperature,
		Humidity:         r.Humidity,
		Pressure:         r.Pressure,
		RainIntensity:    r.RainIntensity,
		RainIntensityMax: r.RainIntensityMax,
		RainAccumulated:  r.RainAccumulated,
		RainDuration:     r.RainDuration,
		WindSpeedMin:     r.WindSpeedMin,
		WindSpeedMax:     r.WindSpeedMax,
		WindSpeedAvg:     r.WindSpeedAvg,
		WindDirMin:       r.WindDirMin,
		WindDirMax:       r.WindDirMax,
		WindDirAvg:       r.WindDirAvg,
		Lux:              r.Lux,
		TempInternal:     r.TempInternal,
		HumidityInternal: r.HumidityInternal,
		HeatingTemp:      r.HeatingTemp,
		DumpingState:     int(r.DumpingState),
		PM1:              r.PM1,
		PM25:             r.PM25,
		PM10:             r.PM10,
	}
}

// BucketToRow converts bucket statistics to a BucketRow.
func BucketToRow(b *types.BucketStatistics) BucketRow {
	row := BucketRow{
		BucketStartNs: b.BucketStart.UnixNano(),
		BucketEndNs:   b.BucketEnd.UnixNano(),
		Count:         int64(b.TotalReadings),
		AvgTemp:       b.AvgTemp,
		MinTemp:       b.MinTemp,
		MaxTemp:       b.MaxTemp,
		AvgHumidity:   b.AvgHumidity,
		AvgWindSpeed:  b.AvgWindSpeed,
		MaxWindSpeed:  b.MaxWindSpeed,
		TotalRain:     b.TotalRain,
		TempP50:       b.TempP50,
		TempP90:       b.TempP90,
		TempP99:       b.TempP99,
	}

	if b.FirstReading != nil {
		ns := b.FirstReading.UnixNano()
		row.FirstNs = &ns
	}
	if b.LastReading != nil {
		ns := b.LastReading.UnixNano()
		row.LastNs = &ns
	}

	return row
}

// RowToBucket converts a BucketRow to bucket statistics.
func RowToBucket(r *BucketRow) types.BucketStatistics {
	b := types.BucketStatistics{
		BucketStart: time.Unix(0, r.BucketStartNs).UTC(),
		BucketEnd:   time.Unix(0, r.BucketEndNs).UTC(),
	}
	b.TotalReadings = int(r.Count)
	b.AvgTemp = r.AvgTemp
	b.MinTemp = r.MinTemp
	b.MaxTemp = r.MaxTemp
	b.AvgHumidity = r.AvgHumidity
	b.AvgWindSpeed = r.AvgWindSpeed
	b.MaxWindSpeed = r.MaxWindSpeed
	b.TotalRain = r.TotalRain
	b.TempP50 = r.TempP50
	b.TempP90 = r.TempP90
	b.TempP99 = r.TempP99

	if r.FirstNs != nil {
		t := time.Unix(0, *r.FirstNs).UTC()
		b.FirstReading = &t
	}
	if r.LastNs != nil {
		t := time.Unix(0, *r.LastNs).UTC()
		b.LastReading = &t
	}

	return b
}

// writer is the shared implementation of SampleWriter and BucketWriter.
type writer[R any] struct {
	mu       sync.Mutex
	writer   *parquet.GenericWriter[R]
	rowCount int64
	closed   bool
}

func newWriter[R any](w io.Writer, opts Options) *writer[R] {
	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	return &writer[R]{writer: parquet.NewGenericWriter[R](w, writerOpts...)}
}

func (w *writer[R]) write(rows []R) error {
	if len(rows) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer. The underlying io.Writer is not closed.
func (w *writer[R]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *writer[R]) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// SampleWriter writes samples as Parquet to an io.Writer.
type SampleWriter struct {
	*writer[SampleRow]
}

// NewSampleWriter creates a new sample Parquet writer.
func NewSampleWriter(w io.Writer, opts Options) *SampleWriter {
	return &SampleWriter{newWriter[SampleRow](w, opts)}
}

// Write writes samples.
func (w *SampleWriter) Write(samples []types.Sample) error {
	rows := make([]SampleRow, len(samples))
	for i := range samples {
		rows[i] = SampleToRow(&samples[i])
	}
	return w.write(rows)
}

// BucketWriter writes bucketed statistics as Parquet to an io.Writer.
type BucketWriter struct {
	*writer[BucketRow]
}

// NewBucketWriter creates a new bucket Parquet writer.
func NewBucketWriter(w io.Writer, opts Options) *BucketWriter {
	return &BucketWriter{newWriter[BucketRow](w, opts)}
}

// Write writes buckets.
func (w *BucketWriter) Write(buckets []types.BucketStatistics) error {
	rows := make([]BucketRow, len(buckets))
	for i := range buckets {
		rows[i] = BucketToRow(&buckets[i])
	}
	return w.write(rows)
}

// WriteSamples writes a complete Parquet file of samples to w.
func WriteSamples(w io.Writer, samples []types.Sample, opts Options) error {
	sw := NewSampleWriter(w, opts)
	if err := sw.Write(samples); err != nil {
		sw.Close()
		return err
	}
	return sw.Close()
}

// WriteBuckets writes a complete Parquet file of buckets to w.
func WriteBuckets(w io.Writer, buckets []types.BucketStatistics, opts Options) error {
	bw := NewBucketWriter(w, opts)
	if err := bw.Write(buckets); err != nil {
		bw.Close()
		return err
	}
	return bw.Close()
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
