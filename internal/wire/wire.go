// Package wire provides protobuf message framing for sample exports.
//
// Each sample travels as a google.protobuf.Struct keyed by the station's
// wire names, length-delimited using protobuf's standard varint encoding.
// Any protobuf runtime can read the stream without a schema.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/meteo/config"
	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/types"
)

// ContentType is the media type of a delimited Struct stream.
const ContentType = "application/x-protobuf; proto=google.protobuf.Struct; delimited=true"

// TimestampField holds the receipt time as RFC 3339 with nanoseconds.
const TimestampField = "timestamp"

// Reader reads length-delimited sample frames from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read reads and converts the next frame.
// Returns io.EOF at a clean end of stream.
func (r *Reader) Read() (types.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: config.DefaultMaxMessageSize,
	}
	if err := opts.UnmarshalFrom(r.r, msg); err != nil {
		if err == io.EOF {
			return types.Sample{}, io.EOF
		}
		return types.Sample{}, fmt.Errorf("read frame: %w", err)
	}
	return SampleFromStruct(msg)
}

// ReadAll reads frames until end of stream.
func (r *Reader) ReadAll() ([]types.Sample, error) {
	var samples []types.Sample
	for {
		s, err := r.Read()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
		samples = append(samples, s)
	}
}

// Writer writes length-delimited sample frames to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write converts and writes one sample with length prefix.
func (w *Writer) Write(s types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, SampleToStruct(s)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// WriteAll writes every sample in order and returns how many were written.
func (w *Writer) WriteAll(samples []types.Sample) (int, error) {
	for i := range samples {
		if err := w.Write(samples[i]); err != nil {
			return i, err
		}
	}
	return len(samples), nil
}

// =============================================================================
// Sample Conversion
// =============================================================================

type field struct {
	name string
	get  func(*types.Sample) float64
	set  func(*types.Sample, float64)
}

var fields = []field{
	{"lat", func(s *types.Sample) float64 { return s.Lat }, func(s *types.Sample, v float64) { s.Lat = v }},
	{"lon", func(s *types.Sample) float64 { return s.Lon }, func(s *types.Sample, v float64) { s.Lon = v }},
	{"temp", func(s *types.Sample) float64 { return s.Temperature }, func(s *types.Sample, v float64) { s.Temperature = v }},
	{"humidity", func(s *types.Sample) float64 { return s.Humidity }, func(s *types.Sample, v float64) { s.Humidity = v }},
	{"pressure", func(s *types.Sample) float64 { return s.Pressure }, func(s *types.Sample, v float64) { s.Pressure = v }},
	{"rain_intensity", func(s *types.Sample) float64 { return s.RainIntensity }, func(s *types.Sample, v float64) { s.RainIntensity = v }},
	{"rain_intensity_max", func(s *types.Sample) float64 { return s.RainIntensityMax }, func(s *types.Sample, v float64) { s.RainIntensityMax = v }},
	{"rain_accumulated", func(s *types.Sample) float64 { return s.RainAccumulated }, func(s *types.Sample, v float64) { s.RainAccumulated = v }},
	{"rain_duration", func(s *types.Sample) float64 { return s.RainDuration }, func(s *types.Sample, v float64) { s.RainDuration = v }},
	{"wind_speed_min", func(s *types.Sample) float64 { return s.WindSpeedMin }, func(s *types.Sample, v float64) { s.WindSpeedMin = v }},
	{"wind_speed_max", func(s *types.Sample) float64 { return s.WindSpeedMax }, func(s *types.Sample, v float64) { s.WindSpeedMax = v }},
	{"wind_speed_avg", func(s *types.Sample) float64 { return s.WindSpeedAvg }, func(s *types.Sample, v float64) { s.WindSpeedAvg = v }},
	{"wind_dir_min", func(s *types.Sample) float64 { return s.WindDirMin }, func(s *types.Sample, v float64) { s.WindDirMin = v }},
	{"wind_dir_máx", func(s *types.Sample) float64 { return s.WindDirMax }, func(s *types.Sample, v float64) { s.WindDirMax = v }},
	{"wind_dir_avg", func(s *types.Sample) float64 { return s.WindDirAvg }, func(s *types.Sample, v float64) { s.WindDirAvg = v }},
	{"Luxlm/m2", func(s *types.Sample) float64 { return s.Lux }, func(s *types.Sample, v float64) { s.Lux = v }},
	{"temp_int", func(s *types.Sample) float64 { return s.TempInternal }, func(s *types.Sample, v float64) { s.TempInternal = v }},
	{"hum_int", func(s *types.Sample) float64 { return s.HumidityInternal }, func(s *types.Sample, v float64) { s.HumidityInternal = v }},
	{"heating_temp", func(s *types.Sample) float64 { return s.HeatingTemp }, func(s *types.Sample, v float64) { s.HeatingTemp = v }},
	{"dumping_state", func(s *types.Sample) float64 { return float64(s.DumpingState) }, func(s *types.Sample, v float64) { s.DumpingState = int(v) }},
	{"PM1", func(s *types.Sample) float64 { return s.PM1 }, func(s *types.Sample, v float64) { s.PM1 = v }},
	{"PM2", func(s *types.Sample) float64 { return s.PM25 }, func(s *types.Sample, v float64) { s.PM25 = v }},
	{"PM3", func(s *types.Sample) float64 { return s.PM10 }, func(s *types.Sample, v float64) { s.PM10 = v }},
}

// SampleToStruct converts a sample to a Struct keyed by wire names.
func SampleToStruct(s types.Sample) *structpb.Struct {
	msg := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields)+1)}
	for _, f := range fields {
		msg.Fields[f.name] = structpb.NewNumberValue(f.get(&s))
	}
	msg.Fields[TimestampField] = structpb.NewStringValue(s.ReceivedAt.UTC().Format(time.RFC3339Nano))
	return msg
}

// SampleFromStruct converts a Struct back to a sample. Every field
// written by SampleToStruct must be present with the right kind.
func SampleFromStruct(msg *structpb.Struct) (types.Sample, error) {
	var s types.Sample
	for _, f := range fields {
		v, ok := msg.GetFields()[f.name]
		if !ok {
			return types.Sample{}, errors.NewMissingField(f.name)
		}
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return types.Sample{}, fmt.Errorf("field %s is not a number: %w", f.name, errors.ErrInvalidType)
		}
		f.set(&s, n.NumberValue)
	}

	ts := msg.GetFields()[TimestampField].GetStringValue()
	if ts == "" {
		return types.Sample{}, errors.NewMissingField(TimestampField)
	}
	receivedAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return types.Sample{}, fmt.Errorf("field %s: %v: %w", TimestampField, err, errors.ErrDecode)
	}
	s.ReceivedAt = receivedAt

	return s, nil
}
