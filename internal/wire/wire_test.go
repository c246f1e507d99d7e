package wire

import (
	"bytes"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/meteo/internal/errors"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

var base = time.Date(2024, 3, 15, 12, 0, 0, 123456789, time.UTC)

func TestWriterReader(t *testing.T) {
	samples := testutil.SampleSeries(base, time.Minute, 10.5, -3.25, 30)
	samples[1].DumpingState = 2
	samples[2].RainAccumulated = 1.2

	var buf bytes.Buffer
	n, err := NewWriter(&buf).WriteAll(samples)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 frames written, got %d", n)
	}

	got, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(samples) {
		t.Fatalf("expected %d samples, got %d", len(samples), len(got))
	}

	for i := range samples {
		if !got[i].ReceivedAt.Equal(samples[i].ReceivedAt) {
			t.Errorf("sample %d: expected time %v, got %v", i, samples[i].ReceivedAt, got[i].ReceivedAt)
		}
		got[i].ReceivedAt, samples[i].ReceivedAt = time.Time{}, time.Time{}
		if got[i] != samples[i] {
			t.Errorf("sample %d differs:\n got %+v\nwant %+v", i, got[i], samples[i])
		}
	}
}

func TestReaderEmptyStream(t *testing.T) {
	got, err := NewReader(bytes.NewReader(nil)).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no samples, got %d", len(got))
	}
}

func TestReaderTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf).Write(testutil.NewSample(base, 1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data := buf.Bytes()[:buf.Len()-5]

	if _, err := NewReader(bytes.NewReader(data)).Read(); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestSampleToStructUsesWireNames(t *testing.T) {
	msg := SampleToStruct(testutil.NewSample(base, 21))

	for _, name := range []string{"temp", "wind_dir_máx", "Luxlm/m2", "PM2", TimestampField} {
		if _, ok := msg.Fields[name]; !ok {
			t.Errorf("struct missing %q", name)
		}
	}
	if got := msg.Fields[TimestampField].GetStringValue(); got != "2024-03-15T12:00:00.123456789Z" {
		t.Errorf("unexpected timestamp %q", got)
	}
}

func TestSampleFromStructErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*structpb.Struct)
		want   error
	}{
		{"missing field", func(m *structpb.Struct) { delete(m.Fields, "temp") }, errors.ErrMissingField},
		{"wrong kind", func(m *structpb.Struct) { m.Fields["temp"] = structpb.NewStringValue("hot") }, errors.ErrInvalidType},
		{"missing timestamp", func(m *structpb.Struct) { delete(m.Fields, TimestampField) }, errors.ErrMissingField},
		{"bad timestamp", func(m *structpb.Struct) { m.Fields[TimestampField] = structpb.NewStringValue("yesterday") }, errors.ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := SampleToStruct(testutil.NewSample(base, 21))
			tt.mutate(msg)

			var buf bytes.Buffer
			if _, err := protodelim.MarshalTo(&buf, msg); err != nil {
				t.Fatalf("MarshalTo: %v", err)
			}

			_, err := NewReader(&buf).Read()
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
