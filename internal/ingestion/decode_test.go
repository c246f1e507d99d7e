package ingestion

import (
	"strings"
	"testing"

	"github.com/xtxerr/meteo/internal/errors"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

func TestDecode_Valid(t *testing.T) {
	s, err := Decode(testutil.PayloadJSON(t, nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if s.Temperature != 21.5 {
		t.Errorf("expected temp=21.5, got %v", s.Temperature)
	}
	if s.WindDirMax != 219.7 {
		t.Errorf("expected wind_dir_max=219.7, got %v", s.WindDirMax)
	}
	if s.Lux != 2185 {
		t.Errorf("expected lux=2185, got %v", s.Lux)
	}
	if s.PM25 != 5 || s.PM10 != 8 {
		t.Errorf("unexpected PM values %v %v", s.PM25, s.PM10)
	}
	if !s.ReceivedAt.IsZero() {
		t.Error("decode must not stamp receipt time")
	}
}

func TestDecode_Aliases(t *testing.T) {
	data := testutil.PayloadJSON(t, map[string]any{
		"wind_dir_máx": nil,
		"wind_dir_max": 45.0,
		"Luxlm/m2":     nil,
		"lux":          100.0,
	})

	s, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.WindDirMax != 45 {
		t.Errorf("expected wind_dir_max=45, got %v", s.WindDirMax)
	}
	if s.Lux != 100 {
		t.Errorf("expected lux=100, got %v", s.Lux)
	}
}

func TestDecode_ZeroIsNotMissing(t *testing.T) {
	data := testutil.PayloadJSON(t, map[string]any{"temp": 0.0, "rain_accumulated": 0.0})

	s, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s.Temperature != 0 {
		t.Errorf("expected temp=0, got %v", s.Temperature)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		decode     bool
		validation bool
	}{
		{"not json", []byte("not-json"), true, false},
		{"empty", []byte(""), true, false},
		{"array", []byte("[1,2,3]"), true, false},
		{"truncated", []byte(`{"temp": 21.5`), true, false},
		{"string number", testutil.PayloadJSON(t, map[string]any{"temp": "warm"}), true, false},
		{"missing temp", testutil.PayloadJSON(t, map[string]any{"temp": nil}), false, true},
		{"missing both aliases", testutil.PayloadJSON(t, map[string]any{"Luxlm/m2": nil}), false, true},
		{"fractional dumping state", testutil.PayloadJSON(t, map[string]any{"dumping_state": 1.5}), false, true},
		{"missing dumping state", testutil.PayloadJSON(t, map[string]any{"dumping_state": nil}), false, true},
		{"null field", []byte(strings.Replace(string(testutil.PayloadJSON(t, nil)), `"pressure":1013.2`, `"pressure":null`, 1)), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.IsDecode(err) != tt.decode {
				t.Errorf("IsDecode=%v, want %v (err=%v)", errors.IsDecode(err), tt.decode, err)
			}
			if errors.IsValidation(err) != tt.validation {
				t.Errorf("IsValidation=%v, want %v (err=%v)", errors.IsValidation(err), tt.validation, err)
			}
		})
	}
}

func TestDecode_ReportsAllMissing(t *testing.T) {
	_, err := Decode([]byte(`{"temp": 20}`))
	if err == nil {
		t.Fatal("expected error")
	}

	var verr *errors.ValidationErrors
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	// Every field but temp is absent.
	if len(verr.Errors) != 22 {
		t.Errorf("expected 22 missing fields, got %d", len(verr.Errors))
	}
}
