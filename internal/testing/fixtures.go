package testing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xtxerr/meteo/internal/storage/types"
)

// ValidPayload returns a station payload that passes decoding and validation.
// Keys use the station's wire names.
func ValidPayload() map[string]any {
	return map[string]any{
		"lat":                41.3851,
		"lon":                2.1734,
		"temp":               21.5,
		"humidity":           55.0,
		"pressure":           1013.2,
		"rain_intensity":     0.0,
		"rain_intensity_max": 0.0,
		"rain_accumulated":   0.0,
		"rain_duration":      0.0,
		"wind_speed_min":     0.4,
		"wind_speed_max":     3.1,
		"wind_speed_avg":     1.7,
		"wind_dir_min":       12.0,
		"wind_dir_máx":       219.7,
		"wind_dir_avg":       140.2,
		"Luxlm/m2":           2185.0,
		"temp_int":           24.0,
		"hum_int":            40.0,
		"heating_temp":       0.0,
		"dumping_state":      0,
		"PM1":                3.0,
		"PM2":                5.0,
		"PM3":                8.0,
	}
}

// PayloadJSON encodes ValidPayload with overrides applied.
// A nil override value removes the key.
func PayloadJSON(t testing.TB, overrides map[string]any) []byte {
	t.Helper()

	payload := ValidPayload()
	for k, v := range overrides {
		if v == nil {
			delete(payload, k)
			continue
		}
		payload[k] = v
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

// NewSample returns a valid sample received at the given time.
func NewSample(at time.Time, temp float64) types.Sample {
	return types.Sample{
		Lat:              41.3851,
		Lon:              2.1734,
		Temperature:      temp,
		Humidity:         55,
		Pressure:         1013.2,
		WindSpeedMin:     0.4,
		WindSpeedMax:     3.1,
		WindSpeedAvg:     1.7,
		WindDirMin:       12,
		WindDirMax:       219.7,
		WindDirAvg:       140.2,
		Lux:              2185,
		TempInternal:     24,
		HumidityInternal: 40,
		PM1:              3,
		PM25:             5,
		PM10:             8,
		ReceivedAt:       at,
	}
}

// SampleSeries returns one sample per temperature, spaced step apart from start.
func SampleSeries(start time.Time, step time.Duration, temps ...float64) []types.Sample {
	out := make([]types.Sample, len(temps))
	for i, temp := range temps {
		out[i] = NewSample(start.Add(time.Duration(i)*step), temp)
	}
	return out
}
