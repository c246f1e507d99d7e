package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/types"
)

// payload mirrors the station's JSON. Pointer fields tell a missing key
// (or null) apart from a zero reading.
type payload struct {
	Lat              *float64 `json:"lat"`
	Lon              *float64 `json:"lon"`
	Temperature      *float64 `json:"temp"`
	Humidity         *float64 `json:"humidity"`
	Pressure         *float64 `json:"pressure"`
	RainIntensity    *float64 `json:"rain_intensity"`
	RainIntensityMax *float64 `json:"rain_intensity_max"`
	RainAccumulated  *float64 `json:"rain_accumulated"`
	RainDuration     *float64 `json:"rain_duration"`
	WindSpeedMin     *float64 `json:"wind_speed_min"`
	WindSpeedMax     *float64 `json:"wind_speed_max"`
	WindSpeedAvg     *float64 `json:"wind_speed_avg"`
	WindDirMin       *float64 `json:"wind_dir_min"`
	WindDirMaxAccent *float64 `json:"wind_dir_máx"`
	WindDirMax       *float64 `json:"wind_dir_max"`
	WindDirAvg       *float64 `json:"wind_dir_avg"`
	LuxStation       *float64 `json:"Luxlm/m2"`
	Lux              *float64 `json:"lux"`
	TempInternal     *float64 `json:"temp_int"`
	HumidityInternal *float64 `json:"hum_int"`
	HeatingTemp      *float64 `json:"heating_temp"`
	DumpingState     *float64 `json:"dumping_state"`
	PM1              *float64 `json:"PM1"`
	PM25             *float64 `json:"PM2"`
	PM10             *float64 `json:"PM3"`
}

// Decode parses a station payload into a Sample without ReceivedAt.
//
// Malformed JSON or a wrongly typed field is an errors.ErrDecode.
// Missing fields and a non-integral dumping_state are validation errors;
// all of them are reported together. Unknown keys are ignored.
func Decode(data []byte) (types.Sample, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return types.Sample{}, fmt.Errorf("payload is not a JSON object: %w", errors.ErrDecode)
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return types.Sample{}, fmt.Errorf("field %s: expected number, got %s: %w", typeErr.Field, typeErr.Value, errors.ErrInvalidType)
		}
		return types.Sample{}, fmt.Errorf("%v: %w", err, errors.ErrDecode)
	}

	verr := errors.NewValidationErrors()
	var s types.Sample

	req := func(field string, v *float64, dst *float64) {
		if v == nil {
			verr.AddMissing(field)
			return
		}
		*dst = *v
	}

	req("lat", p.Lat, &s.Lat)
	req("lon", p.Lon, &s.Lon)
	req("temp", p.Temperature, &s.Temperature)
	req("humidity", p.Humidity, &s.Humidity)
	req("pressure", p.Pressure, &s.Pressure)
	req("rain_intensity", p.RainIntensity, &s.RainIntensity)
	req("rain_intensity_max", p.RainIntensityMax, &s.RainIntensityMax)
	req("rain_accumulated", p.RainAccumulated, &s.RainAccumulated)
	req("rain_duration", p.RainDuration, &s.RainDuration)
	req("wind_speed_min", p.WindSpeedMin, &s.WindSpeedMin)
	req("wind_speed_max", p.WindSpeedMax, &s.WindSpeedMax)
	req("wind_speed_avg", p.WindSpeedAvg, &s.WindSpeedAvg)
	req("wind_dir_min", p.WindDirMin, &s.WindDirMin)
	req("wind_dir_max", firstSet(p.WindDirMaxAccent, p.WindDirMax), &s.WindDirMax)
	req("wind_dir_avg", p.WindDirAvg, &s.WindDirAvg)
	req("lux", firstSet(p.LuxStation, p.Lux), &s.Lux)
	req("temp_int", p.TempInternal, &s.TempInternal)
	req("hum_int", p.HumidityInternal, &s.HumidityInternal)
	req("heating_temp", p.HeatingTemp, &s.HeatingTemp)
	req("PM1", p.PM1, &s.PM1)
	req("PM2", p.PM25, &s.PM25)
	req("PM3", p.PM10, &s.PM10)

	switch {
	case p.DumpingState == nil:
		verr.AddMissing("dumping_state")
	case *p.DumpingState != math.Trunc(*p.DumpingState) || math.Abs(*p.DumpingState) > math.MaxInt32:
		verr.Add(errors.NewOutOfRange("dumping_state", *p.DumpingState, "an integer"))
	default:
		s.DumpingState = int(*p.DumpingState)
	}

	if err := verr.Err(); err != nil {
		return types.Sample{}, err
	}
	return s, nil
}

func firstSet(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
