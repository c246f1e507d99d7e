package types

import "time"

// Sample represents a single reading from the weather station.
// This is the primary data unit flowing through the storage system.
//
// Sample holds no reference fields, so every copy is independent of the
// store that produced it. JSON names follow the station's wire format,
// including its aliases for lux and maximum wind direction.
type Sample struct {
	// Location
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// Temperature and humidity
	Temperature float64 `json:"temp"`     // Outdoor temperature (°C)
	Humidity    float64 `json:"humidity"` // Outdoor relative humidity (%)
	Pressure    float64 `json:"pressure"` // Atmospheric pressure (hPa)

	// Rain
	RainIntensity    float64 `json:"rain_intensity"`
	RainIntensityMax float64 `json:"rain_intensity_max"`
	RainAccumulated  float64 `json:"rain_accumulated"` // mm
	RainDuration     float64 `json:"rain_duration"`    // seconds

	// Wind
	WindSpeedMin float64 `json:"wind_speed_min"` // m/s
	WindSpeedMax float64 `json:"wind_speed_max"` // m/s
	WindSpeedAvg float64 `json:"wind_speed_avg"` // m/s
	WindDirMin   float64 `json:"wind_dir_min"`   // degrees
	WindDirMax   float64 `json:"wind_dir_máx"`   // degrees
	WindDirAvg   float64 `json:"wind_dir_avg"`   // degrees

	// Illuminance (lm/m²)
	Lux float64 `json:"Luxlm/m2"`

	// Internal sensors
	TempInternal     float64 `json:"temp_int"`
	HumidityInternal float64 `json:"hum_int"`
	HeatingTemp      float64 `json:"heating_temp"`

	// Device state
	DumpingState int `json:"dumping_state"`

	// Particulate matter (µg/m³)
	PM1  float64 `json:"PM1"`
	PM25 float64 `json:"PM2"`
	PM10 float64 `json:"PM3"`

	// ReceivedAt is stamped by the ingestion pipeline, never by the source.
	ReceivedAt time.Time `json:"timestamp"`
}
