// Package validation provides centralized input validation for meteo.
package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/types"
)

// =============================================================================
// Sample Validation
// =============================================================================

// Bound is an inclusive numeric range. A nil end is open.
type Bound struct {
	Min *float64
	Max *float64
}

// String describes the bound for error messages.
func (b Bound) String() string {
	switch {
	case b.Min != nil && b.Max != nil:
		return fmt.Sprintf("in [%g, %g]", *b.Min, *b.Max)
	case b.Min != nil:
		return fmt.Sprintf(">= %g", *b.Min)
	case b.Max != nil:
		return fmt.Sprintf("<= %g", *b.Max)
	default:
		return "finite"
	}
}

// Contains returns true if v is finite and within the bound.
func (b Bound) Contains(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

func between(lo, hi float64) Bound { return Bound{Min: &lo, Max: &hi} }
func atLeast(lo float64) Bound     { return Bound{Min: &lo} }

var (
	unbounded   = Bound{}
	percent     = between(0, 100)
	degrees     = between(0, 360)
	nonNegative = atLeast(0)
)

// FieldRule binds a sample field, by wire name, to its bound.
type FieldRule struct {
	Field string
	Bound Bound
	Value func(*types.Sample) float64
}

// SampleRules returns the field rules applied to every sample.
func SampleRules() []FieldRule {
	return []FieldRule{
		{"lat", unbounded, func(s *types.Sample) float64 { return s.Lat }},
		{"lon", unbounded, func(s *types.Sample) float64 { return s.Lon }},
		{"temp", unbounded, func(s *types.Sample) float64 { return s.Temperature }},
		{"humidity", percent, func(s *types.Sample) float64 { return s.Humidity }},
		{"pressure", unbounded, func(s *types.Sample) float64 { return s.Pressure }},
		{"rain_intensity", nonNegative, func(s *types.Sample) float64 { return s.RainIntensity }},
		{"rain_intensity_max", nonNegative, func(s *types.Sample) float64 { return s.RainIntensityMax }},
		{"rain_accumulated", nonNegative, func(s *types.Sample) float64 { return s.RainAccumulated }},
		{"rain_duration", nonNegative, func(s *types.Sample) float64 { return s.RainDuration }},
		{"wind_speed_min", nonNegative, func(s *types.Sample) float64 { return s.WindSpeedMin }},
		{"wind_speed_max", nonNegative, func(s *types.Sample) float64 { return s.WindSpeedMax }},
		{"wind_speed_avg", nonNegative, func(s *types.Sample) float64 { return s.WindSpeedAvg }},
		{"wind_dir_min", degrees, func(s *types.Sample) float64 { return s.WindDirMin }},
		{"wind_dir_max", degrees, func(s *types.Sample) float64 { return s.WindDirMax }},
		{"wind_dir_avg", degrees, func(s *types.Sample) float64 { return s.WindDirAvg }},
		{"lux", nonNegative, func(s *types.Sample) float64 { return s.Lux }},
		{"temp_int", unbounded, func(s *types.Sample) float64 { return s.TempInternal }},
		{"hum_int", percent, func(s *types.Sample) float64 { return s.HumidityInternal }},
		{"heating_temp", unbounded, func(s *types.Sample) float64 { return s.HeatingTemp }},
		{"PM1", nonNegative, func(s *types.Sample) float64 { return s.PM1 }},
		{"PM2", nonNegative, func(s *types.Sample) float64 { return s.PM25 }},
		{"PM3", nonNegative, func(s *types.Sample) float64 { return s.PM10 }},
	}
}

var sampleRules = SampleRules()

// ValidateSample checks every bounded field of s and reports all
// violations at once. The returned error matches errors.ErrOutOfRange.
func ValidateSample(s *types.Sample) error {
	verr := errors.NewValidationErrors()
	for _, rule := range sampleRules {
		v := rule.Value(s)
		if !rule.Bound.Contains(v) {
			verr.Add(errors.NewOutOfRange(rule.Field, v, rule.Bound.String()))
		}
	}
	return verr.Err()
}

// =============================================================================
// Request Validation
// =============================================================================

// ValidateLimit checks that 1 <= n <= max. A non-positive max disables
// the upper bound.
func ValidateLimit(n, max int) error {
	if n < 1 {
		return fmt.Errorf("limit %d must be at least 1: %w", n, errors.ErrInvalidLimit)
	}
	if max > 0 && n > max {
		return fmt.Errorf("limit %d exceeds maximum %d: %w", n, max, errors.ErrInvalidLimit)
	}
	return nil
}

// =============================================================================
// Topic Validation
// =============================================================================

// MaxTopicLength is the MQTT limit on topic length in bytes.
const MaxTopicLength = 65535

// ValidateTopicFilter validates an MQTT topic filter used for subscribing.
// Wildcards are allowed: '+' must occupy a whole level and '#' must be the
// last level.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("'#' must occupy a whole topic level, got %q", level)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("'#' must be the last topic level")
			}
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("'+' must occupy a whole topic level, got %q", level)
		}
	}

	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(topic) > MaxTopicLength {
		return fmt.Errorf("topic too long: maximum %d bytes", MaxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("topic must be valid UTF-8")
	}

	for i, r := range topic {
		if r == 0 {
			return fmt.Errorf("topic cannot contain NUL at position %d", i)
		}
		if r < 32 || r == 127 {
			return fmt.Errorf("topic cannot contain control characters at position %d", i)
		}
	}

	return nil
}
