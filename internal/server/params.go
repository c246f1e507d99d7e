package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/types"
	"github.com/xtxerr/meteo/internal/validation"
)

// Export formats.
const (
	FormatJSON       = "json"
	FormatParquet    = "parquet"
	FormatProtodelim = "protodelim"
)

// parseLimit reads the limit parameter. Missing means def.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidParameter("limit", "not an integer: "+raw)
	}
	if err := validation.ValidateLimit(n, max); err != nil {
		return 0, err
	}
	return n, nil
}

// parseTime reads an ISO 8601 instant. Missing means the zero time.
// Instants without a zone are taken as UTC.
func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := iso8601.ParseString(raw)
	if err != nil {
		return time.Time{}, errors.NewInvalidParameter(name, "not an ISO 8601 time: "+raw)
	}
	return t.UTC(), nil
}

// parseFilter reads start_time and end_time. bounded reports whether
// either was given.
func parseFilter(r *http.Request) (filter buffer.SampleFilter, bounded bool, err error) {
	if filter.Since, err = parseTime(r, "start_time"); err != nil {
		return filter, false, err
	}
	if filter.Until, err = parseTime(r, "end_time"); err != nil {
		return filter, false, err
	}
	return filter, !filter.IsOpen(), nil
}

// parseDuration reads a positive ISO 8601 duration such as PT5M. Go
// durations such as 5m are accepted too. Missing means def.
func parseDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	var d time.Duration
	if strings.HasPrefix(strings.ToUpper(raw), "P") {
		iso, err := duration.Parse(strings.ToUpper(raw))
		if err != nil {
			return 0, errors.NewInvalidParameter(name, "not an ISO 8601 duration: "+raw)
		}
		d = iso.ToTimeDuration()
	} else {
		var err error
		if d, err = time.ParseDuration(raw); err != nil {
			return 0, errors.NewInvalidParameter(name, "not a duration: "+raw)
		}
	}

	if d <= 0 {
		return 0, errors.NewInvalidParameter(name, "must be positive")
	}
	return d, nil
}

// parseWidth reads the bucket width. Besides durations it accepts a
// named resolution (1min, 5min, hourly, daily) and "auto", which picks a
// resolution from the span of filter. Open bounds of an auto span fall
// back to oldest and newest.
func parseWidth(r *http.Request, filter buffer.SampleFilter, oldest, newest time.Time, def time.Duration) (time.Duration, error) {
	raw := strings.ToLower(r.URL.Query().Get("width"))
	if raw == "auto" {
		start, end := filter.Since, filter.Until
		if start.IsZero() {
			start = oldest
		}
		if end.IsZero() {
			end = newest
		}
		return types.SelectResolutionForRange(start, end).Duration(), nil
	}
	if res, err := types.ParseResolution(raw); err == nil {
		return res.Duration(), nil
	}
	return parseDuration(r, "width", def)
}

// parseFormat reads the format parameter. Missing means json.
func parseFormat(r *http.Request, allowed ...string) (string, error) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		return FormatJSON, nil
	}
	for _, a := range allowed {
		if format == a {
			return format, nil
		}
	}
	return "", errors.NewInvalidParameter("format", "must be one of: "+strings.Join(allowed, ", "))
}
