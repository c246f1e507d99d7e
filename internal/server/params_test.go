package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/buffer"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 100, false},
		{"limit=1", 1, false},
		{"limit=500", 500, false},
		{"limit=501", 0, true},
		{"limit=0", 0, true},
		{"limit=1.5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/readings?"+tt.query, nil)
			got, err := parseLimit(r, 100, 500)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-15T12:00:00Z", base},
		{"2024-03-15T14:00:00%2B02:00", base},
		{"2024-03-15T12:00:00", base},
		{"2024-03-15T12:00:00.250Z", base.Add(250 * time.Millisecond)},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/stats?start_time="+tt.raw, nil)
			got, err := parseTime(r, "start_time")
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	r := httptest.NewRequest("GET", "/stats", nil)
	got, err := parseTime(r, "start_time")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestParseFilter(t *testing.T) {
	r := httptest.NewRequest("GET", "/readings", nil)
	_, bounded, err := parseFilter(r)
	require.NoError(t, err)
	assert.False(t, bounded)

	r = httptest.NewRequest("GET", "/readings?end_time=2024-03-15T12:00:00Z", nil)
	filter, bounded, err := parseFilter(r)
	require.NoError(t, err)
	assert.True(t, bounded)
	assert.True(t, filter.Since.IsZero())
	assert.True(t, filter.Until.Equal(base))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 6 * time.Hour, false},
		{"PT5M", 5 * time.Minute, false},
		{"pt1h30m", 90 * time.Minute, false},
		{"P1D", 24 * time.Hour, false},
		{"15m", 15 * time.Minute, false},
		{"-5m", 0, true},
		{"PT0S", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/readings/recent?window="+tt.raw, nil)
			got, err := parseDuration(r, "window", 6*time.Hour)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWidth(t *testing.T) {
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		query  string
		filter buffer.SampleFilter
		want   time.Duration
	}{
		{"default", "", buffer.SampleFilter{}, 5 * time.Minute},
		{"duration", "width=PT15M", buffer.SampleFilter{}, 15 * time.Minute},
		{"named", "width=hourly", buffer.SampleFilter{}, time.Hour},
		{"auto from store span", "width=auto", buffer.SampleFilter{}, time.Hour},
		{"auto from filter", "width=auto", buffer.SampleFilter{Since: start, Until: start.Add(30 * time.Minute)}, time.Minute},
		{"auto open end", "width=AUTO", buffer.SampleFilter{Since: start.Add(47 * time.Hour)}, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/readings/buckets?"+tt.query, nil)
			got, err := parseWidth(r, tt.filter, start, start.Add(48*time.Hour), 5*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	r := httptest.NewRequest("GET", "/readings/buckets?width=fortnightly", nil)
	_, err := parseWidth(r, buffer.SampleFilter{}, start, start, 5*time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsRequest(err))
}

func TestParseFormat(t *testing.T) {
	r := httptest.NewRequest("GET", "/readings/export", nil)
	got, err := parseFormat(r, FormatJSON, FormatParquet)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	r = httptest.NewRequest("GET", "/readings/export?format=PARQUET", nil)
	got, err = parseFormat(r, FormatJSON, FormatParquet)
	require.NoError(t, err)
	assert.Equal(t, FormatParquet, got)

	r = httptest.NewRequest("GET", "/readings/export?format=protodelim", nil)
	_, err = parseFormat(r, FormatJSON, FormatParquet)
	require.Error(t, err)
}
