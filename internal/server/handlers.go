package server

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/meteo/config"
	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/parquet"
	"github.com/xtxerr/meteo/internal/storage/types"
	"github.com/xtxerr/meteo/internal/wire"
)

// =============================================================================
// Root and health
// =============================================================================

type rootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Health  string `json:"health"`
	Metrics string `json:"metrics,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	resp := rootResponse{
		Name:    "meteo weather station API",
		Version: s.cfg.Version,
		Status:  "online",
		Health:  "/health",
	}
	if s.metrics != nil {
		resp.Metrics = "/metrics"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.FetchHealth())
}

// =============================================================================
// Readings
// =============================================================================

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	samples, err := s.svc.FetchLatest(1)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(samples) == 0 {
		s.sendError(w, http.StatusNotFound, "no readings available")
		return
	}
	s.writeJSON(w, http.StatusOK, samples[0])
}

// handleReadings serves a time range when either bound is given, else the
// newest limit samples.
func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, config.DefaultReadingsLimit, s.cfg.MaxLimit)
	if err != nil {
		s.fail(w, err)
		return
	}

	filter, bounded, err := parseFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	if bounded {
		s.writeJSON(w, http.StatusOK, s.svc.FetchRange(filter))
		return
	}

	samples, err := s.svc.FetchLatest(limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, samples)
}

// handleWindow serves the samples received within d of now.
func (s *Server) handleWindow(d time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.svc.FetchRange(s.window(d)))
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	d, err := parseDuration(r, "window", config.DefaultRecentWindow)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.FetchRange(s.window(d)))
}

func (s *Server) window(d time.Duration) buffer.SampleFilter {
	now := s.cfg.Clock().UTC()
	return buffer.SampleFilter{Since: now.Add(-d), Until: now}
}

type countResponse struct {
	TotalReadings int `json:"total_readings"`
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, countResponse{TotalReadings: s.svc.FetchCount()})
}

// handleExport downloads the stored samples, optionally ranged.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r, FormatJSON, FormatParquet, FormatProtodelim)
	if err != nil {
		s.fail(w, err)
		return
	}

	filter, _, err := parseFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	samples := s.svc.FetchRange(filter)
	name := "readings-" + s.cfg.Clock().UTC().Format("20060102T150405Z")

	switch format {
	case FormatJSON:
		w.Header().Set("Content-Disposition", attachment(name+".json"))
		s.writeJSON(w, http.StatusOK, samples)

	case FormatParquet:
		var buf bytes.Buffer
		if err := parquet.WriteSamples(&buf, samples, s.cfg.Export); err != nil {
			s.fail(w, errors.Wrap(err, "write parquet"))
			return
		}
		s.sendBytes(w, parquet.ContentType, name+".parquet", buf.Bytes())

	case FormatProtodelim:
		var buf bytes.Buffer
		if _, err := wire.NewWriter(&buf).WriteAll(samples); err != nil {
			s.fail(w, errors.Wrap(err, "write protodelim"))
			return
		}
		s.sendBytes(w, wire.ContentType, name+".pb", buf.Bytes())
	}
}

// sendBytes writes a fully encoded download. Encoding happens before the
// first byte is sent so failures can still become a 500.
func (s *Server) sendBytes(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", attachment(filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("writing download", "file", filename, "error", err)
	}
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}

// =============================================================================
// Statistics
// =============================================================================

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, _, err := parseFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.FetchStats(filter))
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	filter, _, err := parseFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	oldest, newest := s.svc.Buffer().TimeRange()
	width, err := parseWidth(r, filter, oldest, newest, config.DefaultBucketWidth)
	if err != nil {
		s.fail(w, err)
		return
	}

	format, err := parseFormat(r, FormatJSON, FormatParquet)
	if err != nil {
		s.fail(w, err)
		return
	}

	buckets, err := s.svc.FetchBuckets(filter, width)
	if err != nil {
		s.fail(w, err)
		return
	}

	if format == FormatParquet {
		var buf bytes.Buffer
		if err := parquet.WriteBuckets(&buf, buckets, s.cfg.Export); err != nil {
			s.fail(w, errors.Wrap(err, "write parquet"))
			return
		}
		s.sendBytes(w, parquet.ContentType, "buckets.parquet", buf.Bytes())
		return
	}

	s.writeJSON(w, http.StatusOK, bucketsResponse{Width: width.String(), Buckets: buckets})
}

type bucketsResponse struct {
	Width   string                   `json:"width"`
	Buckets []types.BucketStatistics `json:"buckets"`
}

// =============================================================================
// Admin
// =============================================================================

type messageResponse struct {
	Message string `json:"message"`
}

// handleClear empties the store. It is disabled unless configured and,
// when an admin token is set, requires it as a bearer token.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableClear {
		s.fail(w, fmt.Errorf("clearing readings: %w", errors.ErrDisabled))
		return
	}

	if s.cfg.AdminToken != "" {
		ip := extractIP(r.RemoteAddr)
		if s.authRateLimiter.IsBlocked(ip) {
			s.log.Warn("blocked due to too many failed auth attempts", "remote", r.RemoteAddr)
			s.sendError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}

		if !s.validToken(r) {
			s.authRateLimiter.RecordFailure(ip)
			s.log.Warn("admin auth failed", "remote", r.RemoteAddr,
				"failure_count", s.authRateLimiter.FailureCount(ip))
			w.Header().Set("WWW-Authenticate", `Bearer realm="meteo"`)
			s.fail(w, fmt.Errorf("admin token: %w", errors.ErrNotAuthorized))
			return
		}
		s.authRateLimiter.Reset(ip)
	}

	removed := s.svc.FetchCount()
	s.svc.ClearAll()
	s.log.Warn("all readings cleared", "removed", removed, "remote", r.RemoteAddr)

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "all readings cleared"})
}

func (s *Server) validToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) == 1
}
