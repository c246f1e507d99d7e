package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/meteo/internal/client"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/server"
	"github.com/xtxerr/meteo/internal/storage"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/query"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

var base = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

type upConn struct{}

func (upConn) Connected() bool { return true }

func newTestShell(t *testing.T, temps ...float64) (*shell, *bytes.Buffer) {
	t.Helper()

	buf := buffer.New(50)
	for _, s := range testutil.SampleSeries(base, time.Minute, temps...) {
		buf.Write(s)
	}

	srv, err := server.New(server.Config{
		Service: storage.New(buf, query.New(buf, query.Config{}), upConn{}),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := client.New(&client.Config{Addr: ts.URL})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var out bytes.Buffer
	return &shell{client: c, out: &out}, &out
}

func TestShell_Commands(t *testing.T) {
	sh, out := newTestShell(t, 10, 20, 30)
	ctx := context.Background()

	require.NoError(t, sh.exec(ctx, []string{"count"}))
	assert.Equal(t, "3\n", out.String())

	out.Reset()
	require.NoError(t, sh.exec(ctx, []string{"readings", "2"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 3, out.String())
	assert.Contains(t, lines[0], "TEMP")

	out.Reset()
	require.NoError(t, sh.exec(ctx, []string{"stats"}))
	assert.Contains(t, out.String(), `"total_readings": 3`)

	out.Reset()
	require.NoError(t, sh.exec(ctx, []string{"buckets", "PT2M"}))
	assert.Contains(t, out.String(), "2024-03-15T12:02:00Z")

	out.Reset()
	require.NoError(t, sh.exec(ctx, []string{"HEALTH"}))
	assert.Contains(t, out.String(), `"mqtt_connected": true`)

	assert.Error(t, sh.exec(ctx, []string{"frobnicate"}))
	assert.Error(t, sh.exec(ctx, []string{"readings", "many"}))
	assert.Error(t, sh.exec(ctx, []string{"stats", "yesterday"}))
}

func TestShell_LatestEmpty(t *testing.T) {
	sh, out := newTestShell(t)

	require.NoError(t, sh.exec(context.Background(), []string{"latest"}))
	assert.Equal(t, "no readings available\n", out.String())
}

func TestShell_ExportAndInspect(t *testing.T) {
	sh, out := newTestShell(t, 1, 2, 3, 4)
	ctx := context.Background()
	dir := t.TempDir()

	for _, format := range []string{"parquet", "protodelim"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "readings."+format)

			out.Reset()
			require.NoError(t, sh.exec(ctx, []string{"export", format, path, "2024-03-15T12:01:00Z"}))
			assert.Contains(t, out.String(), "wrote")

			out.Reset()
			require.NoError(t, sh.exec(ctx, []string{"inspect", path}))
			assert.Contains(t, out.String(), "3 readings")
			assert.Contains(t, out.String(), "2024-03-15T12:01:00Z")
		})
	}
}

func TestShell_ClearDisabled(t *testing.T) {
	sh, _ := newTestShell(t, 1)

	err := sh.exec(context.Background(), []string{"clear"})
	assert.ErrorIs(t, err, client.ErrAuthFailed)
}

func TestShell_Completer(t *testing.T) {
	sh := &shell{}

	doc := func(text string) prompt.Document {
		buf := prompt.NewBuffer()
		buf.InsertText(text, false, true)
		return *buf.Document()
	}

	got := sh.completer(doc("st"))
	require.Len(t, got, 1)
	assert.Equal(t, "stats", got[0].Text)

	got = sh.completer(doc("export pa"))
	require.Len(t, got, 1)
	assert.Equal(t, "parquet", got[0].Text)

	assert.Empty(t, sh.completer(doc("count ")))
}

func TestParseRange(t *testing.T) {
	r, err := parseRange([]string{"-", "2024-03-15T12:00:00Z"})
	require.NoError(t, err)
	assert.True(t, r.Start.IsZero())
	assert.True(t, r.End.Equal(base))

	_, err = parseRange([]string{"a", "b", "c"})
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("PT90M")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = parseDuration("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = parseDuration("later")
	assert.Error(t, err)
}

func TestIsExit(t *testing.T) {
	assert.True(t, isExit("exit"))
	assert.True(t, isExit("  quit "))
	assert.False(t, isExit("exits"))
}
