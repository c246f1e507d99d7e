package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"

	"github.com/xtxerr/meteo/internal/client"
	"github.com/xtxerr/meteo/internal/storage/parquet"
	"github.com/xtxerr/meteo/internal/storage/types"
	"github.com/xtxerr/meteo/internal/wire"
)

type command struct {
	name string
	args string
	help string
	run  func(s *shell, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "info", help: "service name and version", run: (*shell).info},
		{name: "health", help: "broker connectivity and store fill level", run: (*shell).health},
		{name: "latest", help: "newest reading", run: (*shell).latest},
		{name: "readings", args: "[limit] [start] [end]", help: "newest readings, or a time range", run: (*shell).readings},
		{name: "recent", args: "[window]", help: "readings within a window such as PT6H or 30m", run: (*shell).recent},
		{name: "count", help: "number of stored readings", run: (*shell).count},
		{name: "stats", args: "[start] [end]", help: "aggregate statistics", run: (*shell).stats},
		{name: "buckets", args: "[width] [start] [end]", help: "statistics per time bucket", run: (*shell).buckets},
		{name: "export", args: "<json|parquet|protodelim> <file>", help: "download readings to a file", run: (*shell).export},
		{name: "inspect", args: "<file>", help: "summarize a downloaded parquet or protodelim export", run: (*shell).inspect},
		{name: "clear", help: "delete every stored reading (admin)", run: (*shell).clear},
		{name: "help", help: "show this list", run: (*shell).help},
	}
}

func printHelp(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", c.name, c.args, c.help)
	}
	fmt.Fprintf(tw, "  exit\tleave the prompt\n")
	tw.Flush()
}

// shell runs commands against one client.
type shell struct {
	client *client.Client
	out    io.Writer
}

// executor is the prompt callback for one input line.
func (s *shell) executor(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || isExit(line) {
		return
	}
	if err := s.exec(context.Background(), args); err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
}

func (s *shell) completer(d prompt.Document) []prompt.Suggest {
	before := d.TextBeforeCursor()
	if strings.Contains(before, " ") {
		fields := strings.Fields(before)
		if len(fields) >= 1 && fields[0] == "export" && len(fields) <= 2 {
			return prompt.FilterHasPrefix([]prompt.Suggest{
				{Text: "json"}, {Text: "parquet"}, {Text: "protodelim"},
			}, d.GetWordBeforeCursor(), true)
		}
		return nil
	}

	suggestions := make([]prompt.Suggest, 0, len(commands)+1)
	for _, c := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.help})
	}
	suggestions = append(suggestions, prompt.Suggest{Text: "exit", Description: "leave the prompt"})
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func (s *shell) exec(ctx context.Context, args []string) error {
	name := strings.ToLower(args[0])
	for _, c := range commands {
		if c.name == name {
			return c.run(s, ctx, args[1:])
		}
	}
	return fmt.Errorf("unknown command %q (try 'help')", args[0])
}

// =============================================================================
// Commands
// =============================================================================

func (s *shell) info(ctx context.Context, _ []string) error {
	info, err := s.client.Info(ctx)
	if err != nil {
		return err
	}
	return s.printJSON(info)
}

func (s *shell) health(ctx context.Context, _ []string) error {
	h, err := s.client.Health(ctx)
	if err != nil {
		return err
	}
	return s.printJSON(h)
}

func (s *shell) latest(ctx context.Context, _ []string) error {
	sample, err := s.client.Latest(ctx)
	if errors.Is(err, client.ErrNotFound) {
		fmt.Fprintln(s.out, "no readings available")
		return nil
	}
	if err != nil {
		return err
	}
	return s.printJSON(sample)
}

func (s *shell) readings(ctx context.Context, args []string) error {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("limit: %w", err)
		}
		limit = n
		args = args[1:]
	}

	r, err := parseRange(args)
	if err != nil {
		return err
	}

	samples, err := s.client.Readings(ctx, limit, r)
	if err != nil {
		return err
	}
	s.printSamples(samples)
	return nil
}

func (s *shell) recent(ctx context.Context, args []string) error {
	var window time.Duration
	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return err
		}
		window = d
	}

	samples, err := s.client.Recent(ctx, window)
	if err != nil {
		return err
	}
	s.printSamples(samples)
	return nil
}

func (s *shell) count(ctx context.Context, _ []string) error {
	n, err := s.client.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, n)
	return nil
}

func (s *shell) stats(ctx context.Context, args []string) error {
	r, err := parseRange(args)
	if err != nil {
		return err
	}
	stats, err := s.client.Stats(ctx, r)
	if err != nil {
		return err
	}
	return s.printJSON(stats)
}

func (s *shell) buckets(ctx context.Context, args []string) error {
	var width time.Duration
	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return err
		}
		width = d
		args = args[1:]
	}

	r, err := parseRange(args)
	if err != nil {
		return err
	}

	buckets, err := s.client.Buckets(ctx, width, r)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tCOUNT\tAVG TEMP\tMIN\tMAX\tRAIN")
	for _, b := range buckets {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			b.BucketStart.Format(time.RFC3339), b.TotalReadings,
			optional(b.AvgTemp), optional(b.MinTemp), optional(b.MaxTemp), optional(b.TotalRain))
	}
	return tw.Flush()
}

func (s *shell) export(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: export <json|parquet|protodelim> <file>")
	}
	r, err := parseRange(args[2:])
	if err != nil {
		return err
	}

	f, err := os.Create(args[1])
	if err != nil {
		return err
	}

	n, err := s.client.Export(ctx, args[0], r, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(args[1])
		return err
	}

	fmt.Fprintf(s.out, "wrote %d bytes to %s\n", n, args[1])
	return nil
}

// inspect reads a local export back and prints its span.
func (s *shell) inspect(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: inspect <file>")
	}
	path := args[0]

	var samples []types.Sample
	var err error
	if strings.HasSuffix(path, ".parquet") {
		samples, err = parquet.ReadSamplesFile(path)
	} else {
		samples, err = readProtodelimFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	fmt.Fprintf(s.out, "%d readings\n", len(samples))
	if len(samples) > 0 {
		fmt.Fprintf(s.out, "first %s\nlast  %s\n",
			samples[0].ReceivedAt.Format(time.RFC3339Nano),
			samples[len(samples)-1].ReceivedAt.Format(time.RFC3339Nano))
	}
	return nil
}

func readProtodelimFile(path string) ([]types.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return wire.NewReader(f).ReadAll()
}

func (s *shell) clear(ctx context.Context, _ []string) error {
	if err := s.client.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "all readings cleared")
	return nil
}

func (s *shell) help(context.Context, []string) error {
	printHelp(s.out)
	return nil
}

// =============================================================================
// Output and argument helpers
// =============================================================================

func (s *shell) printJSON(v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (s *shell) printSamples(samples []types.Sample) {
	if len(samples) == 0 {
		fmt.Fprintln(s.out, "no readings")
		return
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTEMP\tHUM\tPRESS\tWIND\tRAIN")
	for _, r := range samples {
		fmt.Fprintf(tw, "%s\t%.1f\t%.0f\t%.1f\t%.1f\t%.1f\n",
			r.ReceivedAt.Format(time.RFC3339), r.Temperature, r.Humidity,
			r.Pressure, r.WindSpeedAvg, r.RainAccumulated)
	}
	tw.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

// parseRange reads optional start and end instants. "-" leaves a bound open.
func parseRange(args []string) (client.Range, error) {
	var r client.Range
	if len(args) > 2 {
		return r, errors.New("expected at most a start and an end time")
	}
	for i, arg := range args {
		if arg == "-" {
			continue
		}
		t, err := iso8601.ParseString(arg)
		if err != nil {
			return r, fmt.Errorf("not an ISO 8601 time: %s", arg)
		}
		if i == 0 {
			r.Start = t
		} else {
			r.End = t
		}
	}
	return r, nil
}

// parseDuration accepts ISO 8601 (PT5M) and Go (5m) durations.
func parseDuration(s string) (time.Duration, error) {
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		d, err := duration.Parse(strings.ToUpper(s))
		if err != nil {
			return 0, fmt.Errorf("not an ISO 8601 duration: %s", s)
		}
		return d.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}
