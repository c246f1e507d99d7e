// meteod is the weather station telemetry daemon.
//
// It subscribes to the station's MQTT topic, keeps a bounded window of
// recent samples in memory and serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/meteo/internal/config"
	"github.com/xtxerr/meteo/internal/ingestion"
	"github.com/xtxerr/meteo/internal/ingestion/backpressure"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/metrics"
	"github.com/xtxerr/meteo/internal/server"
	"github.com/xtxerr/meteo/internal/storage"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	"github.com/xtxerr/meteo/internal/storage/query"
	"github.com/xtxerr/meteo/internal/transport/mqtt"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "meteod: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// CLI flags
	cfgPath := flag.String("config", "meteod.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logFormat := flag.String("log-format", "", "log format: text or json (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logging.Init(cfg.LogLevel(), cfg.Log.Format)
	log := logging.Component("main")
	log.Info("meteod starting", "version", Version, "config", *cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// loadConfig reads path. A missing file falls back to the defaults, still
// subject to MQTT_* environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	slog.Info("no config file found, using defaults", "path", path)
	cfg = config.DefaultConfig()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// serve wires the store, pipeline, transport and HTTP server and runs them
// until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// =========================================================================
	// Store and query side
	// =========================================================================

	buf := buffer.New(cfg.Store.Capacity)
	engine := query.New(buf, query.Config{
		Percentiles:        cfg.Features.Percentiles,
		PercentileAccuracy: cfg.Features.PercentileAccuracy,
	})

	m := metrics.New()
	m.RegisterStore(buf)

	// =========================================================================
	// Ingestion
	// =========================================================================

	conn := ingestion.NewConnectivity()
	pipeline := ingestion.New(buf, conn, ingestion.Options{Observer: m})
	svc := storage.New(buf, engine, conn)

	provider, err := connectionProvider(cfg.MQTT)
	if err != nil {
		return err
	}

	transport, err := mqtt.New(mqtt.Config{
		Connection:     provider,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Topic:          cfg.MQTT.Topic,
		QoS:            1,
		KeepAlive:      cfg.MQTT.KeepAlive.Duration(),
		ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
		Backoff: mqtt.Backoff{
			Min: cfg.MQTT.Reconnect.Min.Duration(),
			Max: cfg.MQTT.Reconnect.Max.Duration(),
		},
	})
	if err != nil {
		return fmt.Errorf("create MQTT client: %w", err)
	}

	// =========================================================================
	// HTTP
	// =========================================================================

	srv, err := server.New(server.Config{
		Service:           svc,
		Metrics:           m,
		Listen:            cfg.Server.Listen,
		TLSCertFile:       cfg.Server.TLSCertFile,
		TLSKeyFile:        cfg.Server.TLSKeyFile,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Duration(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeout.Duration(),
		MaxLimit:          cfg.Server.MaxLimit,
		CORSOrigins:       cfg.Server.CORSOrigins,
		EnableClear:       cfg.Admin.EnableClear,
		AdminToken:        cfg.Admin.Token,
		Export:            cfg.ParquetOptions(),
		Version:           Version,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// =========================================================================
	// Run
	// =========================================================================

	log.Info("store ready",
		"capacity", buf.Cap(),
		"percentiles", cfg.Features.Percentiles)
	log.Info("connecting to broker",
		"broker", cfg.MQTT.Broker,
		"port", cfg.MQTT.Port,
		"tls", cfg.MQTT.TLS.Enabled,
		"client_id", transport.ClientID())

	events := make(chan ingestion.Event, cfg.MQTT.EventBuffer)

	backlog := backpressure.New(cfg.BackpressureConfig(), backpressure.ChannelUsage(events))
	backlog.SetOnLevelChange(func(old, new backpressure.Level, usage float64) {
		if new > old {
			log.Warn("event queue backing up", "level", new, "usage", usage)
			return
		}
		log.Info("event queue recovering", "level", new, "usage", usage)
	})
	m.RegisterBacklog(backlog)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.Run(ctx, events)
	})
	g.Go(func() error {
		if err := pipeline.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Run(ctx)
	})
	g.Go(func() error {
		backlog.Run(ctx, cfg.Backlog.CheckInterval.Duration())
		return nil
	})

	err = g.Wait()

	st := pipeline.Stats()
	log.Info("meteod stopped",
		"received", st.Received,
		"stored", st.Stored,
		"discarded", st.Discarded(),
		"mqtt_connects", transport.Stats().Connects,
		"peak_queue_usage", backlog.Stats().PeakUsage)
	return err
}

func connectionProvider(cfg config.MQTTConfig) (mqtt.ConnectionProvider, error) {
	if !cfg.TLS.Enabled {
		return mqtt.TCPConnection(cfg.Broker, cfg.Port), nil
	}

	tlsCfg, err := mqtt.NewTLSConfig(cfg.Broker, cfg.TLS.CAFile, cfg.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("MQTT TLS: %w", err)
	}
	return mqtt.TLSConnection(cfg.Broker, cfg.Port, tlsCfg), nil
}
