// Package mqtt is the broker transport. It owns one MQTT v5 session at a
// time, reconnects with exponential backoff, and hands connect, disconnect
// and message notifications to the ingestion pipeline as events, in
// arrival order, on a single channel.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	defaults "github.com/xtxerr/meteo/config"
	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/ingestion"
	"github.com/xtxerr/meteo/internal/logging"
)

// Config configures a Client.
type Config struct {
	// Connection dials the broker. Required.
	Connection ConnectionProvider

	// ClientID defaults to meteod-<uuid>.
	ClientID string

	Username string
	Password string

	// Topic is the subscription filter.
	Topic string

	// QoS of the subscription.
	QoS byte

	KeepAlive      time.Duration
	ConnectTimeout time.Duration

	Backoff Backoff

	Logger *slog.Logger
}

// Client forwards broker events to the pipeline.
type Client struct {
	cfg Config
	log *slog.Logger

	connects atomic.Int64
	failures atomic.Int64
	messages atomic.Int64
}

// Stats holds transport counters.
type Stats struct {
	Connects int64
	Failures int64
	Messages int64
}

// NewClientID returns meteod-<uuid>.
func NewClientID() string {
	return defaults.DefaultMQTTClientIDPrefix + uuid.NewString()
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Connection == nil {
		return nil, errors.NewValidation("mqtt.connection", "no connection provider")
	}
	if cfg.Topic == "" {
		return nil, errors.NewValidation("mqtt.topic", "cannot be empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = NewClientID()
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaults.DefaultMQTTKeepAlive
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.DefaultMQTTConnectTimeout
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}

	log := cfg.Logger
	if log == nil {
		log = logging.Component("mqtt")
	}

	return &Client{
		cfg: cfg,
		log: log.With("client_id", cfg.ClientID, "topic", cfg.Topic),
	}, nil
}

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string {
	return c.cfg.ClientID
}

// Stats returns transport counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects: c.connects.Load(),
		Failures: c.failures.Load(),
		Messages: c.messages.Load(),
	}
}

// Run connects, subscribes and forwards events until ctx is done,
// reconnecting with backoff whenever the session is lost. It always
// returns nil once ctx is cancelled.
func (c *Client) Run(ctx context.Context, events chan<- ingestion.Event) error {
	var attempt uint64

	for {
		established, err := c.session(ctx, events)
		if ctx.Err() != nil {
			return nil
		}

		if established {
			attempt = 0
		}
		attempt++

		delay := c.cfg.Backoff.Interval(attempt)
		level := slog.LevelWarn
		if err != nil && !errors.IsRetriable(err) {
			level = slog.LevelError
		}
		c.log.Log(ctx, level, "broker session ended, reconnecting",
			"error", err,
			"attempt", attempt,
			"delay", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// session runs one connection from dial to loss. established reports
// whether the broker accepted the connection.
func (c *Client) session(ctx context.Context, events chan<- ingestion.Event) (established bool, err error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Connection(connectCtx)
	if err != nil {
		c.failures.Add(1)
		c.emit(ctx, events, ingestion.Disconnected(err))
		return false, err
	}

	lost := make(chan error, 1)
	notify := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: c.cfg.ClientID,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.messages.Add(1)
				c.emit(ctx, events, ingestion.Message(pr.Packet.Topic, pr.Packet.Payload))
				return true, nil
			},
		},
		OnClientError: func(err error) {
			notify(fmt.Errorf("client error: %v: %w", err, errors.ErrNotConnected))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			notify(fmt.Errorf("server disconnect (reason 0x%02x): %w", d.ReasonCode, errors.ErrNotConnected))
		},
	})

	connack, err := client.Connect(connectCtx, c.connectPacket())
	if err != nil {
		conn.Close()
		c.failures.Add(1)
		if connack != nil {
			err = fmt.Errorf("connack reason 0x%02x: %v: %w", connack.ReasonCode, err, errors.ErrConnectionFailed)
		} else {
			err = fmt.Errorf("connect: %v: %w", err, errors.ErrConnectionFailed)
		}
		c.emit(ctx, events, ingestion.Disconnected(err))
		return false, err
	}

	c.connects.Add(1)
	c.log.Info("connected to broker")
	c.emit(ctx, events, ingestion.Connected())

	if err := c.subscribe(connectCtx, client); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		c.emit(ctx, events, ingestion.Disconnected(err))
		return true, err
	}
	c.log.Info("subscribed", "qos", c.cfg.QoS)

	select {
	case <-ctx.Done():
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		c.log.Info("disconnected from broker")
		return true, nil
	case err := <-lost:
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		c.emit(ctx, events, ingestion.Disconnected(err))
		return true, err
	}
}

func (c *Client) connectPacket() *paho.Connect {
	return &paho.Connect{
		ClientID:     c.cfg.ClientID,
		CleanStart:   true,
		Username:     c.cfg.Username,
		UsernameFlag: c.cfg.Username != "",
		Password:     []byte(c.cfg.Password),
		PasswordFlag: c.cfg.Password != "",
		KeepAlive:    uint16(c.cfg.KeepAlive.Seconds()),
	}
}

func (c *Client) subscribe(ctx context.Context, client *paho.Client) error {
	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: c.cfg.Topic, QoS: c.cfg.QoS},
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %v: %w", c.cfg.Topic, err, errors.ErrSubscribeFailed)
	}
	for _, reason := range suback.Reasons {
		if reason >= 0x80 {
			return fmt.Errorf("subscribe %s: reason 0x%02x: %w", c.cfg.Topic, reason, errors.ErrSubscribeFailed)
		}
	}
	return nil
}

// emit delivers ev unless ctx is done first.
func (c *Client) emit(ctx context.Context, events chan<- ingestion.Event, ev ingestion.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
