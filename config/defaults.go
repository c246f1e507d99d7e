// Package config provides configuration defaults and utilities
// for the meteo daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// HTTP Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen or flag -listen
	DefaultListenAddress = "0.0.0.0:8000"

	// DefaultReadHeaderTimeout bounds how long a client may take to send headers.
	// Override via config: server.read_header_timeout
	DefaultReadHeaderTimeout = 5 * time.Second

	// DefaultShutdownTimeout is how long in-flight requests get during shutdown.
	// Override via config: server.shutdown_timeout
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultReadingsLimit is the number of readings returned when the
	// request names no limit.
	DefaultReadingsLimit = 100

	// DefaultMaxLimit is the largest limit a request may ask for.
	// Override via config: server.max_limit
	DefaultMaxLimit = 1000

	// DefaultRecentWindow is the window of /readings/recent without a
	// window parameter.
	DefaultRecentWindow = 6 * time.Hour

	// DefaultBucketWidth is the width of /stats/buckets without a width
	// parameter.
	DefaultBucketWidth = 5 * time.Minute
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultStoreCapacity is the number of samples retained in memory.
	// Override via config: store.capacity
	DefaultStoreCapacity = 1000

	// DefaultPercentileAccuracy is the relative accuracy of temperature
	// percentiles. Override via config: features.percentile_accuracy
	DefaultPercentileAccuracy = 0.01
)

// =============================================================================
// MQTT Defaults
// =============================================================================

const (
	// DefaultMQTTPort is the TLS port used by the station's broker.
	// Override via config: mqtt.port or MQTT_PORT
	DefaultMQTTPort = 8883

	// DefaultMQTTTopic is the telemetry topic.
	// Override via config: mqtt.topic or MQTT_TOPIC
	DefaultMQTTTopic = "weather/station"

	// DefaultMQTTKeepAlive is the MQTT keep-alive interval.
	// Override via config: mqtt.keep_alive
	DefaultMQTTKeepAlive = 60 * time.Second

	// DefaultMQTTConnectTimeout bounds one connect + subscribe attempt.
	// Override via config: mqtt.connect_timeout
	DefaultMQTTConnectTimeout = 10 * time.Second

	// DefaultMQTTClientIDPrefix is prepended to a random UUID.
	// Override via config: mqtt.client_id (replaces the whole id)
	DefaultMQTTClientIDPrefix = "meteod-"

	// DefaultReconnectMin is the first reconnect delay.
	// Override via config: mqtt.reconnect.min
	DefaultReconnectMin = 125 * time.Millisecond

	// DefaultReconnectMax caps the reconnect delay.
	// Override via config: mqtt.reconnect.max
	DefaultReconnectMax = 30 * time.Second

	// DefaultEventBufferSize is the capacity of the transport to pipeline
	// event channel.
	DefaultEventBufferSize = 256

	// DefaultBacklogCheckInterval is how often the event queue fill level
	// is sampled.
	DefaultBacklogCheckInterval = time.Second
)

// =============================================================================
// Export Defaults
// =============================================================================

const (
	// DefaultMaxMessageSize limits one length-delimited export frame.
	DefaultMaxMessageSize = 1024 * 1024
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeoutSec is how long to wait for components to stop.
	// Override via config: server.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)
