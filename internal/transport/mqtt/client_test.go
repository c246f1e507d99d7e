package mqtt

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/meteo/internal/errors"
	"github.com/xtxerr/meteo/internal/ingestion"
	"github.com/xtxerr/meteo/internal/logging"
	"github.com/xtxerr/meteo/internal/storage/buffer"
	testutil "github.com/xtxerr/meteo/internal/testing"
)

const (
	testUser     = "station"
	testPassword = "pineapple"
	testTopic    = "weather/station"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func startBroker(t *testing.T, port int) *mochi.Server {
	t.Helper()

	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{
				Username: auth.RString(testUser),
				Password: auth.RString(testPassword),
				Allow:    true,
			},
		},
	}

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))

	tcp := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
	})
	require.NoError(t, server.AddListener(tcp))
	require.NoError(t, server.Serve())

	t.Cleanup(func() { _ = server.Close() })
	return server
}

func newTestClient(t *testing.T, port int, password string) *Client {
	t.Helper()

	c, err := New(Config{
		Connection:     TCPConnection("127.0.0.1", port),
		Username:       testUser,
		Password:       password,
		Topic:          testTopic,
		QoS:            1,
		ConnectTimeout: 2 * time.Second,
		Backoff:        Backoff{Min: 10 * time.Millisecond, Max: 50 * time.Millisecond},
		Logger:         logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func nextEvent(t *testing.T, events <-chan ingestion.Event, kind ingestion.EventKind) ingestion.Event {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return ingestion.Event{}
		}
	}
}

// publishUntilReceived publishes payload until a message event arrives,
// which covers the gap between the connected event and the subscription.
func publishUntilReceived(t *testing.T, server *mochi.Server, events <-chan ingestion.Event, payload []byte) ingestion.Event {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, server.Publish(testTopic, payload, false, 1))

		select {
		case ev := <-events:
			if ev.Kind == ingestion.EventMessage {
				return ev
			}
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no message received")
	return ingestion.Event{}
}

func runClient(t *testing.T, c *Client, events chan ingestion.Event) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, events) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("client did not stop")
		}
	})
	return cancel
}

func TestNew(t *testing.T) {
	_, err := New(Config{Topic: testTopic})
	require.True(t, errors.IsValidation(err))

	_, err = New(Config{Connection: TCPConnection("localhost", 1883)})
	require.True(t, errors.IsValidation(err))

	c, err := New(Config{Connection: TCPConnection("localhost", 1883), Topic: testTopic})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(c.ClientID(), "meteod-"))

	c2, err := New(Config{Connection: TCPConnection("localhost", 1883), Topic: testTopic, ClientID: "fixed"})
	require.NoError(t, err)
	require.Equal(t, "fixed", c2.ClientID())
}

func TestNewClientIDUnique(t *testing.T) {
	require.NotEqual(t, NewClientID(), NewClientID())
}

func TestClientForwardsMessages(t *testing.T) {
	port := freePort(t)
	server := startBroker(t, port)

	c := newTestClient(t, port, testPassword)
	events := make(chan ingestion.Event, 64)
	runClient(t, c, events)

	nextEvent(t, events, ingestion.EventConnected)

	ev := publishUntilReceived(t, server, events, []byte(`{"temp": 21.5}`))
	require.Equal(t, testTopic, ev.Topic)
	require.JSONEq(t, `{"temp": 21.5}`, string(ev.Payload))

	require.Equal(t, int64(1), c.Stats().Connects)
	require.GreaterOrEqual(t, c.Stats().Messages, int64(1))
}

func TestClientRejectedCredentials(t *testing.T) {
	port := freePort(t)
	startBroker(t, port)

	c := newTestClient(t, port, "wrong")
	events := make(chan ingestion.Event, 64)
	runClient(t, c, events)

	first := nextEvent(t, events, ingestion.EventDisconnected)
	require.ErrorIs(t, first.Err, errors.ErrConnectionFailed)

	// Retries continue with backoff.
	nextEvent(t, events, ingestion.EventDisconnected)
	require.GreaterOrEqual(t, c.Stats().Failures, int64(2))
	require.Zero(t, c.Stats().Connects)
}

func TestClientReconnectsAfterBrokerRestart(t *testing.T) {
	port := freePort(t)
	server := startBroker(t, port)

	c := newTestClient(t, port, testPassword)
	events := make(chan ingestion.Event, 256)
	runClient(t, c, events)

	nextEvent(t, events, ingestion.EventConnected)

	require.NoError(t, server.Close())
	lost := nextEvent(t, events, ingestion.EventDisconnected)
	require.Error(t, lost.Err)

	server = startBroker(t, port)
	nextEvent(t, events, ingestion.EventConnected)
	publishUntilReceived(t, server, events, []byte(`{}`))

	require.GreaterOrEqual(t, c.Stats().Connects, int64(2))
}

func TestClientStopsWhileBrokerDown(t *testing.T) {
	port := freePort(t)

	c := newTestClient(t, port, testPassword)
	events := make(chan ingestion.Event, 64)
	cancel := runClient(t, c, events)

	ev := nextEvent(t, events, ingestion.EventDisconnected)
	require.ErrorIs(t, ev.Err, errors.ErrConnectionFailed)

	cancel()
}

func TestEndToEndIntoStore(t *testing.T) {
	port := freePort(t)
	server := startBroker(t, port)

	store := buffer.New(10)
	pipeline := ingestion.New(store, nil, ingestion.Options{Logger: logging.Discard()})

	c := newTestClient(t, port, testPassword)
	events := make(chan ingestion.Event, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- pipeline.Run(ctx, events) }()
	go func() { _ = c.Run(ctx, events) }()

	require.Eventually(t, pipeline.Connectivity().Connected, 5*time.Second, 10*time.Millisecond)

	valid := testutil.PayloadJSON(t, map[string]any{"temp": 18.25})
	invalid := testutil.PayloadJSON(t, map[string]any{"humidity": 140.0})

	require.Eventually(t, func() bool {
		_ = server.Publish(testTopic, valid, false, 1)
		return store.Len() > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, server.Publish(testTopic, invalid, false, 1))
	require.Eventually(t, func() bool {
		return pipeline.Stats().DiscardedValidation >= 1
	}, 5*time.Second, 10*time.Millisecond)

	newest, ok := store.PeekNewest()
	require.True(t, ok)
	require.Equal(t, 18.25, newest.Temperature)
	require.False(t, newest.ReceivedAt.IsZero())

	cancel()
	require.ErrorIs(t, <-pipelineDone, context.Canceled)
}
