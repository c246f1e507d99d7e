package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/eclipse/paho.golang/packets"

	"github.com/xtxerr/meteo/internal/errors"
)

// ConnectionProvider returns a net.Conn connected to the broker. The
// returned conn must be safe for concurrent writes.
type ConnectionProvider func(context.Context) (net.Conn, error)

// TCPConnection connects to the broker over plain TCP.
func TCPConnection(host string, port int) ConnectionProvider {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %v: %w", addr, err, errors.ErrConnectionFailed)
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// TLSConnection connects to the broker with TLS over TCP.
// A nil config verifies against the system roots.
func TLSConnection(host string, port int, config *tls.Config) ConnectionProvider {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (net.Conn, error) {
		d := tls.Dialer{Config: config}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %v: %w", addr, err, errors.ErrConnectionFailed)
		}
		return packets.NewThreadSafeConn(conn), nil
	}
}

// NewTLSConfig builds the client TLS config for host. An empty caFile
// trusts the system roots.
func NewTLSConfig(host, caFile string, insecureSkipVerify bool) (*tls.Config, error) {
	config := &tls.Config{
		ServerName:         host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, // #nosec G402
	}

	if caFile == "" {
		return config, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.NewValidation("mqtt.tls.ca_file", "no certificates found in "+caFile)
	}
	config.RootCAs = pool

	return config, nil
}
