package client

import (
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/transport"
)

// Client errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrClosed        = errors.New("client closed")
)

// Config configures a Client.
type Config struct {
	// ClientName is announced to the server in the handshake.
	ClientName string

	// Dialer opens the transport. If nil, a transport.WebSocketDialer with
	// default settings is used.
	Dialer transport.Dialer

	// HandshakeTimeout bounds the RequestServerInfo exchange.
	HandshakeTimeout time.Duration

	// ProbeTimeout bounds a single keep-alive Ping. 0 leaves a probe bounded
	// only by the session.
	ProbeTimeout time.Duration

	// Backoff configures ConnectWithRetry.
	Backoff connection.BackoffConfig

	// Logger is used for operational logging.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger receives frame, message and state events for tracing.
	// If nil, no protocol events are captured.
	ProtocolLogger log.Logger

	// Registerer receives the client's Prometheus collectors.
	// If nil, metrics are disabled.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ClientName:       "bpclient-go",
		HandshakeTimeout: 10 * time.Second,
		ProbeTimeout:     0,
		Backoff:          connection.DefaultBackoffConfig(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.ClientName == "" {
		return ErrInvalidConfig
	}
	if c.HandshakeTimeout < 0 || c.ProbeTimeout < 0 {
		return ErrInvalidConfig
	}
	return nil
}
