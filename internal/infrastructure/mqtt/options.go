package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	defaultMinWait          = 1 * time.Second
	defaultMaxWait          = 60 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 60 * time.Second
	defaultBufferCapacity   = 1000
	defaultHealthInterval   = 30 * time.Second

	// clientIDPrefix is used when no client ID is configured.
	clientIDPrefix = "access_control_"

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options is the resolved, immutable connection configuration.
//
// It is built once by NewOptions and passed by value into the Client and
// the transport. All durations and defaults are resolved here so no other
// code needs to know about config.MQTTConfig.
type Options struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	TLS                bool
	CAFile             string
	InsecureSkipVerify bool

	KeepAlive    time.Duration
	CleanSession bool
	QoS          byte

	// ConnectTimeout bounds each handshake. A timeout counts as a failure.
	ConnectTimeout time.Duration
	PublishTimeout time.Duration

	// Reconnect enables the reconnect loop. MaxAttempts caps consecutive
	// failed attempts (0 = unlimited).
	Reconnect   bool
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration

	BreakerThreshold int
	BreakerCooldown  time.Duration

	BufferCapacity int

	// HealthCheckInterval drives the stats observer. 0 disables it.
	HealthCheckInterval time.Duration
}

// NewOptions resolves an MQTTConfig into Options.
//
// Zero-valued tuning fields fall back to package defaults. The broker host
// and port are required and have no default.
//
// Parameters:
//   - cfg: MQTT configuration from config.yaml
//
// Returns:
//   - Options: Resolved options
//   - error: ErrMissingBroker or ErrInvalidQoS
func NewOptions(cfg config.MQTTConfig) (Options, error) {
	if strings.TrimSpace(cfg.Broker.Host) == "" || cfg.Broker.Port <= 0 {
		return Options{}, ErrMissingBroker
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return Options{}, fmt.Errorf("%w: got %d", ErrInvalidQoS, cfg.QoS)
	}

	opts := Options{
		Host:                cfg.Broker.Host,
		Port:                cfg.Broker.Port,
		ClientID:            cfg.Broker.ClientID,
		Username:            cfg.Auth.Username,
		Password:            cfg.Auth.Password,
		TLS:                 cfg.TLS.Enabled,
		CAFile:              cfg.TLS.CAFile,
		InsecureSkipVerify:  cfg.TLS.InsecureSkipVerify,
		KeepAlive:           seconds(cfg.KeepAlive, defaultKeepAlive),
		CleanSession:        cfg.CleanSession,
		QoS:                 byte(cfg.QoS),
		ConnectTimeout:      seconds(cfg.ConnectTimeout, defaultConnectTimeout),
		PublishTimeout:      defaultPublishTimeout,
		Reconnect:           cfg.Reconnect.Enabled,
		MaxAttempts:         cfg.Reconnect.MaxAttempts,
		MinWait:             seconds(cfg.Reconnect.MinWait, defaultMinWait),
		MaxWait:             seconds(cfg.Reconnect.MaxWait, defaultMaxWait),
		BreakerThreshold:    cfg.CircuitBreaker.Threshold,
		BreakerCooldown:     seconds(cfg.CircuitBreaker.Cooldown, defaultBreakerCooldown),
		BufferCapacity:      cfg.Buffer.Capacity,
		HealthCheckInterval: seconds(cfg.HealthCheckInterval, defaultHealthInterval),
	}

	if opts.ClientID == "" {
		opts.ClientID = GenerateClientID()
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = defaultBreakerThreshold
	}
	if opts.BufferCapacity <= 0 {
		opts.BufferCapacity = defaultBufferCapacity
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.MinWait > opts.MaxWait {
		opts.MinWait = opts.MaxWait
	}

	return opts, nil
}

// GenerateClientID returns a random client identifier of the form
// "access_control_" followed by eight hex characters.
func GenerateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:8]
}

// BrokerURL returns the broker address with a tcp:// or ssl:// scheme.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

func seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

// tlsConfig builds the TLS configuration, loading the CA bundle when set.
func (o Options) tlsConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: o.InsecureSkipVerify, //nolint:gosec // opt-in for lab brokers with self-signed certs
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %s contains no certificates", o.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// buildClientOptions creates paho MQTT options for a single session.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, credentials, clean session and keepalive
//   - TLS configuration (if enabled)
//   - Last Will and Testament on the client's status topic
//
// Paho's own reconnect logic is disabled: the Client's connection loop owns
// reconnection, backoff and the circuit breaker.
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	opts.SetCleanSession(o.CleanSession)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetOrderMatters(false)

	if o.TLS {
		tlsCfg, err := o.tlsConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	configureLWT(opts, o.ClientID)

	return opts, nil
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Topic: access/status/{client_id}
// QoS: 1, retained, so late subscribers see the last known status.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string) {
	opts.SetWill(Topics{}.DeviceStatus(clientID), buildStatusPayload(clientID, "offline", "unexpected_disconnect"), 1, true)
}

// buildStatusPayload creates the JSON payload for presence messages.
func buildStatusPayload(clientID, status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(
			`{"status":"%s","client_id":"%s","timestamp":"%s"}`,
			status, clientID, time.Now().UTC().Format(time.RFC3339),
		)
	}
	return fmt.Sprintf(
		`{"status":"%s","client_id":"%s","reason":"%s","timestamp":"%s"}`,
		status, clientID, reason, time.Now().UTC().Format(time.RFC3339),
	)
}
