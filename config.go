package scylla

import (
	"time"

	"github.com/datastax/go-cassandra-native-protocol/primitive"

	"github.com/scylla-go/session-core/transport"
)

// Config configures a Session: the initial contact points, the pluggable
// balancer/retry/reconnection policies, and the per-connection behavior
// inherited from transport.ConnConfig.
type Config struct {
	Hosts    []string
	Keyspace string

	Balancer           transport.LoadBalancer
	RetryPredicate     RetryPredicate
	ReconnectionPolicy transport.ReconnectionPolicy

	// HeartbeatInterval controls how often the Session probes each open
	// connection with an OPTIONS request to detect a server process that
	// stopped responding without its socket ever reporting a failure.
	// Zero uses transport.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// Cluster overrides topology discovery. Left nil, NewSession builds a
	// transport.StaticCluster from Hosts — every contact point is reported
	// up once and never re-checked. Set this to plug in a real
	// control-connection-driven discoverer instead.
	Cluster transport.Cluster

	transport.ConnConfig
}

// DefaultConfig mirrors scylla-go-driver's DefaultSessionConfig: round
// robin balancing, exponential reconnection, protocol v4, no compression.
func DefaultConfig(keyspace string, hosts ...string) Config {
	return Config{
		Hosts:              hosts,
		Keyspace:           keyspace,
		Balancer:           transport.NewRoundRobin(1),
		RetryPredicate:     DefaultRetryPredicate,
		ReconnectionPolicy: transport.NewExponentialReconnectionPolicy(0, 0),
		HeartbeatInterval:  transport.DefaultHeartbeatInterval,
		ConnConfig:         transport.DefaultConnConfig(keyspace),
	}
}

// Clone returns a deep-enough copy of cfg so NewSession can own its Hosts
// slice without aliasing the caller's.
func (cfg Config) Clone() Config {
	v := cfg
	v.Hosts = make([]string, len(cfg.Hosts))
	copy(v.Hosts, cfg.Hosts)
	return v
}

// Validate rejects a config with no contact points (ErrNoHosts) and fills
// every unset pluggable policy, interval, protocol version, timeout and
// logger with its default. A non-zero protocol version is not checked.
func (cfg *Config) Validate() error {
	if len(cfg.Hosts) == 0 {
		return ErrNoHosts
	}
	if cfg.Balancer == nil {
		cfg.Balancer = transport.NewRoundRobin(1)
	}
	if cfg.RetryPredicate == nil {
		cfg.RetryPredicate = DefaultRetryPredicate
	}
	if cfg.ReconnectionPolicy == nil {
		cfg.ReconnectionPolicy = transport.NewExponentialReconnectionPolicy(0, 0)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = transport.DefaultHeartbeatInterval
	}
	if cfg.Version == 0 {
		cfg.Version = primitive.ProtocolVersion4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = transport.DefaultLogger()
	}
	return nil
}
