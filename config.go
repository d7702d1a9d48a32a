package sftp

import (
	"errors"
	"time"

	"github.com/tredeske/gosftp/uconfig"
)

// defaultMaxPacket is the SFTPv3 max packet size used when a Client is
// built with NewClient/NewClientPipe without WithMaxPacket, and the ceiling
// the adaptive controller is seeded with before Connect negotiates a real
// one.
const defaultMaxPacket = 1 << 15 // 32768, smallest size any compliant server must support

// defaultMaxConcurrentOps bounds the number of Client method calls that may
// be in flight at once through the public facade (Component I).
const defaultMaxConcurrentOps = 10

// KeepaliveConfig controls the liveness ping loop (Component G).
type KeepaliveConfig struct {
	Enabled   bool
	Interval  time.Duration
	MaxMissed int
}

// HealthCheckMethod names how the health-check timer probes the server.
type HealthCheckMethod int

const (
	HealthCheckPing HealthCheckMethod = iota
	HealthCheckRealPath
)

// HealthCheckConfig controls the independent health-probe loop.
type HealthCheckConfig struct {
	Enabled  bool
	Method   HealthCheckMethod
	Interval time.Duration
}

// AutoReconnectConfig controls the exponential-backoff reconnect loop.
type AutoReconnectConfig struct {
	Enabled          bool
	MaxAttempts      int
	InitialDelay     time.Duration
	BackoffMultiplier float64
}

// Algorithms holds the caller's algorithm preference lists, passed through
// to the underlying transport's ssh.Config.
type Algorithms struct {
	KeyExchanges []string
	HostKeys     []string
	Ciphers      []string
	MACs         []string
}

// ClientConfig is the caller-supplied connection configuration (Component
// I / data model §3): host/port/credentials, timeouts, and the optional
// keepalive/health-check/auto-reconnect policies.  Exactly one of Password
// or Signer (via PrivateKey/Passphrase, resolved by the caller before
// Connect) should be supplied for authentication.
type ClientConfig struct {
	Host     string
	Port     int
	Username string

	Password string // mutually exclusive with a Signer passed to Connect

	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	ChunkTimeout     time.Duration
	GracefulTimeout  time.Duration

	Keepalive    KeepaliveConfig
	HealthCheck  HealthCheckConfig
	AutoReconnect AutoReconnectConfig

	Algorithms Algorithms

	MaxPacket        int
	MaxConcurrentOps int

	// QueueWhenBusy selects the behavior when MaxConcurrentOps is
	// exhausted: queue the caller (true) or fail fast with an error
	// (false, the default).
	QueueWhenBusy bool
}

// DefaultClientConfig returns a ClientConfig with sane defaults: port 22,
// a 10s connect timeout, keepalive/health-check/auto-reconnect all disabled
// until the caller opts in.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Port:             22,
		ConnectTimeout:   10 * time.Second,
		OperationTimeout: 30 * time.Second,
		ChunkTimeout:     15 * time.Second,
		GracefulTimeout:  5 * time.Second,
		Keepalive: KeepaliveConfig{
			Interval:  30 * time.Second,
			MaxMissed: 3,
		},
		HealthCheck: HealthCheckConfig{
			Method:   HealthCheckPing,
			Interval: 60 * time.Second,
		},
		AutoReconnect: AutoReconnectConfig{
			MaxAttempts:       5,
			InitialDelay:      500 * time.Millisecond,
			BackoffMultiplier: 2,
		},
		MaxPacket:        defaultMaxPacket,
		MaxConcurrentOps: defaultMaxConcurrentOps,
	}
}

// Validate rejects configurations with: keepalive interval below 1s,
// max_missed below 1, health-check interval below 1s, auto-reconnect
// max_attempts below 1 or delay below 100ms.
func (cfg *ClientConfig) Validate() error {
	if 0 == len(cfg.Host) {
		return errors.New("sftp: config: host is required")
	}
	if 0 == len(cfg.Username) {
		return errors.New("sftp: config: username is required")
	}
	if cfg.Keepalive.Enabled {
		if cfg.Keepalive.Interval < time.Second {
			return errors.New("sftp: config: keepalive.interval must be >= 1s")
		}
		if cfg.Keepalive.MaxMissed < 1 {
			return errors.New("sftp: config: keepalive.max_missed must be >= 1")
		}
	}
	if cfg.HealthCheck.Enabled && cfg.HealthCheck.Interval < time.Second {
		return errors.New("sftp: config: health_check.interval must be >= 1s")
	}
	if cfg.AutoReconnect.Enabled {
		if cfg.AutoReconnect.MaxAttempts < 1 {
			return errors.New("sftp: config: auto_reconnect.max_attempts must be >= 1")
		}
		if cfg.AutoReconnect.InitialDelay < 100*time.Millisecond {
			return errors.New("sftp: config: auto_reconnect.delay must be >= 100ms")
		}
	}
	return nil
}

func (cfg *ClientConfig) port() int {
	if 0 == cfg.Port {
		return 22
	}
	return cfg.Port
}

func (cfg *ClientConfig) maxPacket() int {
	if 0 == cfg.MaxPacket {
		return defaultMaxPacket
	}
	return cfg.MaxPacket
}

func (cfg *ClientConfig) maxConcurrentOps() int {
	if 0 == cfg.MaxConcurrentOps {
		return defaultMaxConcurrentOps
	}
	return cfg.MaxConcurrentOps
}

// LoadClientConfig loads a ClientConfig from a YAML file using the same
// property-substitution and include_ rules as the rest of the ambient
// configuration stack, then fills unset fields from DefaultClientConfig
// and validates the result.
func LoadClientConfig(file string) (cfg *ClientConfig, err error) {
	cfg = DefaultClientConfig()
	if err = uconfig.YamlLoad(file, cfg); err != nil {
		return nil, err
	}
	if 0 == cfg.Port {
		cfg.Port = 22
	}
	if 0 == cfg.MaxPacket {
		cfg.MaxPacket = defaultMaxPacket
	}
	if 0 == cfg.MaxConcurrentOps {
		cfg.MaxConcurrentOps = defaultMaxConcurrentOps
	}
	err = cfg.Validate()
	return
}
