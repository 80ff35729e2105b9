package node

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shoplane/factsync/src/common"
)

// Defaults of the node configuration.
const (
	DefaultHeartbeat        = 2 * time.Second
	DefaultAnnounceInterval = 10 * time.Second
	DefaultAnnounceBurst    = 3
	DefaultSessionTimeout   = 30 * time.Second
	DefaultPeerExpiry       = 5 * time.Minute
	DefaultMaxSessions      = 4
	DefaultSyncLimit        = 500
)

// Config contains the parameters of a Node.
type Config struct {
	// HeartbeatTimeout is the base interval of the anti-entropy timer. The
	// actual interval is randomized between one and two times this value.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat"`

	// AnnounceInterval is the period of unconditional announcements.
	AnnounceInterval time.Duration `mapstructure:"announce-interval"`

	// AnnounceBurst is how many change-triggered announcements may be sent
	// back to back. The sustained rate is one per heartbeat.
	AnnounceBurst int `mapstructure:"announce-burst"`

	SessionTimeout time.Duration `mapstructure:"session-timeout"`
	PeerExpiry     time.Duration `mapstructure:"peer-expiry"`
	MaxSessions    int           `mapstructure:"max-sessions"`

	// SyncLimit is the maximum number of records or prefixes in one message.
	SyncLimit int `mapstructure:"sync-limit"`

	Moniker string `mapstructure:"moniker"`

	Logger *logrus.Logger
}

// NewConfig creates a Config from explicit values.
func NewConfig(heartbeat time.Duration,
	announceInterval time.Duration,
	sessionTimeout time.Duration,
	maxSessions int,
	syncLimit int,
	moniker string,
	logger *logrus.Logger) *Config {

	return &Config{
		HeartbeatTimeout: heartbeat,
		AnnounceInterval: announceInterval,
		AnnounceBurst:    DefaultAnnounceBurst,
		SessionTimeout:   sessionTimeout,
		PeerExpiry:       DefaultPeerExpiry,
		MaxSessions:      maxSessions,
		SyncLimit:        syncLimit,
		Moniker:          moniker,
		Logger:           logger,
	}
}

// DefaultConfig returns a Config with the default values.
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		HeartbeatTimeout: DefaultHeartbeat,
		AnnounceInterval: DefaultAnnounceInterval,
		AnnounceBurst:    DefaultAnnounceBurst,
		SessionTimeout:   DefaultSessionTimeout,
		PeerExpiry:       DefaultPeerExpiry,
		MaxSessions:      DefaultMaxSessions,
		SyncLimit:        DefaultSyncLimit,
		Logger:           logger,
	}
}

// TestConfig returns a Config with short timers and a logger writing to t.
func TestConfig(t testing.TB) *Config {
	config := DefaultConfig()
	config.HeartbeatTimeout = 20 * time.Millisecond
	config.AnnounceInterval = 100 * time.Millisecond
	config.SessionTimeout = 2 * time.Second
	config.SyncLimit = 10
	config.Logger = common.NewTestLogger(t, common.TestLogLevel)
	return config
}
