package config

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/shoplane/factsync/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the device's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPubKeyfile is the default name of the file written by keygen
	// with the hex public key
	DefaultPubKeyfile = "key.pub"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "facts_db"

	// DefaultSQLiteFile is the default name of the SQLite database file.
	DefaultSQLiteFile = "facts.db"

	// DefaultLogFile is the name of the log file written in LogDir.
	DefaultLogFile = "factsync.log"
)

// Store backends.
const (
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
	StoreInmem  = "inmem"
)

// Default configuration values.
const (
	DefaultLogLevel         = "info"
	DefaultBindAddr         = "0.0.0.0:7946"
	DefaultDiscoveryAddr    = "0.0.0.0:7947"
	DefaultDiscoveryTarget  = "255.255.255.255:7947"
	DefaultServiceAddr      = "127.0.0.1:8046"
	DefaultHeartbeatTimeout = 2 * time.Second
	DefaultAnnounceInterval = 10 * time.Second
	DefaultAnnounceBurst    = 3
	DefaultTCPTimeout       = 2000 * time.Millisecond
	DefaultSessionTimeout   = 30 * time.Second
	DefaultPeerExpiry       = 5 * time.Minute
	DefaultMaxPool          = 2
	DefaultMaxSessions      = 4
	DefaultSyncLimit        = 500
	DefaultStore            = StoreBadger
	DefaultBadgerGCInterval = 10 * time.Minute
	DefaultBadgerSyncWrites = true
)

// Config contains all the configuration properties of a factsync device.
type Config struct {
	// DataDir is the top-level directory containing factsync configuration and
	// data
	DataDir string `mapstructure:"datadir" validate:"required"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log" validate:"oneof=debug info warn error fatal panic"`

	// LogDir, when set, receives a copy of the log in factsync.log.
	LogDir string `mapstructure:"log_dir"`

	// BindAddr is the local address:port where the sync transport listens.
	BindAddr string `mapstructure:"listen" validate:"required"`

	// AdvertiseAddr is the address announced to other devices, when the bind
	// address is not routable.
	AdvertiseAddr string `mapstructure:"advertise"`

	// DiscoveryAddr is the UDP address:port where announcements are received.
	DiscoveryAddr string `mapstructure:"discovery-listen" validate:"required"`

	// DiscoveryTargets are the UDP addresses announcements are sent to,
	// normally the broadcast address of the shop network.
	DiscoveryTargets []string `mapstructure:"discovery-broadcast" validate:"dive,hostname_port"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// HeartbeatTimeout is the base period of the anti-entropy timer.
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat" validate:"gt=0"`

	// AnnounceInterval is the period of unconditional announcements.
	AnnounceInterval time.Duration `mapstructure:"announce-interval" validate:"gt=0"`

	// AnnounceBurst is the number of change announcements allowed back to
	// back.
	AnnounceBurst int `mapstructure:"announce-burst" validate:"gt=0"`

	// MaxPool controls how many connections are pooled per target.
	MaxPool int `mapstructure:"max-pool" validate:"gte=0"`

	// MaxSessions is the number of sync sessions that may run at once, each
	// with a different peer.
	MaxSessions int `mapstructure:"max-sessions" validate:"gt=0"`

	// TCPTimeout is the timeout of one RPC.
	TCPTimeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// SessionTimeout bounds a whole sync session.
	SessionTimeout time.Duration `mapstructure:"session-timeout" validate:"gt=0"`

	// PeerExpiry is how long a discovered peer is kept without hearing from
	// it. Zero keeps peers forever.
	PeerExpiry time.Duration `mapstructure:"peer-expiry" validate:"gte=0"`

	// SyncLimit defines the max number of records, hashes or tree prefixes in
	// one sync message.
	SyncLimit int `mapstructure:"sync-limit" validate:"gt=0"`

	// Store selects the fact store backend: badger, sqlite or inmem.
	Store string `mapstructure:"store" validate:"oneof=badger sqlite inmem"`

	// DatabaseDir is the location of the database files.
	DatabaseDir string `mapstructure:"db"`

	// BadgerSyncWrites makes badger sync every write to disk.
	BadgerSyncWrites bool `mapstructure:"badger-sync-writes"`

	// BadgerGCInterval is the period of badger value log garbage collection.
	BadgerGCInterval time.Duration `mapstructure:"badger-gc-interval" validate:"gte=0"`

	// Moniker defines the friendly name of this device
	Moniker string `mapstructure:"moniker"`

	// Author is recorded in the facts asserted through the CLI and the HTTP
	// service when the request does not name one.
	Author string `mapstructure:"author"`

	// Key is the private key of the device.
	Key *ecdsa.PrivateKey `mapstructure:"-"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		BindAddr:         DefaultBindAddr,
		DiscoveryAddr:    DefaultDiscoveryAddr,
		DiscoveryTargets: []string{DefaultDiscoveryTarget},
		ServiceAddr:      DefaultServiceAddr,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		AnnounceInterval: DefaultAnnounceInterval,
		AnnounceBurst:    DefaultAnnounceBurst,
		MaxPool:          DefaultMaxPool,
		MaxSessions:      DefaultMaxSessions,
		TCPTimeout:       DefaultTCPTimeout,
		SessionTimeout:   DefaultSessionTimeout,
		PeerExpiry:       DefaultPeerExpiry,
		SyncLimit:        DefaultSyncLimit,
		Store:            DefaultStore,
		DatabaseDir:      DefaultDatabaseDir(),
		BadgerSyncWrites: DefaultBadgerSyncWrites,
		BadgerGCInterval: DefaultBadgerGCInterval,
		Author:           DefaultAuthor(),
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SetDataDir sets the top-level directory, and updates the database directory
// if it is currently set to the default value. If the database directory is
// not currently the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = dataDir
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// BadgerDir returns the directory of the badger database.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DatabaseDir, DefaultBadgerFile)
}

// SQLiteFile returns the path of the sqlite database.
func (c *Config) SQLiteFile() string {
	return filepath.Join(c.DatabaseDir, DefaultSQLiteFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "factsync".
// When LogDir is set, every entry is also written to LogDir/factsync.log.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = &prefixed.TextFormatter{
			FullTimestamp: true,
		}

		if c.LogDir != "" {
			c.logger.Hooks.Add(newFileHook(filepath.Join(c.LogDir, DefaultLogFile)))
		}
	}
	return c.logger.WithField("prefix", "factsync")
}

// ComponentLogger returns the logger of a component, with the prefix set to
// its name.
func (c *Config) ComponentLogger(name string) *logrus.Entry {
	return c.Logger().WithField("prefix", name)
}

// SetLogger replaces the logger returned by Logger.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

func newFileHook(path string) logrus.Hook {
	pathMap := lfshook.PathMap{}
	for _, level := range logrus.AllLevels {
		pathMap[level] = path
	}
	return lfshook.NewHook(pathMap, &logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// DefaultDatabaseDir returns the default directory of the database files.
func DefaultDatabaseDir() string {
	return DefaultDataDir()
}

// DefaultDataDir return the default directory name for top-level factsync
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Factsync")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Factsync")
		} else {
			return filepath.Join(home, ".factsync")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// DefaultAuthor returns the name of the OS user.
func DefaultAuthor() string {
	if usr, err := user.Current(); err == nil && usr.Username != "" {
		return usr.Username
	}
	return "unknown"
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
