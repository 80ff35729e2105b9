package factsync

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/shoplane/factsync/src/config"
	"github.com/shoplane/factsync/src/crypto/keys"
	"github.com/shoplane/factsync/src/discovery"
	"github.com/shoplane/factsync/src/net"
	"github.com/shoplane/factsync/src/node"
	"github.com/shoplane/factsync/src/peers"
	"github.com/shoplane/factsync/src/service"
	"github.com/shoplane/factsync/src/store"
)

// Factsync is the engine wiring together the components of a device: the
// fact store, the sync transport, peer discovery, the node and the optional
// HTTP service. Components that are already set when Init is called are kept,
// which lets tests and embedders inject their own.
type Factsync struct {
	Config    *config.Config
	Node      *node.Node
	Core      *node.Core
	Transport net.Transport
	Discovery discovery.Discovery
	Store     store.Store
	Peers     *peers.PeerSet
	Service   *service.Service

	logger *logrus.Entry
}

// NewFactsync is a factory method to produce a Factsync instance.
func NewFactsync(conf *config.Config) *Factsync {
	engine := &Factsync{
		Config: conf,
		logger: conf.Logger(),
	}

	return engine
}

// Init initialises the engine components in order: key, store, core, peers,
// transport, discovery, node and service.
func (f *Factsync) Init() error {
	if err := f.Config.Validate(); err != nil {
		return err
	}

	if err := f.initKey(); err != nil {
		return err
	}

	if err := f.initStore(); err != nil {
		return err
	}

	if err := f.initCore(); err != nil {
		return err
	}

	if err := f.initPeers(); err != nil {
		return err
	}

	if err := f.initTransport(); err != nil {
		return err
	}

	if err := f.initDiscovery(); err != nil {
		return err
	}

	f.initNode()

	f.initService()

	return nil
}

func (f *Factsync) initKey() error {
	if f.Config.Key != nil {
		return nil
	}

	keyfile := keys.NewSimpleKeyfile(f.Config.Keyfile())

	key, created, err := keyfile.ReadOrCreate()
	if err != nil {
		return fmt.Errorf("loading device key: %w", err)
	}

	if created {
		f.logger.WithField("path", keyfile.Path()).Info("Created a new device key")
	}

	f.Config.Key = key

	return nil
}

func (f *Factsync) initStore() error {
	if f.Store != nil {
		return nil
	}

	s, err := OpenStore(f.Config)
	if err != nil {
		return err
	}

	f.Store = s

	return nil
}

func (f *Factsync) initCore() error {
	core, err := node.NewCore(
		keys.DeviceID(&f.Config.Key.PublicKey),
		f.Store,
		f.Config.ComponentLogger("core"),
	)
	if err != nil {
		return fmt.Errorf("loading merkle tree: %w", err)
	}

	f.Core = core

	return nil
}

func (f *Factsync) initPeers() error {
	if f.Peers != nil {
		return nil
	}

	static, err := peers.NewJSONPeers(f.Config.DataDir).Peers()
	if err != nil {
		return err
	}

	f.logger.WithField("static_peers", len(static)).Debug("Loaded peers")

	f.Peers = peers.NewPeerSet(static)

	return nil
}

func (f *Factsync) initTransport() error {
	if f.Transport != nil {
		return nil
	}

	advertise, err := advertiseAddr(f.Config.BindAddr, f.Config.AdvertiseAddr)
	if err != nil {
		return err
	}

	transport, err := net.NewTCPTransport(
		f.Config.BindAddr,
		advertise,
		f.Config.MaxPool,
		f.Config.TCPTimeout,
		f.Config.ComponentLogger("transport"),
	)
	if err != nil {
		return err
	}

	f.Transport = transport

	return nil
}

func (f *Factsync) initDiscovery() error {
	if f.Discovery != nil {
		return nil
	}

	disc, err := discovery.NewUDPDiscovery(
		f.Config.DiscoveryAddr,
		f.Config.DiscoveryTargets,
		f.Config.ComponentLogger("discovery"),
	)
	if err != nil {
		return err
	}

	f.Discovery = disc

	return nil
}

func (f *Factsync) initNode() {
	nodeConf := &node.Config{
		HeartbeatTimeout: f.Config.HeartbeatTimeout,
		AnnounceInterval: f.Config.AnnounceInterval,
		AnnounceBurst:    f.Config.AnnounceBurst,
		SessionTimeout:   f.Config.SessionTimeout,
		PeerExpiry:       f.Config.PeerExpiry,
		MaxSessions:      f.Config.MaxSessions,
		SyncLimit:        f.Config.SyncLimit,
		Moniker:          f.Config.Moniker,
		Logger:           f.Config.Logger().Logger,
	}

	f.Node = node.NewNode(
		nodeConf,
		f.Config.Key,
		f.Core,
		f.Peers,
		f.Transport,
		f.Discovery,
	)
}

func (f *Factsync) initService() {
	if f.Config.NoService {
		return
	}

	f.Service = service.NewService(
		f.Config.ServiceAddr,
		f.Node,
		f.Config.Author,
		f.Config.ComponentLogger("service"),
	)
}

// Run starts the node and the service, and blocks until ctx is cancelled or
// the service fails. Either way, the node is shut down before Run returns.
func (f *Factsync) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f.Node.Run()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		f.Node.Shutdown()
		return nil
	})

	if f.Service != nil {
		g.Go(func() error {
			return f.Service.Serve(gctx)
		})
	}

	return g.Wait()
}

// OpenStore opens the fact store selected by the configuration.
func OpenStore(conf *config.Config) (store.Store, error) {
	logger := conf.ComponentLogger("store")

	switch conf.Store {
	case config.StoreInmem:
		logger.Debug("Created new in-mem store")
		return store.NewInmemStore(), nil
	case config.StoreSQLite:
		if err := os.MkdirAll(conf.DatabaseDir, 0700); err != nil {
			return nil, err
		}
		logger.WithField("path", conf.SQLiteFile()).Debug("Opening sqlite store")
		return store.NewSQLiteStore(conf.SQLiteFile(), logger)
	case config.StoreBadger, "":
		logger.WithField("path", conf.BadgerDir()).Debug("Opening badger store")
		return store.NewBadgerStore(conf.BadgerDir(), conf.BadgerSyncWrites, conf.BadgerGCInterval, logger)
	default:
		return nil, fmt.Errorf("unknown store %q", conf.Store)
	}
}

// Keygen creates a new device key in datadir. It refuses to overwrite an
// existing key.
func Keygen(datadir string) (*ecdsa.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(filepath.Join(datadir, config.DefaultKeyfile))

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("another key already lives under %s", keyfile.Path())
	}

	privKey, err := keys.GenerateECDSAKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(privKey); err != nil {
		return nil, err
	}

	return privKey, nil
}
