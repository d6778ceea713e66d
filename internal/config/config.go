// Package config defines the tunables a DHT node is constructed with.
package config

import (
	"crypto/rand"
	"crypto/sha1"
	"log/slog"
	"time"
)

// DefaultBootstrapNodes are well-known Mainline DHT routers used to join
// the network the first time a node has no routing table to draw from.
var DefaultBootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"router.utorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

// Config controls a single DHT node's identity, listening address, and
// maintenance behavior.
type Config struct {
	// LocalID is this node's 160-bit identity. Zero value means New
	// will generate a random one.
	LocalID [sha1.Size]byte

	// ListenAddr is the local "ip:port" the UDP socket binds to.
	ListenAddr string

	// BootstrapNodes are "host:port" addresses pinged on startup and
	// periodically thereafter whenever the routing table runs dry.
	BootstrapNodes []string

	// MaxRoutingTableSize is the upper bound on total nodes held across
	// every bucket. Once reached, a new contact is only accepted by
	// evicting the least-recently-seen entry of its own bucket, and only
	// when that entry is bad (offline). Below the ceiling, a contact whose
	// bucket is full and may not split is rejected the same way, even if
	// other buckets still have room.
	MaxRoutingTableSize int

	// MaintenanceInterval is how often the maintenance loop ticks:
	// bootstrapping an empty table, refreshing stale buckets, pinging
	// questionable contacts, and sweeping offline ones.
	MaintenanceInterval time.Duration

	// MetadataFetchTimeout bounds how long a downstream metadata fetcher
	// should wait on a (infohash, peer) pair surfaced by this node
	// before giving up. The DHT engine itself does not enforce this; it
	// is carried here so a single config value describes the whole
	// pipeline's patience.
	MetadataFetchTimeout time.Duration

	// EnableNeighborSpoofing makes every query response (ping, find_node,
	// get_peers, announce_peer, sample_infohashes) claim an id close to
	// the querier's own id instead of this node's real
	// id, biasing the querier's routing table toward inserting us.
	// Useful for a crawler that wants to stay resident in as many
	// remote routing tables as possible; off by default since it makes
	// this node's real identity harder for others to observe
	// consistently.
	EnableNeighborSpoofing bool

	// Logger receives structured logs for every component. A nil
	// Logger is replaced with slog.Default() by New.
	Logger *slog.Logger
}

// Default returns a Config with the same defaults a bare "join the public
// Mainline swarm" node would use.
func Default() *Config {
	return &Config{
		ListenAddr:             ":6881",
		BootstrapNodes:         append([]string(nil), DefaultBootstrapNodes...),
		MaxRoutingTableSize:    10000,
		MaintenanceInterval:    300 * time.Second,
		MetadataFetchTimeout:   100 * time.Second,
		EnableNeighborSpoofing: false,
		Logger:                 slog.Default(),
	}
}

// Option customizes a Config returned by New.
type Option func(*Config)

func WithListenAddr(addr string) Option { return func(c *Config) { c.ListenAddr = addr } }

func WithBootstrapNodes(nodes []string) Option {
	return func(c *Config) { c.BootstrapNodes = nodes }
}

func WithLocalID(id [sha1.Size]byte) Option { return func(c *Config) { c.LocalID = id } }

func WithMaintenanceInterval(d time.Duration) Option {
	return func(c *Config) { c.MaintenanceInterval = d }
}

func WithNeighborSpoofing(enabled bool) Option {
	return func(c *Config) { c.EnableNeighborSpoofing = enabled }
}

func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// New builds a Config from Default plus the given options, generating a
// random LocalID if none was supplied.
func New(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt(c)
	}

	if c.LocalID == ([sha1.Size]byte{}) {
		rand.Read(c.LocalID[:])
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}
