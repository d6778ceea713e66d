package dht

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/prxssh/dhtnode/internal/config"
)

var ErrNotStarted = errors.New("DHT not started")

// DHT is a single Mainline DHT node: a UDP socket framed by KRPC, a
// dynamically split routing table, a peer store, and the maintenance loop
// that keeps both warm.
type DHT struct {
	config *config.Config

	localID [sha1.Size]byte
	table   *RoutingTable
	krpc    *KRPC
	storage *Storage
	token   *TokenManager
	handler *QueryHandler

	peerEvents chan PeerEvent

	started bool
	mu      sync.RWMutex
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewDHT(cfg *config.Config) (*DHT, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	krpc, err := NewKRPC(cfg.LocalID, cfg.ListenAddr, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create KRPC: %w", err)
	}

	table := NewRoutingTable(cfg.LocalID, cfg.MaxRoutingTableSize)
	storage := NewStorage()
	token := NewTokenManager()

	dht := &DHT{
		config:     cfg,
		localID:    cfg.LocalID,
		table:      table,
		krpc:       krpc,
		storage:    storage,
		token:      token,
		peerEvents: make(chan PeerEvent, 256),
		done:       make(chan struct{}),
	}

	dht.handler = NewQueryHandler(krpc, table, storage, token, cfg)
	dht.handler.onPeerDiscovered = dht.emitPeerEvent
	krpc.SetQueryHandler(dht.handler.HandleQuery)
	krpc.SetResponseHandler(dht.handleLateResponse)

	return dht, nil
}

// handleLateResponse processes a response KRPC couldn't correlate to a
// pending transaction (already timed out, or a duplicate). It still proves
// the sender is alive at that address, so it's worth a routing table
// insert even though no lookup is waiting on it.
func (d *DHT) handleLateResponse(msg *Message) {
	nodeID, ok := msg.GetNodeID()
	if !ok {
		return
	}

	node := &Node{ID: nodeID, IP: msg.Addr.IP, Port: msg.Addr.Port}
	if node.Valid() {
		d.table.Insert(NewContact(node))
	}
}

func (d *DHT) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("already started")
	}

	d.krpc.Start()

	d.wg.Add(1)
	go d.maintenanceLoop()

	d.started = true
	return nil
}

func (d *DHT) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	close(d.done)
	d.krpc.Stop()
	d.wg.Wait()

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// PeerDiscovered streams peers surfaced by incoming announce_peer queries
// and by this node's own GetPeers lookups, for a downstream metadata
// fetcher to consume.
func (d *DHT) PeerDiscovered() <-chan PeerEvent {
	return d.peerEvents
}

func (d *DHT) emitPeerEvent(e PeerEvent) {
	select {
	case d.peerEvents <- e:
	default:
		d.config.Logger.Warn("peer event channel full, dropping", "info_hash", e.InfoHash)
	}
}

func (d *DHT) GetPeers(infoHash [sha1.Size]byte) ([]net.Addr, error) {
	if !d.isStarted() {
		return nil, ErrNotStarted
	}

	lookup := NewLookup(d, infoHash, LookupTypePeers)
	result := lookup.Run()

	if result.Err != nil {
		return nil, result.Err
	}

	for _, peer := range result.Peers {
		d.emitPeerEvent(PeerEvent{InfoHash: infoHash, Peer: peer})
	}

	return result.Peers, nil
}

// AnnouncePeer announces that we are downloading/seeding a torrent to every
// closest node that returned a token during the preceding get_peers lookup.
func (d *DHT) AnnouncePeer(infoHash [sha1.Size]byte, port int) error {
	if !d.isStarted() {
		return ErrNotStarted
	}

	lookup := NewLookup(d, infoHash, LookupTypePeers)
	result := lookup.Run()
	if result.Err != nil {
		return result.Err
	}

	var g errgroup.Group
	for _, node := range result.ClosestNodes {
		if node.Token == "" {
			continue
		}

		node := node
		g.Go(func() error {
			d.announce(node.Contact, infoHash, port, node.Token)
			return nil
		})
	}

	return g.Wait()
}

// announce sends announce_peer to a single node. implied_port is always
// false here: this node reports the port it was actually given, not the
// ephemeral source port of the announce_peer datagram.
func (d *DHT) announce(contact *Contact, infoHash [sha1.Size]byte, port int, token string) {
	msg := AnnouncePeerQuery(d.krpc.generateTransactionID(), d.localID, infoHash, false, port, token)
	d.krpc.SendQuery(msg, contact.Addr(), QueryTimeout)
}

// Ping sends a ping to a node and updates the routing table with its id.
func (d *DHT) Ping(addr *net.UDPAddr) error {
	if !d.isStarted() {
		return ErrNotStarted
	}

	msg := PingQuery(d.krpc.generateTransactionID(), d.localID)

	response, err := d.krpc.SendQuery(msg, addr, QueryTimeout)
	if err != nil {
		return err
	}

	nodeID, ok := response.GetNodeID()
	if !ok {
		return ErrInvalidMsg
	}

	node := &Node{
		ID:   nodeID,
		IP:   addr.IP,
		Port: addr.Port,
	}
	if node.Valid() {
		contact := NewContact(node)
		contact.MarkSeen()
		d.table.Insert(contact)
	}

	return nil
}

// FindNode performs an iterative lookup for the nodes closest to target.
func (d *DHT) FindNode(target [sha1.Size]byte) ([]*Contact, error) {
	if !d.isStarted() {
		return nil, ErrNotStarted
	}

	lookup := NewLookup(d, target, LookupTypeNodes)
	result := lookup.Run()
	if result.Err != nil {
		return nil, result.Err
	}

	contacts := make([]*Contact, len(result.ClosestNodes))
	for i, node := range result.ClosestNodes {
		contacts[i] = node.Contact
	}

	return contacts, nil
}

func (d *DHT) isStarted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

// Stats returns current routing table statistics.
func (d *DHT) Stats() RoutingTableStats {
	return d.table.GetStats()
}

// LocalAddr returns the local UDP address.
func (d *DHT) LocalAddr() *net.UDPAddr {
	return d.krpc.LocalAddr()
}
