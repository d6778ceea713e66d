package dht

import (
	"crypto/sha1"
	"net"
	"time"

	"github.com/prxssh/dhtnode/internal/config"
)

// sampleInfohashesInterval is the reannounce delay suggested to callers of
// sample_infohashes, per BEP-51.
const sampleInfohashesInterval = 10 * time.Minute

// PeerEvent is emitted whenever this node learns of a peer serving a given
// infohash, either because a remote node announced itself to us or
// because a get_peers lookup we ran surfaced one. It is the engine's
// downstream interface to an out-of-process metadata fetcher.
type PeerEvent struct {
	InfoHash [sha1.Size]byte
	Peer     net.Addr
}

type QueryHandler struct {
	krpc    *KRPC
	table   *RoutingTable
	storage *Storage
	token   *TokenManager
	cfg     *config.Config

	onPeerDiscovered func(PeerEvent)
}

func NewQueryHandler(
	krpc *KRPC,
	table *RoutingTable,
	storage *Storage,
	token *TokenManager,
	cfg *config.Config,
) *QueryHandler {
	return &QueryHandler{
		krpc:    krpc,
		table:   table,
		storage: storage,
		token:   token,
		cfg:     cfg,
	}
}

func (qh *QueryHandler) HandleQuery(msg *Message) {
	senderID, ok := msg.GetNodeID()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid node ID", msg.Addr)
		return
	}

	sender := &Node{
		ID:   senderID,
		IP:   msg.Addr.IP,
		Port: msg.Addr.Port,
	}
	if sender.Valid() {
		qh.table.Insert(NewContact(sender))
	}

	switch msg.Q {
	case PingMethod:
		qh.handlePing(msg, senderID)
	case FindNodeMethod:
		qh.handleFindNode(msg, senderID)
	case GetPeersMethod:
		qh.handleGetPeers(msg, senderID)
	case AnnouncePeerMethod:
		qh.handleAnnouncePeer(msg, senderID)
	case SampleInfohashesMethod:
		qh.handleSampleInfohashes(msg, senderID)
	default:
		qh.sendError(msg.T, ErrorMethodUnknown, "unknown method", msg.Addr)
	}
}

// responderID returns the id this node should claim in a response to a
// query from sender: the real local id, or a spoofed id biased toward
// sender's own id when Config.EnableNeighborSpoofing is set.
func (qh *QueryHandler) responderID(sender [sha1.Size]byte) [sha1.Size]byte {
	if qh.cfg != nil && qh.cfg.EnableNeighborSpoofing {
		return neighborID(qh.table.ID(), sender)
	}
	return qh.table.ID()
}

func (qh *QueryHandler) handlePing(msg *Message, senderID [sha1.Size]byte) {
	response := PingResponse(msg.T, qh.responderID(senderID))
	qh.krpc.SendResponse(response, msg.Addr)
}

func (qh *QueryHandler) handleFindNode(msg *Message, senderID [sha1.Size]byte) {
	target, ok := msg.GetTarget()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid target", msg.Addr)
		return
	}

	contacts := qh.table.FindClosestK(target, K)
	nodes := qh.encodeNodes(contacts)

	response := FindNodeResponse(msg.T, qh.responderID(senderID), nodes)
	qh.krpc.SendResponse(response, msg.Addr)
}

func (qh *QueryHandler) handleGetPeers(msg *Message, senderID [sha1.Size]byte) {
	infoHash, ok := msg.GetInfoHash()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid info_hash", msg.Addr)
		return
	}

	token := qh.token.Generate(msg.Addr.IP)
	peers := qh.storage.GetPeers(infoHash)

	if len(peers) > 0 {
		values := make([]string, len(peers))
		for i, peer := range peers {
			values[i] = string(peer[:])
		}
		response := GetPeersResponse(msg.T, qh.responderID(senderID), token, values)
		qh.krpc.SendResponse(response, msg.Addr)
		return
	}

	contacts := qh.table.FindClosestK(infoHash, K)
	nodes := qh.encodeNodes(contacts)
	response := GetPeersResponseNodes(msg.T, qh.responderID(senderID), token, nodes)
	qh.krpc.SendResponse(response, msg.Addr)
}

func (qh *QueryHandler) handleAnnouncePeer(msg *Message, senderID [sha1.Size]byte) {
	infoHash, ok := msg.GetInfoHash()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid info_hash", msg.Addr)
		return
	}

	port, ok := msg.GetPort()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid port", msg.Addr)
		return
	}

	token, ok := msg.GetToken()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "missing token", msg.Addr)
		return
	}

	if !qh.token.Validate(msg.Addr.IP, token) {
		qh.sendError(msg.T, ErrorProtocol, "invalid token", msg.Addr)
		return
	}

	// implied_port: if falsy, the announcing node's DHT/BT port is taken
	// from the "port" argument instead of the UDP source port.
	announcePort := msg.Addr.Port
	if !msg.GetImpliedPort() {
		announcePort = port
	}

	peerInfo := EncodePeerInfo(msg.Addr.IP, uint16(announcePort))
	qh.storage.StorePeer(infoHash, peerInfo)

	if qh.onPeerDiscovered != nil {
		qh.onPeerDiscovered(PeerEvent{
			InfoHash: infoHash,
			Peer:     &net.UDPAddr{IP: msg.Addr.IP, Port: announcePort},
		})
	}

	response := AnnouncePeerResponse(msg.T, qh.responderID(senderID))
	qh.krpc.SendResponse(response, msg.Addr)
}

// handleSampleInfohashes answers BEP-51: return a random sample of known
// infohashes plus the closest nodes to the query's target, so a remote
// crawler can both harvest infohashes from us and continue its own
// traversal.
func (qh *QueryHandler) handleSampleInfohashes(msg *Message, senderID [sha1.Size]byte) {
	target, ok := msg.GetTarget()
	if !ok {
		qh.sendError(msg.T, ErrorProtocol, "invalid target", msg.Addr)
		return
	}

	const maxSamples = 20
	samples := qh.storage.SampleInfohashes(maxSamples)
	contacts := qh.table.FindClosestK(target, K)
	nodes := qh.encodeNodes(contacts)

	response := SampleInfohashesResponse(
		msg.T,
		qh.responderID(senderID),
		nodes,
		samples,
		qh.storage.TorrentCount(),
		int(sampleInfohashesInterval.Seconds()),
	)
	qh.krpc.SendResponse(response, msg.Addr)
}

func (qh *QueryHandler) encodeNodes(contacts []*Contact) []byte {
	if len(contacts) == 0 {
		return []byte{}
	}

	nodes := make([]byte, 0, len(contacts)*compactNodeInfoSize)
	for _, contact := range contacts {
		if info := contact.node.CompactNodeInfo(); info != nil {
			nodes = append(nodes, info...)
		}
	}

	return nodes
}

func (qh *QueryHandler) sendError(
	transactionID string,
	code int,
	message string,
	addr *net.UDPAddr,
) {
	qh.krpc.SendError(transactionID, code, message, addr)
}
