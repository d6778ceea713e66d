package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"strconv"
)

// compactNodeInfoSize is the wire size of one node entry in a find_node or
// get_peers "nodes" string: 20-byte id, 4-byte IPv4 address, 2-byte port.
const compactNodeInfoSize = 26

// compactPeerInfoSize is the wire size of one entry in a get_peers "values"
// list: 4-byte IPv4 address, 2-byte port.
const compactPeerInfoSize = 6

type Node struct {
	ID   [sha1.Size]byte
	IP   net.IP
	Port int
}

func NewNode(ip net.IP, port int) *Node {
	return &Node{ID: randNodeID(), IP: ip, Port: port}
}

func NewNodeWithID(id [sha1.Size]byte, ip net.IP, port int) *Node {
	return &Node{ID: id, IP: ip, Port: port}
}

// CompactNodeInfo encodes n as the 26-byte form used in "nodes" strings.
// Returns nil if n has no IPv4 address (IPv6 is out of scope).
func (n *Node) CompactNodeInfo() []byte {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}

	buf := make([]byte, compactNodeInfoSize)
	copy(buf[:sha1.Size], n.ID[:])
	copy(buf[20:24], ip4)
	binary.BigEndian.PutUint16(buf[24:26], uint16(n.Port))

	return buf
}

func DecodeCompactNodeInfo(data []byte) *Node {
	if len(data) != compactNodeInfoSize {
		return nil
	}

	var id [sha1.Size]byte
	copy(id[:], data[:sha1.Size])

	ip := net.IPv4(data[20], data[21], data[22], data[23])
	port := binary.BigEndian.Uint16(data[24:26])

	return &Node{ID: id, IP: ip, Port: int(port)}
}

// DecodeCompactNodeInfoList splits a "nodes" string into individual Nodes.
// A length that isn't a multiple of compactNodeInfoSize is malformed and
// yields nil, per the find_node_response classification rule.
func DecodeCompactNodeInfoList(data []byte) []*Node {
	if len(data)%compactNodeInfoSize != 0 {
		return nil
	}

	count := len(data) / compactNodeInfoSize
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		offset := i * compactNodeInfoSize
		if node := DecodeCompactNodeInfo(data[offset : offset+compactNodeInfoSize]); node != nil {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

func (n *Node) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP, Port: n.Port}
}

// Valid reports whether n is eligible for insertion into a routing table:
// a publicly routable IPv4 address with a well-formed port. Private,
// loopback, link-local, unspecified, and multicast addresses are rejected,
// since a node behind one of those can never be a useful route for anyone
// outside its own network.
func (n *Node) Valid() bool {
	if n.Port <= 0 || n.Port > 65535 {
		return false
	}

	ip4 := n.IP.To4()
	if ip4 == nil {
		return false
	}

	if ip4.IsPrivate() || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() ||
		ip4.IsLinkLocalMulticast() || ip4.IsMulticast() || ip4.IsUnspecified() {
		return false
	}

	return true
}

func (n *Node) String() string {
	return net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port))
}

func randNodeID() [sha1.Size]byte {
	var nodeID [sha1.Size]byte

	if _, err := rand.Read(nodeID[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return nodeID
}
