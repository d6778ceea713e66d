package dht

import (
	"crypto/sha1"
	"net"

	"github.com/prxssh/dhtnode/pkg/utils/cast"
)

type MessageType string

const (
	QueryType    MessageType = "q"
	ResponseType MessageType = "r"
	ErrorType    MessageType = "e"
)

type QueryMethod string

const (
	PingMethod             QueryMethod = "ping"
	FindNodeMethod         QueryMethod = "find_node"
	GetPeersMethod         QueryMethod = "get_peers"
	AnnouncePeerMethod     QueryMethod = "announce_peer"
	SampleInfohashesMethod QueryMethod = "sample_infohashes"
)

// responseKind classifies an inbound "r" dict by the shape of its keys,
// since a KRPC response carries no explicit method name of its own.
type responseKind int

const (
	responseUnknown responseKind = iota
	responsePing
	responseFindNode
	responseGetPeers
)

// classifyResponse implements the response-shape heuristic every Mainline
// DHT implementation uses: "values" present means get_peers, "nodes"
// whose length is a multiple of 26 means find_node, and a key set that is
// a subset of {id, ip, p} means ping. The precedence matters: check
// values first, then nodes, then fall back to ping.
func classifyResponse(r map[string]any) responseKind {
	if _, ok := r["values"]; ok {
		return responseGetPeers
	}

	if nodes, ok := r["nodes"].(string); ok && len(nodes)%compactNodeInfoSize == 0 {
		return responseFindNode
	}

	allowed := map[string]bool{"id": true, "ip": true, "p": true}
	for k := range r {
		if !allowed[k] {
			return responseUnknown
		}
	}
	return responsePing
}

type Message struct {
	T string      // TransactionID
	Y MessageType // Message Type
	V string      // Client version

	Q QueryMethod    // Query method name
	A map[string]any // Query arguments

	R map[string]any // Response values

	E []any // Err [code, message]

	Addr *net.UDPAddr
}

func NewQuery(method QueryMethod, transactionID string) *Message {
	return &Message{
		T: transactionID,
		Y: QueryType,
		Q: method,
		A: make(map[string]any),
	}
}

func NewResponse(transactionID string) *Message {
	return &Message{
		T: transactionID,
		Y: ResponseType,
		R: make(map[string]any),
	}
}

func NewError(transactionID string, code int, message string) *Message {
	return &Message{
		T: transactionID,
		Y: ErrorType,
		E: []any{code, message},
	}
}

const (
	ErrorGeneric       = 201 // Generic Error
	ErrorServer        = 202 // Server Error
	ErrorProtocol      = 203 // Protocol Error
	ErrorMethodUnknown = 204 // Method Unknown
)

func PingQuery(transactionID string, senderID [sha1.Size]byte) *Message {
	msg := NewQuery(PingMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	return msg
}

func PingResponse(transactionID string, senderID [sha1.Size]byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func FindNodeQuery(transactionID string, senderID, target [sha1.Size]byte) *Message {
	msg := NewQuery(FindNodeMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func FindNodeResponse(transactionID string, senderID [sha1.Size]byte, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	return msg
}

func GetPeersQuery(transactionID string, senderID, infoHash [sha1.Size]byte) *Message {
	msg := NewQuery(GetPeersMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	return msg
}

func GetPeersResponse(
	transactionID string,
	senderID [sha1.Size]byte,
	token string,
	values []string,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token

	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	msg.R["values"] = list
	return msg
}

func GetPeersResponseNodes(
	transactionID string,
	senderID [sha1.Size]byte,
	token string,
	nodes []byte,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	msg.R["nodes"] = string(nodes)
	return msg
}

func AnnouncePeerQuery(
	transactionID string,
	senderID, infoHash [sha1.Size]byte,
	impliedPort bool,
	port int,
	token string,
) *Message {
	msg := NewQuery(AnnouncePeerMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	msg.A["port"] = port
	msg.A["token"] = token
	if impliedPort {
		msg.A["implied_port"] = 1
	} else {
		msg.A["implied_port"] = 0
	}
	return msg
}

func AnnouncePeerResponse(transactionID string, senderID [sha1.Size]byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

// SampleInfohashesResponse answers a BEP-51 sample_infohashes query with a
// random sample of infohashes this node knows peers for. num reports the
// total population the sample was drawn from; interval suggests a
// re-query delay to the caller.
func SampleInfohashesResponse(
	transactionID string,
	senderID [sha1.Size]byte,
	nodes []byte,
	samples [][sha1.Size]byte,
	num, interval int,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	msg.R["num"] = num
	msg.R["interval"] = interval

	buf := make([]byte, 0, len(samples)*sha1.Size)
	for _, s := range samples {
		buf = append(buf, s[:]...)
	}
	msg.R["samples"] = string(buf)
	return msg
}

func (m *Message) GetNodeID() ([sha1.Size]byte, bool) {
	var id [sha1.Size]byte

	var idStr string
	var err error
	if m.Y == ResponseType && m.R != nil {
		idStr, err = cast.ToString(m.R["id"])
	} else if m.Y == QueryType && m.A != nil {
		idStr, err = cast.ToString(m.A["id"])
	} else {
		return id, false
	}

	if err != nil || len(idStr) != sha1.Size {
		return id, false
	}

	copy(id[:], idStr)
	return id, true
}

func (m *Message) GetTarget() ([sha1.Size]byte, bool) {
	var target [sha1.Size]byte

	if m.Y != QueryType || m.A == nil {
		return target, false
	}

	targetStr, err := cast.ToString(m.A["target"])
	if err != nil || len(targetStr) != sha1.Size {
		return target, false
	}

	copy(target[:], targetStr)
	return target, true
}

func (m *Message) GetInfoHash() ([sha1.Size]byte, bool) {
	var hash [sha1.Size]byte

	if m.Y != QueryType || m.A == nil {
		return hash, false
	}

	hashStr, err := cast.ToString(m.A["info_hash"])
	if err != nil || len(hashStr) != sha1.Size {
		return hash, false
	}

	copy(hash[:], hashStr)
	return hash, true
}

func (m *Message) GetToken() (string, bool) {
	if m.Y == ResponseType && m.R != nil {
		token, err := cast.ToString(m.R["token"])
		return token, err == nil
	}

	if m.Y == QueryType && m.A != nil {
		token, err := cast.ToString(m.A["token"])
		return token, err == nil
	}

	return "", false
}

func (m *Message) GetNodes() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	nodesStr, err := cast.ToString(m.R["nodes"])
	if err != nil {
		return nil, false
	}

	return []byte(nodesStr), true
}

func (m *Message) GetValues() ([]string, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	values, err := cast.ToStringSlice(m.R["values"])
	if err != nil {
		return nil, false
	}

	return values, len(values) > 0
}

func (m *Message) GetPort() (int, bool) {
	if m.Y != QueryType || m.A == nil {
		return 0, false
	}

	port, err := cast.ToInt(m.A["port"])
	if err != nil {
		return 0, false
	}

	return int(port), true
}

// GetImpliedPort reports announce_peer's implied_port argument. A missing
// or zero value means false: use a.port instead of the datagram's source
// port when registering the announcing node.
func (m *Message) GetImpliedPort() bool {
	if m.Y != QueryType || m.A == nil {
		return false
	}

	v, err := cast.ToInt(m.A["implied_port"])
	if err != nil {
		return false
	}
	return v != 0
}

func (m *Message) IsQuery() bool {
	return m.Y == QueryType
}

func (m *Message) IsResponse() bool {
	return m.Y == ResponseType
}

func (m *Message) IsError() bool {
	return m.Y == ErrorType
}
