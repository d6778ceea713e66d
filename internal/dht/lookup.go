package dht

import (
	"crypto/sha1"
	"errors"
	"net"
	"sort"
	"sync"
	"time"
)

type LookupType int

const (
	LookupTypeNodes LookupType = iota // find_node lookup
	LookupTypePeers                   // get_peers lookup
)

const (
	Alpha         = 3 // Concurrency factor (parallel queries)
	LookupK       = 8 // Number of closest nodes to find
	LookupTimeout = 30 * time.Second
	QueryTimeout  = 15 * time.Second
)

type Lookup struct {
	dht        *DHT
	target     [sha1.Size]byte
	lookupType LookupType

	closest   *closestNodes
	contacted map[[sha1.Size]byte]bool
	pending   map[string]*LookupNode
	peers     []net.Addr

	mu         sync.Mutex
	done       chan struct{}
	queryCh    chan *LookupNode
	responseCh chan *LookupResponse
}

type LookupNode struct {
	Contact *Contact
	Token   string // For get_peers responses
	Queried bool
}

type LookupResponse struct {
	Node  *LookupNode
	Nodes []*Contact
	Peers []net.Addr
	Token string
	Err   error
}

type LookupResult struct {
	ClosestNodes []*LookupNode
	Peers        []net.Addr
	Err          error
}

func NewLookup(dht *DHT, target [sha1.Size]byte, lookupType LookupType) *Lookup {
	return &Lookup{
		dht:        dht,
		target:     target,
		lookupType: lookupType,
		closest:    newClosestNodes(target, LookupK*2),
		contacted:  make(map[[sha1.Size]byte]bool),
		pending:    make(map[string]*LookupNode),
		done:       make(chan struct{}),
		queryCh:    make(chan *LookupNode, Alpha),
		responseCh: make(chan *LookupResponse, Alpha),
	}
}

func (l *Lookup) Run() *LookupResult {
	seeds := l.dht.table.FindClosestK(l.target, LookupK)
	for _, contact := range seeds {
		l.addNode(&LookupNode{Contact: contact})
	}

	if len(seeds) == 0 {
		return &LookupResult{Err: errors.New("no nodes in routing table")}
	}

	l.dht.config.Logger.Debug("starting lookup", "type", l.lookupType, "seeds", len(seeds))

	var wg sync.WaitGroup
	for i := 0; i < Alpha; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.queryWorker()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		l.responseHandler()
	}()

	timeout := time.After(LookupTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			close(l.done)
			wg.Wait()
			l.dht.config.Logger.Warn("lookup timeout", "type", l.lookupType, "contacted", len(l.contacted), "closest", l.closest.Len())
			return l.buildResult(errors.New("lookup timeout"))

		case <-ticker.C:
			if l.isComplete() {
				close(l.done)
				wg.Wait()
				l.dht.config.Logger.Debug("lookup complete", "type", l.lookupType, "contacted", len(l.contacted), "peers", len(l.peers))
				return l.buildResult(nil)
			}

			l.scheduleQueries()
		}
	}
}

func (l *Lookup) queryWorker() {
	for {
		select {
		case <-l.done:
			return
		case node := <-l.queryCh:
			l.sendQuery(node)
		}
	}
}

func (l *Lookup) sendQuery(node *LookupNode) {
	var msg *Message
	txID := l.dht.krpc.generateTransactionID()

	switch l.lookupType {
	case LookupTypeNodes:
		msg = FindNodeQuery(txID, l.dht.localID, l.target)
	case LookupTypePeers:
		msg = GetPeersQuery(txID, l.dht.localID, l.target)
	}

	l.mu.Lock()
	node.Queried = true
	l.pending[txID] = node
	node.Contact.MarkQueried(txID)
	l.mu.Unlock()

	response, err := l.dht.krpc.SendQuery(msg, node.Contact.Addr(), QueryTimeout)

	result := &LookupResponse{
		Node: node,
		Err:  err,
	}

	if err == nil {
		l.parseResponse(response, result)
	}

	select {
	case l.responseCh <- result:
	case <-l.done:
	}
}

func (l *Lookup) parseResponse(msg *Message, result *LookupResponse) {
	nodeID, ok := msg.GetNodeID()
	if !ok || nodeID != result.Node.Contact.ID() {
		result.Err = errors.New("node ID mismatch")
		return
	}

	if token, ok := msg.GetToken(); ok {
		result.Token = token
	}

	if values, ok := msg.GetValues(); ok {
		for _, value := range values {
			if len(value) == 6 {
				var peerInfo [6]byte
				copy(peerInfo[:], value)
				ip, port := DecodePeerInfo(peerInfo)
				result.Peers = append(result.Peers, &net.UDPAddr{IP: ip, Port: int(port)})
			}
		}
	}

	if nodesData, ok := msg.GetNodes(); ok {
		nodes := DecodeCompactNodeInfoList(nodesData)
		for _, node := range nodes {
			result.Nodes = append(result.Nodes, NewContact(node))
		}
	}
}

func (l *Lookup) responseHandler() {
	for {
		select {
		case <-l.done:
			return
		case response := <-l.responseCh:
			l.handleResponse(response)
		}
	}
}

func (l *Lookup) handleResponse(response *LookupResponse) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for txID, node := range l.pending {
		if node == response.Node {
			delete(l.pending, txID)
			break
		}
	}

	if response.Err != nil {
		response.Node.Contact.MarkFailed()
		return
	}

	response.Node.Contact.MarkSeen()
	response.Node.Token = response.Token
	l.peers = append(l.peers, response.Peers...)

	l.insertIfValid(response.Node.Contact)

	for _, contact := range response.Nodes {
		l.insertIfValid(contact)
		l.addNode(&LookupNode{Contact: contact})
	}
}

// insertIfValid adds contact to the routing table, subject to the same
// validity checks every other insertion path applies, and never for our
// own id.
func (l *Lookup) insertIfValid(contact *Contact) {
	if contact.ID() == l.dht.localID {
		return
	}
	if !contact.node.Valid() {
		return
	}

	l.dht.table.Insert(contact)
}

func (l *Lookup) addNode(node *LookupNode) {
	if l.contacted[node.Contact.ID()] {
		return
	}

	if node.Contact.ID() == l.dht.localID {
		return
	}

	l.closest.insert(node)
}

func (l *Lookup) scheduleQueries() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) >= Alpha {
		return
	}

	scheduled := 0
	for _, node := range l.closest.ordered() {
		if scheduled >= Alpha-len(l.pending) {
			break
		}

		if !node.Queried && !l.contacted[node.Contact.ID()] {
			l.contacted[node.Contact.ID()] = true

			select {
			case l.queryCh <- node:
				scheduled++
			case <-l.done:
				return
			}
		}
	}
}

func (l *Lookup) isComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) > 0 {
		return false
	}

	nodes := l.closest.ordered()
	queriedClosest := 0
	for i := 0; i < len(nodes) && i < LookupK; i++ {
		if nodes[i].Queried {
			queriedClosest++
		}
	}

	return queriedClosest >= LookupK || queriedClosest >= len(nodes)
}

func (l *Lookup) buildResult(err error) *LookupResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	nodes := l.closest.ordered()
	closestCount := LookupK
	if len(nodes) < closestCount {
		closestCount = len(nodes)
	}

	return &LookupResult{
		ClosestNodes: append([]*LookupNode(nil), nodes[:closestCount]...),
		Peers:        l.peers,
		Err:          err,
	}
}

// closestNodes keeps a bounded, rank-ordered set of the nodes seen so far
// during a lookup, sorted by XOR distance to target. A lookup repeatedly
// needs the whole ordered prefix (to decide who to query next, and who
// counts toward completion), which a bare container/heap does not expose
// without draining it; a capacity-bounded sorted slice gives the same
// "keep only the closest N" behavior with ordered iteration for free.
type closestNodes struct {
	target   [sha1.Size]byte
	capacity int
	nodes    []*LookupNode
}

func newClosestNodes(target [sha1.Size]byte, capacity int) *closestNodes {
	return &closestNodes{target: target, capacity: capacity}
}

func (c *closestNodes) Len() int { return len(c.nodes) }

func (c *closestNodes) insert(node *LookupNode) {
	idx := sort.Search(len(c.nodes), func(i int) bool {
		return CompareDistance(c.target, c.nodes[i].Contact.ID(), node.Contact.ID()) >= 0
	})

	c.nodes = append(c.nodes, nil)
	copy(c.nodes[idx+1:], c.nodes[idx:])
	c.nodes[idx] = node

	if len(c.nodes) > c.capacity {
		c.nodes = c.nodes[:c.capacity]
	}
}

func (c *closestNodes) ordered() []*LookupNode {
	return c.nodes
}
