package dht

import (
	"crypto/sha1"
	"net"
	"sync"
	"time"
)

// freshThreshold and offlineThreshold give the fresh/unheard/offline
// freshness state machine its timing: a contact is fresh for 15 minutes
// after it was last seen, becomes unheard-from after that, and is
// considered offline once 20 minutes have passed without a response.
const (
	freshThreshold   = 15 * time.Minute
	offlineThreshold = 20 * time.Minute

	// maxFailedQueries additionally marks a contact bad after this many
	// consecutive query failures, even if it hasn't yet crossed
	// offlineThreshold — a node that answers once every ten minutes but
	// fails every query we actually send it is not useful regardless of
	// the clock.
	maxFailedQueries = 3
)

type ContactState int

const (
	StateGood         ContactState = iota // responded within freshThreshold
	StateQuestionable                     // unheard from, not yet written off
	StateBad                              // offline: stop routing through it
)

// Contact tracks a routing-table entry's liveness alongside its identity.
type Contact struct {
	node          *Node
	lastSeen      time.Time
	lastQuery     time.Time
	failedQueries int
	state         ContactState

	mut     sync.RWMutex
	pending map[string]time.Time // transaction id -> sent time
}

func NewContact(node *Node) *Contact {
	return &Contact{
		node:     node,
		lastSeen: time.Now(),
		state:    StateQuestionable,
		pending:  make(map[string]time.Time),
	}
}

func (c *Contact) ID() [sha1.Size]byte {
	return c.node.ID
}

func (c *Contact) Addr() *net.UDPAddr {
	return c.node.UDPAddr()
}

// MarkSeen updates the contact as having responded successfully.
func (c *Contact) MarkSeen() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.lastSeen = time.Now()
	c.failedQueries = 0
	c.state = StateGood
}

// MarkQueried records that we sent a query to this contact.
func (c *Contact) MarkQueried(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.lastQuery = time.Now()
	c.pending[transactionID] = time.Now()
}

func (c *Contact) MarkResponse(transactionID string) {
	c.mut.Lock()
	defer c.mut.Unlock()

	delete(c.pending, transactionID)
}

func (c *Contact) MarkFailed() {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.failedQueries++

	if c.failedQueries >= maxFailedQueries || time.Since(c.lastSeen) >= offlineThreshold {
		c.state = StateBad
	} else {
		c.state = StateQuestionable
	}
}

// IsGood reports whether the contact is fresh: seen within freshThreshold
// and not marked bad.
func (c *Contact) IsGood() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state != StateBad && time.Since(c.lastSeen) < freshThreshold
}

// IsQuestionable reports whether the contact is unheard-from: past
// freshThreshold but not yet written off as offline.
func (c *Contact) IsQuestionable() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if c.state == StateBad {
		return false
	}
	elapsed := time.Since(c.lastSeen)
	return elapsed >= freshThreshold && elapsed < offlineThreshold
}

// IsBad reports whether the contact is offline: past offlineThreshold, or
// failed maxFailedQueries consecutive queries.
func (c *Contact) IsBad() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.state == StateBad || time.Since(c.lastSeen) >= offlineThreshold
}

func (c *Contact) PendingQueries() int {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return len(c.pending)
}

func (c *Contact) CleanStaleQueries(timeout time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()

	now := time.Now()
	for txID, sentAt := range c.pending {
		if now.Sub(sentAt) > timeout {
			delete(c.pending, txID)
			c.failedQueries++
		}
	}
}
