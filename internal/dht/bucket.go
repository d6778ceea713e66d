package dht

import (
	"crypto/sha1"
	"math/big"
	"sync"
	"time"
)

// K is the maximum number of contacts a single bucket holds.
const K = 8

// Bucket owns the contacts whose ids fall in the half-open range
// [start, end). The routing table starts with a single bucket spanning
// the whole 160-bit id space and splits buckets on demand as spec'd in
// RoutingTable.Insert.
type Bucket struct {
	start, end *big.Int

	mut         sync.RWMutex
	contacts    []*Contact
	lastChanged time.Time
}

// NewBucket returns an empty bucket covering [start, end).
func NewBucket(start, end *big.Int) *Bucket {
	return &Bucket{
		start:       start,
		end:         end,
		contacts:    make([]*Contact, 0, K),
		lastChanged: time.Now(),
	}
}

// InRange reports whether id falls within [b.start, b.end).
func (b *Bucket) InRange(id [sha1.Size]byte) bool {
	n := idToBig(id)
	return n.Cmp(b.start) >= 0 && n.Cmp(b.end) < 0
}

func (b *Bucket) Len() int {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return len(b.contacts)
}

func (b *Bucket) IsFull() bool {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return len(b.contacts) >= K
}

func (b *Bucket) Get(id [sha1.Size]byte) *Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	for _, c := range b.contacts {
		if c.ID() == id {
			return c
		}
	}

	return nil
}

// Insert adds contact, or moves it to the back (most recently seen) if
// already present. Returns false if the bucket is full and contact is new.
func (b *Bucket) Insert(contact *Contact) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, c := range b.contacts {
		if c.ID() == contact.ID() {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.contacts = append(b.contacts, contact)
			b.lastChanged = time.Now()
			return true
		}
	}

	if len(b.contacts) < K {
		b.contacts = append(b.contacts, contact)
		b.lastChanged = time.Now()
		return true
	}

	return false
}

func (b *Bucket) Remove(id [sha1.Size]byte) bool {
	b.mut.Lock()
	defer b.mut.Unlock()

	for i, c := range b.contacts {
		if c.ID() == id {
			b.contacts = append(b.contacts[:i], b.contacts[i+1:]...)
			b.lastChanged = time.Now()
			return true
		}
	}

	return false
}

// LRU returns the least-recently-seen contact (the front of the slice),
// the classical Kademlia candidate for eviction-or-ping on a full bucket.
func (b *Bucket) LRU() *Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	if len(b.contacts) == 0 {
		return nil
	}
	return b.contacts[0]
}

func (b *Bucket) NeedsRefresh() bool {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return time.Since(b.lastChanged) > freshThreshold
}

func (b *Bucket) All() []*Contact {
	b.mut.RLock()
	defer b.mut.RUnlock()

	result := make([]*Contact, len(b.contacts))
	copy(result, b.contacts)
	return result
}

// mid returns the midpoint of [b.start, b.end), used as the split point.
func (b *Bucket) mid() *big.Int {
	sum := new(big.Int).Add(b.start, b.end)
	return sum.Rsh(sum, 1)
}

// split divides b into two new buckets at its midpoint, redistributing its
// current contacts between them. b itself is left untouched; callers
// replace it in the routing table's bucket list with the two results.
func (b *Bucket) split() (lower, upper *Bucket) {
	b.mut.RLock()
	contacts := make([]*Contact, len(b.contacts))
	copy(contacts, b.contacts)
	b.mut.RUnlock()

	mid := b.mid()
	lower = NewBucket(b.start, mid)
	upper = NewBucket(mid, b.end)

	for _, c := range contacts {
		if lower.InRange(c.ID()) {
			lower.Insert(c)
		} else {
			upper.Insert(c)
		}
	}

	return lower, upper
}
