package dht

import (
	"crypto/sha1"
	"math/big"
	"sort"
	"sync"
)

// maxBuckets bounds how many times the table may split: one split per bit
// of the id space is the most a binary split tree can ever need.
const maxBuckets = sha1.Size * 8

// RoutingTable is a dynamically split binary tree over the 160-bit id
// space. It starts as a single bucket spanning [0, 2^160) and splits a
// bucket in two whenever it is full and the split is permitted: the
// bucket contains the local id, or it is the right-most bucket in the
// tree. This mirrors classical Kademlia's rule that only the branch
// containing our own id (plus, here, the outermost open-ended branch)
// keeps growing into finer buckets; every other bucket stays capped at K
// and evicts instead of splitting.
type RoutingTable struct {
	localID [sha1.Size]byte
	maxSize int // total contacts across every bucket; 0 means unbounded

	mut     sync.RWMutex
	buckets []*Bucket // sorted ascending by start; ranges are contiguous
}

// NewRoutingTable returns a table for localID capped at maxSize total
// contacts. A maxSize of 0 leaves the table unbounded (aside from the
// per-bucket split ceiling).
func NewRoutingTable(localID [sha1.Size]byte, maxSize int) *RoutingTable {
	root := NewBucket(big.NewInt(0), new(big.Int).Set(idSpace))

	return &RoutingTable{
		localID: localID,
		maxSize: maxSize,
		buckets: []*Bucket{root},
	}
}

func (rt *RoutingTable) ID() [sha1.Size]byte {
	return rt.localID
}

// bucketIndexFor returns the index of the bucket whose range contains id.
// Callers must hold rt.mut.
func (rt *RoutingTable) bucketIndexFor(id [sha1.Size]byte) int {
	n := idToBig(id)
	return sort.Search(len(rt.buckets), func(i int) bool {
		return rt.buckets[i].end.Cmp(n) > 0
	})
}

// Insert adds contact to the table, splitting its target bucket as many
// times as permitted and needed to make room.
func (rt *RoutingTable) Insert(contact *Contact) bool {
	if contact.ID() == rt.localID {
		return false
	}

	rt.mut.Lock()
	defer rt.mut.Unlock()

	for {
		idx := rt.bucketIndexFor(contact.ID())
		bucket := rt.buckets[idx]

		// A known contact refreshing its position doesn't grow the
		// table, so it's always exempt from the total-size ceiling.
		if bucket.Get(contact.ID()) != nil {
			return bucket.Insert(contact)
		}

		if rt.maxSize > 0 && rt.sizeLocked() >= rt.maxSize {
			return rt.handleFullBucket(bucket, contact)
		}

		if bucket.Insert(contact) {
			return true
		}

		if !rt.canSplit(idx) {
			return rt.handleFullBucket(bucket, contact)
		}

		lower, upper := bucket.split()
		rt.buckets = append(rt.buckets[:idx], append([]*Bucket{lower, upper}, rt.buckets[idx+1:]...)...)
	}
}

// canSplit reports whether the bucket at idx may be split: the table
// hasn't hit maxBuckets, and the bucket either contains the local id or
// is the last (right-most, open-ended) bucket.
func (rt *RoutingTable) canSplit(idx int) bool {
	if len(rt.buckets) >= maxBuckets {
		return false
	}

	bucket := rt.buckets[idx]
	return bucket.InRange(rt.localID) || idx == len(rt.buckets)-1
}

// handleFullBucket is the terminal case once a bucket can no longer
// split: evict its LRU entry if that entry looks offline, otherwise
// reject the new contact (the maintenance loop is responsible for
// pinging questionable LRU entries so this resolves itself over time).
func (rt *RoutingTable) handleFullBucket(bucket *Bucket, newContact *Contact) bool {
	lru := bucket.LRU()
	if lru == nil {
		return false
	}

	if lru.IsBad() {
		bucket.Remove(lru.ID())
		bucket.Insert(newContact)
		return true
	}

	return false
}

func (rt *RoutingTable) Remove(id [sha1.Size]byte) bool {
	rt.mut.RLock()
	idx := rt.bucketIndexFor(id)
	bucket := rt.buckets[idx]
	rt.mut.RUnlock()

	return bucket.Remove(id)
}

func (rt *RoutingTable) Get(id [sha1.Size]byte) *Contact {
	rt.mut.RLock()
	idx := rt.bucketIndexFor(id)
	bucket := rt.buckets[idx]
	rt.mut.RUnlock()

	return bucket.Get(id)
}

// FindClosestK returns up to k contacts closest to target by XOR distance,
// expanding outward from target's bucket until enough candidates are
// gathered.
func (rt *RoutingTable) FindClosestK(target [sha1.Size]byte, k int) []*Contact {
	rt.mut.RLock()
	idx := rt.bucketIndexFor(target)
	buckets := rt.buckets
	rt.mut.RUnlock()

	var contacts []*Contact
	contacts = append(contacts, buckets[idx].All()...)

	for i := 1; len(contacts) < k && (idx-i >= 0 || idx+i < len(buckets)); i++ {
		if idx-i >= 0 {
			contacts = append(contacts, buckets[idx-i].All()...)
		}
		if idx+i < len(buckets) {
			contacts = append(contacts, buckets[idx+i].All()...)
		}
	}

	sort.Slice(contacts, func(i, j int) bool {
		return CompareDistance(target, contacts[i].ID(), contacts[j].ID()) < 0
	})

	if len(contacts) > k {
		contacts = contacts[:k]
	}

	return contacts
}

func (rt *RoutingTable) Size() int {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	return rt.sizeLocked()
}

// sizeLocked returns the total contact count. Callers must hold rt.mut.
func (rt *RoutingTable) sizeLocked() int {
	count := 0
	for _, bucket := range rt.buckets {
		count += bucket.Len()
	}

	return count
}

// GetBucketsNeedingRefresh returns buckets that have gone stale (no
// change in over freshThreshold) and hold at least one contact.
func (rt *RoutingTable) GetBucketsNeedingRefresh() []*Bucket {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var stale []*Bucket
	for _, bucket := range rt.buckets {
		if bucket.Len() > 0 && bucket.NeedsRefresh() {
			stale = append(stale, bucket)
		}
	}

	return stale
}

func (rt *RoutingTable) GetQuestionableContacts() []*Contact {
	rt.mut.RLock()
	defer rt.mut.RUnlock()

	var questionable []*Contact
	for _, bucket := range rt.buckets {
		for _, contact := range bucket.All() {
			if contact.IsQuestionable() {
				questionable = append(questionable, contact)
			}
		}
	}

	return questionable
}

// RemoveOffline drops every contact currently marked bad (offline) from
// the table and reports how many were removed.
func (rt *RoutingTable) RemoveOffline() int {
	rt.mut.RLock()
	buckets := rt.buckets
	rt.mut.RUnlock()

	removed := 0
	for _, bucket := range buckets {
		for _, contact := range bucket.All() {
			if contact.IsBad() {
				if bucket.Remove(contact.ID()) {
					removed++
				}
			}
		}
	}

	return removed
}

type RoutingTableStats struct {
	TotalContacts        int
	GoodContacts         int
	QuestionableContacts int
	BadContacts          int
	FilledBuckets        int
	EmptyBuckets         int
}

func (rt *RoutingTable) GetStats() RoutingTableStats {
	rt.mut.RLock()
	buckets := rt.buckets
	rt.mut.RUnlock()

	stats := RoutingTableStats{}

	for _, bucket := range buckets {
		contacts := bucket.All()
		if len(contacts) == 0 {
			stats.EmptyBuckets++
			continue
		}

		stats.FilledBuckets++
		stats.TotalContacts += len(contacts)

		for _, c := range contacts {
			switch {
			case c.IsGood():
				stats.GoodContacts++
			case c.IsQuestionable():
				stats.QuestionableContacts++
			case c.IsBad():
				stats.BadContacts++
			}
		}
	}

	return stats
}
