package dht

import (
	"crypto/sha1"
	"net"
	"testing"
)

func TestRoutingTable_InsertAndGet(t *testing.T) {
	var localID [sha1.Size]byte
	localID[0] = 0x80
	rt := NewRoutingTable(localID, 0)

	var id [sha1.Size]byte
	id[0] = 0x01
	c := newTestContact(t, id)

	if !rt.Insert(c) {
		t.Fatalf("Insert() = false, want true")
	}
	if got := rt.Get(id); got != c {
		t.Fatalf("Get() = %v, want %v", got, c)
	}
}

func TestRoutingTable_RejectsLocalID(t *testing.T) {
	var localID [sha1.Size]byte
	localID[0] = 0x80
	rt := NewRoutingTable(localID, 0)

	if rt.Insert(newTestContact(t, localID)) {
		t.Fatalf("Insert(localID) = true, want false")
	}
}

// TestRoutingTable_SplitsOwnBranch fills the bucket containing the local
// id past K capacity and expects the table to split rather than reject
// new contacts, since that bucket always contains the local id.
func TestRoutingTable_SplitsOwnBranch(t *testing.T) {
	var localID [sha1.Size]byte // id space all-zero: local id lives in the "low" half every split
	rt := NewRoutingTable(localID, 0)

	inserted := 0
	for i := 0; i < K*4; i++ {
		var id [sha1.Size]byte
		id[0] = 0x00
		id[19] = byte(i + 1)
		// low top bits, distinct low bytes: all land in the bucket
		// containing the local id until enough splits separate them.
		id[1] = byte(i)
		if rt.Insert(newTestContact(t, id)) {
			inserted++
		}
	}

	if rt.Size() != inserted {
		t.Fatalf("Size() = %d, want %d", rt.Size(), inserted)
	}
	if inserted <= K {
		t.Fatalf("inserted = %d, want > %d (expected the local-id bucket to split and accept more)", inserted, K)
	}
}

func TestRoutingTable_FindClosestK(t *testing.T) {
	var localID [sha1.Size]byte
	rt := NewRoutingTable(localID, 0)

	var ids [][sha1.Size]byte
	for i := 0; i < 5; i++ {
		var id [sha1.Size]byte
		id[19] = byte(i + 1)
		ids = append(ids, id)
		rt.Insert(newTestContact(t, id))
	}

	var target [sha1.Size]byte
	closest := rt.FindClosestK(target, 3)

	if len(closest) != 3 {
		t.Fatalf("FindClosestK() returned %d contacts, want 3", len(closest))
	}

	for i := 1; i < len(closest); i++ {
		if CompareDistance(target, closest[i-1].ID(), closest[i].ID()) > 0 {
			t.Fatalf("FindClosestK() not sorted by distance at index %d", i)
		}
	}
}

func TestRoutingTable_RemoveOffline(t *testing.T) {
	var localID [sha1.Size]byte
	rt := NewRoutingTable(localID, 0)

	var id [sha1.Size]byte
	id[19] = 0x01
	c := NewContact(&Node{ID: id, IP: net.ParseIP("127.0.0.1"), Port: 6881})
	rt.Insert(c)

	for i := 0; i < maxFailedQueries; i++ {
		c.MarkFailed()
	}

	removed := rt.RemoveOffline()
	if removed != 1 {
		t.Fatalf("RemoveOffline() = %d, want 1", removed)
	}
	if rt.Get(id) != nil {
		t.Fatalf("Get() after RemoveOffline() = non-nil, want nil")
	}
}

// TestRoutingTable_EnforcesMaxSize checks that a nonzero maxSize caps
// total contacts below per-bucket capacity: with maxSize 2 < K the root
// bucket never fills, yet new contacts are rejected (or only admitted by
// eviction) once the global total is reached.
func TestRoutingTable_EnforcesMaxSize(t *testing.T) {
	var localID [sha1.Size]byte
	rt := NewRoutingTable(localID, 2)

	for i := 0; i < 5; i++ {
		var id [sha1.Size]byte
		id[0] = byte(0x20 * (i + 1)) // spread across the id space
		id[19] = byte(i + 1)
		rt.Insert(newTestContact(t, id))
	}

	if rt.Size() > 2 {
		t.Fatalf("Size() = %d, want <= 2 (maxSize ceiling)", rt.Size())
	}
}

// TestRoutingTable_RefreshExemptFromMaxSize checks that re-inserting an
// already-known contact (e.g. on MarkSeen refresh) is never blocked by
// maxSize, since it doesn't grow the table.
func TestRoutingTable_RefreshExemptFromMaxSize(t *testing.T) {
	var localID [sha1.Size]byte
	rt := NewRoutingTable(localID, 1)

	var id [sha1.Size]byte
	id[19] = 0x01
	c := newTestContact(t, id)

	if !rt.Insert(c) {
		t.Fatalf("first Insert() = false, want true")
	}
	if !rt.Insert(c) {
		t.Fatalf("refreshing Insert() of an already-known contact = false, want true")
	}
	if rt.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", rt.Size())
	}
}

func TestRoutingTable_Stats(t *testing.T) {
	var localID [sha1.Size]byte
	rt := NewRoutingTable(localID, 0)

	var id [sha1.Size]byte
	id[19] = 0x01
	c := newTestContact(t, id)
	c.MarkSeen()
	rt.Insert(c)

	stats := rt.GetStats()
	if stats.TotalContacts != 1 {
		t.Fatalf("TotalContacts = %d, want 1", stats.TotalContacts)
	}
	if stats.GoodContacts != 1 {
		t.Fatalf("GoodContacts = %d, want 1", stats.GoodContacts)
	}
}
