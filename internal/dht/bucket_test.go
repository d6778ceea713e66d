package dht

import (
	"crypto/sha1"
	"math/big"
	"net"
	"testing"
)

func newTestContact(t *testing.T, id [sha1.Size]byte) *Contact {
	t.Helper()
	return NewContact(&Node{ID: id, IP: net.ParseIP("127.0.0.1"), Port: 6881})
}

func TestBucket_InsertAndGet(t *testing.T) {
	b := NewBucket(big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 160))

	var id [sha1.Size]byte
	id[0] = 0x01
	c := newTestContact(t, id)

	if !b.Insert(c) {
		t.Fatalf("Insert() = false, want true on empty bucket")
	}
	if got := b.Get(id); got != c {
		t.Fatalf("Get() = %v, want %v", got, c)
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestBucket_FullRejectsNewContact(t *testing.T) {
	b := NewBucket(big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 160))

	for i := 0; i < K; i++ {
		var id [sha1.Size]byte
		id[19] = byte(i + 1)
		if !b.Insert(newTestContact(t, id)) {
			t.Fatalf("Insert() = false filling bucket at i=%d", i)
		}
	}

	var overflow [sha1.Size]byte
	overflow[19] = byte(K + 1)
	if b.Insert(newTestContact(t, overflow)) {
		t.Fatalf("Insert() = true on full bucket, want false")
	}
}

func TestBucket_InsertExistingMovesToBack(t *testing.T) {
	b := NewBucket(big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 160))

	var id1, id2 [sha1.Size]byte
	id1[19] = 0x01
	id2[19] = 0x02

	c1 := newTestContact(t, id1)
	c2 := newTestContact(t, id2)
	b.Insert(c1)
	b.Insert(c2)

	b.Insert(c1) // re-insert: should move to back, not duplicate

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after re-insert", b.Len())
	}
	if lru := b.LRU(); lru != c2 {
		t.Fatalf("LRU() = %v, want %v (c1 should have moved to back)", lru, c2)
	}
}

func TestBucket_Remove(t *testing.T) {
	b := NewBucket(big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 160))

	var id [sha1.Size]byte
	id[19] = 0x01
	c := newTestContact(t, id)
	b.Insert(c)

	if !b.Remove(id) {
		t.Fatalf("Remove() = false, want true")
	}
	if b.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 after Remove", b.Len())
	}
	if b.Remove(id) {
		t.Fatalf("Remove() = true on already-removed id, want false")
	}
}

func TestBucket_InRange(t *testing.T) {
	mid := new(big.Int).Lsh(big.NewInt(1), 159)
	b := NewBucket(big.NewInt(0), mid)

	var low, high [sha1.Size]byte
	low[0] = 0x00
	high[0] = 0xff

	if !b.InRange(low) {
		t.Fatalf("InRange(low) = false, want true")
	}
	if b.InRange(high) {
		t.Fatalf("InRange(high) = true, want false")
	}
}

func TestBucket_Split(t *testing.T) {
	b := NewBucket(big.NewInt(0), new(big.Int).Lsh(big.NewInt(1), 160))

	for i := 0; i < K; i++ {
		var id [sha1.Size]byte
		if i%2 == 0 {
			id[0] = 0x00 // falls in lower half
		} else {
			id[0] = 0xff // falls in upper half
		}
		id[19] = byte(i + 1)
		b.Insert(newTestContact(t, id))
	}

	lower, upper := b.split()

	if lower.Len()+upper.Len() != K {
		t.Fatalf("split() total contacts = %d, want %d", lower.Len()+upper.Len(), K)
	}
	for _, c := range lower.All() {
		if !lower.InRange(c.ID()) {
			t.Fatalf("contact %v out of range in lower bucket", c.ID())
		}
	}
	for _, c := range upper.All() {
		if !upper.InRange(c.ID()) {
			t.Fatalf("contact %v out of range in upper bucket", c.ID())
		}
	}
}
