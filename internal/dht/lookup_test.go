package dht

import (
	"crypto/sha1"
	"net"
	"testing"
)

func TestClosestNodes_OrderedByDistance(t *testing.T) {
	var target [sha1.Size]byte
	c := newClosestNodes(target, 4)

	var far, near, mid [sha1.Size]byte
	far[0] = 0xff
	mid[0] = 0x0f
	near[0] = 0x01

	for _, id := range [][sha1.Size]byte{far, near, mid} {
		c.insert(&LookupNode{Contact: NewContact(&Node{ID: id, IP: net.ParseIP("127.0.0.1"), Port: 6881})})
	}

	ordered := c.ordered()
	if len(ordered) != 3 {
		t.Fatalf("ordered() len = %d, want 3", len(ordered))
	}
	if ordered[0].Contact.ID() != near {
		t.Fatalf("ordered()[0] = %x, want %x (closest)", ordered[0].Contact.ID(), near)
	}
	if ordered[2].Contact.ID() != far {
		t.Fatalf("ordered()[2] = %x, want %x (farthest)", ordered[2].Contact.ID(), far)
	}
}

func TestClosestNodes_BoundedByCapacity(t *testing.T) {
	var target [sha1.Size]byte
	c := newClosestNodes(target, 2)

	for i := 0; i < 5; i++ {
		var id [sha1.Size]byte
		id[19] = byte(i + 1)
		c.insert(&LookupNode{Contact: NewContact(&Node{ID: id, IP: net.ParseIP("127.0.0.1"), Port: 6881})})
	}

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (capacity-bounded)", c.Len())
	}
}
