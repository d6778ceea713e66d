package config

import (
	"crypto/sha1"
	"testing"
	"time"
)

func TestNew_GeneratesRandomLocalIDWhenUnset(t *testing.T) {
	c1 := New()
	c2 := New()

	if c1.LocalID == ([sha1.Size]byte{}) {
		t.Fatalf("LocalID is zero value, want a generated id")
	}
	if c1.LocalID == c2.LocalID {
		t.Fatalf("two New() calls produced identical LocalID, want distinct random ids")
	}
}

func TestNew_HonorsExplicitLocalID(t *testing.T) {
	var id [sha1.Size]byte
	id[0] = 0xaa

	c := New(WithLocalID(id))
	if c.LocalID != id {
		t.Fatalf("LocalID = %x, want %x", c.LocalID, id)
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	c := New(
		WithListenAddr(":9999"),
		WithBootstrapNodes([]string{"example.com:6881"}),
		WithMaintenanceInterval(10*time.Second),
		WithNeighborSpoofing(true),
	)

	if c.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q, want %q", c.ListenAddr, ":9999")
	}
	if len(c.BootstrapNodes) != 1 || c.BootstrapNodes[0] != "example.com:6881" {
		t.Fatalf("BootstrapNodes = %v, want [example.com:6881]", c.BootstrapNodes)
	}
	if c.MaintenanceInterval != 10*time.Second {
		t.Fatalf("MaintenanceInterval = %v, want 10s", c.MaintenanceInterval)
	}
	if !c.EnableNeighborSpoofing {
		t.Fatalf("EnableNeighborSpoofing = false, want true")
	}
}

func TestDefault_MatchesPublicSwarmDefaults(t *testing.T) {
	c := Default()

	if c.ListenAddr != ":6881" {
		t.Fatalf("ListenAddr = %q, want :6881", c.ListenAddr)
	}
	if len(c.BootstrapNodes) != len(DefaultBootstrapNodes) {
		t.Fatalf("BootstrapNodes len = %d, want %d", len(c.BootstrapNodes), len(DefaultBootstrapNodes))
	}
}
