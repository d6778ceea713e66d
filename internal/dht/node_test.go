package dht

import (
	"crypto/sha1"
	"net"
	"testing"
)

func TestNode_Valid(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		port int
		want bool
	}{
		{"public", "203.0.113.5", 6881, true},
		{"private 10.x", "10.0.0.1", 6881, false},
		{"private 192.168.x", "192.168.1.1", 6881, false},
		{"loopback", "127.0.0.1", 6881, false},
		{"link-local unicast", "169.254.1.1", 6881, false},
		{"multicast", "224.0.0.1", 6881, false},
		{"unspecified", "0.0.0.0", 6881, false},
		{"zero port", "203.0.113.5", 0, false},
		{"port too large", "203.0.113.5", 70000, false},
		{"ipv6 (out of scope)", "2001:db8::1", 6881, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := &Node{ID: [sha1.Size]byte{}, IP: net.ParseIP(tc.ip), Port: tc.port}
			if got := n.Valid(); got != tc.want {
				t.Fatalf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}
