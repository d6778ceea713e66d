package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"math/big"
)

// neighborID computes the id this node should *claim* as its own when
// replying to a query from remote, so that remote inserts us close to
// itself in its routing table: the top 15 bytes of remote's id with the
// first 5 bytes of our real id appended. Gated behind
// Config.EnableNeighborSpoofing; with it disabled callers should use the
// real local id instead.
func neighborID(local, remote [sha1.Size]byte) [sha1.Size]byte {
	var id [sha1.Size]byte
	copy(id[:15], remote[:15])
	copy(id[15:], local[:5])
	return id
}

var idSpace = new(big.Int).Lsh(big.NewInt(1), sha1.Size*8) // 2^160

// idToBig interprets a node id as an unsigned big-endian integer.
func idToBig(id [sha1.Size]byte) *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// bigToID converts a big.Int in [0, 2^160) back to a node id, left-padding
// with zero bytes as needed.
func bigToID(n *big.Int) [sha1.Size]byte {
	var id [sha1.Size]byte
	b := n.Bytes()
	if len(b) > sha1.Size {
		b = b[len(b)-sha1.Size:]
	}
	copy(id[sha1.Size-len(b):], b)
	return id
}

// randomIDInRange returns a node id drawn uniformly from [start, end), used
// to generate a lookup target that forces a refresh of a specific bucket.
func randomIDInRange(start, end *big.Int) [sha1.Size]byte {
	span := new(big.Int).Sub(end, start)
	if span.Sign() <= 0 {
		return bigToID(start)
	}

	offset, err := rand.Int(rand.Reader, span)
	if err != nil {
		return bigToID(start)
	}

	return bigToID(new(big.Int).Add(start, offset))
}
