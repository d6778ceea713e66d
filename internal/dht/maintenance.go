package dht

import (
	"context"
	"net"
	"time"

	"github.com/prxssh/dhtnode/pkg/retry"
)

// maintenanceLoop is the single ticker that keeps this node's view of the
// swarm current: bootstrapping an empty table, refreshing buckets that
// have gone stale, re-pinging questionable contacts, and sweeping ones
// that have gone fully offline.
func (d *DHT) maintenanceLoop() {
	defer d.wg.Done()

	d.bootstrap()

	ticker := time.NewTicker(d.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			if d.table.Size() == 0 {
				d.bootstrap()
			}
			d.refreshStaleBuckets()
			d.pingQuestionable()
			if removed := d.table.RemoveOffline(); removed > 0 {
				d.config.Logger.Debug("swept offline contacts", "count", removed)
			}
		}
	}
}

// bootstrap pings every configured bootstrap node, retrying transient
// failures with backoff, then runs five find_node lookups for random
// targets to seed the routing table from whatever bootstrap nodes
// answered.
func (d *DHT) bootstrap() {
	for _, addrStr := range d.config.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			d.config.Logger.Warn("unresolvable bootstrap node", "addr", addrStr, "error", err.Error())
			continue
		}

		err = retry.Do(context.Background(), func(ctx context.Context) error {
			return d.Ping(addr)
		}, retry.WithMaxAttempts(3), retry.WithInitialDelay(500*time.Millisecond))
		if err != nil {
			d.config.Logger.Debug("bootstrap node unreachable", "addr", addrStr, "error", err.Error())
		}
	}

	for i := 0; i < 5; i++ {
		d.FindNode(randNodeID())
	}
}

// refreshStaleBuckets runs a find_node lookup for a random id inside each
// bucket that has gone stale, the classical Kademlia bucket-refresh.
func (d *DHT) refreshStaleBuckets() {
	for _, bucket := range d.table.GetBucketsNeedingRefresh() {
		target := randomIDInRange(bucket.start, bucket.end)
		d.FindNode(target)
	}
}

// pingQuestionable re-verifies every contact the routing table considers
// questionable (unheard from recently but not yet offline). A failed ping
// marks the contact failed and evicts it once that leaves it bad; an
// answer carrying the wrong id evicts it at once.
func (d *DHT) pingQuestionable() {
	for _, contact := range d.table.GetQuestionableContacts() {
		msg := PingQuery(d.krpc.generateTransactionID(), d.localID)

		response, err := d.krpc.SendQuery(msg, contact.Addr(), QueryTimeout)
		if err != nil {
			contact.MarkFailed()
			if contact.IsBad() {
				d.table.Remove(contact.ID())
			}
			continue
		}

		nodeID, ok := response.GetNodeID()
		if !ok || nodeID != contact.ID() {
			d.table.Remove(contact.ID())
			continue
		}

		contact.MarkSeen()
	}
}
