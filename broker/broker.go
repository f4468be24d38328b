// Package broker implements the publicly reachable side of the tunnel: it
// accepts agent control connections, leases public ports, and relays
// traffic between external clients and the agent that owns each port.
package broker

import (
	"log"
	"sync/atomic"

	"github.com/xtaci/revtun/internal/portpool"
	"github.com/xtaci/revtun/internal/stats"
)

// Broker holds all shared, broker-wide state: the session registry, the
// port allocator, and the optional stats counters. A single Broker serves
// every connected agent.
type Broker struct {
	Token     string
	Compress  bool
	Quiet     bool
	ChunkSize int

	Registry *Registry
	Pool     *portpool.Pool
	Stats    *stats.Counters
}

// New constructs a Broker over the given port range. compress is this
// broker's own willingness to run the control channel through snappy; the
// final per-agent decision is negotiated per connection in HandleControl,
// since an agent that never asked for compression must not have it forced
// on it, and vice versa.
func New(token string, portMin, portMax int, compress, quiet bool, chunkSize int) (*Broker, error) {
	pool, err := portpool.New(portMin, portMax)
	if err != nil {
		return nil, err
	}
	return &Broker{
		Token:     token,
		Compress:  compress,
		Quiet:     quiet,
		ChunkSize: chunkSize,
		Registry:  NewRegistry(),
		Pool:      pool,
		Stats:     &stats.Counters{},
	}, nil
}

// teardownSession performs full session teardown: cancels the
// control-read loop (by closing the control socket, which unblocks its
// Read), cancels every public-pump task by closing the public listener and
// every stream's socket, releases the port lease, and removes the session
// from the registry. Safe to call more than once for the same session.
func (b *Broker) teardownSession(sess *Session) {
	sess.Teardown()

	b.Registry.mu.Lock()
	_, live := b.Registry.byID[sess.ID]
	if live {
		delete(b.Registry.byID, sess.ID)
		delete(b.Registry.byPort, sess.PublicPort)
	}
	b.Registry.mu.Unlock()
	if !live {
		// An earlier call already released the port and counted this teardown.
		return
	}

	b.Pool.Release(sess.PublicPort)
	atomic.AddInt64(&b.Stats.SessionsTornDown, 1)
	if !b.Quiet {
		log.Println("session torn down:", sess.ID, "released port:", sess.PublicPort)
	}
}

// Shutdown tears down every live session. Used on SIGTERM/SIGINT before the
// process exits.
func (b *Broker) Shutdown() {
	for _, sess := range b.Registry.All() {
		b.teardownSession(sess)
	}
}
