package ipc

import (
	"crypto/sha1" //nolint:gosec // content identity hash, not a security boundary.
	"encoding/binary"
	"net"
	"sync"

	"github.com/haggle-net/haggle/internal/kernel"
)

// client is one registered application session (spec.md §4.6).
type client struct {
	sessionID   uint64
	name        string
	addr        net.Addr
	storagePath string

	filterID uint64
	nodeID   [20]byte

	mu     sync.Mutex
	events map[uint32]bool
}

// registry tracks registered client sessions, keyed by session id, by
// source address (to recognize a re-registering client) and by node id
// (for Manager.DeliverLocal's node -> client lookup).
type registry struct {
	mu      sync.Mutex
	nextID  uint64
	byAddr  map[string]*client
	bySess  map[uint64]*client
	byNode  map[[20]byte]*client
}

func newRegistry() *registry {
	return &registry{
		byAddr: make(map[string]*client),
		bySess: make(map[uint64]*client),
		byNode: make(map[[20]byte]*client),
	}
}

// lookupByAddr returns the client previously registered from addr, if
// any.
func (r *registry) lookupByAddr(addr net.Addr) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAddr[addr.String()]
}

// register allocates a new session for a client at addr, replacing any
// prior registration from the same address.
func (r *registry) register(addr net.Addr, name string, storagePath string) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := &client{
		sessionID:   r.nextID,
		name:        name,
		addr:        addr,
		storagePath: storagePath,
		events:      make(map[uint32]bool),
	}
	r.byAddr[addr.String()] = c
	r.bySess[c.sessionID] = c
	return c
}

// bindNode records the pseudo-node id a client's interest set is filed
// under, so Manager.DeliverLocal can route a node-addressed send back to
// the originating client.
func (r *registry) bindNode(c *client, nodeID [20]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.nodeID = nodeID
	r.byNode[nodeID] = c
}

func (r *registry) lookupByNode(nodeID [20]byte) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byNode[nodeID]
}

func (r *registry) lookupBySession(id uint64) *client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bySess[id]
}

// remove deregisters c.
func (r *registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byAddr, c.addr.String())
	delete(r.bySess, c.sessionID)
	delete(r.byNode, c.nodeID)
}

// all returns every currently registered client.
func (r *registry) all() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.bySess))
	for _, c := range r.bySess {
		out = append(out, c)
	}
	return out
}

// subscribe records that c wants events of kind t forwarded to it
// (register_event_interest, spec.md §4.6).
func (c *client) subscribe(t kernel.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[uint32(t)] = true
}

func (c *client) subscribed(t kernel.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[uint32(t)]
}

// appNodeID derives a stable 20-byte identity for an application session
// from its name and session id, sha1 over the identifying bytes, the
// same content-identity approach as types.NodeIDFromMACs.
func appNodeID(name string, sessionID uint64) [20]byte {
	h := sha1.New() //nolint:gosec // content identity hash, not a security boundary.
	h.Write([]byte(name))
	var sessBuf [8]byte
	binary.BigEndian.PutUint64(sessBuf[:], sessionID)
	h.Write(sessBuf[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
