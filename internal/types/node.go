package types

import (
	"sync"
	"time"
)

// NodeKind tags the role a Node plays (spec.md §3).
type NodeKind uint8

// Node kinds.
const (
	NodeUndefined NodeKind = iota
	NodeThisNode
	NodePeer
	NodeApplication
	NodeGateway
)

// String returns the kind's human-readable name.
func (k NodeKind) String() string {
	switch k {
	case NodeThisNode:
		return "this_node"
	case NodePeer:
		return "peer"
	case NodeApplication:
		return "application"
	case NodeGateway:
		return "gateway"
	default:
		return "undefined"
	}
}

// DefaultMatchingThreshold is the minimum match ratio (%) a node accepts
// when no explicit threshold is configured.
const DefaultMatchingThreshold = 0

// DefaultMaxDataObjectsPerMatch bounds the number of data objects a single
// dataobject_query may return for a node when unconfigured.
const DefaultMaxDataObjectsPerMatch = 100

// Node identifies a peer, this host, an application or a gateway
// (spec.md §3). It is reference-counted and guarded by its own lock, never
// the owning NodeStore's lock (spec.md §5 lock-ordering discipline).
type Node struct {
	mu sync.RWMutex

	id   [20]byte
	kind NodeKind
	name string

	interest    AttributeSet
	bloomfilter *Bloomfilter

	matchingThreshold uint32
	maxPerMatch       uint32

	descriptionCreateTime time.Time
	descriptionExchanged  bool

	interfaces []*Interface

	refs int32
}

// NewNode constructs a Node with the given identity, kind and name.
// Threshold/cap default to the package defaults.
func NewNode(id [20]byte, kind NodeKind, name string) *Node {
	return &Node{
		id:                id,
		kind:              kind,
		name:              name,
		bloomfilter:       NewBloomfilter(0, 0, kind == NodeThisNode),
		matchingThreshold: DefaultMatchingThreshold,
		maxPerMatch:       DefaultMaxDataObjectsPerMatch,
	}
}

// ID returns the node's 20-byte identity hash.
func (n *Node) ID() [20]byte {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// Kind returns the node's role.
func (n *Node) Kind() NodeKind {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.kind
}

// Name returns the node's display name.
func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// Interest returns the node's subscription attribute set.
func (n *Node) Interest() AttributeSet {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.interest
}

// SetInterest replaces the node's subscription attribute set.
func (n *Node) SetInterest(a AttributeSet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interest = a
}

// Bloomfilter returns the node's bloom filter of already-received IDs.
func (n *Node) Bloomfilter() *Bloomfilter {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.bloomfilter
}

// SetBloomfilter replaces the node's bloom filter outright.
func (n *Node) SetBloomfilter(bf *Bloomfilter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bloomfilter = bf
}

// MergeBloomfilter ORs other into the node's existing filter in place.
func (n *Node) MergeBloomfilter(other *Bloomfilter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.bloomfilter == nil {
		n.bloomfilter = other
		return
	}
	n.bloomfilter.Or(other)
}

// MatchingThreshold returns the minimum match ratio (%) this node accepts.
func (n *Node) MatchingThreshold() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.matchingThreshold
}

// SetMatchingThreshold sets the minimum match ratio (%).
func (n *Node) SetMatchingThreshold(pct uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matchingThreshold = pct
}

// MaxDataObjectsPerMatch returns the cap on a single dataobject_query.
func (n *Node) MaxDataObjectsPerMatch() uint32 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.maxPerMatch
}

// SetMaxDataObjectsPerMatch sets the cap on a single dataobject_query.
func (n *Node) SetMaxDataObjectsPerMatch(max uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.maxPerMatch = max
}

// DescriptionCreateTime returns the node-description's creation timestamp.
func (n *Node) DescriptionCreateTime() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.descriptionCreateTime
}

// SetDescriptionCreateTime sets the node-description's creation timestamp.
func (n *Node) SetDescriptionCreateTime(t time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.descriptionCreateTime = t
}

// DescriptionExchanged reports whether this node has completed a
// node-description exchange (spec.md §4.2: inherited across merges from
// undefined nodes).
func (n *Node) DescriptionExchanged() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.descriptionExchanged
}

// SetDescriptionExchanged marks the node-description exchange complete.
func (n *Node) SetDescriptionExchanged(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.descriptionExchanged = v
}

// Interfaces returns a copy of the node's interface list.
func (n *Node) Interfaces() []*Interface {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Interface(nil), n.interfaces...)
}

// AddInterface appends an interface to the node if not already present
// (by Interface.Equal).
func (n *Node) AddInterface(iface *Interface) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.interfaces {
		if existing.Equal(iface) {
			return
		}
	}
	n.interfaces = append(n.interfaces, iface)
}

// RemoveInterface removes an interface matching iface's (kind, identifier).
func (n *Node) RemoveInterface(iface *Interface) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.interfaces[:0]
	for _, existing := range n.interfaces {
		if !existing.Equal(iface) {
			out = append(out, existing)
		}
	}
	n.interfaces = out
}

// HasInterface reports whether iface (by kind+identifier) is present.
func (n *Node) HasInterface(iface *Interface) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, existing := range n.interfaces {
		if existing.Equal(iface) {
			return true
		}
	}
	return false
}

// IsNeighbor reports whether at least one of the node's interfaces is
// currently UP (the GLOSSARY's definition of "neighbor").
func (n *Node) IsNeighbor() bool {
	n.mu.RLock()
	ifaces := append([]*Interface(nil), n.interfaces...)
	n.mu.RUnlock()
	for _, iface := range ifaces {
		if iface.IsUp() {
			return true
		}
	}
	return false
}

// Retain increments the reference count.
func (n *Node) Retain() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refs++
	return n.refs
}

// Release decrements the reference count.
func (n *Node) Release() int32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refs--
	return n.refs
}
