package store

import (
	"sync"

	"github.com/haggle-net/haggle/internal/types"
)

// NodeStore indexes every known Node by its 20-byte identity. Exactly one
// Node record exists per ID (spec.md §3 invariants); undefined nodes (no
// resolved identity yet) are tracked separately and merged into a defined
// node the moment any of their interfaces is found on that node's
// interface list (spec.md §4.2).
type NodeStore struct {
	mu        sync.Mutex
	byID      map[[20]byte]*types.Node
	undefined []*types.Node
}

// NewNodeStore constructs an empty NodeStore.
func NewNodeStore() *NodeStore {
	return &NodeStore{byID: make(map[[20]byte]*types.Node)}
}

// Add inserts n. If n is NodeUndefined, it is tracked on the side until a
// defined node absorbs it via Update.
func (s *NodeStore) Add(n *types.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Kind() == types.NodeUndefined {
		s.undefined = append(s.undefined, n)
		return
	}
	n.Retain()
	s.byID[n.ID()] = n
}

// Remove deletes the node with the given ID and returns it, or nil.
func (s *NodeStore) Remove(id [20]byte) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	return n
}

// RemoveByInterface removes whichever node (if any) carries iface and
// returns it.
func (s *NodeStore) RemoveByInterface(iface *types.Interface) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.byID {
		if n.HasInterface(iface) {
			delete(s.byID, id)
			return n
		}
	}
	return nil
}

// Retrieve returns the node with the given ID, or nil.
func (s *NodeStore) Retrieve(id [20]byte) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// RetrieveByName returns the first node with the given display name, or
// nil.
func (s *NodeStore) RetrieveByName(name string) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byID {
		if n.Name() == name {
			return n
		}
	}
	return nil
}

// RetrieveByInterface returns the node carrying iface, or nil.
func (s *NodeStore) RetrieveByInterface(iface *types.Interface) *types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.byID {
		if n.HasInterface(iface) {
			return n
		}
	}
	return nil
}

// RetrieveWhere returns every node for which pred returns true.
func (s *NodeStore) RetrieveWhere(pred func(*types.Node) bool) []*types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Node
	for _, n := range s.byID {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

// All returns every defined node in the store.
func (s *NodeStore) All() []*types.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Node, 0, len(s.byID))
	for _, n := range s.byID {
		out = append(out, n)
	}
	return out
}

// Update reconciles an incoming defined node with any undefined nodes
// whose interface sets overlap: those are removed and their UP flags
// transferred to the new node's matching interfaces; the new node
// inherits "exchanged node description" state from whichever old record
// had it set (spec.md §4.2). It then replaces any existing row with the
// same ID, merging bloom filters first if mergeBloomfilter is requested
// (spec.md §4.3).
func (s *NodeStore) Update(incoming *types.Node, mergeBloomfilter bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exchanged := incoming.DescriptionExchanged()

	remaining := s.undefined[:0]
	for _, u := range s.undefined {
		overlap := false
		for _, uIface := range u.Interfaces() {
			if incoming.HasInterface(uIface) {
				overlap = true
				for _, iface := range incoming.Interfaces() {
					if iface.Equal(uIface) && uIface.IsUp() {
						iface.SetFlag(types.FlagUp)
					}
				}
			}
		}
		if overlap {
			exchanged = exchanged || u.DescriptionExchanged()
			continue
		}
		remaining = append(remaining, u)
	}
	s.undefined = remaining
	incoming.SetDescriptionExchanged(exchanged)

	if existing, ok := s.byID[incoming.ID()]; ok {
		if mergeBloomfilter {
			incoming.MergeBloomfilter(existing.Bloomfilter())
		}
	}
	incoming.Retain()
	s.byID[incoming.ID()] = incoming
}

// Len reports the number of defined nodes in the store.
func (s *NodeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Neighbors returns every defined node that is currently a neighbor
// (at least one interface UP; GLOSSARY).
func (s *NodeStore) Neighbors() []*types.Node {
	return s.RetrieveWhere(func(n *types.Node) bool { return n.IsNeighbor() })
}
