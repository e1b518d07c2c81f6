// Package store implements the reference-counted InterfaceStore and
// NodeStore (spec.md §4.2): in-memory indexes of live peers and their
// interfaces, each guarded by exactly one mutex, never held simultaneously
// with a value's own lock in the reverse order (spec.md §5).
package store

import (
	"sync"
	"time"

	"github.com/haggle-net/haggle/internal/types"
)

// InterfaceStore indexes every interface reachable through some local
// interface (plus the local interfaces themselves), keyed by
// (kind, identifier). One mutex guards the index; callers never hold it
// while taking a value's own lock (spec.md §4.2, §5).
type InterfaceStore struct {
	mu      sync.Mutex
	byKey   map[string]*entry
	parents map[string]*types.Interface // child key -> parent interface
}

type entry struct {
	iface *types.Interface
}

// NewInterfaceStore constructs an empty InterfaceStore.
func NewInterfaceStore() *InterfaceStore {
	return &InterfaceStore{
		byKey:   make(map[string]*entry),
		parents: make(map[string]*types.Interface),
	}
}

// AddOrUpdate inserts iface, attached to the local interface parent that
// discovered it (nil for local interfaces themselves). If an interface
// with the same (kind, identifier) already exists, its reference is
// returned and wasAdded is false; the existing interface's aging policy
// is refreshed to policy regardless (spec.md §4.2: "add_or_update(child,
// parent) -> (ref, was_added)").
func (s *InterfaceStore) AddOrUpdate(child *types.Interface, parent *types.Interface, policy types.AgingPolicy) (*types.Interface, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := child.Key()
	if e, ok := s.byKey[key]; ok {
		e.iface.SetPolicy(policy)
		e.iface.Retain()
		return e.iface, false
	}

	child.SetPolicy(policy)
	child.Retain()
	s.byKey[key] = &entry{iface: child}
	if parent != nil {
		s.parents[key] = parent
	}
	return child, true
}

// RemoveByInterface removes the exact interface (by kind+identifier) and
// returns it, or nil if not present.
func (s *InterfaceStore) RemoveByInterface(iface *types.Interface) *types.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeKeyLocked(iface.Key())
}

// RemoveByKey removes the interface identified by (kind, identifier) and
// returns it, or nil if not present.
func (s *InterfaceStore) RemoveByKey(kind types.InterfaceKind, identifier []byte) *types.Interface {
	tmp := types.NewInterface(kind, identifier, "")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeKeyLocked(tmp.Key())
}

// RemoveByName removes every interface with the given display name and
// returns the removed list.
func (s *InterfaceStore) RemoveByName(name string) []*types.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*types.Interface
	for key, e := range s.byKey {
		if e.iface.Name() == name {
			delete(s.byKey, key)
			delete(s.parents, key)
			removed = append(removed, e.iface)
		}
	}
	return removed
}

func (s *InterfaceStore) removeKeyLocked(key string) *types.Interface {
	e, ok := s.byKey[key]
	if !ok {
		return nil
	}
	delete(s.byKey, key)
	delete(s.parents, key)
	return e.iface
}

// ParentOf returns the local interface that discovered child, or nil.
func (s *InterfaceStore) ParentOf(child *types.Interface) *types.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parents[child.Key()]
}

// All returns every interface currently in the store.
func (s *InterfaceStore) All() []*types.Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Interface, 0, len(s.byKey))
	for _, e := range s.byKey {
		out = append(out, e.iface)
	}
	return out
}

// Age sweeps every interface whose aging policy reports Expired(now),
// removing them from the store and returning the list that died in this
// pass. nextDeadline receives the soonest upcoming expiry among the
// interfaces that survived, or the zero Time if none have a bounded
// policy (spec.md §4.2: "age(root, &lifetime_out) -> dead_list").
func (s *InterfaceStore) Age(now time.Time) (dead []*types.Interface, nextDeadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.byKey {
		if e.iface.Policy().Expired(now) {
			dead = append(dead, e.iface)
			delete(s.byKey, key)
			delete(s.parents, key)
			continue
		}
		if dl := e.iface.Policy().NextDeadline(); !dl.IsZero() {
			if nextDeadline.IsZero() || dl.Before(nextDeadline) {
				nextDeadline = dl
			}
		}
	}
	return dead, nextDeadline
}

// Lookup returns the interface identified by (kind, identifier), or nil.
func (s *InterfaceStore) Lookup(kind types.InterfaceKind, identifier []byte) *types.Interface {
	tmp := types.NewInterface(kind, identifier, "")
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byKey[tmp.Key()]; ok {
		return e.iface
	}
	return nil
}

// Len reports the number of interfaces currently stored.
func (s *InterfaceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}
