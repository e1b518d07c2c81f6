// Package datastore implements the data store and matching engine of
// spec.md §4.3: an attribute-indexed index over data objects, nodes and
// filters, hidden behind a single serializer goroutine so every public
// call is a non-blocking enqueue and every result flows back as a
// kernel event (spec.md §5).
package datastore

import (
	"sort"
	"time"

	"github.com/haggle-net/haggle/internal/kernel"
	hagglemetrics "github.com/haggle-net/haggle/internal/metrics"
	"github.com/haggle-net/haggle/internal/store"
	"github.com/haggle-net/haggle/internal/types"
)

// defaultReplayLimit bounds the number of already-stored matches replayed
// when a match_now filter is registered (spec.md §4.3).
const defaultReplayLimit = 10

// defaultAgeBatchCap bounds how many objects a single age_dataobjects
// sweep inspects, so one call cannot stall the serializer indefinitely
// (spec.md §4.3).
const defaultAgeBatchCap = 256

// defaultFilterMatchMin is the minimum number of a filter's attributes
// that must be satisfied by a data object for the filter to match (the
// attr_match_min of spec.md §4.3/§8, testable property 2): any matched
// attribute counts, not a full match of every filter attribute, matching
// original_source/src/hagglekernel/SQLDataStore.cpp's
// SQL_FILTER_MATCH_DATAOBJECT_ALL_CMD ("WHERE ratio>0").
const defaultFilterMatchMin = 1

// request is a single serialized operation: its run closure is invoked
// on the store's single serializer goroutine.
type request struct {
	run func(d *store2)
}

// store2 is the unexported mutable state the serializer goroutine owns
// exclusively; nothing outside runLoop touches it, so it needs no locks of
// its own (spec.md §5: "single serializer thread").
type store2 struct {
	objects map[[20]byte]*types.DataObject
	nodes   *store.NodeStore
	repo    map[repoKey]types.RepositoryEntry
	filters map[uint64]types.Filter
}

type repoKey struct {
	authority string
	key       string
}

// Manager is the C5 kernel manager wrapping the data store. It embeds
// BaseManager for the lifecycle handshake and runs its own serializer
// goroutine, started on EvStartup and stopped on EvPrepareShutdown.
type Manager struct {
	*kernel.BaseManager

	k *kernel.Kernel

	reqs     chan request
	done     chan struct{}
	replay   int
	ageBatch int

	metrics *hagglemetrics.Collector
}

// SetMetrics wires a Prometheus collector into the store's filter-match
// and duplicate-insert counters. Optional; call before k.Start.
func (m *Manager) SetMetrics(metrics *hagglemetrics.Collector) {
	m.metrics = metrics
}

// Stats enqueues a read of the current object-store size, delivered to cb
// on the serializer goroutine (spec.md §4.3; used for the
// haggle_core_dataobjects gauge).
func (m *Manager) Stats(cb func(objects int)) {
	m.enqueue(func(s *store2) { cb(len(s.objects)) })
}

// NewManager constructs a data store manager bound to k. Call
// k.RegisterManager(m) before k.Run.
func NewManager(k *kernel.Kernel) *Manager {
	m := &Manager{
		BaseManager: kernel.NewBaseManager("datastore"),
		k:           k,
		reqs:        make(chan request, 64),
		replay:      defaultReplayLimit,
		ageBatch:    defaultAgeBatchCap,
	}
	m.SetInterests(kernel.EvPrepareStartup, kernel.EvStartup, kernel.EvPrepareShutdown, kernel.EvShutdown)
	return m
}

// OnEvent implements kernel.Manager.
func (m *Manager) OnEvent(ev kernel.Event) {
	switch ev.Type {
	case kernel.EvStartup:
		m.done = make(chan struct{})
		go m.runLoop()
		m.HandleLifecycle(ev)
	case kernel.EvPrepareShutdown:
		m.enqueue(func(*store2) {})
		close(m.reqs)
		<-m.done
		m.HandleLifecycle(ev)
	default:
		m.HandleLifecycle(ev)
	}
}

// OnWatchableEvent implements kernel.Manager; the data store registers no
// watchables.
func (m *Manager) OnWatchableEvent(kernel.Watchable) {}

func (m *Manager) runLoop() {
	s := &store2{
		objects: make(map[[20]byte]*types.DataObject),
		nodes:   store.NewNodeStore(),
		repo:    make(map[repoKey]types.RepositoryEntry),
		filters: make(map[uint64]types.Filter),
	}
	defer close(m.done)
	for req := range m.reqs {
		req.run(s)
	}
}

func (m *Manager) enqueue(fn func(*store2)) {
	defer func() { recover() }() // closed after prepare_shutdown drains the queue.
	m.reqs <- request{run: fn}
}

// InsertDataObject enqueues a data object insertion following the rules
// of spec.md §4.3: non-persistent objects are matched against filters
// then discarded; a node description is rejected when the stored
// description for the same node is newer, and otherwise replaces it;
// everything else is deduped by ID.
func (m *Manager) InsertDataObject(d *types.DataObject) {
	m.enqueue(func(s *store2) { m.insertDataObject(s, d) })
}

func (m *Manager) insertDataObject(s *store2, d *types.DataObject) {
	if !d.Persistent() {
		m.evaluateFilters(s, d)
		return
	}

	id := d.ID()
	if existing, ok := s.objects[id]; ok {
		d.MarkDuplicate()
		if m.metrics != nil {
			m.metrics.IncSendDuplicate()
		}
		m.evaluateFilters(s, d)
		_ = existing
		return
	}

	if d.IsNodeDescription() {
		if older := m.olderNodeDescription(s, d); older != nil {
			if older.CreateTime().After(d.CreateTime()) {
				// Incoming description is older than one already stored: reject.
				return
			}
			delete(s.objects, older.ID())
		}
	}

	d.Retain()
	s.objects[id] = d
	m.pushEvent(kernel.Event{Type: kernel.EvDataObjectNew, When: time.Now(), DataObject: d})
	m.evaluateFilters(s, d)
}

// olderNodeDescription finds a stored node-description object whose
// attributes name the same node as d, if any.
func (m *Manager) olderNodeDescription(s *store2, d *types.DataObject) *types.DataObject {
	nodeID := nodeIDAttribute(d.Attributes())
	if nodeID == "" {
		return nil
	}
	for _, o := range s.objects {
		if !o.IsNodeDescription() {
			continue
		}
		if nodeIDAttribute(o.Attributes()) == nodeID {
			return o
		}
	}
	return nil
}

func nodeIDAttribute(attrs types.AttributeSet) string {
	for _, a := range attrs.ByName(types.NodeIDAttributeName) {
		return a.Value()
	}
	return ""
}

// evaluateFilters fires every registered filter's private event with a
// one-element list when d matches (spec.md §4.3: "after storing, evaluate
// all filters against the new object").
func (m *Manager) evaluateFilters(s *store2, d *types.DataObject) {
	ids := make([]uint64, 0, len(s.filters))
	for id := range s.filters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		f := s.filters[id]
		res := types.MatchCount(f.Attributes, d.Attributes())
		if res.Count >= defaultFilterMatchMin && f.Attributes.Len() > 0 {
			if m.metrics != nil {
				m.metrics.IncFilterMatches()
			}
			m.pushPrivate(kernel.EventType(f.EventType), []*types.DataObject{d})
		}
	}
}

// DeleteDataObject enqueues removal of the object with the given id.
func (m *Manager) DeleteDataObject(id [20]byte) {
	m.enqueue(func(s *store2) {
		if d, ok := s.objects[id]; ok {
			delete(s.objects, id)
			m.pushEvent(kernel.Event{Type: kernel.EvDataObjectDeleted, When: time.Now(), DataObject: d})
		}
	})
}

// AgeDataObjects enqueues an age_dataobjects sweep: objects older than
// minAge that currently match no registered filter are deleted, bounded
// by the manager's batch cap so one call cannot stall the serializer
// (spec.md §4.3).
func (m *Manager) AgeDataObjects(minAge time.Duration) {
	m.enqueue(func(s *store2) {
		cutoff := time.Now().Add(-minAge)
		inspected := 0
		for id, d := range s.objects {
			if inspected >= m.ageBatch {
				break
			}
			inspected++
			if d.CreateTime().After(cutoff) {
				continue
			}
			if m.matchesAnyFilter(s, d) {
				continue
			}
			delete(s.objects, id)
			m.pushEvent(kernel.Event{Type: kernel.EvDataObjectDeleted, When: time.Now(), DataObject: d})
		}
	})
}

func (m *Manager) matchesAnyFilter(s *store2, d *types.DataObject) bool {
	for _, f := range s.filters {
		res := types.MatchCount(f.Attributes, d.Attributes())
		if f.Attributes.Len() > 0 && res.Count >= defaultFilterMatchMin {
			return true
		}
	}
	return false
}

// UpsertNode enqueues a node insertion/replacement following spec.md
// §4.3: replaces any existing row with the same ID, OR-ing bloom filters
// first when mergeBloomfilter is set.
func (m *Manager) UpsertNode(n *types.Node, mergeBloomfilter bool) {
	m.enqueue(func(s *store2) {
		s.nodes.Update(n, mergeBloomfilter)
		m.pushEvent(kernel.Event{Type: kernel.EvNodeUpdated, When: time.Now(), Node: n})
	})
}

// RegisterFilter enqueues a filter registration. When f.MatchNow is set,
// a bounded replay of already-stored matches is scheduled before any
// later-enqueued insert is processed, preserving per-filter causal order
// (spec.md §4.3).
func (m *Manager) RegisterFilter(f types.Filter) {
	m.enqueue(func(s *store2) {
		s.filters[f.ID] = f
		if !f.MatchNow {
			return
		}
		matches := m.filterQuery(s, f)
		if len(matches) > m.replay {
			matches = matches[:m.replay]
		}
		if len(matches) > 0 {
			m.pushPrivate(kernel.EventType(f.EventType), matches)
		}
	})
}

// RemoveFilter enqueues removal of the filter with the given id.
func (m *Manager) RemoveFilter(id uint64) {
	m.enqueue(func(s *store2) { delete(s.filters, id) })
}

// NodeByInterface enqueues a lookup of the node carrying iface, delivering
// the result (nil if none) via cb on the serializer goroutine. Used by the
// protocol manager to resolve a neighbor interface to its Node record
// before routing a send (spec.md §4.5).
func (m *Manager) NodeByInterface(iface *types.Interface, cb func(*types.Node)) {
	m.enqueue(func(s *store2) { cb(s.nodes.RetrieveByInterface(iface)) })
}

// NodeByID enqueues a lookup of the node with the given identity,
// delivering the result (nil if none) via cb on the serializer goroutine.
func (m *Manager) NodeByID(id [20]byte, cb func(*types.Node)) {
	m.enqueue(func(s *store2) { cb(s.nodes.Retrieve(id)) })
}

// Repository operations.

// RepositoryInsert enqueues an upsert of e under (e.Authority, e.Key).
func (m *Manager) RepositoryInsert(e types.RepositoryEntry) {
	m.enqueue(func(s *store2) { s.repo[repoKey{e.Authority, e.Key}] = e })
}

// RepositoryDelete enqueues removal of the entry under (authority, key).
func (m *Manager) RepositoryDelete(authority, key string) {
	m.enqueue(func(s *store2) { delete(s.repo, repoKey{authority, key}) })
}

// RepositoryRead enqueues a lookup and delivers the result via cb, called
// on the serializer goroutine.
func (m *Manager) RepositoryRead(authority, key string, cb func(types.RepositoryEntry, bool)) {
	m.enqueue(func(s *store2) {
		e, ok := s.repo[repoKey{authority, key}]
		cb(e, ok)
	})
}

// Ranked queries. Each enqueues the computation and delivers its result
// via cb on the serializer goroutine, matching spec.md §4.3's "all public
// calls are non-blocking enqueues; completion and results flow back as
// events" — callers typically have cb push a kernel.Event themselves.

// DataObjectQuery implements dataobject_query.
func (m *Manager) DataObjectQuery(node *types.Node, attrMatchMin int, cb func([]*types.DataObject)) {
	m.enqueue(func(s *store2) {
		cb(m.dataObjectQuery(s, node, attrMatchMin, nil))
	})
}

func (m *Manager) dataObjectQuery(s *store2, node *types.Node, attrMatchMin int, exclude *types.Node) []*types.DataObject {
	type scored struct {
		obj    *types.DataObject
		result types.MatchResult
	}
	var candidates []scored
	bf := node.Bloomfilter()
	for _, d := range s.objects {
		if d.IsNodeDescription() {
			continue
		}
		if bf != nil && bf.Contains(d.ID()) {
			continue
		}
		if exclude != nil {
			if ebf := exclude.Bloomfilter(); ebf != nil && ebf.Contains(d.ID()) {
				continue
			}
		}
		res := types.MatchWeight(node.Interest(), d.Attributes())
		if res.Disqualified {
			continue
		}
		if res.Count < attrMatchMin || res.RatioPercent < node.MatchingThreshold() {
			continue
		}
		candidates = append(candidates, scored{d, res})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].result.RatioPercent != candidates[j].result.RatioPercent {
			return candidates[i].result.RatioPercent > candidates[j].result.RatioPercent
		}
		if candidates[i].result.Count != candidates[j].result.Count {
			return candidates[i].result.Count > candidates[j].result.Count
		}
		return candidates[i].obj.CreateTime().After(candidates[j].obj.CreateTime())
	})
	limit := int(node.MaxDataObjectsPerMatch())
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*types.DataObject, len(candidates))
	for i, c := range candidates {
		out[i] = c.obj
	}
	return out
}

// DataObjectForNodesQuery implements dataobject_for_nodes_query: repeats
// the primary's query for each delegate, additionally excluding objects
// the delegate already has, and merges results under the primary's cap.
func (m *Manager) DataObjectForNodesQuery(primary *types.Node, delegates []*types.Node, attrMatchMin int, cb func([]*types.DataObject)) {
	m.enqueue(func(s *store2) {
		seen := make(map[[20]byte]bool)
		var merged []*types.DataObject
		limit := int(primary.MaxDataObjectsPerMatch())
		for _, delegate := range delegates {
			for _, d := range m.dataObjectQuery(s, primary, attrMatchMin, delegate) {
				id := d.ID()
				if seen[id] {
					continue
				}
				seen[id] = true
				merged = append(merged, d)
				if limit > 0 && len(merged) >= limit {
					cb(merged)
					return
				}
			}
		}
		cb(merged)
	})
}

// NodeQuery implements node_query: up to maxResp peer/gateway nodes that
// match d with ratio >= ratioFloor and count >= attrMatchMin, excluding
// nodes disqualified by NO_MATCH.
func (m *Manager) NodeQuery(d *types.DataObject, maxResp int, attrMatchMin int, ratioFloor uint32, cb func([]*types.Node)) {
	m.enqueue(func(s *store2) {
		type scored struct {
			node   *types.Node
			result types.MatchResult
		}
		var candidates []scored
		for _, n := range s.nodes.All() {
			if n.Kind() != types.NodePeer && n.Kind() != types.NodeGateway {
				continue
			}
			res := types.MatchWeight(n.Interest(), d.Attributes())
			if res.Disqualified || res.Count < attrMatchMin || res.RatioPercent < ratioFloor {
				continue
			}
			candidates = append(candidates, scored{n, res})
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].result.RatioPercent != candidates[j].result.RatioPercent {
				return candidates[i].result.RatioPercent > candidates[j].result.RatioPercent
			}
			return candidates[i].result.Count > candidates[j].result.Count
		})
		if maxResp > 0 && len(candidates) > maxResp {
			candidates = candidates[:maxResp]
		}
		out := make([]*types.Node, len(candidates))
		for i, c := range candidates {
			out[i] = c.node
		}
		cb(out)
	})
}

// FilterQuery implements filter_query, used for late-binding replay when
// a subscription is registered.
func (m *Manager) FilterQuery(f types.Filter, cb func([]*types.DataObject)) {
	m.enqueue(func(s *store2) { cb(m.filterQuery(s, f)) })
}

func (m *Manager) filterQuery(s *store2, f types.Filter) []*types.DataObject {
	var out []*types.DataObject
	for _, d := range s.objects {
		res := types.MatchCount(f.Attributes, d.Attributes())
		if f.Attributes.Len() > 0 && res.Count >= defaultFilterMatchMin {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime().After(out[j].CreateTime()) })
	return out
}

func (m *Manager) pushEvent(ev kernel.Event) {
	if m.k != nil {
		m.k.Push(ev)
	}
}

func (m *Manager) pushPrivate(t kernel.EventType, objs []*types.DataObject) {
	if m.k != nil {
		m.k.Push(kernel.Event{Type: t, When: time.Now(), DataObjects: objs})
	}
}
