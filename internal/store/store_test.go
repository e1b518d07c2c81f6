package store_test

import (
	"testing"
	"time"

	"github.com/haggle-net/haggle/internal/store"
	"github.com/haggle-net/haggle/internal/types"
)

func TestInterfaceStoreAddOrUpdateDedup(t *testing.T) {
	t.Parallel()

	s := store.NewInterfaceStore()
	child := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3, 4, 5, 6}, "eth0")

	ref1, added1 := s.AddOrUpdate(child, nil, types.AgelessPolicy{})
	if !added1 {
		t.Fatal("expected first AddOrUpdate to report added")
	}

	dup := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3, 4, 5, 6}, "eth0-dup")
	ref2, added2 := s.AddOrUpdate(dup, nil, types.TTLPolicy{TTL: time.Minute, RefreshedAt: time.Now()})
	if added2 {
		t.Fatal("expected second AddOrUpdate (same key) to report not-added")
	}
	if ref1 != ref2 {
		t.Fatal("expected AddOrUpdate to return the existing interface reference")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestInterfaceStoreAge(t *testing.T) {
	t.Parallel()

	s := store.NewInterfaceStore()
	now := time.Now()

	dead := types.NewInterface(types.InterfaceWiFi, []byte{1}, "dead")
	s.AddOrUpdate(dead, nil, types.AbsoluteTimePolicy{ExpiresAt: now.Add(-time.Second)})

	alive := types.NewInterface(types.InterfaceWiFi, []byte{2}, "alive")
	deadline := now.Add(time.Hour)
	s.AddOrUpdate(alive, nil, types.AbsoluteTimePolicy{ExpiresAt: deadline})

	expired, next := s.Age(now)
	if len(expired) != 1 || !expired[0].Equal(dead) {
		t.Fatalf("expected exactly the dead interface to be expired, got %v", expired)
	}
	if !next.Equal(deadline) {
		t.Fatalf("next deadline = %v, want %v", next, deadline)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (alive interface should remain)", s.Len())
	}
}

func TestInterfaceStoreParentOf(t *testing.T) {
	t.Parallel()

	s := store.NewInterfaceStore()
	parent := types.NewInterface(types.InterfaceEthernet, []byte{9, 9}, "eth0")
	child := types.NewInterface(types.InterfaceEthernet, []byte{1, 1}, "peer-mac")

	s.AddOrUpdate(child, parent, types.AgelessPolicy{})

	if got := s.ParentOf(child); !got.Equal(parent) {
		t.Fatal("ParentOf did not return the registered parent interface")
	}
}

func TestNodeStoreUpdateAbsorbsUndefined(t *testing.T) {
	t.Parallel()

	s := store.NewNodeStore()

	shared := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3}, "peer-iface")
	shared.SetFlag(types.FlagUp)

	undefined := types.NewNode([20]byte{}, types.NodeUndefined, "")
	undefined.AddInterface(shared)
	undefined.SetDescriptionExchanged(true)
	s.Add(undefined)

	sameIface := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3}, "peer-iface")
	defined := types.NewNode([20]byte{0xAB}, types.NodePeer, "peer")
	defined.AddInterface(sameIface)

	s.Update(defined, false)

	got := s.Retrieve([20]byte{0xAB})
	if got == nil {
		t.Fatal("expected defined node to be stored")
	}
	if !got.DescriptionExchanged() {
		t.Fatal("expected descriptionExchanged to be inherited from the absorbed undefined node")
	}
	if !sameIface.IsUp() {
		t.Fatal("expected the UP flag to transfer onto the defined node's matching interface")
	}
}

func TestNodeStoreUpdateMergesBloomfilter(t *testing.T) {
	t.Parallel()

	s := store.NewNodeStore()

	existing := types.NewNode([20]byte{0x01}, types.NodePeer, "peer")
	bf := types.NewBloomfilter(1024, 4, false)
	var id [20]byte
	id[0] = 0x42
	bf.Add(id)
	existing.SetBloomfilter(bf)
	s.Add(existing)

	incoming := types.NewNode([20]byte{0x01}, types.NodePeer, "peer")
	incoming.SetBloomfilter(types.NewBloomfilter(1024, 4, false))
	s.Update(incoming, true)

	merged := s.Retrieve([20]byte{0x01})
	if !merged.Bloomfilter().Contains(id) {
		t.Fatal("expected merged bloom filter to retain the existing node's bits")
	}
}

func TestNodeStoreNeighbors(t *testing.T) {
	t.Parallel()

	s := store.NewNodeStore()

	up := types.NewNode([20]byte{1}, types.NodePeer, "up")
	upIface := types.NewInterface(types.InterfaceEthernet, []byte{1}, "")
	upIface.SetFlag(types.FlagUp)
	up.AddInterface(upIface)
	s.Add(up)

	down := types.NewNode([20]byte{2}, types.NodePeer, "down")
	downIface := types.NewInterface(types.InterfaceEthernet, []byte{2}, "")
	down.AddInterface(downIface)
	s.Add(down)

	neighbors := s.Neighbors()
	if len(neighbors) != 1 || neighbors[0].ID() != up.ID() {
		t.Fatalf("expected exactly the up node as neighbor, got %d nodes", len(neighbors))
	}
}
