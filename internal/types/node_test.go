package types

import "testing"

// TestNodeIsNeighbor covers the GLOSSARY's definition: a node is a
// neighbor iff at least one of its interfaces is currently UP.
func TestNodeIsNeighbor(t *testing.T) {
	n := NewNode([20]byte{1}, NodePeer, "peer-a")
	if n.IsNeighbor() {
		t.Error("node with no interfaces must not be a neighbor")
	}

	iface := NewInterface(InterfaceEthernet, []byte{0, 1, 2, 3, 4, 5}, "")
	n.AddInterface(iface)
	if n.IsNeighbor() {
		t.Error("node whose only interface is not UP must not be a neighbor")
	}

	iface.SetFlag(FlagUp)
	if !n.IsNeighbor() {
		t.Error("node with an UP interface must be a neighbor")
	}

	iface.ClearFlag(FlagUp)
	if n.IsNeighbor() {
		t.Error("node must stop being a neighbor once its only UP interface goes down")
	}
}

func TestNodeAddInterfaceDeduplicates(t *testing.T) {
	n := NewNode([20]byte{1}, NodePeer, "peer-a")
	mac := []byte{0, 1, 2, 3, 4, 5}
	n.AddInterface(NewInterface(InterfaceEthernet, mac, ""))
	n.AddInterface(NewInterface(InterfaceEthernet, mac, "dup"))
	if got := len(n.Interfaces()); got != 1 {
		t.Errorf("AddInterface with the same (kind,identifier) must not duplicate, got %d interfaces", got)
	}
}

func TestNodeMergeBloomfilterOrsInPlace(t *testing.T) {
	n := NewNode([20]byte{1}, NodePeer, "peer-a")
	var idA, idB [20]byte
	idA[0], idB[0] = 1, 2

	bf := NewBloomfilter(0, 0, false)
	bf.Add(idA)
	n.SetBloomfilter(bf)

	other := NewBloomfilter(0, 0, false)
	other.Add(idB)
	n.MergeBloomfilter(other)

	merged := n.Bloomfilter()
	if !merged.Contains(idA) {
		t.Error("merged bloom filter must still contain the original id")
	}
	if !merged.Contains(idB) {
		t.Error("merged bloom filter must contain the OR'd-in id")
	}
}
