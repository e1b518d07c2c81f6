package datastore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/haggle-net/haggle/internal/datastore"
	"github.com/haggle-net/haggle/internal/kernel"
	"github.com/haggle-net/haggle/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func attrSet(pairs ...[2]string) types.AttributeSet {
	s := types.NewAttributeSet()
	for _, p := range pairs {
		s.Add(types.NewAttribute(p[0], p[1]))
	}
	return s
}

func runningKernel(t *testing.T) (*kernel.Kernel, *datastore.Manager, func()) {
	t.Helper()
	k := kernel.New(discardLogger())
	m := datastore.NewManager(k)
	k.RegisterManager(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()
	stop := func() {
		k.Shutdown(ctx)
		<-done
		cancel()
	}
	return k, m, stop
}

func TestDataObjectQueryRanksByRatio(t *testing.T) {
	_, m, stop := runningKernel(t)
	defer stop()

	interest := attrSet([2]string{"Topic", "news"}, [2]string{"Lang", "en"})
	node := types.NewNode([20]byte{1}, types.NodePeer, "peer1")
	node.SetInterest(interest)

	dA := types.NewDataObject(attrSet([2]string{"Topic", "news"}), true)
	dB := types.NewDataObject(attrSet([2]string{"Topic", "news"}, [2]string{"Lang", "en"}), true)
	m.InsertDataObject(dA)
	time.Sleep(5 * time.Millisecond)
	m.InsertDataObject(dB)
	time.Sleep(10 * time.Millisecond)

	resultCh := make(chan []*types.DataObject, 1)
	m.DataObjectQuery(node, 0, func(objs []*types.DataObject) { resultCh <- objs })

	select {
	case objs := <-resultCh:
		if len(objs) != 2 {
			t.Fatalf("expected 2 matches, got %d", len(objs))
		}
		if objs[0].ID() != dB.ID() {
			t.Fatal("expected the full-match object ranked first")
		}
	case <-time.After(time.Second):
		t.Fatal("query did not complete")
	}
}

func TestFilterReplayOnRegistration(t *testing.T) {
	k, m, stop := runningKernel(t)
	defer stop()

	d := types.NewDataObject(attrSet([2]string{"Topic", "sports"}), true)
	m.InsertDataObject(d)
	time.Sleep(10 * time.Millisecond)

	received := make(chan []*types.DataObject, 1)
	privType := k.RegisterPrivateEvent(func(ev kernel.Event) { received <- ev.DataObjects })

	f := types.NewFilter(1, attrSet([2]string{"Topic", "sports"}), uint32(privType), true)
	m.RegisterFilter(f)

	select {
	case objs := <-received:
		if len(objs) != 1 || objs[0].ID() != d.ID() {
			t.Fatal("expected replay to deliver the already-stored match")
		}
	case <-time.After(time.Second):
		t.Fatal("filter replay did not fire")
	}
}

func TestAgeDataObjectsSparesFilterMatches(t *testing.T) {
	_, m, stop := runningKernel(t)
	defer stop()

	matched := types.NewDataObject(attrSet([2]string{"Topic", "sports"}), true)
	unmatched := types.NewDataObject(attrSet([2]string{"Topic", "weather"}), true)
	matched.SetCreateTime(time.Now().Add(-time.Hour))
	unmatched.SetCreateTime(time.Now().Add(-time.Hour))
	m.InsertDataObject(matched)
	m.InsertDataObject(unmatched)
	time.Sleep(10 * time.Millisecond)

	m.RegisterFilter(types.NewFilter(2, attrSet([2]string{"Topic", "sports"}), 0, false))
	time.Sleep(10 * time.Millisecond)

	m.AgeDataObjects(time.Minute)
	time.Sleep(10 * time.Millisecond)

	remaining := make(chan []*types.DataObject, 1)
	m.FilterQuery(types.NewFilter(0, attrSet([2]string{"Topic", "weather"}), 0, false), func(objs []*types.DataObject) { remaining <- objs })

	select {
	case objs := <-remaining:
		if len(objs) != 0 {
			t.Fatal("expected the unmatched aged object to have been deleted")
		}
	case <-time.After(time.Second):
		t.Fatal("FilterQuery did not complete")
	}
}

// TestSubscribeThenPublish is scenario E1: register a filter first, then
// publish a matching object, and expect exactly one delivery of the
// filter's event carrying a one-element list with that object.
func TestSubscribeThenPublish(t *testing.T) {
	k, m, stop := runningKernel(t)
	defer stop()

	received := make(chan []*types.DataObject, 4)
	privType := k.RegisterPrivateEvent(func(ev kernel.Event) { received <- ev.DataObjects })

	f := types.NewFilter(101, attrSet([2]string{"Topic", "weather"}), uint32(privType), false)
	m.RegisterFilter(f)
	time.Sleep(10 * time.Millisecond)

	d1 := types.NewDataObject(attrSet([2]string{"Topic", "weather"}, [2]string{"City", "Stockholm"}), true)
	m.InsertDataObject(d1)

	select {
	case objs := <-received:
		if len(objs) != 1 || objs[0].ID() != d1.ID() {
			t.Fatalf("expected exactly [d1], got %d objects", len(objs))
		}
	case <-time.After(time.Second):
		t.Fatal("filter did not fire for the newly published match")
	}

	select {
	case extra := <-received:
		t.Fatalf("expected exactly one delivery, got a second: %v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestDuplicateInsertSuppressed is scenario E3: inserting the same
// attribute set (hence the same ID) twice must not create a second
// stored object, and the second (ephemeral) copy must be marked
// duplicate.
func TestDuplicateInsertSuppressed(t *testing.T) {
	_, m, stop := runningKernel(t)
	defer stop()

	attrs := attrSet([2]string{"Topic", "weather"}, [2]string{"City", "Stockholm"})
	d1 := types.NewDataObject(attrs, true)
	m.InsertDataObject(d1)
	time.Sleep(10 * time.Millisecond)

	d2 := types.NewDataObject(attrs, true)
	if d2.ID() != d1.ID() {
		t.Fatal("identical attributes must hash to the same id")
	}
	m.InsertDataObject(d2)
	time.Sleep(10 * time.Millisecond)

	if !d2.Duplicate() {
		t.Error("second insert of an existing id must be marked duplicate")
	}

	remaining := make(chan []*types.DataObject, 1)
	m.FilterQuery(types.NewFilter(0, attrs, 0, false), func(objs []*types.DataObject) { remaining <- objs })
	select {
	case objs := <-remaining:
		if len(objs) != 1 {
			t.Fatalf("expected exactly one stored object after duplicate insert, got %d", len(objs))
		}
	case <-time.After(time.Second):
		t.Fatal("FilterQuery did not complete")
	}
}

// TestWildcardFilterMatchesOnlySameName is scenario E6: a wildcard filter
// on Topic fires for any Topic value but not for an unrelated attribute
// name.
func TestWildcardFilterMatchesOnlySameName(t *testing.T) {
	k, m, stop := runningKernel(t)
	defer stop()

	received := make(chan []*types.DataObject, 4)
	privType := k.RegisterPrivateEvent(func(ev kernel.Event) { received <- ev.DataObjects })

	f := types.NewFilter(6, attrSet([2]string{"Topic", types.WildcardValue}), uint32(privType), false)
	m.RegisterFilter(f)
	time.Sleep(10 * time.Millisecond)

	sports := types.NewDataObject(attrSet([2]string{"Topic", "sports"}), true)
	m.InsertDataObject(sports)

	select {
	case objs := <-received:
		if len(objs) != 1 || objs[0].ID() != sports.ID() {
			t.Fatalf("expected the wildcard filter to fire for the Topic object, got %v", objs)
		}
	case <-time.After(time.Second):
		t.Fatal("wildcard filter did not fire for a matching Topic value")
	}

	oslo := types.NewDataObject(attrSet([2]string{"City", "Oslo"}), true)
	m.InsertDataObject(oslo)

	select {
	case objs := <-received:
		t.Fatalf("wildcard Topic filter must not fire for an unrelated attribute name, got %v", objs)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestFilterFiresOnPartialAttributeMatch covers spec.md §8 testable
// property 2 directly: a multi-attribute filter fires once at least one
// of its attributes is satisfied (attr_match_min = 1), not only on a
// full match of every filter attribute.
func TestFilterFiresOnPartialAttributeMatch(t *testing.T) {
	k, m, stop := runningKernel(t)
	defer stop()

	received := make(chan []*types.DataObject, 4)
	privType := k.RegisterPrivateEvent(func(ev kernel.Event) { received <- ev.DataObjects })

	f := types.NewFilter(7, attrSet([2]string{"Topic", "weather"}, [2]string{"City", "Stockholm"}), uint32(privType), false)
	m.RegisterFilter(f)
	time.Sleep(10 * time.Millisecond)

	// Satisfies only the Topic attribute, not City.
	partial := types.NewDataObject(attrSet([2]string{"Topic", "weather"}), true)
	m.InsertDataObject(partial)

	select {
	case objs := <-received:
		if len(objs) != 1 || objs[0].ID() != partial.ID() {
			t.Fatalf("expected the partially-matching object to fire the filter, got %v", objs)
		}
	case <-time.After(time.Second):
		t.Fatal("filter did not fire on a partial attribute match")
	}
}

// TestAgeDataObjectsSparesPartialFilterMatch covers the same any-match
// semantics for matchesAnyFilter: an object satisfying only one of a
// multi-attribute filter's attributes must still be protected from aging.
func TestAgeDataObjectsSparesPartialFilterMatch(t *testing.T) {
	_, m, stop := runningKernel(t)
	defer stop()

	partial := types.NewDataObject(attrSet([2]string{"Topic", "weather"}), true)
	partial.SetCreateTime(time.Now().Add(-time.Hour))
	m.InsertDataObject(partial)
	time.Sleep(10 * time.Millisecond)

	m.RegisterFilter(types.NewFilter(8, attrSet([2]string{"Topic", "weather"}, [2]string{"City", "Stockholm"}), 0, false))
	time.Sleep(10 * time.Millisecond)

	m.AgeDataObjects(time.Minute)
	time.Sleep(10 * time.Millisecond)

	remaining := make(chan []*types.DataObject, 1)
	m.FilterQuery(types.NewFilter(0, attrSet([2]string{"Topic", "weather"}), 0, false), func(objs []*types.DataObject) { remaining <- objs })

	select {
	case objs := <-remaining:
		if len(objs) != 1 {
			t.Fatal("expected the partially-matched object to survive aging")
		}
	case <-time.After(time.Second):
		t.Fatal("FilterQuery did not complete")
	}
}
