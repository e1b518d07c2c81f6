package kernel_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haggle-net/haggle/internal/kernel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// fakeManager records the event types and watchable fires it receives.
type fakeManager struct {
	*kernel.BaseManager
	mu          sync.Mutex
	events      []kernel.EventType
	watchHits   int
}

func newFakeManager(name string) *fakeManager {
	return &fakeManager{BaseManager: kernel.NewBaseManager(name)}
}

func (f *fakeManager) OnEvent(ev kernel.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev.Type)
	f.mu.Unlock()
	f.HandleLifecycle(ev)
}

func (f *fakeManager) OnWatchableEvent(kernel.Watchable) {
	f.mu.Lock()
	f.watchHits++
	f.mu.Unlock()
}

func (f *fakeManager) watchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchHits
}

func (f *fakeManager) seen(t kernel.EventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == t {
			return true
		}
	}
	return false
}

func TestStartupShutdownHandshake(t *testing.T) {
	k := kernel.New(discardLogger())
	m := newFakeManager("fake")
	k.RegisterManager(m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.seen(kernel.EvStartup) {
		t.Fatal("manager did not observe EvStartup")
	}

	runErr := make(chan error, 1)
	go func() { runErr <- k.Run(ctx) }()

	if err := k.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after shutdown")
	}
	if !m.seen(kernel.EvShutdown) {
		t.Fatal("manager did not observe EvShutdown")
	}
}

// countingWatchable fires its ready channel a fixed number of times.
type countingWatchable struct {
	ready chan struct{}
}

func newCountingWatchable() *countingWatchable {
	return &countingWatchable{ready: make(chan struct{}, 1)}
}

func (w *countingWatchable) Ready() <-chan struct{} { return w.ready }

func TestWatchableDispatch(t *testing.T) {
	k := kernel.New(discardLogger())
	m := newFakeManager("fake")
	k.RegisterManager(m)
	w := newCountingWatchable()
	k.RegisterWatchable(m, w)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	w.ready <- struct{}{}
	time.Sleep(50 * time.Millisecond)

	k.Shutdown(ctx)
	<-done

	if m.watchCount() == 0 {
		t.Fatal("expected OnWatchableEvent to fire at least once")
	}
}

func TestEventOrdering(t *testing.T) {
	k := kernel.New(discardLogger())
	m := newFakeManager("fake")
	k.RegisterManager(m)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := k.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	k.Push(kernel.Event{Type: kernel.EvDataObjectNew, When: time.Now().Add(50 * time.Millisecond)})
	k.Push(kernel.Event{Type: kernel.EvDataObjectDeleted, When: time.Now()})

	time.Sleep(150 * time.Millisecond)
	k.Shutdown(ctx)
	<-done

	if !m.seen(kernel.EvDataObjectDeleted) || !m.seen(kernel.EvDataObjectNew) {
		t.Fatal("expected both queued events to have been dispatched")
	}

	m.mu.Lock()
	order := append([]kernel.EventType(nil), m.events...)
	m.mu.Unlock()
	deleted, created := -1, -1
	for i, e := range order {
		if e == kernel.EvDataObjectDeleted && deleted < 0 {
			deleted = i
		}
		if e == kernel.EvDataObjectNew && created < 0 {
			created = i
		}
	}
	if deleted > created {
		t.Fatal("expected the earlier-due EvDataObjectDeleted to be dispatched before EvDataObjectNew")
	}
}

func TestPrivateEvent(t *testing.T) {
	k := kernel.New(discardLogger())
	m := newFakeManager("fake")
	k.RegisterManager(m)

	var got atomic.Bool
	privType := k.RegisterPrivateEvent(func(ev kernel.Event) { got.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	k.Start(ctx)
	done := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(done)
	}()

	k.Push(kernel.Event{Type: privType, When: time.Now()})
	time.Sleep(50 * time.Millisecond)
	k.Shutdown(ctx)
	<-done

	if !got.Load() {
		t.Fatal("private event handler was not invoked")
	}
}
