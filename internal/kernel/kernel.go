package kernel

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// registration is the kernel's bookkeeping for one manager: its
// watchables and its startup/shutdown handshake channels.
type registration struct {
	manager      Manager
	watchables   []Watchable
	readyStartup chan struct{}
	startupOnce  sync.Once
	readyShut    chan struct{}
	shutOnce     sync.Once
}

// Kernel multiplexes the priority event queue and a set of watchables
// onto a single dispatch goroutine, delivering events and watchable
// readiness to registered managers (spec.md §4.1).
type Kernel struct {
	logger *slog.Logger
	queue  *Queue

	mu       sync.Mutex
	managers map[string]*registration

	privateMu       sync.Mutex
	privateNext     uint32
	privateHandlers map[EventType]func(Event)
}

// New constructs a Kernel. logger must not be nil.
func New(logger *slog.Logger) *Kernel {
	return &Kernel{
		logger:          logger.With(slog.String("component", "kernel")),
		queue:           NewQueue(),
		managers:        make(map[string]*registration),
		privateHandlers: make(map[EventType]func(Event)),
	}
}

// Queue exposes the kernel's event queue so managers can push follow-up
// events (spec.md §5: "completion... posted as events back to the kernel
// queue").
func (k *Kernel) Queue() *Queue { return k.queue }

// Push enqueues ev, to be dispatched once due.
func (k *Kernel) Push(ev Event) { k.queue.Push(ev) }

// PushNow enqueues an event due immediately.
func (k *Kernel) PushNow(t EventType) { k.queue.Push(Event{Type: t, When: time.Now()}) }

// PushAfter enqueues an event due after d.
func (k *Kernel) PushAfter(ev Event, d time.Duration) Event {
	ev.When = time.Now().Add(d)
	k.queue.Push(ev)
	return ev
}

// RegisterPrivateEvent allocates a new private event type bound to
// handler and returns it. The data store's filter registration side
// channel (spec.md §4.1) uses this: a manager registers a private event
// type and a filter, and the data store pushes a matching data-object
// list under that type whenever an insertion matches.
func (k *Kernel) RegisterPrivateEvent(handler func(Event)) EventType {
	k.privateMu.Lock()
	defer k.privateMu.Unlock()
	k.privateNext++
	t := PrivateBase + EventType(k.privateNext)
	k.privateHandlers[t] = handler
	return t
}

// RegisterManager adds m to the kernel's registry. Must be called before
// Run.
func (k *Kernel) RegisterManager(m Manager) {
	k.mu.Lock()
	defer k.mu.Unlock()
	reg := &registration{
		manager:      m,
		readyStartup: make(chan struct{}),
		readyShut:    make(chan struct{}),
	}
	k.managers[m.Name()] = reg
	if bm, ok := m.(interface{ bindKernel(*Kernel) }); ok {
		bm.bindKernel(k)
	}
}

// RegisterWatchable attaches w to manager m. The kernel's dispatch loop
// waits on w.Ready() alongside the event queue.
func (k *Kernel) RegisterWatchable(m Manager, w Watchable) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if reg, ok := k.managers[m.Name()]; ok {
		reg.watchables = append(reg.watchables, w)
	}
}

// UnregisterWatchable detaches w from manager m.
func (k *Kernel) UnregisterWatchable(m Manager, w Watchable) {
	k.mu.Lock()
	defer k.mu.Unlock()
	reg, ok := k.managers[m.Name()]
	if !ok {
		return
	}
	out := reg.watchables[:0]
	for _, existing := range reg.watchables {
		if existing != w {
			out = append(out, existing)
		}
	}
	reg.watchables = out
}

func (k *Kernel) signalReadyForStartup(name string) {
	k.mu.Lock()
	reg, ok := k.managers[name]
	k.mu.Unlock()
	if ok {
		reg.startupOnce.Do(func() { close(reg.readyStartup) })
	}
}

func (k *Kernel) signalReadyForShutdown(name string) {
	k.mu.Lock()
	reg, ok := k.managers[name]
	k.mu.Unlock()
	if ok {
		reg.shutOnce.Do(func() { close(reg.readyShut) })
	}
}

func (k *Kernel) snapshot() []*registration {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*registration, 0, len(k.managers))
	for _, reg := range k.managers {
		out = append(out, reg)
	}
	return out
}

func (k *Kernel) managerCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.managers)
}

func (k *Kernel) dropAllManagers() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.managers = make(map[string]*registration)
}

func wantsEvent(reg *registration, t EventType) bool {
	switch t {
	case EvPrepareStartup, EvStartup, EvPrepareShutdown, EvShutdown:
		return true
	}
	if im, ok := reg.manager.(interestedManager); ok {
		interests := im.Interests()
		if interests == nil {
			return true
		}
		return interests[t]
	}
	return true
}

func (k *Kernel) broadcast(ev Event) {
	for _, reg := range k.snapshot() {
		if wantsEvent(reg, ev.Type) {
			reg.manager.OnEvent(ev)
		}
	}
}

// Start runs the prepare_startup/startup handshake: broadcasts
// EvPrepareStartup, waits for every registered manager to call
// SignalReadyForStartup, then broadcasts EvStartup (spec.md §4.1, §4.4).
func (k *Kernel) Start(ctx context.Context) error {
	regs := k.snapshot()
	k.broadcast(Event{Type: EvPrepareStartup, When: time.Now()})
	for _, reg := range regs {
		select {
		case <-reg.readyStartup:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	k.broadcast(Event{Type: EvStartup, When: time.Now()})
	return nil
}

// Shutdown runs the prepare_shutdown/shutdown handshake: broadcasts
// EvPrepareShutdown, waits (bounded by ctx) for every manager to call
// SignalReadyForShutdown, then sets the queue's shutdown flag so Run's
// next Pop yields the synthetic EvShutdown event and every manager is
// dropped from the registry (spec.md §4.1: "kernel exits when no manager
// remains registered").
func (k *Kernel) Shutdown(ctx context.Context) error {
	regs := k.snapshot()
	k.broadcast(Event{Type: EvPrepareShutdown, When: time.Now()})
	for _, reg := range regs {
		select {
		case <-reg.readyShut:
		case <-ctx.Done():
		}
	}
	k.queue.Shutdown()
	return nil
}

// Run executes the single-threaded dispatch loop of spec.md §4.1 until
// the registered-manager set becomes empty or ctx is cancelled.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if k.managerCount() == 0 {
			return nil
		}

		regs := k.snapshot()
		ev, hasEvent := k.queue.Peek()
		if k.queue.shutdown.Load() {
			// A pending shutdown is due now, whatever the heap holds.
			ev, hasEvent = Event{When: time.Now()}, true
		}

		cases := []reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(k.queue.Wake())},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
		}
		type watchRef struct {
			reg *registration
			w   Watchable
		}
		var refs []watchRef
		for _, reg := range regs {
			for _, w := range reg.watchables {
				cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(w.Ready())})
				refs = append(refs, watchRef{reg: reg, w: w})
			}
		}

		var timer *time.Timer
		timerIdx := -1
		if hasEvent {
			timeout := time.Until(ev.When)
			if timeout < 0 {
				timeout = 0
			}
			timer = time.NewTimer(timeout)
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
			timerIdx = len(cases) - 1
		}

		chosen, _, _ := reflect.Select(cases)

		// Each iteration builds its own timer (if any); stop it here rather
		// than deferring, or the defer would pile up for the lifetime of
		// this loop instead of running at the end of every iteration.
		if timer != nil {
			timer.Stop()
		}

		switch {
		case chosen == 0: // queue woke us: loop around and re-peek.
			continue
		case chosen == 1: // ctx cancelled.
			return ctx.Err()
		case timerIdx >= 0 && chosen == timerIdx:
			k.dispatchDue()
		default:
			ref := refs[chosen-2]
			ref.reg.manager.OnWatchableEvent(ref.w)
		}
	}
}

// dispatchDue pops the earliest-due event and dispatches it: to its
// registered private handler if it carries a callback or a private type,
// otherwise broadcast to every interested manager. When the popped event
// is EvShutdown, every manager is dropped from the registry afterward so
// Run terminates on its next iteration (spec.md §4.1 step 6).
func (k *Kernel) dispatchDue() {
	ev, ok := k.queue.Pop()
	if !ok {
		return
	}

	if ev.Callback != nil {
		ev.Callback(ev)
		return
	}

	if ev.Type >= PrivateBase {
		k.privateMu.Lock()
		handler := k.privateHandlers[ev.Type]
		k.privateMu.Unlock()
		if handler != nil {
			handler(ev)
		}
		return
	}

	k.broadcast(ev)

	if ev.Type == EvShutdown {
		k.dropAllManagers()
	}
}
