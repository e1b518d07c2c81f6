package kernel

import "sync"

// ManagerState is a manager's position in the staged lifecycle of
// spec.md §4.1: stopped -> prepare_startup -> startup -> running ->
// prepare_shutdown -> shutdown -> stopped.
type ManagerState uint8

// Manager lifecycle states.
const (
	StateStopped ManagerState = iota
	StatePrepareStartup
	StateStartup
	StateRunning
	StatePrepareShutdown
	StateShutdown
)

// String returns the state's human-readable name.
func (s ManagerState) String() string {
	switch s {
	case StatePrepareStartup:
		return "prepare_startup"
	case StateStartup:
		return "startup"
	case StateRunning:
		return "running"
	case StatePrepareShutdown:
		return "prepare_shutdown"
	case StateShutdown:
		return "shutdown"
	default:
		return "stopped"
	}
}

// Manager is a long-lived subsystem registered with the kernel that reacts
// to events and may register watchables (GLOSSARY). OnEvent and
// OnWatchableEvent run on the kernel's dispatch goroutine and must honor
// the non-blocking contract of spec.md §4.1 step 5: read one unit of work
// or hand it off, never block on I/O.
type Manager interface {
	Name() string
	OnEvent(ev Event)
	OnWatchableEvent(w Watchable)
}

// interestedManager is an optional extension: a manager that only wants a
// subset of event types dispatched to it. Managers that do not implement
// this interface receive every event type (lifecycle events are always
// delivered regardless).
type interestedManager interface {
	Interests() map[EventType]bool
}

// Watchable is an OS handle (or channel standing in for one) the kernel
// multiplexes for readiness (GLOSSARY). Ready's channel fires once per
// unit of available work; OnWatchableEvent must drain it without
// blocking.
type Watchable interface {
	Ready() <-chan struct{}
}

// BaseManager implements the bookkeeping common to every manager: state
// tracking and the signal-ready handshake with the kernel
// (spec.md §4.1, §4.4 "Manager base + lifecycle"). Concrete managers embed
// BaseManager and provide OnEvent/OnWatchableEvent themselves.
type BaseManager struct {
	mu        sync.Mutex
	name      string
	state     ManagerState
	interests map[EventType]bool

	kernel *Kernel
}

// NewBaseManager constructs a BaseManager with the given name, initially
// in StateStopped.
func NewBaseManager(name string) *BaseManager {
	return &BaseManager{name: name, state: StateStopped}
}

// Name returns the manager's registered name.
func (b *BaseManager) Name() string { return b.name }

// State returns the manager's current lifecycle state.
func (b *BaseManager) State() ManagerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseManager) setState(s ManagerState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// SetInterests restricts the event types dispatched to this manager.
// Lifecycle events (EvPrepareStartup, EvStartup, EvPrepareShutdown,
// EvShutdown) are always delivered regardless of this set.
func (b *BaseManager) SetInterests(types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interests = make(map[EventType]bool, len(types))
	for _, t := range types {
		b.interests[t] = true
	}
}

// Interests implements interestedManager.
func (b *BaseManager) Interests() map[EventType]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interests
}

// bindKernel attaches the owning kernel, called by Kernel.RegisterManager.
func (b *BaseManager) bindKernel(k *Kernel) { b.kernel = k }

// SignalReadyForStartup tells the kernel this manager has finished its
// prepare_startup work (spec.md §4.1).
func (b *BaseManager) SignalReadyForStartup() {
	b.setState(StateStartup)
	if b.kernel != nil {
		b.kernel.signalReadyForStartup(b.name)
	}
}

// SignalReadyForShutdown tells the kernel this manager has finished its
// prepare_shutdown work (spec.md §4.1).
func (b *BaseManager) SignalReadyForShutdown() {
	b.setState(StateShutdown)
	if b.kernel != nil {
		b.kernel.signalReadyForShutdown(b.name)
	}
}

// HandleLifecycle applies the default lifecycle transition for standard
// lifecycle event types, returning true if ev was a lifecycle event. Most
// managers call this first from OnEvent and fall through to their own
// handling for everything else; managers with startup/shutdown work to do
// asynchronously should instead react to EvPrepareStartup/EvPrepareShutdown
// themselves and call SignalReady* once done.
func (b *BaseManager) HandleLifecycle(ev Event) bool {
	switch ev.Type {
	case EvPrepareStartup:
		b.setState(StatePrepareStartup)
		b.SignalReadyForStartup()
		return true
	case EvStartup:
		b.setState(StateRunning)
		return true
	case EvPrepareShutdown:
		b.setState(StatePrepareShutdown)
		b.SignalReadyForShutdown()
		return true
	case EvShutdown:
		b.setState(StateStopped)
		return true
	default:
		return false
	}
}
