// Package kernel implements the event-driven kernel of spec.md §4.1/§4.4:
// a priority-ordered event queue multiplexed with a dynamic set of
// watchables on a single dispatch goroutine, plus the manager registry,
// staged lifecycle and private-event side channel.
package kernel

import (
	"time"

	"github.com/haggle-net/haggle/internal/types"
)

// EventType identifies the shape and meaning of an Event's payload. Values
// below PrivateBase are reserved kernel/manager events (spec.md §4.1); a
// manager may dynamically register a private event type at or above
// PrivateBase via Kernel.RegisterPrivateEvent.
type EventType uint32

// Reserved, non-private event types (spec.md §4.1, §4.6, Data flow in §2).
const (
	// EvPrepareStartup begins the manager startup handshake.
	EvPrepareStartup EventType = iota
	// EvStartup is broadcast once every manager has signalled
	// ready-for-startup.
	EvStartup
	// EvPrepareShutdown begins the manager shutdown handshake.
	EvPrepareShutdown
	// EvShutdown is the synthetic event Queue.Pop yields ahead of all
	// others once the shutdown flag is set.
	EvShutdown

	// EvDataObjectNew is fired when a fresh (non-duplicate) data object is
	// stored.
	EvDataObjectNew
	// EvDataObjectDeleted is fired when a data object is aged out or
	// otherwise removed from the store.
	EvDataObjectDeleted
	// EvDataObjectSend carries (dataObject, targets) to the protocol
	// manager (spec.md §4.5).
	EvDataObjectSend
	// EvDataObjectSendSuccessful reports a completed send.
	EvDataObjectSendSuccessful
	// EvDataObjectSendFailure reports a failed send.
	EvDataObjectSendFailure

	// EvNodeUpdated is fired when a node row is inserted or replaced.
	EvNodeUpdated
	// EvNodeDeleted is fired when a node row is removed.
	EvNodeDeleted

	// EvLocalInterfaceUp/Down report local link-layer interface changes.
	EvLocalInterfaceUp
	EvLocalInterfaceDown

	// EvNeighborInterfaceUp/Down report a remote peer interface becoming
	// reachable/unreachable.
	EvNeighborInterfaceUp
	EvNeighborInterfaceDown

	// EvResourcePolicyNew carries an updated resource-policy name
	// (spec.md §4.4).
	EvResourcePolicyNew

	// EvNodeDescriptionReceived is fired by the protocol/connectivity
	// layer when an incoming node description has been parsed and is
	// ready for NodeStore.Update.
	EvNodeDescriptionReceived

	// PrivateBase is the first dynamically assignable private event type
	// (spec.md §4.1: "reserved private range for one-shot callbacks").
	PrivateBase EventType = 1000
)

// Event is a variant over payload shape, matching spec.md §4.1's
// enumeration (none; data object; node; interface; policy; data-object
// list; node + node list; data object + node; data object + node list;
// opaque callback; private type). Only the fields relevant to Type are
// populated; the rest are the zero value.
type Event struct {
	Type EventType
	When time.Time

	DataObject  *types.DataObject
	DataObjects []*types.DataObject
	Node        *types.Node
	Nodes       []*types.Node
	Interface   *types.Interface
	Policy      string
	Err         error

	// Callback is invoked directly by the dispatcher instead of being
	// routed through manager OnEvent handlers, used for one-shot private
	// events (spec.md §4.1).
	Callback func(Event)
}

// NewEvent constructs an Event of the given type due "when" (immediately,
// if the zero time).
func NewEvent(t EventType, when time.Time) Event {
	return Event{Type: t, When: when}
}
