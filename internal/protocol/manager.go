// Package protocol implements the node-to-node transfer subsystem of
// spec.md §4.5: picks a transport for each peer interface, maintains a
// per-peer send queue, accepts inbound connections and folds incoming
// node descriptions into the shared interface/node stores.
package protocol

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haggle-net/haggle/internal/config"
	"github.com/haggle-net/haggle/internal/datastore"
	"github.com/haggle-net/haggle/internal/kernel"
	"github.com/haggle-net/haggle/internal/metadata"
	hagglemetrics "github.com/haggle-net/haggle/internal/metrics"
	"github.com/haggle-net/haggle/internal/store"
	"github.com/haggle-net/haggle/internal/types"
)

// Manager is the C7 kernel manager: TCP/media/RFCOMM transport selection,
// per-peer send queues and inbound connection handling.
type Manager struct {
	*kernel.BaseManager

	logger  *slog.Logger
	k       *kernel.Kernel
	cfg     config.ProtocolConfig
	metrics *hagglemetrics.Collector

	ds     *datastore.Manager
	ifaces *store.InterfaceStore
	self   *types.Node

	local LocalDeliverer

	spoolDir     string
	spoolCounter uint64

	mu        sync.Mutex
	receivers map[string]*receiverListener
	senders   map[string]*senderInstance
}

// LocalDeliverer hands a data object to a co-located application instead
// of dialing a socket (spec.md §4.5 "application" transport, §4.6):
// implemented by the ipc package and wired in with SetLocalDeliverer.
type LocalDeliverer interface {
	DeliverLocal(node *types.Node, d *types.DataObject) error
}

// NewManager constructs a protocol manager. Call k.RegisterManager(m)
// before k.Run, then Bind before EvStartup fires.
func NewManager(k *kernel.Kernel, logger *slog.Logger, cfg config.ProtocolConfig, metrics *hagglemetrics.Collector, spoolDir string) *Manager {
	m := &Manager{
		BaseManager: kernel.NewBaseManager("protocol"),
		logger:      logger.With(slog.String("component", "protocol")),
		k:           k,
		cfg:         cfg,
		metrics:     metrics,
		spoolDir:    spoolDir,
		receivers:   make(map[string]*receiverListener),
		senders:     make(map[string]*senderInstance),
	}
	m.SetInterests(
		kernel.EvPrepareStartup, kernel.EvStartup,
		kernel.EvPrepareShutdown, kernel.EvShutdown,
		kernel.EvLocalInterfaceUp, kernel.EvLocalInterfaceDown,
		kernel.EvNeighborInterfaceUp, kernel.EvNeighborInterfaceDown,
		kernel.EvDataObjectNew, kernel.EvDataObjectSend,
	)
	return m
}

// Bind wires the manager to the data store, interface store and this
// node's own identity (spec.md §4.2, §4.5). Must be called before
// k.Start.
func (m *Manager) Bind(ds *datastore.Manager, ifaces *store.InterfaceStore, self *types.Node) {
	m.ds = ds
	m.ifaces = ifaces
	m.self = self
}

// SetLocalDeliverer wires in-process application delivery, used for
// interfaces whose transport kind is TransportLocal.
func (m *Manager) SetLocalDeliverer(d LocalDeliverer) {
	m.local = d
}

// OnEvent implements kernel.Manager.
func (m *Manager) OnEvent(ev kernel.Event) {
	switch ev.Type {
	case kernel.EvStartup:
		m.HandleLifecycle(ev)
		for _, iface := range m.ifaces.All() {
			if iface.Flags()&types.FlagLocal != 0 && iface.IsUp() && transportForInterfaceKind(iface.Kind()) == TransportTCP {
				m.startReceiver(iface)
			}
		}
	case kernel.EvPrepareShutdown:
		m.HandleLifecycle(ev)
		m.mu.Lock()
		for key, rl := range m.receivers {
			close(rl.done)
			_ = rl.local.Close()
			delete(m.receivers, key)
		}
		for key, s := range m.senders {
			s.close()
			delete(m.senders, key)
		}
		m.mu.Unlock()
	case kernel.EvLocalInterfaceUp:
		if ev.Interface != nil && transportForInterfaceKind(ev.Interface.Kind()) == TransportTCP {
			m.startReceiver(ev.Interface)
		}
	case kernel.EvLocalInterfaceDown:
		if ev.Interface != nil {
			m.stopReceiver(ev.Interface)
		}
	case kernel.EvNeighborInterfaceUp:
		m.onNeighborUp(ev.Interface)
	case kernel.EvNeighborInterfaceDown:
		m.closeSenderFor(ev.Interface)
	case kernel.EvDataObjectNew:
		m.onDataObjectNew(ev.DataObject)
	case kernel.EvDataObjectSend:
		m.onDataObjectSend(ev.DataObject, ev.Nodes)
	default:
		m.HandleLifecycle(ev)
	}
}

// OnWatchableEvent implements kernel.Manager. The protocol manager has no
// watchables of its own: accept and read loops run on plain background
// goroutines (spec.md §5: the data store and kernel APIs are safe for
// concurrent use from any goroutine).
func (m *Manager) OnWatchableEvent(kernel.Watchable) {}

// onNeighborUp sends this node's node-description object to a freshly
// discovered neighbor interface, the handshake that lets the neighbor
// learn our identity, interfaces and interest set (spec.md §4.5).
func (m *Manager) onNeighborUp(iface *types.Interface) {
	if iface == nil || m.self == nil {
		return
	}
	d, err := m.buildNodeDescriptionObject()
	if err != nil {
		m.logger.Warn("build node description", slog.String("err", err.Error()))
		return
	}
	m.enqueueSend(iface, d, m.self)
}

// onDataObjectNew asks the data store which known nodes match d and
// queues a send to each (spec.md §4.3, §4.5).
func (m *Manager) onDataObjectNew(d *types.DataObject) {
	if d == nil || m.ds == nil {
		return
	}
	m.ds.NodeQuery(d, 0, 0, 0, func(nodes []*types.Node) {
		if len(nodes) == 0 {
			return
		}
		m.k.Push(kernel.Event{Type: kernel.EvDataObjectSend, When: time.Now(), DataObject: d, Nodes: nodes})
	})
}

// onDataObjectSend resolves the best reachable interface for each target
// node and enqueues the transfer.
func (m *Manager) onDataObjectSend(d *types.DataObject, nodes []*types.Node) {
	if d == nil {
		return
	}
	for _, n := range nodes {
		iface := pickInterface(n.Interfaces())
		if iface == nil {
			m.logger.Debug("no reachable interface for node", slog.String("node", n.Name()))
			continue
		}
		m.enqueueSend(iface, d, n)
	}
}

// enqueueSend routes d to iface, either through the per-peer sender
// instance (TCP/media/RFCOMM) or directly to a co-located application
// (spec.md §4.5, §4.6).
func (m *Manager) enqueueSend(iface *types.Interface, d *types.DataObject, node *types.Node) {
	if transportForInterfaceKind(iface.Kind()) == TransportLocal {
		m.sendLocal(node, d)
		return
	}

	s := m.senderFor(iface)
	job := sendJob{obj: d, node: node, done: func(err error) {
		if err != nil {
			m.logger.Warn("send data object", slog.String("iface", iface.Key()), slog.String("err", err.Error()))
			if m.metrics != nil {
				m.metrics.IncSendFailure()
			}
			m.k.Push(kernel.Event{Type: kernel.EvDataObjectSendFailure, When: time.Now(), DataObject: d, Node: node, Err: err})
			return
		}
		if m.metrics != nil {
			m.metrics.IncSendSuccessful()
		}
		m.k.Push(kernel.Event{Type: kernel.EvDataObjectSendSuccessful, When: time.Now(), DataObject: d, Node: node})
	}}
	if !s.enqueue(job) {
		m.logger.Warn("sender instance closed", slog.String("iface", iface.Key()))
	}
}

func (m *Manager) sendLocal(node *types.Node, d *types.DataObject) {
	if m.local == nil {
		m.logger.Warn("no local deliverer registered for application interface")
		return
	}
	if err := m.local.DeliverLocal(node, d); err != nil {
		if m.metrics != nil {
			m.metrics.IncSendFailure()
		}
		m.k.Push(kernel.Event{Type: kernel.EvDataObjectSendFailure, When: time.Now(), DataObject: d, Node: node, Err: err})
		return
	}
	if m.metrics != nil {
		m.metrics.IncSendSuccessful()
	}
	m.k.Push(kernel.Event{Type: kernel.EvDataObjectSendSuccessful, When: time.Now(), DataObject: d, Node: node})
}

func (m *Manager) senderFor(iface *types.Interface) *senderInstance {
	key := iface.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.senders[key]; ok {
		return s
	}
	s := newSenderInstance(m.logger, iface, m.cfg.TCPPort, m.cfg.SendTimeout, func(from, to State) {
		m.recordTransition(from, to)
	})
	m.senders[key] = s
	return s
}

func (m *Manager) closeSenderFor(iface *types.Interface) {
	if iface == nil {
		return
	}
	key := iface.Key()
	m.mu.Lock()
	s, ok := m.senders[key]
	if ok {
		delete(m.senders, key)
	}
	m.mu.Unlock()
	if ok {
		s.close()
	}
}

// buildNodeDescriptionObject encodes this node's identity, advertised
// local interfaces and interest set into a persistent, self-marked data
// object (spec.md §4.5, §6).
func (m *Manager) buildNodeDescriptionObject() (*types.DataObject, error) {
	var local []*types.Interface
	for _, iface := range m.ifaces.All() {
		if iface.Flags()&types.FlagLocal != 0 {
			local = append(local, iface)
		}
	}
	encoded, err := metadata.EncodeNodeDescription(m.self, local)
	if err != nil {
		return nil, err
	}
	path, err := spillPayload(m.spoolDir, &m.spoolCounter, encoded)
	if err != nil {
		return nil, err
	}
	d := types.NewDataObjectWithPayload(m.self.Interest(), true, types.Payload{
		FilePath:  path,
		HasLength: true,
		Length:    uint64(len(encoded)),
	})
	d.MarkNodeDescription()
	return d, nil
}
