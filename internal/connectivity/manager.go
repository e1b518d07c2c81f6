// Package connectivity implements the local interface and neighbor
// discovery subsystem of spec.md §4.4: it enumerates this host's
// link-layer interfaces, runs a beacon state machine per Ethernet/Wi-Fi
// interface, and a periodic-inquiry discoverer over Bluetooth, tracking
// currently reachable neighbors in an InterfaceStore with age-based
// expiry.
package connectivity

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"github.com/haggle-net/haggle/internal/config"
	"github.com/haggle-net/haggle/internal/datastore"
	"github.com/haggle-net/haggle/internal/kernel"
	hagglemetrics "github.com/haggle-net/haggle/internal/metrics"
	"github.com/haggle-net/haggle/internal/store"
	"github.com/haggle-net/haggle/internal/types"
)

// blacklistFilterID is the fixed filter id the connectivity manager
// registers for itself against the data store (spec.md §4.3's opaque
// filter-id space; the connectivity manager is the only owner of this
// one).
const blacklistFilterID = 1

// epsilon and Manager.lossMax (default 3, set in NewManager) implement the
// neighbor-lifetime formula of spec.md §4.4:
// lifetime = now + (interval+eps)*LOSS_MAX.
const epsilon = time.Second

// pollInterval is how often local interfaces are re-enumerated via
// net.Interfaces.
const pollInterval = 5 * time.Second

// Manager is the C6 kernel manager: local interface polling, Ethernet/
// Wi-Fi beacon discovery and (when enabled) Bluetooth inquiry discovery,
// plus the administrator blacklist.
type Manager struct {
	*kernel.BaseManager

	logger  *slog.Logger
	k       *kernel.Kernel
	cfg     config.ConnectivityConfig
	metrics *hagglemetrics.Collector

	ifaces    *store.InterfaceStore
	blacklist *Blacklist

	eth map[string]*ethernetState // keyed by local Interface.Key()

	tickEvent kernel.EventType
	ageEvent  kernel.EventType
	pollEvent kernel.EventType

	bt *bluetoothDiscoverer

	lossMax int

	ds                *datastore.Manager
	blacklistFeedType kernel.EventType
}

// BindDataStore wires the administrator blacklist to the data store's
// filter side channel (spec.md §4.3, §4.4): a Connectivity=* filter is
// registered so every matching control object (past and future) is
// routed back to Blacklist.ApplyControlObject. Must be called before
// k.Start.
func (m *Manager) BindDataStore(ds *datastore.Manager) {
	m.ds = ds
	m.blacklistFeedType = m.k.RegisterPrivateEvent(func(ev kernel.Event) {
		for _, d := range ev.DataObjects {
			m.blacklist.ApplyControlObject(d)
		}
	})
}

// NewManager constructs a connectivity manager. Call k.RegisterManager(m)
// before k.Run.
func NewManager(k *kernel.Kernel, logger *slog.Logger, cfg config.ConnectivityConfig, metrics *hagglemetrics.Collector) *Manager {
	m := &Manager{
		BaseManager: kernel.NewBaseManager("connectivity"),
		logger:      logger.With(slog.String("component", "connectivity")),
		k:           k,
		cfg:         cfg,
		metrics:     metrics,
		ifaces:      store.NewInterfaceStore(),
		blacklist:   NewBlacklist(),
		eth:         make(map[string]*ethernetState),
		lossMax:     cfg.LossMax,
	}
	if m.lossMax <= 0 {
		m.lossMax = 3
	}
	m.SetInterests(
		kernel.EvPrepareStartup, kernel.EvStartup,
		kernel.EvPrepareShutdown, kernel.EvShutdown,
		kernel.EvResourcePolicyNew,
	)
	m.tickEvent = k.RegisterPrivateEvent(m.onBeaconTick)
	m.ageEvent = k.RegisterPrivateEvent(m.onAgeSweep)
	m.pollEvent = k.RegisterPrivateEvent(m.onPoll)
	if cfg.BluetoothEnabled {
		m.bt = newBluetoothDiscoverer(m.logger)
	}
	return m
}

// Blacklist exposes the administrator MAC/identifier blacklist for
// in-process callers. The data-store filter side channel (spec.md §4.3,
// §4.4) feeds it through BindDataStore; haggle-ctl has no blacklist
// command.
func (m *Manager) Blacklist() *Blacklist { return m.blacklist }

// Interfaces exposes the interface store backing neighbor state; the
// daemon shares it with the protocol and IPC managers.
func (m *Manager) Interfaces() *store.InterfaceStore { return m.ifaces }

// OnEvent implements kernel.Manager.
func (m *Manager) OnEvent(ev kernel.Event) {
	switch ev.Type {
	case kernel.EvStartup:
		m.HandleLifecycle(ev)
		m.pollLocalInterfaces()
		m.scheduleAgeSweep()
		m.k.PushAfter(kernel.NewEvent(m.pollEvent, time.Time{}), pollInterval)
		if m.bt != nil {
			if err := m.bt.start(context.Background(), m.onBluetoothFound); err != nil {
				m.logger.Warn("bluetooth discovery disabled", slog.String("err", err.Error()))
			}
		}
		if m.ds != nil {
			m.ds.RegisterFilter(types.NewFilter(
				blacklistFilterID,
				types.NewAttributeSet(types.NewWeightedAttribute(blacklistAttrName, blacklistAttrWildcard, types.DefaultWeight)),
				uint32(m.blacklistFeedType),
				true,
			))
		}
	case kernel.EvPrepareShutdown:
		m.HandleLifecycle(ev)
		for _, st := range m.eth {
			st.sock.Close()
		}
		if m.bt != nil {
			m.bt.stop()
		}
	case kernel.EvResourcePolicyNew:
		m.cfg.ResourcePolicy = ev.Policy
		m.logger.Info("resource policy changed", slog.String("policy", ev.Policy))
	default:
		m.HandleLifecycle(ev)
	}
}

// OnWatchableEvent implements kernel.Manager: dispatches beacon-socket
// readiness to the owning discoverer.
func (m *Manager) OnWatchableEvent(w kernel.Watchable) {
	sock, ok := w.(*beaconSocket)
	if !ok {
		return
	}
	for key, st := range m.eth {
		if st.sock == sock {
			m.handleBeaconReceive(key, st)
			return
		}
	}
}

// onPoll re-enumerates local interfaces and reschedules itself.
func (m *Manager) onPoll(kernel.Event) {
	m.pollLocalInterfaces()
	m.k.PushAfter(kernel.NewEvent(m.pollEvent, time.Time{}), pollInterval)
}

// pollLocalInterfaces enumerates this host's link-layer interfaces via
// net.Interfaces, starting/stopping Ethernet/Wi-Fi beacon discoverers for
// interfaces that came up or went down (spec.md §4.4 "local discovery").
func (m *Manager) pollLocalInterfaces() {
	nics, err := net.Interfaces()
	if err != nil {
		m.logger.Warn("enumerate local interfaces", slog.String("err", err.Error()))
		return
	}

	seen := make(map[string]bool, len(nics))
	for _, nic := range nics {
		if nic.Flags&net.FlagLoopback != 0 || len(nic.HardwareAddr) != 6 {
			continue
		}
		kind := types.InterfaceEthernet
		if isWireless(nic.Name) {
			kind = types.InterfaceWiFi
		}
		var mac [6]byte
		copy(mac[:], nic.HardwareAddr)
		if m.blacklist.Rejects(kind, mac[:]) {
			continue
		}

		local := types.NewInterface(kind, mac[:], nic.Name)
		up := nic.Flags&net.FlagUp != 0
		if up {
			local.SetFlag(types.FlagUp)
		}
		local.SetFlag(types.FlagLocal)

		ref, added := m.ifaces.AddOrUpdate(local, nil, types.AgelessPolicy{})
		seen[ref.Key()] = true

		switch {
		case up && added:
			m.bringUp(ref)
		case up && !ref.IsUp():
			ref.SetFlag(types.FlagUp)
			m.bringUp(ref)
		case !up && ref.IsUp():
			ref.ClearFlag(types.FlagUp)
			m.bringDown(ref)
		}
	}

	for _, ref := range m.ifaces.All() {
		if ref.Flags()&types.FlagLocal == 0 {
			continue
		}
		if !seen[ref.Key()] {
			m.ifaces.RemoveByInterface(ref)
			m.bringDown(ref)
		}
	}
}

func isWireless(name string) bool {
	return len(name) >= 3 && (name[:2] == "wl" || name[:3] == "wif")
}

// bringUp starts a beacon discoverer for local, emitting
// EvLocalInterfaceUp.
func (m *Manager) bringUp(local *types.Interface) {
	m.k.Push(kernel.Event{Type: kernel.EvLocalInterfaceUp, When: time.Now(), Interface: local})
	if local.Kind() != types.InterfaceEthernet && local.Kind() != types.InterfaceWiFi {
		return
	}
	key := local.Key()
	if _, ok := m.eth[key]; ok {
		return
	}
	sock, err := newBeaconSocket(local.Name())
	if err != nil {
		m.logger.Warn("open beacon socket", slog.String("iface", local.Name()), slog.String("err", err.Error()))
		return
	}
	st := &ethernetState{
		local:    local,
		sock:     sock,
		interval: uint8(m.cfg.BeaconInterval() / time.Second),
	}
	if st.interval == 0 {
		st.interval = 10
	}
	m.eth[key] = st
	m.k.RegisterWatchable(m, sock)
	m.scheduleTick(st)
}

// bringDown tears down the discoverer for local and cascades removal of
// every neighbor interface it discovered, emitting EvLocalInterfaceDown
// and EvNeighborInterfaceDown for each.
func (m *Manager) bringDown(local *types.Interface) {
	m.k.Push(kernel.Event{Type: kernel.EvLocalInterfaceDown, When: time.Now(), Interface: local})
	key := local.Key()
	if st, ok := m.eth[key]; ok {
		st.sock.Close()
		m.k.UnregisterWatchable(m, st.sock)
		delete(m.eth, key)
	}
	for _, child := range m.ifaces.All() {
		if m.ifaces.ParentOf(child) == local {
			m.ifaces.RemoveByInterface(child)
			m.k.Push(kernel.Event{Type: kernel.EvNeighborInterfaceDown, When: time.Now(), Interface: child})
		}
	}
}

// scheduleTick arms the next beacon-send tick for st, jittered by a
// uniform draw over the inclusive range [-1s, +1s] in whole microseconds
// (symmetric, with no bias toward either side).
func (m *Manager) scheduleTick(st *ethernetState) {
	interval := time.Duration(st.interval) * time.Second
	jitter := time.Duration(rand.Int63n(2_000_001)-1_000_000) * time.Microsecond
	ev := kernel.NewEvent(m.tickEvent, time.Time{})
	ev.Interface = st.local
	m.k.PushAfter(ev, interval+jitter)
}

// onBeaconTick sends one beacon on the local interface named by ev and
// reschedules the next tick.
func (m *Manager) onBeaconTick(ev kernel.Event) {
	st, ok := m.eth[ev.Interface.Key()]
	if !ok {
		return
	}
	st.seqno++
	var mac [6]byte
	copy(mac[:], st.local.Identifier())
	pkt := beacon{seqno: st.seqno, interval: st.interval, mac: mac}
	if err := st.sock.broadcast(pkt.marshal()); err != nil {
		m.logger.Warn("send beacon", slog.String("iface", st.local.Name()), slog.String("err", err.Error()))
	}
	m.scheduleTick(st)
}

// handleBeaconReceive drains beacons queued on st's socket, ignoring
// echoes of this host's own beacons, and upserts the sender as a
// neighbor interface with an absolute-time expiry (spec.md §4.4).
func (m *Manager) handleBeaconReceive(key string, st *ethernetState) {
	for _, r := range st.sock.drain() {
		if m.isLocalMAC(r.b.mac) {
			continue
		}
		if m.blacklist.Rejects(st.local.Kind(), r.b.mac[:]) {
			continue
		}

		lifetime := time.Duration(r.b.interval)*time.Second + epsilon
		expiresAt := time.Now().Add(lifetime * time.Duration(m.lossMax))

		remote := types.NewInterface(st.local.Kind(), r.b.mac[:], "")
		if r.from != nil {
			remote.AddAddress(types.NewIPAddress(r.from))
		}
		ref, wasAdded := m.ifaces.AddOrUpdate(remote, st.local, types.AbsoluteTimePolicy{ExpiresAt: expiresAt})
		ref.SetFlag(types.FlagUp)
		if r.from != nil && len(ref.Addresses()) == 0 {
			ref.AddAddress(types.NewIPAddress(r.from))
		}

		if wasAdded {
			m.k.Push(kernel.Event{Type: kernel.EvNeighborInterfaceUp, When: time.Now(), Interface: ref})
		}
	}
	_ = key
}

// onBluetoothFound upserts a discovered Bluetooth device as a neighbor
// interface (spec.md §4.4: inquiry-driven discovery, symmetric to the
// beacon state machine). Runs on the Bluetooth discoverer's own
// goroutine; InterfaceStore and Kernel.Push are both safe for concurrent
// use from any goroutine (spec.md §5).
func (m *Manager) onBluetoothFound(mac [6]byte, _ uint8) {
	if m.blacklist.Rejects(types.InterfaceBluetooth, mac[:]) {
		return
	}
	ttl := inquiryInterval * time.Duration(m.lossMax)
	remote := types.NewInterface(types.InterfaceBluetooth, mac[:], "")
	ref, wasAdded := m.ifaces.AddOrUpdate(remote, nil, types.TTLPolicy{TTL: ttl, RefreshedAt: time.Now()})
	ref.SetFlag(types.FlagUp)
	if wasAdded {
		m.k.Push(kernel.Event{Type: kernel.EvNeighborInterfaceUp, When: time.Now(), Interface: ref})
	}
}

func (m *Manager) isLocalMAC(mac [6]byte) bool {
	for _, ref := range m.ifaces.All() {
		if ref.Flags()&types.FlagLocal == 0 {
			continue
		}
		var local [6]byte
		copy(local[:], ref.Identifier())
		if local == mac {
			return true
		}
	}
	return false
}

// scheduleAgeSweep arms an age-sweep timer for the interface store's
// nearest expiry, rescheduling after each sweep (spec.md §4.4
// "on age-sweep... driven by the loop whenever now >= nearest-lifetime").
func (m *Manager) scheduleAgeSweep() {
	_, next := m.ifaces.Age(time.Now())
	if next.IsZero() {
		m.k.PushAfter(kernel.NewEvent(m.ageEvent, time.Time{}), time.Second)
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	m.k.PushAfter(kernel.NewEvent(m.ageEvent, time.Time{}), d)
}

// onAgeSweep expires interfaces past their deadline, cascading to
// EvNeighborInterfaceDown, then reschedules itself.
func (m *Manager) onAgeSweep(kernel.Event) {
	dead, _ := m.ifaces.Age(time.Now())
	for _, iface := range dead {
		m.k.Push(kernel.Event{Type: kernel.EvNeighborInterfaceDown, When: time.Now(), Interface: iface})
	}
	if m.metrics != nil {
		for _, kind := range []types.InterfaceKind{types.InterfaceEthernet, types.InterfaceWiFi, types.InterfaceBluetooth} {
			m.metrics.SetNeighbors(kind.String(), float64(countUp(m.ifaces.All(), kind)))
		}
	}
	m.scheduleAgeSweep()
}

func countUp(ifaces []*types.Interface, kind types.InterfaceKind) int {
	n := 0
	for _, i := range ifaces {
		if i.Kind() == kind && i.IsUp() && i.Flags()&types.FlagLocal == 0 {
			n++
		}
	}
	return n
}
