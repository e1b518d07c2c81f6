package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/haggle-net/haggle/internal/config"
	"github.com/haggle-net/haggle/internal/datastore"
	"github.com/haggle-net/haggle/internal/kernel"
	"github.com/haggle-net/haggle/internal/protocol"
	"github.com/haggle-net/haggle/internal/store"
	"github.com/haggle-net/haggle/internal/types"
)

// filterIDBase offsets application filter ids away from the fixed,
// well-known ids (e.g. connectivity's blacklist filter) other managers
// register (spec.md §4.3's opaque filter-id space).
const filterIDBase = 1 << 16

// Manager is the C8 kernel manager: the application control endpoint,
// client registry and interest->filter bridge.
type Manager struct {
	*kernel.BaseManager

	logger *slog.Logger
	k      *kernel.Kernel
	cfg    config.IPCConfig

	ds     *datastore.Manager
	ifaces *store.InterfaceStore

	conn net.PacketConn
	out  chan outbound
	done chan struct{}

	reg          *registry
	nextFilterID uint64

	pidFile string
}

// NewManager constructs an IPC manager. Call k.RegisterManager(m) before
// k.Run, then Bind before EvStartup fires.
func NewManager(k *kernel.Kernel, logger *slog.Logger, cfg config.IPCConfig) *Manager {
	m := &Manager{
		BaseManager: kernel.NewBaseManager("ipc"),
		logger:      logger.With(slog.String("component", "ipc")),
		k:           k,
		cfg:         cfg,
		out:         make(chan outbound, 256),
		done:        make(chan struct{}),
		reg:         newRegistry(),
		pidFile:     cfg.PIDFile,
	}
	return m
}

// Bind wires the manager to the data store and the shared interface
// store (spec.md §4.2, §4.3). Must be called before k.Start.
func (m *Manager) Bind(ds *datastore.Manager, ifaces *store.InterfaceStore) {
	m.ds = ds
	m.ifaces = ifaces
}

// OnEvent implements kernel.Manager: standard lifecycle, plus forwarding
// of every event a client has subscribed to via register_event_interest.
func (m *Manager) OnEvent(ev kernel.Event) {
	switch ev.Type {
	case kernel.EvPrepareStartup:
		m.HandleLifecycle(ev)
		if err := m.start(); err != nil {
			m.logger.Error("start control socket", slog.String("err", err.Error()))
		}
	case kernel.EvPrepareShutdown:
		m.HandleLifecycle(ev)
		m.stop()
	default:
		if m.HandleLifecycle(ev) {
			return
		}
		m.forwardEvent(ev)
	}
}

// OnWatchableEvent implements kernel.Manager. The control socket's recv
// loop runs on its own goroutine, not as a kernel watchable (consistent
// with internal/protocol's receiver, spec.md §5).
func (m *Manager) OnWatchableEvent(kernel.Watchable) {}

// start opens the control socket and the PID file, and begins the recv
// and outbound-write loops.
func (m *Manager) start() error {
	conn, err := openControlSocket(m.cfg)
	if err != nil {
		return err
	}
	m.conn = conn

	if m.pidFile != "" {
		if err := writePIDFile(m.pidFile); err != nil {
			m.logger.Warn("write pid file", slog.String("path", m.pidFile), slog.String("err", err.Error()))
		}
	}

	go m.writeLoop()
	go m.recvLoop()
	return nil
}

// stop closes the control socket and removes the PID file.
func (m *Manager) stop() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}
	if m.pidFile != "" {
		_ = os.Remove(m.pidFile)
	}
}

func (m *Manager) writeLoop() {
	for {
		select {
		case o := <-m.out:
			if _, err := m.conn.WriteTo(o.buf, o.addr); err != nil {
				m.logger.Debug("write control datagram", slog.String("err", err.Error()))
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) send(addr net.Addr, d *types.DataObject) {
	buf, err := encodeControlObject(d)
	if err != nil {
		m.logger.Warn("encode control reply", slog.String("err", err.Error()))
		return
	}
	select {
	case m.out <- outbound{addr: addr, buf: buf}:
	default:
		m.logger.Warn("control write queue full, dropping reply", slog.String("addr", addr.String()))
	}
}

// recvLoop reads one control datagram at a time and dispatches it
// directly from this goroutine: the data store and kernel APIs are both
// safe for concurrent use from any goroutine (spec.md §5), so control
// handling never needs to round-trip through the kernel dispatch loop.
func (m *Manager) recvLoop() {
	buf := make([]byte, 64<<10)
	for {
		n, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			m.logger.Warn("read control datagram", slog.String("err", err.Error()))
			return
		}
		d, err := decodeControlObject(buf[:n])
		if err != nil {
			m.logger.Debug("decode control datagram", slog.String("err", err.Error()))
			continue
		}
		m.handle(addr, d)
	}
}

// handle dispatches one decoded control object per the vocabulary of
// spec.md §4.6.
func (m *Manager) handle(addr net.Addr, d *types.DataObject) {
	switch controlValue(d) {
	case controlRegistrationRequest:
		m.handleRegister(addr, d)
	case controlDeregistrationNotice:
		m.handleDeregister(addr)
	case controlAddInterest:
		m.handleAddInterest(addr, d)
	case controlRemoveInterest:
		m.handleRemoveInterest(addr)
	case controlGetInterests:
		m.handleGetInterests(addr)
	case controlGetDataObjects:
		m.handleGetDataObjects(addr, d)
	case controlRegisterEventInterest:
		m.handleRegisterEventInterest(addr, d)
	case controlDeleteDataObject:
		m.handleDeleteDataObject(d)
	case controlShutdown:
		m.handleShutdown()
	default:
		m.logger.Debug("unknown control value", slog.String("control", controlValue(d)))
	}
}

func (m *Manager) handleRegister(addr net.Addr, d *types.DataObject) {
	if existing := m.reg.lookupByAddr(addr); existing != nil {
		m.send(addr, newControlObject(controlRegistrationReplyRegistered,
			types.NewAttribute(sessionIDAttrName, strconv.FormatUint(existing.sessionID, 10))))
		return
	}

	name := firstAttr(d, nameAttrName)
	storagePath := ""
	c := m.reg.register(addr, name, storagePath)
	c.storagePath = m.appStorageDir(c.sessionID)
	if err := os.MkdirAll(c.storagePath, 0o700); err != nil {
		m.logger.Warn("create app storage dir", slog.String("err", err.Error()))
	}

	nodeID := appNodeID(name, c.sessionID)
	m.reg.bindNode(c, nodeID)
	m.registerAppNode(c, nodeID, name, addr)

	m.send(addr, newControlObject(controlRegistrationReply,
		types.NewAttribute(sessionIDAttrName, strconv.FormatUint(c.sessionID, 10)),
		types.NewAttribute(storagePathAttrName, c.storagePath)))
}

// registerAppNode files a pseudo-peer Node for the client, kind
// NodeApplication, with a TransportLocal interface keyed by session id
// (spec.md §4.2, §4.5). The data store's NodeQuery returns only peer and
// gateway nodes, so the protocol manager's send path does not pick this
// node; data objects reach the client through its interest filter's
// private event instead.
func (m *Manager) registerAppNode(c *client, nodeID [20]byte, name string, addr net.Addr) {
	if m.ds == nil || m.ifaces == nil {
		return
	}
	var sessBuf [8]byte
	for i := range sessBuf {
		sessBuf[i] = byte(c.sessionID >> (8 * uint(i)))
	}
	iface := types.NewInterface(types.InterfaceApplicationLocal, sessBuf[:], name)
	iface.AddAddress(types.NewLocalPathAddress(addr.String()))
	iface.SetFlag(types.FlagUp)
	ref, _ := m.ifaces.AddOrUpdate(iface, nil, types.AgelessPolicy{})

	n := types.NewNode(nodeID, types.NodeApplication, name)
	n.AddInterface(ref)
	m.ds.UpsertNode(n, false)
}

func (m *Manager) handleDeregister(addr net.Addr) {
	c := m.reg.lookupByAddr(addr)
	if c == nil {
		return
	}
	m.reg.remove(c)
	if m.ds != nil && c.filterID != 0 {
		m.ds.RemoveFilter(c.filterID)
	}
	if m.ifaces != nil {
		var sessBuf [8]byte
		for i := range sessBuf {
			sessBuf[i] = byte(c.sessionID >> (8 * uint(i)))
		}
		m.ifaces.RemoveByKey(types.InterfaceApplicationLocal, sessBuf[:])
	}
}

func (m *Manager) handleAddInterest(addr net.Addr, d *types.DataObject) {
	c := m.reg.lookupByAddr(addr)
	if c == nil || m.ds == nil {
		return
	}
	interest := withoutControl(d.Attributes())

	m.nextFilterID++
	id := filterIDBase + m.nextFilterID
	if c.filterID != 0 {
		m.ds.RemoveFilter(c.filterID)
	}
	c.filterID = id

	feedType := m.k.RegisterPrivateEvent(func(ev kernel.Event) {
		for _, obj := range ev.DataObjects {
			m.send(c.addr, obj)
		}
	})
	m.ds.RegisterFilter(types.NewFilter(id, interest, uint32(feedType), true))
}

func (m *Manager) handleRemoveInterest(addr net.Addr) {
	c := m.reg.lookupByAddr(addr)
	if c == nil || c.filterID == 0 || m.ds == nil {
		return
	}
	m.ds.RemoveFilter(c.filterID)
	c.filterID = 0
}

func (m *Manager) handleGetInterests(addr net.Addr) {
	c := m.reg.lookupByAddr(addr)
	if c == nil {
		m.send(addr, newControlObject(controlGetInterests))
		return
	}
	n := c.nodeID
	m.ds.NodeByID(n, func(node *types.Node) {
		if node == nil {
			m.send(addr, newControlObject(controlGetInterests))
			return
		}
		m.send(addr, types.NewDataObject(node.Interest(), false))
	})
}

func (m *Manager) handleGetDataObjects(addr net.Addr, d *types.DataObject) {
	c := m.reg.lookupByAddr(addr)
	if c == nil || m.ds == nil {
		return
	}
	query := withoutControl(d.Attributes())
	m.ds.FilterQuery(types.NewFilter(0, query, 0, false), func(objs []*types.DataObject) {
		for _, obj := range objs {
			m.send(c.addr, obj)
		}
	})
}

func (m *Manager) handleRegisterEventInterest(addr net.Addr, d *types.DataObject) {
	c := m.reg.lookupByAddr(addr)
	if c == nil {
		return
	}
	raw := firstAttr(d, eventAttrName)
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		m.logger.Debug("register_event_interest: invalid Event attribute", slog.String("value", raw))
		return
	}
	c.subscribe(kernel.EventType(n))
}

func (m *Manager) handleDeleteDataObject(d *types.DataObject) {
	raw := firstAttr(d, dataObjectIDAttr)
	id, err := decodeDataObjectID(raw)
	if err != nil || m.ds == nil {
		return
	}
	m.ds.DeleteDataObject(id)
}

func (m *Manager) handleShutdown() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.k.Shutdown(ctx)
	}()
}

// forwardEvent delivers ev to every client subscribed to its type via
// register_event_interest (spec.md §4.6).
func (m *Manager) forwardEvent(ev kernel.Event) {
	for _, c := range m.reg.all() {
		if !c.subscribed(ev.Type) {
			continue
		}
		notice := newControlObject(controlEventNotice, types.NewAttribute(eventAttrName, strconv.FormatUint(uint64(ev.Type), 10)))
		if ev.DataObject != nil {
			notice.Attributes().Len() // no-op: DataObject id attached below
			id := ev.DataObject.ID()
			notice = newControlObject(controlEventNotice,
				types.NewAttribute(eventAttrName, strconv.FormatUint(uint64(ev.Type), 10)),
				types.NewAttribute(dataObjectIDAttr, encodeDataObjectID(id)))
		}
		m.send(c.addr, notice)
	}
}

// DeliverLocal implements protocol.LocalDeliverer: routes a data object
// the protocol manager picked an application interface for back to the
// originating client over the control socket (spec.md §4.5, §4.6).
func (m *Manager) DeliverLocal(node *types.Node, d *types.DataObject) error {
	c := m.reg.lookupByNode(node.ID())
	if c == nil {
		return fmt.Errorf("ipc: no registered client for node %x", node.ID())
	}
	m.send(c.addr, d)
	return nil
}

var _ protocol.LocalDeliverer = (*Manager)(nil)

func (m *Manager) appStorageDir(sessionID uint64) string {
	return filepath.Join(m.cfg.StorageRoot(), "apps", strconv.FormatUint(sessionID, 10))
}

func withoutControl(attrs types.AttributeSet) types.AttributeSet {
	out := make([]types.Attribute, 0, attrs.Len())
	for _, a := range attrs.All() {
		if a.Name() == controlAttrName {
			continue
		}
		out = append(out, a)
	}
	return types.NewAttributeSet(out...)
}

// writePIDFile writes the current process id to path, creating parent
// directories as needed (spec.md §6: "PID file... haggled writes its
// process id to on startup and removes on clean shutdown").
func writePIDFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ProbeDaemon reports whether path names a PID file whose process is
// still alive, for CLI/status-style liveness checks (spec.md §6).
func ProbeDaemon(path string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read pid file %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return false, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}
	return true, nil
}
