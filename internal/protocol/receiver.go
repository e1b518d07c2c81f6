package protocol

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/haggle-net/haggle/internal/kernel"
	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

// receiverListener accepts inbound connections on one local Ethernet/
// Wi-Fi interface and hands each off to a per-connection read loop
// (spec.md §4.5).
type receiverListener struct {
	local net.Listener
	iface *types.Interface
	done  chan struct{}
}

// startReceiver opens a TCP listener on local's name and begins
// accepting, dispatching completed reads back through m.
func (m *Manager) startReceiver(local *types.Interface) {
	key := local.Key()
	if _, ok := m.receivers[key]; ok {
		return
	}
	ln, err := listenTCP(local.Name(), m.cfg.TCPPort)
	if err != nil {
		m.logger.Warn("open tcp listener", slog.String("iface", local.Name()), slog.String("err", err.Error()))
		return
	}
	rl := &receiverListener{local: ln, iface: local, done: make(chan struct{})}
	m.receivers[key] = rl
	go m.acceptLoop(rl)
}

// stopReceiver tears down the listener for local, if any.
func (m *Manager) stopReceiver(local *types.Interface) {
	key := local.Key()
	rl, ok := m.receivers[key]
	if !ok {
		return
	}
	delete(m.receivers, key)
	close(rl.done)
	_ = rl.local.Close()
}

func (m *Manager) acceptLoop(rl *receiverListener) {
	for {
		conn, err := rl.local.Accept()
		if err != nil {
			select {
			case <-rl.done:
				return
			default:
			}
			m.logger.Warn("accept connection", slog.String("iface", rl.iface.Name()), slog.String("err", err.Error()))
			return
		}
		go m.readLoop(conn)
	}
}

// readLoop reads length-prefixed data objects from conn until it errors
// or the peer closes, each read cycled through the instance FSM for
// observability (spec.md §4.5). Runs on its own goroutine and talks to
// the data store and kernel directly: both accept concurrent callers
// from any goroutine (spec.md §5).
func (m *Manager) readLoop(conn net.Conn) {
	defer conn.Close()

	state := StateConnected
	remoteIP := remoteIPOf(conn)

	for {
		if m.cfg.ReceiveIdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(m.cfg.ReceiveIdleTimeout))
		}
		d, err := readDataObject(conn, m.spoolDir, &m.spoolCounter)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				m.logger.Debug("read data object", slog.String("err", err.Error()))
			}
			res := ApplyEvent(state, EventClose)
			m.recordTransition(res.OldState, res.NewState)
			return
		}
		d.MarkReceived(time.Now())

		if d.IsNodeDescription() {
			m.handleReceivedNodeDescription(d, remoteIP)
		}
		if m.ds != nil {
			m.ds.InsertDataObject(d)
		}
	}
}

// handleReceivedNodeDescription parses d's payload as a node-description
// document and folds its advertised interfaces and node row into the
// shared interface/node stores (spec.md §4.2, §4.4).
func (m *Manager) handleReceivedNodeDescription(d *types.DataObject, remoteIP net.IP) {
	p := d.Payload()
	if p == nil || p.FilePath == "" {
		return
	}
	raw, err := os.ReadFile(p.FilePath)
	if err != nil {
		m.logger.Warn("read node description payload", slog.String("err", err.Error()))
		return
	}
	dn, err := metadata.DecodeNodeDescription(raw)
	if err != nil {
		m.logger.Warn("decode node description", slog.String("err", err.Error()))
		return
	}

	for _, iface := range dn.Interfaces {
		existing := m.ifaces.Lookup(iface.Kind(), iface.Identifier())
		if existing != nil {
			if remoteIP != nil && transportForInterfaceKind(existing.Kind()) == TransportTCP && len(existing.Addresses()) == 0 {
				existing.AddAddress(types.NewIPAddress(remoteIP))
			}
			dn.Node.AddInterface(existing)
			continue
		}
		if remoteIP != nil && transportForInterfaceKind(iface.Kind()) == TransportTCP {
			iface.AddAddress(types.NewIPAddress(remoteIP))
		}
		ref, _ := m.ifaces.AddOrUpdate(iface, nil, types.AgelessPolicy{})
		dn.Node.AddInterface(ref)
	}

	if m.ds != nil {
		m.ds.UpsertNode(dn.Node, true)
	}
	m.k.Push(kernel.Event{Type: kernel.EvNodeDescriptionReceived, When: time.Now(), Node: dn.Node})
}

func remoteIPOf(conn net.Conn) net.IP {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}

func (m *Manager) recordTransition(from, to State) {
	if m.metrics != nil && from != to {
		m.metrics.RecordStateTransition(from.String(), to.String())
	}
}
