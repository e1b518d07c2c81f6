//go:build linux

package connectivity

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// beaconSocket owns a UDP broadcast socket used to send and receive
// beacons on one local interface (spec.md §4.4). It is configured with
// SO_BROADCAST (to transmit) and SO_REUSEADDR (so every local interface's
// discoverer can share the beacon port), grounded on the socket-option
// discipline of the teacher's netio sender (SO_REUSEADDR, per-fd Control
// callback).
type beaconSocket struct {
	conn   *net.UDPConn
	ifName string

	mu     sync.Mutex
	closed bool

	ready chan struct{}
	recv  chan recvdBeacon
}

type recvdBeacon struct {
	b    beacon
	from net.IP
}

// newBeaconSocket binds a UDP socket on BeaconPort for the given local
// interface and starts its receive loop.
func newBeaconSocket(ifName string) (*beaconSocket, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setBeaconSockOpts(c, ifName)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", BeaconPort))
	if err != nil {
		return nil, fmt.Errorf("listen beacon socket on %s: %w", ifName, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf("listen beacon socket on %s: unexpected conn type: %w", ifName, closeErr)
	}

	s := &beaconSocket{
		conn:   conn,
		ifName: ifName,
		ready:  make(chan struct{}, 1),
		recv:   make(chan recvdBeacon, 32),
	}
	go s.recvLoop()
	return s, nil
}

func setBeaconSockOpts(c syscall.RawConn, ifName string) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd is always a small positive kernel descriptor.
		intFD := int(fd)
		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); sockErr != nil {
			return
		}
		if ifName != "" {
			sockErr = unix.SetsockoptString(intFD, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName)
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}
	return sockErr
}

// recvLoop reads datagrams until the socket is closed, parsing each into
// a beacon and signalling Ready() so the kernel dispatch loop wakes up.
func (s *beaconSocket) recvLoop() {
	buf := make([]byte, 256)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		b, err := unmarshalBeacon(buf[:n])
		if err != nil {
			continue
		}
		select {
		case s.recv <- recvdBeacon{b: b, from: addr.IP}:
		default:
			// Receiver overwhelmed; drop rather than block the socket loop.
		}
		select {
		case s.ready <- struct{}{}:
		default:
		}
	}
}

// Ready implements kernel.Watchable.
func (s *beaconSocket) Ready() <-chan struct{} { return s.ready }

// drain returns every beacon received since the last drain, non-blocking.
func (s *beaconSocket) drain() []recvdBeacon {
	var out []recvdBeacon
	for {
		select {
		case r := <-s.recv:
			out = append(out, r)
		default:
			return out
		}
	}
}

// broadcast sends buf to the local broadcast address on BeaconPort.
func (s *beaconSocket) broadcast(buf []byte) error {
	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: BeaconPort}
	_, err := s.conn.WriteToUDP(buf, dst)
	return err
}

// Close closes the underlying socket.
func (s *beaconSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
