//go:build linux

package protocol

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenTCP binds a TCP listener for port on ifName, SO_REUSEADDR'd so a
// stopped-and-restarted listener can rebind immediately and
// SO_BINDTODEVICE'd so it only ever accepts on that interface, the same
// socket-option discipline as connectivity's beacon socket and the
// teacher's netio sender.
func listenTCP(ifName string, port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setListenerSockOpts(c, ifName)
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("protocol: listen tcp on %s: %w", ifName, err)
	}
	return ln, nil
}

func setListenerSockOpts(c syscall.RawConn, ifName string) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd is always a small positive kernel descriptor.
		intFD := int(fd)
		if sockErr = unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
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
