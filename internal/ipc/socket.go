package ipc

import (
	"fmt"
	"net"
	"os"

	"github.com/haggle-net/haggle/internal/config"
)

// outbound is one queued datagram write, so writes never block the
// kernel thread or a client-session handler (spec.md §5's non-blocking
// contract, the same discipline protocol's senderInstance applies to
// stream sends).
type outbound struct {
	addr net.Addr
	buf  []byte
}

// openControlSocket binds the process-wide control endpoint per cfg:
// either a UDP loopback socket or a local-domain datagram socket
// (spec.md §4.6: "build-time choice"; here a runtime config choice).
func openControlSocket(cfg config.IPCConfig) (net.PacketConn, error) {
	switch cfg.Transport {
	case "unix":
		_ = os.Remove(cfg.SocketPath)
		conn, err := net.ListenPacket("unixgram", cfg.SocketPath)
		if err != nil {
			return nil, fmt.Errorf("ipc: listen unixgram %s: %w", cfg.SocketPath, err)
		}
		return conn, nil
	default:
		addr := cfg.Addr
		if addr == "" {
			addr = "127.0.0.1:0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("ipc: listen udp %s: %w", addr, err)
		}
		return conn, nil
	}
}
