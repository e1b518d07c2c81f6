package protocol

import (
	"fmt"
	"net"

	"github.com/haggle-net/haggle/internal/types"
)

// TransportKind identifies the wire transport a protocol instance uses to
// reach a peer interface (spec.md §4.5).
type TransportKind uint8

// Transport kinds.
const (
	TransportUndefined TransportKind = iota
	// TransportTCP carries data objects over a TCP stream to an Ethernet
	// or Wi-Fi neighbor.
	TransportTCP
	// TransportRFCOMM reaches a Bluetooth neighbor over an RFCOMM channel.
	// Stub only (DESIGN.md): dialAddr always fails for it, symmetric to
	// the connectivity package's Bluetooth discovery stub.
	TransportRFCOMM
	// TransportMedia copies a data object to a removable-media file path.
	TransportMedia
	// TransportLocal reaches a co-located application through the
	// manager's LocalDeliverer (the IPC control socket) rather than a
	// dialed connection.
	TransportLocal
)

// String returns the kind's human-readable name.
func (k TransportKind) String() string {
	switch k {
	case TransportTCP:
		return "tcp"
	case TransportRFCOMM:
		return "rfcomm"
	case TransportMedia:
		return "media"
	case TransportLocal:
		return "local"
	default:
		return "undefined"
	}
}

// transportForInterfaceKind maps a link-layer kind to the wire transport
// used to reach it (spec.md §4.5 "interface -> protocol selection").
func transportForInterfaceKind(k types.InterfaceKind) TransportKind {
	switch k {
	case types.InterfaceEthernet, types.InterfaceWiFi:
		return TransportTCP
	case types.InterfaceBluetooth:
		return TransportRFCOMM
	case types.InterfaceMedia:
		return TransportMedia
	case types.InterfaceApplicationPort, types.InterfaceApplicationLocal:
		return TransportLocal
	default:
		return TransportUndefined
	}
}

// interfacePriority orders candidate interfaces so the preferred one is
// tried first: Ethernet, then Wi-Fi, then Bluetooth, then everything else
// (spec.md §4.5: "select the best currently known interface").
func interfacePriority(k types.InterfaceKind) int {
	switch k {
	case types.InterfaceEthernet:
		return 0
	case types.InterfaceApplicationLocal, types.InterfaceApplicationPort:
		return 0
	case types.InterfaceWiFi:
		return 1
	case types.InterfaceBluetooth:
		return 2
	case types.InterfaceMedia:
		return 3
	default:
		return 99
	}
}

// pickInterface selects the best currently-up, reachable interface from a
// node's advertised set, or nil if none qualify.
func pickInterface(ifaces []*types.Interface) *types.Interface {
	var best *types.Interface
	bestPriority := 100
	for _, iface := range ifaces {
		if !iface.IsUp() {
			continue
		}
		if transportForInterfaceKind(iface.Kind()) == TransportUndefined {
			continue
		}
		p := interfacePriority(iface.Kind())
		if p < bestPriority {
			best = iface
			bestPriority = p
		}
	}
	return best
}

// dialAddr resolves the address to dial for iface, selected by its
// transport kind.
func dialAddr(iface *types.Interface, tcpPort int) (network, addr string, err error) {
	switch transportForInterfaceKind(iface.Kind()) {
	case TransportTCP:
		for _, a := range iface.Addresses() {
			if a.Kind() == types.AddressIPv4 || a.Kind() == types.AddressIPv6 {
				return "tcp", net.JoinHostPort(a.IP().String(), fmt.Sprintf("%d", tcpPort)), nil
			}
		}
		return "", "", fmt.Errorf("protocol: no IP address known for %s interface %x", iface.Kind(), iface.Identifier())
	case TransportLocal:
		for _, a := range iface.Addresses() {
			if a.Kind() == types.AddressLocalPath {
				return "unix", a.Path(), nil
			}
		}
		return "", "", fmt.Errorf("protocol: no local-domain path known for application interface")
	case TransportMedia:
		for _, a := range iface.Addresses() {
			if a.Kind() == types.AddressFilePath {
				return "file", a.Path(), nil
			}
		}
		return "", "", fmt.Errorf("protocol: no file path known for media interface")
	case TransportRFCOMM:
		return "", "", fmt.Errorf("protocol: rfcomm transport not implemented (bluetooth stub)")
	default:
		return "", "", fmt.Errorf("protocol: undefined transport for interface kind %s", iface.Kind())
	}
}
