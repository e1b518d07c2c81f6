package types

import (
	"fmt"
	"net"
)

// AddressKind tags the variant carried by an Address. Modeled as a tagged
// union (DESIGN NOTES §9: "Union-based Address and identifier types")
// instead of the pointer-plus-raw-bytes conflation of the original.
type AddressKind uint8

const (
	// AddressUndefined is the zero value; never a valid address.
	AddressUndefined AddressKind = iota
	// AddressEthMAC is a 6-byte Ethernet/Wi-Fi hardware address.
	AddressEthMAC
	// AddressBTMAC is a 6-byte Bluetooth device address.
	AddressBTMAC
	// AddressIPv4 is a 4-byte IPv4 address.
	AddressIPv4
	// AddressIPv6 is a 16-byte IPv6 address.
	AddressIPv6
	// AddressFilePath is a local filesystem path (media transport).
	AddressFilePath
	// AddressPort is a 2-byte application port number.
	AddressPort
	// AddressLocalPath is a local-domain socket path (application IPC).
	AddressLocalPath
)

// String returns the kind's human-readable name.
func (k AddressKind) String() string {
	switch k {
	case AddressEthMAC:
		return "eth-mac"
	case AddressBTMAC:
		return "bt-mac"
	case AddressIPv4:
		return "ipv4"
	case AddressIPv6:
		return "ipv6"
	case AddressFilePath:
		return "file-path"
	case AddressPort:
		return "port"
	case AddressLocalPath:
		return "local-path"
	default:
		return "undefined"
	}
}

// Address is a tagged variant over the address families an Interface can
// carry. Exactly one of the typed accessors is meaningful, selected by Kind.
type Address struct {
	kind AddressKind
	mac  [6]byte
	ip   net.IP
	port uint16
	path string
}

// NewEthMACAddress builds an Ethernet/Wi-Fi hardware address.
func NewEthMACAddress(mac [6]byte) Address {
	return Address{kind: AddressEthMAC, mac: mac}
}

// NewBTMACAddress builds a Bluetooth device address.
func NewBTMACAddress(mac [6]byte) Address {
	return Address{kind: AddressBTMAC, mac: mac}
}

// NewIPAddress builds an IPv4 or IPv6 address, inferring the kind from the
// byte length of ip.To4()/To16().
func NewIPAddress(ip net.IP) Address {
	if v4 := ip.To4(); v4 != nil {
		return Address{kind: AddressIPv4, ip: v4}
	}
	return Address{kind: AddressIPv6, ip: ip.To16()}
}

// NewFilePathAddress builds a media-transport file-path address.
func NewFilePathAddress(path string) Address {
	return Address{kind: AddressFilePath, path: path}
}

// NewPortAddress builds an application-port address.
func NewPortAddress(port uint16) Address {
	return Address{kind: AddressPort, port: port}
}

// NewLocalPathAddress builds a local-domain socket path address.
func NewLocalPathAddress(path string) Address {
	return Address{kind: AddressLocalPath, path: path}
}

// Kind returns the address variant.
func (a Address) Kind() AddressKind { return a.kind }

// MAC returns the hardware address for AddressEthMAC/AddressBTMAC kinds.
func (a Address) MAC() [6]byte { return a.mac }

// IP returns the IP address for AddressIPv4/AddressIPv6 kinds.
func (a Address) IP() net.IP { return a.ip }

// Port returns the port number for the AddressPort kind.
func (a Address) Port() uint16 { return a.port }

// Path returns the filesystem/local-domain path for AddressFilePath/
// AddressLocalPath kinds.
func (a Address) Path() string { return a.path }

// String renders a human-readable representation of the address.
func (a Address) String() string {
	switch a.kind {
	case AddressEthMAC, AddressBTMAC:
		return net.HardwareAddr(a.mac[:]).String()
	case AddressIPv4, AddressIPv6:
		return a.ip.String()
	case AddressFilePath:
		return a.path
	case AddressPort:
		return fmt.Sprintf(":%d", a.port)
	case AddressLocalPath:
		return a.path
	default:
		return "<undefined-address>"
	}
}
