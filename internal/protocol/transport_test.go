package protocol

import (
	"net"
	"testing"

	"github.com/haggle-net/haggle/internal/types"
)

func TestTransportForInterfaceKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind types.InterfaceKind
		want TransportKind
	}{
		{types.InterfaceEthernet, TransportTCP},
		{types.InterfaceWiFi, TransportTCP},
		{types.InterfaceBluetooth, TransportRFCOMM},
		{types.InterfaceMedia, TransportMedia},
		{types.InterfaceApplicationLocal, TransportLocal},
		{types.InterfaceApplicationPort, TransportLocal},
	}
	for _, tt := range tests {
		if got := transportForInterfaceKind(tt.kind); got != tt.want {
			t.Errorf("transportForInterfaceKind(%v) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestPickInterfacePrefersEthernetOverWiFi(t *testing.T) {
	t.Parallel()
	wifi := types.NewInterface(types.InterfaceWiFi, []byte{1, 2, 3, 4, 5, 6}, "")
	wifi.SetFlag(types.FlagUp)
	eth := types.NewInterface(types.InterfaceEthernet, []byte{6, 5, 4, 3, 2, 1}, "")
	eth.SetFlag(types.FlagUp)

	got := pickInterface([]*types.Interface{wifi, eth})
	if got != eth {
		t.Errorf("pickInterface chose %v, want ethernet interface", got)
	}
}

func TestPickInterfaceSkipsDownAndUndefinedTransport(t *testing.T) {
	t.Parallel()
	down := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3, 4, 5, 6}, "")
	bad := types.NewInterface(types.InterfaceKind(255), []byte{9, 9, 9, 9, 9, 9}, "")
	bad.SetFlag(types.FlagUp)

	got := pickInterface([]*types.Interface{down, bad})
	if got != nil {
		t.Errorf("pickInterface = %v, want nil", got)
	}
}

func TestDialAddrTCP(t *testing.T) {
	t.Parallel()
	iface := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3, 4, 5, 6}, "")
	iface.AddAddress(types.NewIPAddress(net.ParseIP("192.0.2.10")))

	network, addr, err := dialAddr(iface, 8787)
	if err != nil {
		t.Fatalf("dialAddr: %v", err)
	}
	if network != "tcp" {
		t.Errorf("network = %q, want tcp", network)
	}
	if addr != "192.0.2.10:8787" {
		t.Errorf("addr = %q, want 192.0.2.10:8787", addr)
	}
}

func TestDialAddrTCPMissingAddress(t *testing.T) {
	t.Parallel()
	iface := types.NewInterface(types.InterfaceEthernet, []byte{1, 2, 3, 4, 5, 6}, "")
	if _, _, err := dialAddr(iface, 8787); err == nil {
		t.Error("dialAddr: expected error for interface with no IP address")
	}
}

func TestDialAddrRFCOMMAlwaysFails(t *testing.T) {
	t.Parallel()
	iface := types.NewInterface(types.InterfaceBluetooth, []byte{1, 2, 3, 4, 5, 6}, "")
	if _, _, err := dialAddr(iface, 8787); err == nil {
		t.Error("dialAddr: expected rfcomm stub to always error")
	}
}
