package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// errBadBTAddress indicates a BlueZ device address string was not valid
// colon-separated hex.
var errBadBTAddress = errors.New("connectivity: malformed bluetooth address")

// bluezService and bluezAdapterPath name the BlueZ org.bluez D-Bus
// objects this discoverer talks to (BlueZ D-Bus API, adapter1/device1
// interfaces).
const (
	bluezService      = "org.bluez"
	bluezAdapterPath  = "/org/bluez/hci0"
	bluezAdapterIface = "org.bluez.Adapter1"
	bluezDeviceIface  = "org.bluez.Device1"
)

// haggleServiceUUID is the advertised SDP/GATT service UUID devices use
// to identify themselves as Haggle-capable (spec.md §4.4: "each
// discovered device advertises an SDP record containing a Haggle UUID").
const haggleServiceUUID = "a496f14c-928c-4f31-a4e6-1b3f6d6a9f10"

// inquiryInterval is how often StartDiscovery is re-issued; BlueZ itself
// debounces repeated calls, so this simply keeps inquiry alive across
// adapter resets.
const inquiryInterval = 30 * time.Second

// bluetoothDiscoverer drives Bluetooth neighbor discovery via BlueZ's
// D-Bus API: periodic inquiry (spec.md §4.4 "symmetric [to beacons] but
// driven by periodic inquiry") plus a signal subscription for
// InterfacesAdded, BlueZ's notification that a new device object (and
// therefore a new neighbor) appeared.
//
// This is a discovery-layer stub (SPEC_FULL.md Non-goals): it satisfies
// the shape of BlueZ's real adapter/device objects well enough to drive
// the neighbor-interface lifecycle, but does not implement RFCOMM
// channel negotiation, pairing, or SDP record publication.
type bluetoothDiscoverer struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	cancel  context.CancelFunc
	onFound func(mac [6]byte, rfcommChannel uint8)
}

func newBluetoothDiscoverer(logger *slog.Logger) *bluetoothDiscoverer {
	return &bluetoothDiscoverer{logger: logger.With(slog.String("component", "connectivity.bluetooth"))}
}

// start connects to the system bus, begins adapter discovery and
// dispatches discovered devices to onFound until ctx is cancelled.
func (b *bluetoothDiscoverer) start(ctx context.Context, onFound func(mac [6]byte, rfcommChannel uint8)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		b.logger.Warn("connect system bus", slog.String("err", err.Error()))
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.conn = conn
	b.cancel = cancel
	b.onFound = onFound
	b.mu.Unlock()

	adapter := conn.Object(bluezService, dbus.ObjectPath(bluezAdapterPath))

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/bluez"),
		dbus.WithMatchInterface("org.freedesktop.DBus.ObjectManager"),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		b.logger.Warn("add dbus match", slog.String("err", err.Error()))
	}

	go b.loop(ctx, adapter, signals)
	return nil
}

func (b *bluetoothDiscoverer) loop(ctx context.Context, adapter dbus.BusObject, signals <-chan *dbus.Signal) {
	ticker := time.NewTicker(inquiryInterval)
	defer ticker.Stop()

	b.startDiscovery(adapter)
	for {
		select {
		case <-ctx.Done():
			b.stopDiscovery(adapter)
			return
		case <-ticker.C:
			b.startDiscovery(adapter)
		case sig, ok := <-signals:
			if !ok {
				return
			}
			b.handleSignal(sig)
		}
	}
}

func (b *bluetoothDiscoverer) startDiscovery(adapter dbus.BusObject) {
	if call := adapter.Call(bluezAdapterIface+".StartDiscovery", 0); call.Err != nil {
		b.logger.Debug("start discovery", slog.String("err", call.Err.Error()))
	}
}

func (b *bluetoothDiscoverer) stopDiscovery(adapter dbus.BusObject) {
	_ = adapter.Call(bluezAdapterIface+".StopDiscovery", 0)
}

// handleSignal parses an InterfacesAdded signal for a Device1 object
// carrying the Haggle service UUID, reporting its address and (if
// advertised) RFCOMM channel to onFound.
func (b *bluetoothDiscoverer) handleSignal(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	props, ok := ifaces[bluezDeviceIface]
	if !ok {
		return
	}

	uuids, _ := props["UUIDs"].Value().([]string)
	if !containsFold(uuids, haggleServiceUUID) {
		return
	}

	addrStr, _ := props["Address"].Value().(string)
	mac, err := parseBTAddress(addrStr)
	if err != nil {
		return
	}

	channel := uint8(0)
	if ch, ok := props["RFCOMMChannel"].Value().(byte); ok {
		channel = ch
	}

	b.mu.Lock()
	cb := b.onFound
	b.mu.Unlock()
	if cb != nil {
		cb(mac, channel)
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if equalFold(h, needle) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// parseBTAddress parses a colon-separated "AA:BB:CC:DD:EE:FF" BlueZ
// device address into 6 raw bytes.
func parseBTAddress(s string) ([6]byte, error) {
	var mac [6]byte
	n := 0
	var cur byte
	nibbles := 0
	for i := 0; i < len(s) && n < 6; i++ {
		c := s[i]
		if c == ':' {
			continue
		}
		v, err := hexNibble(c)
		if err != nil {
			return mac, err
		}
		cur = cur<<4 | v
		nibbles++
		if nibbles == 2 {
			mac[n] = cur
			n++
			cur = 0
			nibbles = 0
		}
	}
	return mac, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', nil
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, nil
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, errBadBTAddress
	}
}

// stop tears down the D-Bus connection and discovery loop.
func (b *bluetoothDiscoverer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
