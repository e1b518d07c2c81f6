package connectivity

import "testing"

func TestBeaconMarshalUnmarshalRoundTrip(t *testing.T) {
	b := beacon{seqno: 0xdeadbeef, interval: 5, mac: [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}}
	buf := b.marshal()
	if len(buf) != beaconWireSize {
		t.Fatalf("marshaled beacon length = %d, want %d (spec.md §6: 12 bytes)", len(buf), beaconWireSize)
	}

	out, err := unmarshalBeacon(buf)
	if err != nil {
		t.Fatalf("unmarshalBeacon: %v", err)
	}
	if out.seqno != b.seqno {
		t.Errorf("seqno = %#x, want %#x", out.seqno, b.seqno)
	}
	if out.interval != b.interval {
		t.Errorf("interval = %d, want %d", out.interval, b.interval)
	}
	if out.mac != b.mac {
		t.Errorf("mac = %x, want %x", out.mac, b.mac)
	}
}

func TestUnmarshalBeaconRejectsShortPacket(t *testing.T) {
	if _, err := unmarshalBeacon([]byte{1, 2, 3}); err != ErrShortBeacon {
		t.Errorf("got err=%v, want ErrShortBeacon", err)
	}
}

func TestBeaconPortMatchesSpec(t *testing.T) {
	if BeaconPort != 9697 {
		t.Errorf("BeaconPort = %d, want 9697 (spec.md §6)", BeaconPort)
	}
}
