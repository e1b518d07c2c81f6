package connectivity

import "github.com/haggle-net/haggle/internal/types"

// ethernetState is the per-local-interface beacon state machine of
// spec.md §4.4: `(seqno, beacon_interval, tracked neighbor ifaces)`. The
// tracked-neighbor half lives in the Manager's shared InterfaceStore;
// this struct holds only what is specific to the sending side.
type ethernetState struct {
	local    *types.Interface
	sock     *beaconSocket
	seqno    uint32
	interval uint8 // seconds
}
