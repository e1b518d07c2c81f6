package connectivity

import (
	"encoding/hex"
	"strings"
	"sync"

	"github.com/haggle-net/haggle/internal/types"
)

// blacklistAttrName is the attribute the administrator sets to `*` to
// mark a data object as a connectivity control object carrying blacklist
// entries (spec.md §4.4: "attribute Connectivity=* containing <Blacklist
// type=... action=add|remove>MAC</Blacklist> entries").
const blacklistAttrName = "Connectivity"
const blacklistAttrWildcard = types.WildcardValue

// blacklistEntryAttrName is the per-entry attribute name. Each entry is
// carried as one Attribute named "Blacklist" whose value packs
// "<action>:<kind>:<hex-identifier>" — the in-process counterpart of the
// §6 `<Blacklist type=... action=...>MAC</Blacklist>` wire element,
// expressed through the same AttributeSet administrator control objects
// already use elsewhere in this IPC surface (spec.md §4.6).
const blacklistEntryAttrName = "Blacklist"

// Blacklist rejects link-layer identifiers by (kind, raw identifier),
// administered via a data object carrying Connectivity=* (spec.md §4.4).
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]bool // "kind:hexidentifier"
}

// NewBlacklist constructs an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]bool)}
}

func blacklistKey(kind types.InterfaceKind, identifier []byte) string {
	return kind.String() + ":" + hex.EncodeToString(identifier)
}

// Add blocks the given identifier.
func (b *Blacklist) Add(kind types.InterfaceKind, identifier []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[blacklistKey(kind, identifier)] = true
}

// Remove un-blocks the given identifier.
func (b *Blacklist) Remove(kind types.InterfaceKind, identifier []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, blacklistKey(kind, identifier))
}

// Rejects reports whether the given identifier is currently blacklisted.
func (b *Blacklist) Rejects(kind types.InterfaceKind, identifier []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.entries[blacklistKey(kind, identifier)]
}

// ApplyControlObject scans d for a Connectivity=* attribute and applies
// every Blacklist entry attribute it carries (spec.md §4.4). Reports the
// number of entries applied.
func (b *Blacklist) ApplyControlObject(d *types.DataObject) int {
	isControl := false
	for _, a := range d.Attributes().ByName(blacklistAttrName) {
		if a.Value() == blacklistAttrWildcard {
			isControl = true
			break
		}
	}
	if !isControl {
		return 0
	}

	applied := 0
	for _, a := range d.Attributes().ByName(blacklistEntryAttrName) {
		if b.applyEntry(a.Value()) {
			applied++
		}
	}
	return applied
}

// applyEntry parses and applies one "<action>:<kind>:<hex>" entry.
func (b *Blacklist) applyEntry(raw string) bool {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return false
	}
	action, kindName, hexID := parts[0], parts[1], parts[2]

	identifier, err := hex.DecodeString(hexID)
	if err != nil {
		return false
	}
	kind := parseInterfaceKindName(kindName)

	switch action {
	case "add":
		b.Add(kind, identifier)
	case "remove":
		b.Remove(kind, identifier)
	default:
		return false
	}
	return true
}

func parseInterfaceKindName(s string) types.InterfaceKind {
	switch s {
	case "ethernet":
		return types.InterfaceEthernet
	case "wifi":
		return types.InterfaceWiFi
	case "bluetooth":
		return types.InterfaceBluetooth
	default:
		return types.InterfaceUndefined
	}
}
