package types

// Filter is a local subscription: an attribute set plus the event tag to
// fire when a matching data object appears (spec.md §3). May include
// wildcard-valued attributes.
type Filter struct {
	ID         uint64
	Attributes AttributeSet
	EventType  uint32
	MatchNow   bool
}

// NewFilter constructs a Filter for the given attribute set and event type.
func NewFilter(id uint64, attrs AttributeSet, eventType uint32, matchNow bool) Filter {
	return Filter{ID: id, Attributes: attrs, EventType: eventType, MatchNow: matchNow}
}

// RepositoryEntry is an opaque per-manager persistent blob
// (spec.md §3, §4.3): (authority, key, value, id).
type RepositoryEntry struct {
	Authority string
	Key       string
	ID        string

	// Exactly one of StringValue/BlobValue is meaningful, selected by
	// IsBlob.
	StringValue string
	BlobValue   []byte
	IsBlob      bool
}

// NewStringRepositoryEntry builds a string-valued repository entry.
func NewStringRepositoryEntry(authority, key, id, value string) RepositoryEntry {
	return RepositoryEntry{Authority: authority, Key: key, ID: id, StringValue: value}
}

// NewBlobRepositoryEntry builds a blob-valued repository entry.
func NewBlobRepositoryEntry(authority, key, id string, value []byte) RepositoryEntry {
	return RepositoryEntry{Authority: authority, Key: key, ID: id, BlobValue: append([]byte(nil), value...), IsBlob: true}
}
