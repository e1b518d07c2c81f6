package types

import (
	"crypto/sha1" //nolint:gosec // content identity hash, not a security boundary.
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

// SignatureStatus reports the verification state of a data object's
// signature (spec.md §3). The core never verifies signatures itself
// (spec.md §1 Non-goals); this status is carried for upper layers.
type SignatureStatus uint8

// Signature status values.
const (
	SignatureMissing SignatureStatus = iota
	SignatureUnverified
	SignatureValid
	SignatureInvalid
)

// String returns the status' human-readable name.
func (s SignatureStatus) String() string {
	switch s {
	case SignatureUnverified:
		return "unverified"
	case SignatureValid:
		return "valid"
	case SignatureInvalid:
		return "invalid"
	default:
		return "missing"
	}
}

// ErrNoPayload is returned by accessors that require payload metadata the
// object does not carry.
var ErrNoPayload = errors.New("data object has no payload")

// Payload describes the optional file/byte payload attached to a
// DataObject (spec.md §3).
type Payload struct {
	// FilePath is the local path to the payload bytes, if known.
	FilePath string
	// FileName is the payload's logical file name, used in the ID hash
	// fallback path when no content hash is known yet.
	FileName string
	// Length is the payload size in bytes.
	Length uint64
	// HasLength reports whether Length is meaningful.
	HasLength bool
	// Hash is the SHA-1 of the payload bytes, once computed.
	Hash [20]byte
	// HasHash reports whether Hash is meaningful.
	HasHash bool
}

// DataObject is an immutable-ish, content-addressed record of attributes
// plus an optional payload (spec.md §3). Mutation after construction is
// limited to the stored/duplicate flags and receive metadata, guarded by
// a single mutex so stores never need to lock the value while holding
// their own lock (spec.md §5).
type DataObject struct {
	mu sync.RWMutex

	id         [20]byte
	hasID      bool
	attributes AttributeSet
	payload    *Payload

	createTime  time.Time
	receiveTime time.Time

	sigStatus SignatureStatus
	signee    string
	sigBytes  []byte

	persistent   bool
	isNodeDesc   bool
	stored       bool
	duplicate    bool
	refs         int32
}

// NewDataObject constructs a DataObject from raw metadata (the incoming
// path of spec.md §3's lifecycle: "constructed either from raw metadata").
func NewDataObject(attrs AttributeSet, persistent bool) *DataObject {
	return &DataObject{
		attributes: attrs,
		persistent: persistent,
		createTime: time.Now(),
		sigStatus:  SignatureMissing,
	}
}

// NewDataObjectWithPayload constructs a DataObject carrying a payload
// (the local-publish-from-file path of spec.md §3's lifecycle).
func NewDataObjectWithPayload(attrs AttributeSet, persistent bool, p Payload) *DataObject {
	d := NewDataObject(attrs, persistent)
	d.payload = &p
	return d
}

// Attributes returns the object's attribute set.
func (d *DataObject) Attributes() AttributeSet {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attributes
}

// Payload returns the object's payload metadata, or nil if none.
func (d *DataObject) Payload() *Payload {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.payload == nil {
		return nil
	}
	cp := *d.payload
	return &cp
}

// CreateTime returns the creator's wall-clock creation time.
func (d *DataObject) CreateTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.createTime
}

// SetCreateTime overrides the creation time (used when parsing incoming
// metadata that carries an explicit create_time, spec.md §6).
func (d *DataObject) SetCreateTime(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.createTime = t
	d.hasID = false
}

// ReceiveTime returns the local wall-clock time the object was received,
// zero if not yet set.
func (d *DataObject) ReceiveTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.receiveTime
}

// MarkReceived attaches local receive metadata (spec.md §3 lifecycle).
func (d *DataObject) MarkReceived(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receiveTime = t
}

// Persistent reports whether the object survives past immediate filter
// evaluation (spec.md §3, §4.3).
func (d *DataObject) Persistent() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.persistent
}

// IsNodeDescription reports whether this object's payload is a serialized
// Node snapshot (the GLOSSARY's "node description").
func (d *DataObject) IsNodeDescription() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isNodeDesc
}

// MarkNodeDescription flags this object as carrying a node description.
func (d *DataObject) MarkNodeDescription() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.isNodeDesc = true
}

// Stored reports whether the store has taken ownership of this object's
// payload file (spec.md §3: "if not marked stored, the associated payload
// file is deleted").
func (d *DataObject) Stored() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stored
}

// MarkStored sets the stored flag.
func (d *DataObject) MarkStored() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stored = true
}

// Duplicate reports whether this (ephemeral, incoming) copy was found to
// already exist in the store by ID.
func (d *DataObject) Duplicate() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.duplicate
}

// MarkDuplicate sets the duplicate flag and, per spec.md §4.3, also marks
// the object stored so its (shared) payload file is not unlinked.
func (d *DataObject) MarkDuplicate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duplicate = true
	d.stored = true
}

// SignatureStatus returns the object's signature verification state.
func (d *DataObject) SignatureStatus() SignatureStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sigStatus
}

// SetSignature records signature metadata without verifying it (the core
// never verifies signatures, spec.md §1).
func (d *DataObject) SetSignature(status SignatureStatus, signee string, sig []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sigStatus = status
	d.signee = signee
	d.sigBytes = append([]byte(nil), sig...)
}

// Retain increments the reference count.
func (d *DataObject) Retain() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs++
	return d.refs
}

// Release decrements the reference count.
func (d *DataObject) Release() int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	return d.refs
}

// ID computes (and caches) the object's content-addressed identity per
// the exact rule of spec.md §3:
//
//	SHA1( for each attribute in sorted order: name || value || weight-BE-u32;
//	      then payload hash (20 bytes) if known;
//	      else file-name || length-as-platform-size_t if known )
//
// create_time is reserved for future inclusion and is NOT mixed in,
// matching legacy behavior (spec.md §9 Open Questions, decision #1).
func (d *DataObject) ID() [20]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasID {
		return d.id
	}
	d.id = computeID(d.attributes, d.payload)
	d.hasID = true
	return d.id
}

func computeID(attrs AttributeSet, payload *Payload) [20]byte {
	h := sha1.New() //nolint:gosec // content identity hash, not a security boundary.
	var weightBuf [4]byte
	for _, a := range attrs.All() {
		h.Write([]byte(a.Name()))
		h.Write([]byte(a.Value()))
		binary.BigEndian.PutUint32(weightBuf[:], a.Weight())
		h.Write(weightBuf[:])
	}
	switch {
	case payload != nil && payload.HasHash:
		h.Write(payload.Hash[:])
	case payload != nil && payload.FileName != "":
		h.Write([]byte(payload.FileName))
		var lenBuf [8]byte // native size_t modeled as 8 bytes (64-bit platforms).
		binary.LittleEndian.PutUint64(lenBuf[:], payload.Length)
		h.Write(lenBuf[:])
	}
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
