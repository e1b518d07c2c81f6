// Package ipc implements the application-facing control endpoint of
// spec.md §4.6: a process-wide datagram socket carrying control data
// objects between client libraries and the core, a client session
// registry, and the interest->filter bridge that turns a registered
// interest set into asynchronous match delivery.
package ipc

import (
	"encoding/base64"
	"fmt"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

// Control vocabulary (spec.md §4.6): the value of the Control attribute
// on a datagram-carried control object.
const (
	controlRegistrationRequest          = "registration_request"
	controlRegistrationReply            = "registration_reply"
	controlRegistrationReplyRegistered  = "registration_reply_registered"
	controlDeregistrationNotice         = "deregistration_notice"
	controlAddInterest                  = "add_interest"
	controlRemoveInterest               = "remove_interest"
	controlGetInterests                 = "get_interests"
	controlGetDataObjects               = "get_dataobjects"
	controlRegisterEventInterest        = "register_event_interest"
	controlDeleteDataObject             = "delete_dataobject"
	controlShutdown                     = "shutdown"
	controlEventNotice                  = "event_notice"
)

// Attribute names carried alongside Control (spec.md §4.6).
const (
	controlAttrName     = "Control"
	nameAttrName        = "Name"
	sessionIDAttrName   = "SessionId"
	storagePathAttrName = "StoragePath"
	eventAttrName       = "Event"
	dataObjectIDAttr    = "DataObjectId"
)

// controlValue returns the first Control attribute's value, or "" if d
// carries none.
func controlValue(d *types.DataObject) string {
	return firstAttr(d, controlAttrName)
}

func firstAttr(d *types.DataObject, name string) string {
	for _, a := range d.Attributes().ByName(name) {
		return a.Value()
	}
	return ""
}

// newControlObject builds a non-persistent control data object carrying
// Control=control plus extra, matching the attribute-carried vocabulary
// of spec.md §4.6.
func newControlObject(control string, extra ...types.Attribute) *types.DataObject {
	attrs := append([]types.Attribute{types.NewAttribute(controlAttrName, control)}, extra...)
	return types.NewDataObject(types.NewAttributeSet(attrs...), false)
}

// encodeControlObject serializes d's metadata for datagram transport
// (spec.md §4.6: "payload is the same metadata format, transported by
// datagram"). Control traffic never carries payload bytes of its own.
func encodeControlObject(d *types.DataObject) ([]byte, error) {
	b, err := metadata.EncodeDataObjectMetadata(d)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode control object: %w", err)
	}
	return b, nil
}

// decodeControlObject parses a received datagram into a control data
// object (attributes only; no payload frame on this transport).
func decodeControlObject(buf []byte) (*types.DataObject, error) {
	dm, err := metadata.DecodeDataObjectMetadata(buf)
	if err != nil {
		return nil, fmt.Errorf("ipc: decode control object: %w", err)
	}
	return types.NewDataObject(dm.Attributes, dm.Persistent), nil
}

// encodeDataObjectID renders a 20-byte data object id as the base64 text
// the DataObjectId attribute carries (spec.md §4.6).
func encodeDataObjectID(id [20]byte) string {
	return base64.StdEncoding.EncodeToString(id[:])
}

// decodeDataObjectID parses the DataObjectId attribute's base64 text.
func decodeDataObjectID(s string) ([20]byte, error) {
	var id [20]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("ipc: invalid data object id %q", s)
	}
	copy(id[:], raw)
	return id, nil
}
