// Package commands implements the haggle-ctl CLI commands: a thin client
// over the application control endpoint of spec.md §4.6, speaking the
// same attribute-carried Control vocabulary any application library
// would use to register, subscribe and publish against a running
// haggled.
package commands

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

// Control vocabulary attribute/value names (spec.md §4.6). Duplicated
// here rather than imported from internal/ipc: that package's constants
// are unexported, and any real application library talks to haggled
// only through this wire vocabulary, never through Go symbols shared
// with the daemon.
const (
	attrControl     = "Control"
	attrName        = "Name"
	attrSessionID   = "SessionId"
	attrStoragePath = "StoragePath"
	attrEvent       = "Event"
	attrDataObjID   = "DataObjectId"

	controlRegistrationRequest         = "registration_request"
	controlRegistrationReply           = "registration_reply"
	controlRegistrationReplyRegistered = "registration_reply_registered"
	controlDeregistrationNotice        = "deregistration_notice"
	controlAddInterest                 = "add_interest"
	controlRemoveInterest              = "remove_interest"
	controlGetInterests                = "get_interests"
	controlGetDataObjects              = "get_dataobjects"
	controlRegisterEventInterest       = "register_event_interest"
	controlDeleteDataObject            = "delete_dataobject"
	controlShutdown                    = "shutdown"
	controlEventNotice                 = "event_notice"
)

var errNoReply = errors.New("haggle-ctl: no reply from daemon before timeout")

// Client is a minimal application-library stand-in over the control
// socket: one UDP or unix-domain datagram connection, used to issue
// Control requests and read replies/event notices (spec.md §4.6).
type Client struct {
	conn    net.Conn
	timeout time.Duration
}

// Dial opens the control connection per cfg's transport/addr, matching
// openControlSocket's transport choice in internal/ipc/socket.go.
func Dial(transport, addr string, timeout time.Duration) (*Client, error) {
	network := "udp"
	if transport == "unix" {
		network = "unixgram"
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("haggle-ctl: dial %s %s: %w", network, addr, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// send encodes a non-persistent control object carrying Control=control
// plus extra attributes and writes it as a single datagram (spec.md
// §4.6: "payload is the same metadata format, transported by datagram").
func (c *Client) send(control string, extra ...types.Attribute) error {
	attrs := append([]types.Attribute{types.NewAttribute(attrControl, control)}, extra...)
	d := types.NewDataObject(types.NewAttributeSet(attrs...), false)
	buf, err := metadata.EncodeDataObjectMetadata(d)
	if err != nil {
		return fmt.Errorf("haggle-ctl: encode control object: %w", err)
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("haggle-ctl: write control datagram: %w", err)
	}
	return nil
}

// recv reads one reply datagram, bounded by c.timeout.
func (c *Client) recv() (*metadata.DataObjectMetadata, error) {
	if c.timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	buf := make([]byte, 64<<10)
	n, err := c.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, errNoReply
		}
		return nil, fmt.Errorf("haggle-ctl: read control datagram: %w", err)
	}
	dm, err := metadata.DecodeDataObjectMetadata(buf[:n])
	if err != nil {
		return nil, fmt.Errorf("haggle-ctl: decode control datagram: %w", err)
	}
	return dm, nil
}

// roundTrip sends a request and returns the first reply received.
func (c *Client) roundTrip(control string, extra ...types.Attribute) (*metadata.DataObjectMetadata, error) {
	if err := c.send(control, extra...); err != nil {
		return nil, err
	}
	return c.recv()
}

// Session describes the handshake state returned by Register.
type Session struct {
	ID          uint64
	StoragePath string
}

// Register sends a registration_request and returns the daemon-assigned
// session id and storage path (spec.md §4.6).
func (c *Client) Register(name string) (*Session, error) {
	dm, err := c.roundTrip(controlRegistrationRequest, types.NewAttribute(attrName, name))
	if err != nil {
		return nil, err
	}
	control := firstAttrValue(dm.Attributes, attrControl)
	if control != controlRegistrationReply && control != controlRegistrationReplyRegistered {
		return nil, fmt.Errorf("haggle-ctl: unexpected reply to registration_request: %q", control)
	}
	sess := &Session{StoragePath: firstAttrValue(dm.Attributes, attrStoragePath)}
	if raw := firstAttrValue(dm.Attributes, attrSessionID); raw != "" {
		sess.ID, _ = strconv.ParseUint(raw, 10, 64)
	}
	return sess, nil
}

// Deregister tells the daemon this client is going away.
func (c *Client) Deregister() error {
	return c.send(controlDeregistrationNotice)
}

// AddInterest registers interest attributes as a subscription filter.
func (c *Client) AddInterest(attrs types.AttributeSet) error {
	return c.send(controlAddInterest, attrs.All()...)
}

// RemoveInterest clears this client's subscription filter.
func (c *Client) RemoveInterest() error {
	return c.send(controlRemoveInterest)
}

// GetInterests fetches this client's current subscription attribute set.
func (c *Client) GetInterests() (types.AttributeSet, error) {
	dm, err := c.roundTrip(controlGetInterests)
	if err != nil {
		return types.AttributeSet{}, err
	}
	return dm.Attributes, nil
}

// GetDataObjects runs an ad-hoc filter query against the store and
// returns every matching data object's metadata (spec.md §4.3
// filter_query, §4.6 get_dataobjects). The daemon streams one datagram
// per match with no explicit terminator, so collection stops once no
// reply arrives within the client's timeout.
func (c *Client) GetDataObjects(query types.AttributeSet) ([]*metadata.DataObjectMetadata, error) {
	if err := c.send(controlGetDataObjects, query.All()...); err != nil {
		return nil, err
	}
	var out []*metadata.DataObjectMetadata
	for {
		dm, err := c.recv()
		if errors.Is(err, errNoReply) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, dm)
	}
}

// RegisterEventInterest asks the daemon to forward events of type eventID
// to this session as event_notice datagrams (spec.md §4.6).
func (c *Client) RegisterEventInterest(eventID uint32) error {
	return c.send(controlRegisterEventInterest, types.NewAttribute(attrEvent, strconv.FormatUint(uint64(eventID), 10)))
}

// EventNotice is one decoded event_notice datagram.
type EventNotice struct {
	EventType    uint32
	DataObjectID string
}

// NextEvent blocks (up to c.timeout, or indefinitely if timeout is 0)
// for the next event_notice datagram.
func (c *Client) NextEvent() (*EventNotice, error) {
	dm, err := c.recv()
	if err != nil {
		return nil, err
	}
	if firstAttrValue(dm.Attributes, attrControl) != controlEventNotice {
		return nil, fmt.Errorf("haggle-ctl: unexpected datagram while waiting for event_notice")
	}
	n := &EventNotice{DataObjectID: firstAttrValue(dm.Attributes, attrDataObjID)}
	if raw := firstAttrValue(dm.Attributes, attrEvent); raw != "" {
		v, _ := strconv.ParseUint(raw, 10, 32)
		n.EventType = uint32(v)
	}
	return n, nil
}

// DeleteDataObject asks the daemon to remove a stored object by its
// base64-encoded 20-byte id.
func (c *Client) DeleteDataObject(base64ID string) error {
	return c.send(controlDeleteDataObject, types.NewAttribute(attrDataObjID, base64ID))
}

// Shutdown asks the daemon to begin a graceful shutdown.
func (c *Client) Shutdown() error {
	return c.send(controlShutdown)
}

func firstAttrValue(attrs types.AttributeSet, name string) string {
	for _, a := range attrs.ByName(name) {
		return a.Value()
	}
	return ""
}
