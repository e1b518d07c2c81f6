// Package metadata implements the XML-shaped, tree-structured wire format
// shared by node descriptions and data-object metadata (spec.md §6). It is
// the single codec both callers use, rather than duplicating the Haggle/
// Attribute element shapes in two places (DESIGN NOTES §9's "own the
// parsed metadata by value... produce serialized bytes on demand").
package metadata

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haggle-net/haggle/internal/types"
)

// ErrMissingNodeElement indicates a node-description document had no
// mandatory <Node> child.
var ErrMissingNodeElement = errors.New("metadata: missing mandatory Node element")

// ErrInvalidNodeID indicates a <Node id="..."> attribute was not valid
// base64 or was not 20 bytes long.
var ErrInvalidNodeID = errors.New("metadata: invalid node id")

// haggleDoc is the root element shared by node descriptions and
// data-object metadata documents (spec.md §6).
type haggleDoc struct {
	XMLName    xml.Name      `xml:"Haggle"`
	Persistent string        `xml:"persistent,attr,omitempty"`
	CreateTime string        `xml:"create_time,attr,omitempty"`
	Node       *nodeElement  `xml:"Node"`
	Data       *dataElement  `xml:"Data"`
	Attributes []attrElement `xml:"Attribute"`
}

type nodeElement struct {
	Type          string             `xml:"type,attr"`
	ID            string             `xml:"id,attr"`
	Name          string             `xml:"name,attr"`
	Threshold     string             `xml:"matching_threshold,attr,omitempty"`
	MaxDataObjs   string             `xml:"max_dataobjects,attr,omitempty"`
	Interfaces    []interfaceElement `xml:"Interface"`
	Attributes    []attrElement      `xml:"Attribute"`
	Bloomfilter   *bloomfilterElement `xml:"Bloomfilter"`
}

type interfaceElement struct {
	Type       string `xml:"type,attr"`
	Identifier string `xml:",chardata"`
}

type attrElement struct {
	Name   string `xml:"name,attr"`
	Weight string `xml:"weight,attr,omitempty"`
	Value  string `xml:",chardata"`
}

type bloomfilterElement struct {
	Data string `xml:",chardata"`
}

type dataElement struct {
	DataLen   string `xml:"data_len,attr,omitempty"`
	Filename  string `xml:"Filename,omitempty"`
	FileHash  string `xml:"FileHash,omitempty"`
	FilePath  string `xml:"FilePath,omitempty"`
	Thumbnail string `xml:"Thumbnail,omitempty"`
}

func encodeAttributes(set types.AttributeSet) []attrElement {
	attrs := set.All()
	out := make([]attrElement, 0, len(attrs))
	for _, a := range attrs {
		el := attrElement{Name: a.Name(), Value: a.Value()}
		if a.Weight() != types.DefaultWeight {
			el.Weight = strconv.FormatUint(uint64(a.Weight()), 10)
		}
		out = append(out, el)
	}
	return out
}

func decodeAttributes(els []attrElement) types.AttributeSet {
	attrs := make([]types.Attribute, 0, len(els))
	for _, el := range els {
		weight := types.DefaultWeight
		if el.Weight != "" {
			if w, err := strconv.ParseUint(el.Weight, 10, 32); err == nil {
				weight = uint32(w)
			}
		}
		attrs = append(attrs, types.NewWeightedAttribute(el.Name, el.Value, weight))
	}
	return types.NewAttributeSet(attrs...)
}

func interfaceKindName(k types.InterfaceKind) string {
	return k.String()
}

func parseInterfaceKind(s string) types.InterfaceKind {
	switch s {
	case "ethernet":
		return types.InterfaceEthernet
	case "wifi":
		return types.InterfaceWiFi
	case "bluetooth":
		return types.InterfaceBluetooth
	case "media":
		return types.InterfaceMedia
	case "application_port":
		return types.InterfaceApplicationPort
	case "application_local":
		return types.InterfaceApplicationLocal
	default:
		return types.InterfaceUndefined
	}
}

func nodeKindName(k types.NodeKind) string {
	return k.String()
}

func parseNodeKind(s string) types.NodeKind {
	switch s {
	case "this_node":
		return types.NodeThisNode
	case "peer":
		return types.NodePeer
	case "application":
		return types.NodeApplication
	case "gateway":
		return types.NodeGateway
	default:
		return types.NodeUndefined
	}
}

// EncodeNodeDescription serializes a node and its interfaces into the
// wire format of spec.md §6: root Haggle, mandatory Node child with
// type/id/name/matching_threshold/max_dataobjects, Interface children,
// Attribute children (the node's interest set) and a Bloomfilter child.
func EncodeNodeDescription(n *types.Node, ifaces []*types.Interface) ([]byte, error) {
	id := n.ID()
	ne := &nodeElement{
		Type:        nodeKindName(n.Kind()),
		ID:          base64.StdEncoding.EncodeToString(id[:]),
		Name:        n.Name(),
		Threshold:   strconv.FormatUint(uint64(n.MatchingThreshold()), 10),
		MaxDataObjs: strconv.FormatUint(uint64(n.MaxDataObjectsPerMatch()), 10),
		Attributes:  encodeAttributes(n.Interest()),
	}
	for _, iface := range ifaces {
		ne.Interfaces = append(ne.Interfaces, interfaceElement{
			Type:       interfaceKindName(iface.Kind()),
			Identifier: fmt.Sprintf("%x", iface.Identifier()),
		})
	}
	if bf := n.Bloomfilter(); bf != nil {
		nc := bf
		if bf.IsCounting() {
			nc = bf.ToNonCounting()
		}
		ne.Bloomfilter = &bloomfilterElement{Data: base64.StdEncoding.EncodeToString(nc.Marshal())}
	}
	doc := haggleDoc{Node: ne}
	return marshalDoc(doc)
}

// DecodedNodeDescription is the result of parsing a node-description
// document: the reconstructed node plus its advertised interfaces, kept
// separate since Node itself does not own its interface list's wire
// representation (interfaces live in the InterfaceStore, spec.md §4.2).
type DecodedNodeDescription struct {
	Node       *types.Node
	Interfaces []*types.Interface
}

// DecodeNodeDescription parses a node-description document produced by
// EncodeNodeDescription. The round-trip must preserve id, interest
// attributes (order-insensitive), interface list (set equality) and
// matching parameters (spec.md §8, testable property 3).
func DecodeNodeDescription(data []byte) (*DecodedNodeDescription, error) {
	var doc haggleDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metadata: decode node description: %w", err)
	}
	if doc.Node == nil {
		return nil, ErrMissingNodeElement
	}
	ne := doc.Node

	raw, err := base64.StdEncoding.DecodeString(ne.ID)
	if err != nil || len(raw) != 20 {
		return nil, ErrInvalidNodeID
	}
	var id [20]byte
	copy(id[:], raw)

	n := types.NewNode(id, parseNodeKind(ne.Type), ne.Name)
	n.SetInterest(decodeAttributes(ne.Attributes))
	if ne.Threshold != "" {
		if v, err := strconv.ParseUint(ne.Threshold, 10, 32); err == nil {
			n.SetMatchingThreshold(uint32(v))
		}
	}
	if ne.MaxDataObjs != "" {
		if v, err := strconv.ParseUint(ne.MaxDataObjs, 10, 32); err == nil {
			n.SetMaxDataObjectsPerMatch(uint32(v))
		}
	}
	if ne.Bloomfilter != nil && ne.Bloomfilter.Data != "" {
		raw, err := base64.StdEncoding.DecodeString(ne.Bloomfilter.Data)
		if err == nil {
			if bf, err := types.UnmarshalBloomfilter(raw); err == nil {
				n.SetBloomfilter(bf)
			}
		}
	}

	ifaces := make([]*types.Interface, 0, len(ne.Interfaces))
	for _, ie := range ne.Interfaces {
		idBytes := decodeHexIdentifier(ie.Identifier)
		ifaces = append(ifaces, types.NewInterface(parseInterfaceKind(ie.Type), idBytes, ""))
	}

	return &DecodedNodeDescription{Node: n, Interfaces: ifaces}, nil
}

func decodeHexIdentifier(s string) []byte {
	b := make([]byte, len(s)/2)
	_, err := fmt.Sscanf(s, "%x", &b)
	if err != nil {
		return []byte(s)
	}
	return b
}

// DataObjectMetadata is the parsed form of a data-object metadata document
// (spec.md §6): top-level persistent/create_time, optional Data (payload)
// descriptor, and attributes.
type DataObjectMetadata struct {
	Persistent bool
	CreateTime time.Time
	Attributes types.AttributeSet
	Payload    *types.Payload
}

// EncodeDataObjectMetadata serializes a data object's metadata (not its
// payload bytes) into the wire format of spec.md §6.
func EncodeDataObjectMetadata(d *types.DataObject) ([]byte, error) {
	doc := haggleDoc{
		CreateTime: formatCreateTime(d.CreateTime()),
		Attributes: encodeAttributes(d.Attributes()),
	}
	if d.Persistent() {
		doc.Persistent = "yes"
	} else {
		doc.Persistent = "no"
	}
	if p := d.Payload(); p != nil {
		de := &dataElement{Filename: p.FileName, FilePath: p.FilePath}
		if p.HasLength {
			de.DataLen = strconv.FormatUint(p.Length, 10)
		}
		if p.HasHash {
			de.FileHash = base64.StdEncoding.EncodeToString(p.Hash[:])
		}
		doc.Data = de
	}
	return marshalDoc(doc)
}

// DecodeDataObjectMetadata parses a data-object metadata document.
func DecodeDataObjectMetadata(data []byte) (*DataObjectMetadata, error) {
	var doc haggleDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("metadata: decode data object: %w", err)
	}
	out := &DataObjectMetadata{
		Persistent: doc.Persistent != "no",
		Attributes: decodeAttributes(doc.Attributes),
		CreateTime: parseCreateTime(doc.CreateTime),
	}
	if doc.Data != nil {
		p := &types.Payload{FileName: doc.Data.Filename, FilePath: doc.Data.FilePath}
		if doc.Data.DataLen != "" {
			if v, err := strconv.ParseUint(doc.Data.DataLen, 10, 64); err == nil {
				p.Length = v
				p.HasLength = true
			}
		}
		if doc.Data.FileHash != "" {
			raw, err := base64.StdEncoding.DecodeString(doc.Data.FileHash)
			if err == nil && len(raw) == 20 {
				copy(p.Hash[:], raw)
				p.HasHash = true
			}
		}
		out.Payload = p
	}
	return out, nil
}

// formatCreateTime renders t as "sec.usec" per spec.md §6.
func formatCreateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// parseCreateTime parses the "sec.usec" format of spec.md §6.
func parseCreateTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	parts := strings.SplitN(s, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	var usec int64
	if len(parts) == 2 {
		usec, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return time.Unix(sec, usec*1000)
}

func marshalDoc(doc haggleDoc) ([]byte, error) {
	out, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("metadata: marshal: %w", err)
	}
	return out, nil
}
