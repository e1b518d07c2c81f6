package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is
// not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatAttributes renders an attribute set in the requested format.
func formatAttributes(attrs types.AttributeSet, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatAttributesJSON(attrs)
	case formatTable:
		return formatAttributesTable(attrs), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatDataObjects renders a slice of data-object metadata in the
// requested format.
func formatDataObjects(objs []*metadata.DataObjectMetadata, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatDataObjectsJSON(objs)
	case formatTable:
		return formatDataObjectsTable(objs), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatAttributesTable(attrs types.AttributeSet) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVALUE\tWEIGHT")
	for _, a := range attrs.All() {
		fmt.Fprintf(w, "%s\t%s\t%d\n", a.Name(), a.Value(), a.Weight())
	}
	_ = w.Flush()
	return buf.String()
}

type attrJSON struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Weight uint32 `json:"weight"`
}

func formatAttributesJSON(attrs types.AttributeSet) (string, error) {
	out := make([]attrJSON, 0, attrs.Len())
	for _, a := range attrs.All() {
		out = append(out, attrJSON{Name: a.Name(), Value: a.Value(), Weight: a.Weight()})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(b), nil
}

func formatDataObjectsTable(objs []*metadata.DataObjectMetadata) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERSISTENT\tCREATE-TIME\tATTRIBUTES")
	for _, o := range objs {
		fmt.Fprintf(w, "%t\t%s\t%s\n", o.Persistent, o.CreateTime.Format("2006-01-02T15:04:05"), summarizeAttrs(o.Attributes))
	}
	_ = w.Flush()
	return buf.String()
}

func summarizeAttrs(attrs types.AttributeSet) string {
	parts := make([]string, 0, attrs.Len())
	for _, a := range attrs.All() {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Name(), a.Value()))
	}
	return strings.Join(parts, ",")
}

type dataObjectJSON struct {
	Persistent bool       `json:"persistent"`
	CreateTime string     `json:"create_time"`
	Attributes []attrJSON `json:"attributes"`
}

func formatDataObjectsJSON(objs []*metadata.DataObjectMetadata) (string, error) {
	out := make([]dataObjectJSON, 0, len(objs))
	for _, o := range objs {
		attrs := make([]attrJSON, 0, o.Attributes.Len())
		for _, a := range o.Attributes.All() {
			attrs = append(attrs, attrJSON{Name: a.Name(), Value: a.Value(), Weight: a.Weight()})
		}
		out = append(out, dataObjectJSON{Persistent: o.Persistent, CreateTime: o.CreateTime.Format("2006-01-02T15:04:05"), Attributes: attrs})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal data objects: %w", err)
	}
	return string(b), nil
}
