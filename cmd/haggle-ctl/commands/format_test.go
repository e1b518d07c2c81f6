package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

func TestParseAttrFlags(t *testing.T) {
	attrs, err := parseAttrFlags([]string{"type=photo", "location=kitchen:10"})
	if err != nil {
		t.Fatalf("parseAttrFlags: %v", err)
	}
	if attrs.Len() != 2 {
		t.Fatalf("expected 2 attributes, got %d", attrs.Len())
	}
	loc := attrs.ByName("location")
	if len(loc) != 1 || loc[0].Weight() != 10 {
		t.Fatalf("expected location weight 10, got %+v", loc)
	}
	typ := attrs.ByName("type")
	if len(typ) != 1 || typ[0].Value() != "photo" {
		t.Fatalf("expected type=photo, got %+v", typ)
	}
}

func TestParseAttrFlagsInvalid(t *testing.T) {
	if _, err := parseAttrFlags([]string{"noequalsign"}); err == nil {
		t.Fatal("expected error for missing '='")
	}
	if _, err := parseAttrFlags([]string{"name=value:notanumber"}); err == nil {
		t.Fatal("expected error for non-numeric weight")
	}
}

func TestFormatAttributesTable(t *testing.T) {
	attrs := types.NewAttributeSet(types.NewWeightedAttribute("type", "photo", 5))
	out, err := formatAttributes(attrs, formatTable)
	if err != nil {
		t.Fatalf("formatAttributes: %v", err)
	}
	if !strings.Contains(out, "type") || !strings.Contains(out, "photo") {
		t.Fatalf("expected table to mention attribute, got %q", out)
	}
}

func TestFormatAttributesJSON(t *testing.T) {
	attrs := types.NewAttributeSet(types.NewAttribute("type", "photo"))
	out, err := formatAttributes(attrs, formatJSON)
	if err != nil {
		t.Fatalf("formatAttributes: %v", err)
	}
	if !strings.Contains(out, `"name": "type"`) {
		t.Fatalf("expected JSON output to include name field, got %q", out)
	}
}

func TestFormatUnsupported(t *testing.T) {
	_, err := formatAttributes(types.AttributeSet{}, "xml")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFormatDataObjectsTable(t *testing.T) {
	objs := []*metadata.DataObjectMetadata{
		{
			Persistent: true,
			CreateTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			Attributes: types.NewAttributeSet(types.NewAttribute("type", "photo")),
		},
	}
	out, err := formatDataObjects(objs, formatTable)
	if err != nil {
		t.Fatalf("formatDataObjects: %v", err)
	}
	if !strings.Contains(out, "type=photo") {
		t.Fatalf("expected table to summarize attributes, got %q", out)
	}
}
