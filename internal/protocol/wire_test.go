package protocol

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/haggle-net/haggle/internal/types"
)

func TestWriteReadDataObjectRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payloadPath := filepath.Join(dir, "src.bin")
	want := []byte("hello haggle")
	if err := os.WriteFile(payloadPath, want, 0o600); err != nil {
		t.Fatalf("write source payload: %v", err)
	}

	attrs := types.NewAttributeSet(types.NewAttribute("foo", "bar"))
	d := types.NewDataObjectWithPayload(attrs, true, types.Payload{
		FilePath:  payloadPath,
		HasLength: true,
		Length:    uint64(len(want)),
	})

	var buf bytes.Buffer
	if err := writeDataObject(&buf, d); err != nil {
		t.Fatalf("writeDataObject: %v", err)
	}

	var counter uint64
	got, err := readDataObject(&buf, dir, &counter)
	if err != nil {
		t.Fatalf("readDataObject: %v", err)
	}

	gotBytes, err := os.ReadFile(got.Payload().FilePath)
	if err != nil {
		t.Fatalf("read spilled payload: %v", err)
	}
	if !bytes.Equal(gotBytes, want) {
		t.Errorf("payload = %q, want %q", gotBytes, want)
	}
	if got.Attributes().Len() != attrs.Len() {
		t.Errorf("attribute count = %d, want %d", got.Attributes().Len(), attrs.Len())
	}
}

func TestWriteReadDataObjectNoPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	attrs := types.NewAttributeSet(types.NewAttribute("foo", "bar"))
	d := types.NewDataObject(attrs, false)

	var buf bytes.Buffer
	if err := writeDataObject(&buf, d); err != nil {
		t.Fatalf("writeDataObject: %v", err)
	}

	var counter uint64
	got, err := readDataObject(&buf, dir, &counter)
	if err != nil {
		t.Fatalf("readDataObject: %v", err)
	}
	if got.Payload() != nil {
		t.Errorf("Payload() = %v, want nil", got.Payload())
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff})
	if _, err := readFrame(&buf, maxMetadataSize); err == nil {
		t.Error("readFrame: expected error for frame exceeding limit")
	}
}
