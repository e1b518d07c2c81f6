package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/haggle-net/haggle/internal/metadata"
	"github.com/haggle-net/haggle/internal/types"
)

// maxMetadataSize and maxPayloadSize cap a single wire frame so a
// malformed or hostile peer cannot force an unbounded read (spec.md §6).
const (
	maxMetadataSize = 1 << 20
	maxPayloadSize  = 256 << 20
)

// writeDataObject serializes d as two length-prefixed frames: the
// metadata document, then the payload bytes (empty if d carries none),
// matching the separation of metadata and payload transfer of spec.md §6.
func writeDataObject(w io.Writer, d *types.DataObject) error {
	meta, err := metadata.EncodeDataObjectMetadata(d)
	if err != nil {
		return fmt.Errorf("protocol: encode metadata: %w", err)
	}

	var payloadBytes []byte
	if p := d.Payload(); p != nil && p.FilePath != "" {
		payloadBytes, err = os.ReadFile(p.FilePath)
		if err != nil {
			return fmt.Errorf("protocol: read payload %s: %w", p.FilePath, err)
		}
	}

	if err := writeFrame(w, meta); err != nil {
		return err
	}
	return writeFrame(w, payloadBytes)
}

func writeFrame(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("protocol: write frame length: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, max uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > max {
		return nil, fmt.Errorf("protocol: frame of %d bytes exceeds limit %d", n, max)
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("protocol: read frame body: %w", err)
	}
	return buf, nil
}

// readDataObject reads one wire-framed data object from r. A payload
// frame with bytes in it is spilled to a temp file under spoolDir named
// mem-dObj-<n>.do, the naming spec.md §6 assigns to payloads that
// originate from an in-memory buffer rather than an existing file.
func readDataObject(r io.Reader, spoolDir string, counter *uint64) (*types.DataObject, error) {
	metaBytes, err := readFrame(r, maxMetadataSize)
	if err != nil {
		return nil, err
	}
	payloadBytes, err := readFrame(r, maxPayloadSize)
	if err != nil {
		return nil, fmt.Errorf("protocol: read payload frame: %w", err)
	}

	dm, err := metadata.DecodeDataObjectMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode metadata: %w", err)
	}

	var d *types.DataObject
	if len(payloadBytes) > 0 {
		path, err := spillPayload(spoolDir, counter, payloadBytes)
		if err != nil {
			return nil, err
		}
		p := types.Payload{FilePath: path, HasLength: true, Length: uint64(len(payloadBytes))}
		if dm.Payload != nil {
			p.FileName = dm.Payload.FileName
			if dm.Payload.HasHash {
				p.Hash = dm.Payload.Hash
				p.HasHash = true
			}
		}
		d = types.NewDataObjectWithPayload(dm.Attributes, dm.Persistent, p)
	} else {
		d = types.NewDataObject(dm.Attributes, dm.Persistent)
	}
	if !dm.CreateTime.IsZero() {
		d.SetCreateTime(dm.CreateTime)
	}
	return d, nil
}

// spillPayload writes buf to a new file under dir named mem-dObj-<n>.do,
// atomically incrementing *counter for uniqueness across concurrent
// receive goroutines (spec.md §6).
func spillPayload(dir string, counter *uint64, buf []byte) (string, error) {
	n := atomic.AddUint64(counter, 1)
	path := filepath.Join(dir, fmt.Sprintf("mem-dObj-%d.do", n))
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("protocol: spill payload to %s: %w", path, err)
	}
	return path, nil
}
