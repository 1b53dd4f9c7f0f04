package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the algorithm used by the Compressed adapter.
type Compression uint8

const (
	// Zstd compresses with klauspost's zstd at default level.
	Zstd Compression = 1
	// LZ4 compresses with the lz4 frame format; faster, lighter ratio.
	LZ4 Compression = 2
)

// compressed frame layout:
//
//	magic "DGOC" | version byte | method byte | crc32(plaintext) BE | payload
//
// The CRC covers the plaintext, so corruption of either the frame or the
// stored image is detected on load. CRC32 detects accidental corruption
// only; use Crypted for tamper resistance.
var compressedMagic = []byte("DGOC")

const compressedVersion = 1

var crcTable = crc32.MakeTable(crc32.IEEE)

// Compressed decorates an inner adapter with transparent compression of the
// database image.
type Compressed struct {
	inner  Adapter
	method Compression
}

// NewCompressed wraps inner. method selects the algorithm for new saves;
// loads honor whatever method the frame header names.
func NewCompressed(inner Adapter, method Compression) *Compressed {
	return &Compressed{inner: inner, method: method}
}

// Save compresses and frames the image, then delegates to the inner adapter.
func (c *Compressed) Save(ctx context.Context, name string, data []byte) error {
	packed, err := compress(data, c.method)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(compressedMagic)+6+len(packed))
	frame = append(frame, compressedMagic...)
	frame = append(frame, compressedVersion, byte(c.method))
	frame = binary.BigEndian.AppendUint32(frame, crc32.Checksum(data, crcTable))
	frame = append(frame, packed...)

	return c.inner.Save(ctx, name, frame)
}

// Load reads the frame from the inner adapter, decompresses and verifies the
// plaintext checksum.
func (c *Compressed) Load(ctx context.Context, name string) ([]byte, error) {
	frame, err := c.inner.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	headerLen := len(compressedMagic) + 6
	if len(frame) < headerLen || !bytes.Equal(frame[:len(compressedMagic)], compressedMagic) {
		return nil, fmt.Errorf("compressed adapter: %s: not a compressed database image", name)
	}
	if v := frame[len(compressedMagic)]; v != compressedVersion {
		return nil, fmt.Errorf("compressed adapter: %s: unsupported frame version %d", name, v)
	}
	method := Compression(frame[len(compressedMagic)+1])
	wantCRC := binary.BigEndian.Uint32(frame[len(compressedMagic)+2 : headerLen])

	data, err := decompress(frame[headerLen:], method)
	if err != nil {
		return nil, fmt.Errorf("compressed adapter: %s: %w", name, err)
	}
	if got := crc32.Checksum(data, crcTable); got != wantCRC {
		return nil, fmt.Errorf("compressed adapter: %s: checksum mismatch (stored %08x, computed %08x)", name, wantCRC, got)
	}
	return data, nil
}

// Delete delegates to the inner adapter when it supports deletion.
func (c *Compressed) Delete(ctx context.Context, name string) error {
	if d, ok := c.inner.(Deleter); ok {
		return d.Delete(ctx, name)
	}
	return nil
}

func compress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		out := enc.EncodeAll(data, nil)
		enc.Close()
		return out, nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression method %d", method)
	}
}

func decompress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unknown compression method %d", method)
	}
}
