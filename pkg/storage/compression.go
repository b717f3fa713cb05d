package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compression selects how chunk files are encoded at rest. The chunk
// fingerprint is always computed over the uncompressed bytes.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// Compressed chunk files start with a 4 byte tag. Uncompressed files carry
// no header so they stay byte-identical to the chunk.
var (
	gzipMagic = []byte("CCG1")
	zstdMagic = []byte("CCZ1")
)

func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip:
		return CompressionGzip, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q (supported: none, gzip, zstd)", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeChunk returns the on-disk form of data. Compression is only kept
// when it actually saves space.
func encodeChunk(c Compression, data []byte) ([]byte, error) {
	var compressed []byte
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, append([]byte(nil), zstdMagic...))
	case CompressionGzip:
		var buf bytes.Buffer
		buf.Write(gzipMagic)
		writer := gzip.NewWriter(&buf)
		if _, err := writer.Write(data); err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to write compressed data: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		compressed = buf.Bytes()
	default:
		return nil, fmt.Errorf("unknown compression %q", c)
	}

	if len(compressed) >= len(data) {
		return data, nil
	}
	return compressed, nil
}

// decodeChunk undoes encodeChunk. ok is false when raw carries no known
// compression header or the payload does not decode; callers then treat raw
// as the chunk itself.
func decodeChunk(raw []byte) (data []byte, ok bool) {
	switch {
	case bytes.HasPrefix(raw, zstdMagic):
		out, err := zstdDecoder.DecodeAll(raw[len(zstdMagic):], nil)
		if err != nil {
			return nil, false
		}
		return out, true
	case bytes.HasPrefix(raw, gzipMagic):
		reader, err := gzip.NewReader(bytes.NewReader(raw[len(gzipMagic):]))
		if err != nil {
			return nil, false
		}
		defer reader.Close()
		out, err := io.ReadAll(reader)
		if err != nil {
			return nil, false
		}
		return out, true
	default:
		return nil, false
	}
}
