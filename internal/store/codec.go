// Package store implements the Chunk Store: content-addressed persistence
// of chunk payloads plus a JSON sidecar index, with optional transparent
// compression and optional local redundancy.
package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// CompressionAlgorithm names the codec used for a stored chunk's payload.
type CompressionAlgorithm string

const (
	CompressionNone  CompressionAlgorithm = "none"
	CompressionFlate CompressionAlgorithm = "flate"
	CompressionZstd  CompressionAlgorithm = "zstd"
)

// minCompressibleSize is the threshold below which compression is never
// attempted, per the "bytes.len > 1024" rule.
const minCompressibleSize = 1024

// compressionRatio is the acceptance bar: a compressed form is kept only
// if it is strictly smaller than this fraction of the original.
const compressionRatio = 0.9

// codec compresses and decompresses chunk payloads for one algorithm.
type codec interface {
	compress(data []byte) ([]byte, error)
	decompress(data []byte) ([]byte, error)
}

func codecFor(alg CompressionAlgorithm) (codec, error) {
	switch alg {
	case CompressionFlate:
		return flateCodec{}, nil
	case CompressionZstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", alg)
	}
}

type flateCodec struct{}

func (flateCodec) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (flateCodec) decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCodec struct{}

func (zstdCodec) compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdCodec) decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

// maybeCompress attempts alg on data and returns the compressed bytes plus
// true only if the result clears the compressionRatio bar and data is
// large enough to bother. Otherwise it returns data unchanged and false.
func maybeCompress(alg CompressionAlgorithm, data []byte) (out []byte, compressed bool, err error) {
	if alg == "" || alg == CompressionNone || len(data) <= minCompressibleSize {
		return data, false, nil
	}
	c, err := codecFor(alg)
	if err != nil {
		return nil, false, err
	}
	candidate, err := c.compress(data)
	if err != nil {
		return data, false, nil // compression failure degrades to raw storage
	}
	if float64(len(candidate)) < compressionRatio*float64(len(data)) {
		return candidate, true, nil
	}
	return data, false, nil
}

func decompressWith(alg CompressionAlgorithm, data []byte) ([]byte, error) {
	c, err := codecFor(alg)
	if err != nil {
		return nil, err
	}
	return c.decompress(data)
}
