// Package decode unwraps the response bodies Qwen's domestic web endpoint
// sends back, which arrive under any of several Content-Encoding values
// depending on load-balancer placement: gzip and deflate from the
// standard library, brotli via andybalholm/brotli, and zstd via
// klauspost/compress.
package decode

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Codec identifies a Content-Encoding value this package can unwrap.
type Codec string

const (
	CodecIdentity Codec = "identity"
	CodecGzip     Codec = "gzip"
	CodecDeflate  Codec = "deflate"
	CodecBrotli   Codec = "br"
	CodecZstd     Codec = "zstd"
)

// CodecFromHeader maps a raw Content-Encoding header value to a Codec,
// defaulting to CodecIdentity for an empty or unrecognized value.
func CodecFromHeader(contentEncoding string) Codec {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return CodecGzip
	case "deflate":
		return CodecDeflate
	case "br":
		return CodecBrotli
	case "zstd":
		return CodecZstd
	default:
		return CodecIdentity
	}
}

// Reader wraps r with the decompressor named by codec. The caller is
// responsible for closing the returned reader if it implements io.Closer.
func Reader(codec Codec, r io.Reader) (io.Reader, error) {
	switch codec {
	case CodecIdentity, "":
		return r, nil
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecDeflate:
		return flate.NewReader(r), nil
	case CodecBrotli:
		return brotli.NewReader(r), nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decode: zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("decode: unsupported codec %q", codec)
	}
}

// All decompresses body fully according to contentEncoding and returns
// the plain bytes. Used for Qwen domestic's non-streaming JSON
// responses, which arrive as a single compressed body rather than a
// chunked stream.
func All(contentEncoding string, body []byte) ([]byte, error) {
	codec := CodecFromHeader(contentEncoding)
	r, err := Reader(codec, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode: read %s body: %w", codec, err)
	}
	return out, nil
}
