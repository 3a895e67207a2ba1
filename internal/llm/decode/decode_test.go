package decode

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func TestCodecFromHeader_MapsKnownValues(t *testing.T) {
	cases := map[string]Codec{
		"gzip":    CodecGzip,
		"GZIP":    CodecGzip,
		"deflate": CodecDeflate,
		"br":      CodecBrotli,
		"zstd":    CodecZstd,
		"":        CodecIdentity,
		"weird":   CodecIdentity,
	}
	for header, want := range cases {
		if got := CodecFromHeader(header); got != want {
			t.Errorf("CodecFromHeader(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestAll_RoundTripsGzip(t *testing.T) {
	want := []byte(`{"hello":"world"}`)
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(want)
	gw.Close()

	got, err := All("gzip", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAll_RoundTripsDeflate(t *testing.T) {
	want := []byte(`deflate payload`)
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	fw.Write(want)
	fw.Close()

	got, err := All("deflate", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAll_RoundTripsBrotli(t *testing.T) {
	want := []byte(`brotli payload`)
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write(want)
	bw.Close()

	got, err := All("br", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAll_RoundTripsZstd(t *testing.T) {
	want := []byte(`zstd payload`)
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	zw.Write(want)
	zw.Close()

	got, err := All("zstd", buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAll_IdentityPassesThrough(t *testing.T) {
	want := []byte(`plain`)
	got, err := All("", want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReader_UnsupportedCodecErrors(t *testing.T) {
	_, err := Reader(Codec("compress"), bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}
