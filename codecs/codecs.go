// Package codecs compresses the database blob mirrored to the remote store.
// The codec of a blob is implied by the extension of its file name.
package codecs

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is a compression codec.
type Codec int

const (
	None Codec = iota
	Gzip
	Snappy
	Zstandard
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Snappy:
		return "snappy"
	case Zstandard:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// Extension returns the file name extension of the Codec, including its
// leading dot, or "" for None.
func (c Codec) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case Zstandard:
		return ".zst"
	default:
		return ""
	}
}

// FromFilename returns the Codec implied by the extension of |name|.
// Names without a known extension are None.
func FromFilename(name string) Codec {
	for _, c := range []Codec{Gzip, Snappy, Zstandard} {
		if strings.HasSuffix(name, c.Extension()) {
			return c
		}
	}
	return None
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case Zstandard:
		var d, err = zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case Zstandard:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// Encode returns |b| compressed with Codec.
func Encode(b []byte, codec Codec) ([]byte, error) {
	if codec == None {
		return b, nil
	}
	var buf bytes.Buffer
	var w, err = NewCodecWriter(&buf, codec)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(b); err != nil {
		return nil, err
	} else if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode returns |b| decompressed with Codec.
func Decode(b []byte, codec Codec) ([]byte, error) {
	if codec == None {
		return b, nil
	}
	var r, err = NewCodecReader(bytes.NewReader(b), codec)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
