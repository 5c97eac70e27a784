package chipcollections

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

// ErrUnsupportedCompression is returned for recognized formats that have no
// reader here, such as Unix compress (.Z) streams.
var ErrUnsupportedCompression = errors.New("unsupported compression format")

type DataType byte

const (
	DataTypeInvalid DataType = iota
	DataTypeNoCompression
	DataTypeGzip
	DataTypeZip
	DataTypeXZ
	DataTypeZ
	DataTypeBZip2
)

var byteCodeSigs = map[DataType][]byte{
	DataTypeGzip:  {0x1f, 0x8b, 0x08},
	DataTypeZip:   {0x50, 0x4b, 0x03, 0x04},
	DataTypeXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	DataTypeZ:     {0x1f, 0x9d},
	DataTypeBZip2: {0x42, 0x5a, 0x68},
}

// DetectDataType checks the leading bytes of a stream against a set of known
// compression signatures without consuming them. Byte code signatures from
// https://stackoverflow.com/a/19127748/199475
func DetectDataType(r *bufio.Reader) (DataType, error) {
	buff, err := r.Peek(6)
	if err != nil && err != io.EOF {
		return DataTypeInvalid, err
	}

	// Match known signatures
Outer:
	for dt, sig := range byteCodeSigs {
		if len(buff) < len(sig) {
			continue
		}
		for position := range sig {
			if buff[position] != sig[position] {
				continue Outer
			}
		}
		return dt, nil
	}

	return DataTypeNoCompression, nil
}

// MaybeDecompressReadCloser wraps rc with the decompressor matching its
// content. Closing the returned ReadCloser closes rc.
func MaybeDecompressReadCloser(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	dt, err := DetectDataType(br)
	if err != nil {
		return nil, err
	}

	var out io.Reader
	switch dt {
	case DataTypeGzip:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		out = gzr
	case DataTypeZip:
		// Only the first member of an archive is read
		zr := zipstream.NewReader(br)
		if _, err := zr.Next(); err != nil {
			return nil, err
		}
		out = zr
	case DataTypeBZip2:
		out = bzip2.NewReader(br)
	case DataTypeXZ:
		xzr, err := xz.NewReader(br, 0)
		if err != nil {
			return nil, err
		}
		out = xzr
	case DataTypeZ:
		// LZW with .Z framing; compress/lzw only speaks the GIF/TIFF variant.
		return nil, fmt.Errorf("%w: Unix compress (.Z)", ErrUnsupportedCompression)
	default:
		// No data type detected. For now, we assume this is uncompressed.
		out = br
	}

	return &readCloser{Reader: out, closer: rc}, nil
}

// readCloser closes the underlying source rather than the decompressor.
type readCloser struct {
	io.Reader
	closer io.Closer
}

func (c *readCloser) Close() error {
	return c.closer.Close()
}
