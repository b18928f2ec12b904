package archive

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// codec compresses archive objects
type codec struct {
	name        string
	ext         string
	contentType string
	encode      func([]byte) ([]byte, error)
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func codecFor(name string) (codec, error) {
	switch name {
	case "", "gzip":
		return codec{name: "gzip", ext: ".gz", contentType: "application/gzip", encode: gzipEncode}, nil
	case "zstd":
		return codec{name: "zstd", ext: ".zst", contentType: "application/zstd", encode: func(b []byte) ([]byte, error) {
			return zstdEncoder.EncodeAll(b, make([]byte, 0, len(b)/4)), nil
		}}, nil
	case "none":
		return codec{name: "none", contentType: "application/json", encode: func(b []byte) ([]byte, error) {
			return b, nil
		}}, nil
	default:
		return codec{}, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported archive compression %q", name))
	}
}

func gzipEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 4)
	zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
