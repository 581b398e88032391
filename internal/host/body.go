package host

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody wraps body according to its Content-Encoding. Encodings are
// undone in reverse order of application.
func decodeBody(body io.Reader, encoding string) (io.ReadCloser, error) {
	codings := strings.Split(encoding, ",")
	reader := io.NopCloser(body)

	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(reader)
			if err != nil {
				return nil, err
			}
			reader = zr
		case "deflate":
			zr, err := zlib.NewReader(reader)
			if err != nil {
				return nil, err
			}
			reader = zr
		case "zstd":
			zr, err := zstd.NewReader(reader)
			if err != nil {
				return nil, err
			}
			reader = zr.IOReadCloser()
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", coding)
		}
	}
	return reader, nil
}
