package hub

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Setting Accept-Encoding ourselves turns off the transparent gzip of
// net/http, so both encodings are decoded here
const acceptEncoding = "zstd, gzip"

type decodedBody struct {
	io.Reader
	close func() error
}

func (b *decodedBody) Close() error {
	return b.close()
}

// decodeBody wraps body according to the Content-Encoding of the response
func decodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil

	case "gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		return &decodedBody{Reader: reader, close: func() error {
			reader.Close()
			return body.Close()
		}}, nil

	case "zstd":
		decoder, err := zstd.NewReader(body)
		if err != nil {
			body.Close()
			return nil, fmt.Errorf("zstd body: %w", err)
		}
		return &decodedBody{Reader: decoder, close: func() error {
			decoder.Close()
			return body.Close()
		}}, nil

	default:
		body.Close()
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
