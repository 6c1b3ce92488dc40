package httpclient

import (
	"io"
)

// DefaultBodyLimit bounds how much of a response body is inspected.
const DefaultBodyLimit int64 = 1 << 20

// ReadBody reads at most limit bytes of body and discards the rest so the
// connection can be reused. It always closes body.
func ReadBody(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	defer body.Close()
	if limit <= 0 {
		limit = DefaultBodyLimit
	}

	data, err := io.ReadAll(io.LimitReader(body, limit))
	if err != nil {
		return data, err
	}
	_, _ = io.Copy(io.Discard, body)
	return data, nil
}
