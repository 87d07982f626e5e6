package specsource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxDocumentBytes caps how much of a remote document is read.
const maxDocumentBytes = 32 << 20

// HTTPReader reads documents over HTTP(S).
type HTTPReader struct {
	client *http.Client
}

// NewHTTPReader creates an HTTPReader. A nil client gets a 30s timeout.
func NewHTTPReader(client *http.Client) *HTTPReader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPReader{client: client}
}

// Read fetches the document at location.
func (r *HTTPReader) Read(ctx context.Context, location *url.URL) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, */*")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location.Redacted(), err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode > 399 {
		return nil, fmt.Errorf("get %s: status %d", location.Redacted(), resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}
