package specsource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"apitables/internal/config"
)

// GCSReader reads gs://bucket/object documents.
type GCSReader struct {
	cfg    config.GCSConfig
	mu     sync.Mutex
	client *storage.Client
}

// NewGCSReader creates a GCSReader. The client is built on first use.
func NewGCSReader(cfg config.GCSConfig) *GCSReader {
	return &GCSReader{cfg: cfg}
}

func (r *GCSReader) storageClient(ctx context.Context) (*storage.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	var opts []option.ClientOption
	if r.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, r.cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	r.client = client
	return client, nil
}

// Read downloads the object at location.
func (r *GCSReader) Read(ctx context.Context, location *url.URL) ([]byte, error) {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return nil, err
	}
	client, err := r.storageClient(ctx)
	if err != nil {
		return nil, err
	}
	rd, err := client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", location.String(), err)
	}
	defer rd.Close() //nolint:errcheck
	return io.ReadAll(io.LimitReader(rd, maxDocumentBytes))
}
