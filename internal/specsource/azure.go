package specsource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"apitables/internal/config"
)

// AzureReader reads az://container/blob documents with shared-key credentials.
type AzureReader struct {
	cfg    config.AzureConfig
	mu     sync.Mutex
	client *azblob.Client
}

// NewAzureReader creates an AzureReader. The client is built on first use.
func NewAzureReader(cfg config.AzureConfig) *AzureReader {
	return &AzureReader{cfg: cfg}
}

func (r *AzureReader) blobClient() (*azblob.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	if r.cfg.Account == "" || r.cfg.Key == "" {
		return nil, fmt.Errorf("object_store.azure.account and object_store.azure.key are required for az:// locations")
	}
	cred, err := azblob.NewSharedKeyCredential(r.cfg.Account, r.cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := r.cfg.Endpoint
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", r.cfg.Account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	r.client = client
	return client, nil
}

// Read downloads the blob at location.
func (r *AzureReader) Read(ctx context.Context, location *url.URL) ([]byte, error) {
	container, blob, err := splitBucketKey(location)
	if err != nil {
		return nil, err
	}
	client, err := r.blobClient()
	if err != nil {
		return nil, err
	}
	resp, err := client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", location.String(), err)
	}
	defer resp.Body.Close() //nolint:errcheck
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
}
