package specsource

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"apitables/internal/config"
)

// S3Reader reads s3://bucket/key documents, including from S3-compatible stores.
type S3Reader struct {
	cfg    config.S3Config
	once   sync.Once
	client *s3.Client
}

// NewS3Reader creates an S3Reader. The client is built on first use.
func NewS3Reader(cfg config.S3Config) *S3Reader {
	return &S3Reader{cfg: cfg}
}

func (r *S3Reader) s3Client() *s3.Client {
	r.once.Do(func() {
		opts := s3.Options{Region: r.cfg.Region}
		if opts.Region == "" {
			opts.Region = "us-east-1"
		}
		if r.cfg.KeyID != "" {
			opts.Credentials = credentials.NewStaticCredentialsProvider(r.cfg.KeyID, r.cfg.Secret, "")
		} else {
			opts.Credentials = aws.AnonymousCredentials{}
		}
		if r.cfg.Endpoint != "" {
			endpoint := r.cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				endpoint = "https://" + endpoint
			}
			opts.BaseEndpoint = aws.String(endpoint)
			// S3-compatible stores generally need path-style addressing.
			opts.UsePathStyle = true
		}
		r.client = s3.New(opts)
	})
	return r.client
}

// Read downloads the object at location.
func (r *S3Reader) Read(ctx context.Context, location *url.URL) ([]byte, error) {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return nil, err
	}
	out, err := r.s3Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 GetObject %q: %w", location.String(), err)
	}
	defer out.Body.Close() //nolint:errcheck
	return io.ReadAll(io.LimitReader(out.Body, maxDocumentBytes))
}
