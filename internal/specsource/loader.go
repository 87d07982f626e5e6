// Package specsource loads OpenAPI documents from local files, HTTP(S) URLs
// and object stores (s3://, gs://, az://).
package specsource

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"apitables/internal/config"
	"apitables/internal/domain"
)

// ObjectReader reads the document stored at a location URL.
type ObjectReader interface {
	Read(ctx context.Context, location *url.URL) ([]byte, error)
}

// ObjectReaderFunc adapts a function to ObjectReader.
type ObjectReaderFunc func(ctx context.Context, location *url.URL) ([]byte, error)

// Read calls f.
func (f ObjectReaderFunc) Read(ctx context.Context, location *url.URL) ([]byte, error) {
	return f(ctx, location)
}

// Document is a loaded OpenAPI document together with its raw bytes,
// which the compiler needs to recover declared property order.
type Document struct {
	Location string
	Doc      *openapi3.T
	Raw      []byte
}

// Loader resolves document locations and external references.
type Loader struct {
	readers        map[string]ObjectReader
	skipValidation bool
	logger         *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithReader registers a reader for a URL scheme, replacing any existing one.
func WithReader(scheme string, r ObjectReader) Option {
	return func(l *Loader) { l.readers[strings.ToLower(scheme)] = r }
}

// WithSkipValidation disables structural validation of loaded documents.
func WithSkipValidation(skip bool) Option {
	return func(l *Loader) { l.skipValidation = skip }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader reading local files and HTTP(S) URLs.
func New(opts ...Option) *Loader {
	l := &Loader{readers: map[string]ObjectReader{}, logger: slog.Default()}
	web := NewHTTPReader(nil)
	l.readers["http"] = web
	l.readers["https"] = web
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "specsource")
	return l
}

// NewFromConfig creates a Loader with every object store configured in cfg.
// Object store clients are built lazily on first use.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Loader {
	store := cfg.ObjectStore
	return New(
		WithLogger(logger),
		WithSkipValidation(cfg.Spec.SkipValidation),
		WithReader("s3", NewS3Reader(store.S3)),
		WithReader("gs", NewGCSReader(store.GCS)),
		WithReader("az", NewAzureReader(store.Azure)),
	)
}

// Load reads, parses and (unless disabled) validates the document at location.
// A location without a URL scheme is a local path.
func (l *Loader) Load(ctx context.Context, location string) (*Document, error) {
	u, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	raw, err := l.read(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = true
	loader.ReadFromURIFunc = l.readFromURI
	doc, err := loader.LoadFromDataWithPath(raw, u)
	if err != nil {
		return nil, domain.ErrDocument("parse %s: %v", location, err)
	}
	if !l.skipValidation {
		if err := doc.Validate(ctx); err != nil {
			return nil, domain.ErrDocument("validate %s: %v", location, err)
		}
	}
	l.logger.Debug("document loaded", "location", location, "bytes", len(raw))
	return &Document{Location: location, Doc: doc, Raw: raw}, nil
}

// ParseLocation turns a document location into a URL. Local paths become
// absolute file paths so that relative external references resolve.
func ParseLocation(location string) (*url.URL, error) {
	if location == "" {
		return nil, domain.ErrValidation("document location is empty")
	}
	if u, err := url.Parse(location); err == nil && len(u.Scheme) > 1 {
		if u.Scheme != "file" && u.Host == "" {
			return nil, domain.ErrValidation("document location %q has no host or bucket", location)
		}
		return u, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", location, err)
	}
	return &url.URL{Path: filepath.ToSlash(abs)}, nil
}

func (l *Loader) read(ctx context.Context, u *url.URL) ([]byte, error) {
	if r, ok := l.readers[strings.ToLower(u.Scheme)]; ok {
		return r.Read(ctx, u)
	}
	if u.Scheme == "" || u.Scheme == "file" {
		return os.ReadFile(filepath.FromSlash(u.Path)) //nolint:gosec // location is operator-controlled
	}
	return nil, fmt.Errorf("unsupported location scheme %q", u.Scheme)
}

// readFromURI serves external references through the same readers as the root document.
func (l *Loader) readFromURI(loader *openapi3.Loader, location *url.URL) ([]byte, error) {
	ctx := loader.Context
	if ctx == nil {
		ctx = context.Background()
	}
	scheme := strings.ToLower(location.Scheme)
	if _, ok := l.readers[scheme]; !ok && scheme != "" && scheme != "file" {
		return nil, openapi3.ErrURINotSupported
	}
	return l.read(ctx, location)
}

// splitBucketKey extracts bucket and key from a "scheme://bucket/path/to/object" URL.
func splitBucketKey(location *url.URL) (bucket, key string, err error) {
	bucket = location.Host
	key = strings.TrimPrefix(location.Path, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("empty bucket in %q", location.String())
	}
	if key == "" {
		return "", "", fmt.Errorf("empty key in %q", location.String())
	}
	return bucket, key, nil
}
