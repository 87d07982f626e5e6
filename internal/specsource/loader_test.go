package specsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apitables/internal/domain"
)

const inlineDoc = `openapi: "3.0.3"
info:
  title: Inline
  version: "1.0"
paths:
  /things:
    get:
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: object
                properties:
                  id:
                    type: string
`

func TestLoad_LocalFileWithExternalRef(t *testing.T) {
	doc, err := New().Load(context.Background(), filepath.Join("testdata", "petstore.yaml"))
	require.NoError(t, err)

	assert.NotEmpty(t, doc.Raw)
	item := doc.Doc.Paths.Find("/pets/{petId}")
	require.NotNil(t, item)
	schema := item.Get.Responses.Value("200").Value.Content["application/json"].Schema
	require.NotNil(t, schema.Value)
	assert.Contains(t, schema.Value.Properties, "name")
}

func TestLoad_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openapi.yaml", r.URL.Path)
		_, _ = w.Write([]byte(inlineDoc))
	}))
	defer srv.Close()

	doc, err := New().Load(context.Background(), srv.URL+"/openapi.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Inline", doc.Doc.Info.Title)
}

func TestLoad_HTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New().Load(context.Background(), srv.URL+"/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLoad_ObjectStoreReader(t *testing.T) {
	var got *url.URL
	reader := ObjectReaderFunc(func(_ context.Context, location *url.URL) ([]byte, error) {
		got = location
		return []byte(inlineDoc), nil
	})

	doc, err := New(WithReader("s3", reader)).Load(context.Background(), "s3://specs/inline.yaml")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "specs", got.Host)
	assert.Equal(t, "/inline.yaml", got.Path)
	assert.NotNil(t, doc.Doc.Paths.Find("/things"))
}

func TestLoad_UnsupportedScheme(t *testing.T) {
	_, err := New().Load(context.Background(), "ftp://host/doc.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported location scheme")
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("openapi: \"3.0.3\"\npaths: {}\n"), 0o600))

	_, err := New().Load(context.Background(), path)
	require.Error(t, err)
	var docErr *domain.DocumentError
	assert.True(t, errors.As(err, &docErr))

	doc, err := New(WithSkipValidation(true)).Load(context.Background(), path)
	require.NoError(t, err)
	assert.NotNil(t, doc.Doc)
}

func TestParseLocation(t *testing.T) {
	u, err := ParseLocation("gs://bucket/dir/openapi.json")
	require.NoError(t, err)
	assert.Equal(t, "gs", u.Scheme)
	assert.Equal(t, "bucket", u.Host)

	u, err = ParseLocation("testdata/petstore.yaml")
	require.NoError(t, err)
	assert.Empty(t, u.Scheme)
	assert.True(t, filepath.IsAbs(filepath.FromSlash(u.Path)))

	_, err = ParseLocation("")
	require.Error(t, err)

	_, err = ParseLocation("s3:///key-only")
	require.Error(t, err)
}

func TestSplitBucketKey(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "standard", input: "s3://my-bucket/path/to/openapi.yaml", wantBucket: "my-bucket", wantKey: "path/to/openapi.yaml"},
		{name: "azure container", input: "az://specs/petstore.json", wantBucket: "specs", wantKey: "petstore.json"},
		{name: "empty key", input: "gs://bucket/", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.input)
			require.NoError(t, err)
			bucket, key, err := splitBucketKey(u)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}
