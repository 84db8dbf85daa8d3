package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler, cfg Config) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := gcstorage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := gcstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	payload := []byte(`[{"name":"Тополь-М"}]`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/artifacts/o")
		assert.Equal(t, "runs/2024/basic.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		fmt.Fprintln(w, `{"name":"runs/2024/basic.json","bucket":"artifacts"}`)
	})

	store := newTestStore(t, handler, Config{Bucket: "artifacts", Prefix: "/runs/2024/"})
	uri, err := store.PutObject(context.Background(), "basic.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://artifacts/runs/2024/basic.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	store := newTestStore(t, handler, Config{Bucket: "artifacts"})
	_, err := store.PutObject(context.Background(), "basic.json", "application/json", bytes.NewReader([]byte("{}")))
	assert.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler(), Config{Bucket: "artifacts"})
	_, err := store.PutObject(context.Background(), " ", "", bytes.NewReader(nil))
	assert.ErrorContains(t, err, "path is required")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "b", prefix: "p"}
	assert.Equal(t, "p/detailed/x.json", s.objectName("/detailed/x.json"))
	s.prefix = ""
	assert.Equal(t, "detailed/x.json", s.objectName("detailed/x.json"))
}
