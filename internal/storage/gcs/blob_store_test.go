package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/dashboards/o")
		assert.Equal(t, "static/dashboard.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `{"ok":true}`)
		fmt.Fprintln(w, `{"name":"static/dashboard.json","bucket":"dashboards"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, "dashboards", "/static/")
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "dashboard.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)
	require.Equal(t, "gs://dashboards/static/dashboard.json", uri)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "b", "")
	require.Error(t, err)
	_, err = New(&storage.Client{}, "", "")
	require.Error(t, err)
}
