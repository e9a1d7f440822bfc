package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "acme/abc.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://acme/abc.html", uri)

	payload[0] = 'C'
	got, ok := store.Get("acme/abc.html")
	require.True(t, ok)
	require.Equal(t, "content", string(got))

	got[0] = 'X'
	again, _ := store.Get("acme/abc.html")
	require.Equal(t, "content", string(again))
}

func TestBlobStoreKeysSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, p := range []string{"b.json", "a.json", "companies/acme.json"} {
		_, err := store.PutObject(context.Background(), p, "application/json", []byte("{}"))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a.json", "b.json", "companies/acme.json"}, store.Keys())

	_, err := store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}
