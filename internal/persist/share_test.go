package persist

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareUploadsContentAddressed(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	snap := testSnapshot()
	url, err := NewSharer(srv.URL).Share(context.Background(), snap)
	require.NoError(t, err)

	data, err := snap.Encode()
	require.NoError(t, err)
	hash := ContentHash(data)

	assert.Equal(t, "/objects/"+hash, gotPath)
	assert.Equal(t, data, gotBody)
	assert.True(t, strings.HasSuffix(url, hash))
}

func TestShareTreatsConflictAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Write-once storage refusing a re-upload of existing content.
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	url, err := NewSharer(srv.URL).Share(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.NotEmpty(t, url)
}

func TestShareSurfacesStorageErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSharer(srv.URL).Share(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte("same bytes"))
	b := ContentHash([]byte("same bytes"))
	c := ContentHash([]byte("other bytes"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
