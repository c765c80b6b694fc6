package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTicketFetcherMatch(t *testing.T) {
	f := NewTicketFetcher("http://tracker.local", "", t.TempDir())
	ref, ok := f.Match("fix the bug described in PROJ-1234 please")
	require.True(t, ok)
	require.Equal(t, "PROJ-1234", ref)

	_, ok = f.Match("no ticket reference here")
	require.False(t, ok)
}

func TestTicketFetcherFetchAndCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"title": "fix login bug"}`))
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	f := NewTicketFetcher(srv.URL, "tok", cacheDir)

	path, err := f.Fetch(context.Background(), "PROJ-1234")
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "fix login bug")
	require.Equal(t, 1, hits)

	// second fetch hits the cache, not the server
	path2, err := f.Fetch(context.Background(), "PROJ-1234")
	require.NoError(t, err)
	require.Equal(t, path, path2)
	require.Equal(t, 1, hits)
}

func TestTicketFetcherPermanentErrorDoesNotRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewTicketFetcher(srv.URL, "", t.TempDir())
	_, err := f.Fetch(context.Background(), "PROJ-9999")
	require.Error(t, err)
	require.Equal(t, 1, hits, "a 404 is permanent and must not be retried")
}

func TestAPISpecFetcherMatchAndFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("openapi: 3.0.0"))
	}))
	defer srv.Close()

	f := NewAPISpecFetcher(srv.URL, t.TempDir())
	ref, ok := f.Match("see openapi:billing/invoices for the contract")
	require.True(t, ok)
	require.Equal(t, "openapi:billing/invoices", ref)

	path, err := f.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, filepath.Ext(path), ".yaml")
}

func TestCompositeDispatchesToMatchingSource(t *testing.T) {
	ticketSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title": "ticket body"}`))
	}))
	defer ticketSrv.Close()
	specSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("openapi: 3.0.0"))
	}))
	defer specSrv.Close()

	tickets := NewTicketFetcher(ticketSrv.URL, "", t.TempDir())
	specs := NewAPISpecFetcher(specSrv.URL, t.TempDir())
	c := &Composite{Sources: []interface {
		Match(prompt string) (string, bool)
		Fetch(ctx context.Context, ref string) (string, error)
	}{tickets, specs}}

	ref, ok := c.Match("see openapi:billing/invoices for the contract")
	require.True(t, ok)
	path, err := c.Fetch(context.Background(), ref)
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "openapi")

	ref, ok = c.Match("fix PROJ-1234 please")
	require.True(t, ok)
	path, err = c.Fetch(context.Background(), ref)
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "ticket body")

	_, ok = c.Match("nothing recognizable here")
	require.False(t, ok)
}
