package assets

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveURLJoinsAgainstBase(t *testing.T) {
	m := newTestManager(t)
	r := m.NewRemoteLoader()

	r.SetCDNBase("https://cdn.example.com/assets/")
	require.Equal(t, "https://cdn.example.com/assets", r.CDNBase())

	url, err := r.ResolveURL("/textures/tile.png")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/assets/textures/tile.png", url)
}

func TestResolveURLWithoutBaseFails(t *testing.T) {
	m := newTestManager(t)
	r := m.NewRemoteLoader()
	_, err := r.ResolveURL("textures/tile.png")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestResolveURLTemplate(t *testing.T) {
	m := newTestManager(t)
	r := m.NewRemoteLoader()
	r.SetCDNBase("https://cdn.example.com")
	require.NoError(t, r.SetURLTemplate(`{{ .Base }}/v2/{{ .Path | lower }}`))

	url, err := r.ResolveURL("Textures/Tile.PNG")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/v2/textures/tile.png", url)

	// Clearing the template restores plain joining.
	require.NoError(t, r.SetURLTemplate(""))
	url, err = r.ResolveURL("Textures/Tile.PNG")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/Textures/Tile.PNG", url)
}

func TestSetURLTemplateRejectsBadSyntax(t *testing.T) {
	m := newTestManager(t)
	r := m.NewRemoteLoader()
	require.Error(t, r.SetURLTemplate("{{ .Path"))
}

func TestFetchDownloadsAtomically(t *testing.T) {
	payload := bytes.Repeat([]byte("cdn-bytes"), 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	m := newTestManager(t)
	r := m.NewRemoteLoader()

	require.NoError(t, r.Fetch(context.Background(), srv.URL+"/tile.png", "textures/tile.png"))

	got, err := os.ReadFile(filepath.Join(m.BasePath(), "textures", "tile.png"))
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, 1.0, r.Progress())

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(m.BasePath(), "textures"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFetchRetriesTransientOnce(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("RIFF-ish payload"))
	}))
	defer srv.Close()

	m := newTestManager(t)
	r := m.NewRemoteLoader()

	require.NoError(t, r.Fetch(context.Background(), srv.URL+"/fx.wav", "fx.wav"))
	require.Equal(t, int64(2), attempts.Load())
}

func TestFetchPermanentFailureNoRetry(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		attempts.Add(1)
		http.NotFound(w, req)
	}))
	defer srv.Close()

	m := newTestManager(t)
	r := m.NewRemoteLoader()

	err := r.Fetch(context.Background(), srv.URL+"/gone.png", "gone.png")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, int64(1), attempts.Load())
	require.Len(t, r.Failed(), 1)
}

func TestFetchExhaustedRetriesSurfaceNetworkError(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestManager(t)
	r := m.NewRemoteLoader()

	err := r.Fetch(context.Background(), srv.URL+"/down.png", "down.png")
	require.ErrorIs(t, err, ErrNetwork)
	require.Equal(t, int64(2), attempts.Load())
}

func TestFetchCachingShortCircuits(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	m := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(m.BasePath(), "tile.png"), []byte("resident"), 0o644))

	r := m.NewRemoteLoader()
	r.EnableCaching(true)
	require.True(t, r.CachingEnabled())

	require.NoError(t, r.Fetch(context.Background(), srv.URL+"/tile.png", "tile.png"))
	require.Equal(t, int64(0), attempts.Load())

	got, err := os.ReadFile(filepath.Join(m.BasePath(), "tile.png"))
	require.NoError(t, err)
	require.Equal(t, []byte("resident"), got)

	// With caching off the same fetch hits the server and replaces the file.
	r.EnableCaching(false)
	require.NoError(t, r.Fetch(context.Background(), srv.URL+"/tile.png", "tile.png"))
	require.Equal(t, int64(1), attempts.Load())
}

func TestLoadFromURLFetchesThenLoads(t *testing.T) {
	m := newTestManager(t)
	pngPath := writePNG(t, t.TempDir(), "origin.png", 24, 24)
	pngBytes, err := os.ReadFile(pngPath)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	r := m.NewRemoteLoader()
	require.True(t, r.LoadFromURL(context.Background(), srv.URL+"/origin.png", "textures/origin.png"))

	asset, err := m.Load(context.Background(), "textures/origin.png", "image")
	require.NoError(t, err)
	require.Equal(t, 24, asset.Image.Width)
	require.Equal(t, 1, m.CacheStats().Entries)

	require.False(t, r.LoadFromURL(context.Background(), srv.URL+"/other.png", "/proc/1/forbidden/write.png"))
}

func TestFetchAsyncReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}))
	defer srv.Close()

	m := newTestManager(t)
	r := m.NewRemoteLoader()

	r.FetchAsync(srv.URL+"/a.png", "a.png")
	r.FetchAsync(srv.URL+"/b.png", "b.png")
	require.True(t, r.Wait(5*time.Second))

	failed := r.Failed()
	require.Len(t, failed, 2)
	for _, err := range failed {
		require.ErrorIs(t, err, ErrNotFound)
	}
}
