package version

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "hero.png")
	require.NoError(t, err)
	require.False(t, ok)

	record := Record{AssetID: "hero.png", Version: "1.0.0", ContentHash: "abc"}
	require.NoError(t, store.Store(ctx, record))

	got, ok, err := store.Lookup(ctx, "hero.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1.0.0", got.Version)
	require.Equal(t, "abc", got.ContentHash)
	require.False(t, got.UpdatedAt.IsZero(), "store should stamp UpdatedAt")

	require.NoError(t, store.Delete(ctx, "hero.png"))
	_, ok, err = store.Lookup(ctx, "hero.png")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Close(ctx))
}

func TestRecordChangedComparesHashesNotVersions(t *testing.T) {
	v1 := Record{AssetID: "hero.png", Version: "1.0.0", ContentHash: "same"}
	v2 := Record{AssetID: "hero.png", Version: "2.0.0", ContentHash: "same"}
	require.False(t, v1.Changed(v2), "identical content must not count as changed")

	v3 := Record{AssetID: "hero.png", Version: "1.0.0", ContentHash: "other"}
	require.True(t, v1.Changed(v3))
}

func TestHashFileTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "asset.bin")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))

	first, err := HashFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	again, err := HashFile(path)
	require.NoError(t, err)
	require.Equal(t, first, again, "hashing is deterministic")

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o644))
	changed, err := HashFile(path)
	require.NoError(t, err)
	require.NotEqual(t, first, changed, "content change must change the hash")

	require.Equal(t, HashBytes([]byte("second")), changed)
}

func TestHashFileMissing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "absent.bin"))
	require.Error(t, err)
}

func TestValkeyStoreRoundTrip(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	require.NoError(t, err)
	ctx := context.Background()
	defer store.Close(ctx)

	record := Record{AssetID: "tiles/grass.png", Version: "3.1.0", ContentHash: "deadbeef"}
	require.NoError(t, store.Store(ctx, record))

	got, ok, err := store.Lookup(ctx, "tiles/grass.png")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record.Version, got.Version)
	require.Equal(t, record.ContentHash, got.ContentHash)

	_, ok, err = store.Lookup(ctx, "tiles/grass")
	require.NoError(t, err)
	require.False(t, ok, "prefix of a stored id must not resolve")

	require.NoError(t, store.Delete(ctx, "tiles/grass.png"))
	_, ok, err = store.Lookup(ctx, "tiles/grass.png")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValkeyStoreRejectsEmptyID(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	store, err := NewValkey(ValkeyConfig{Address: server.Addr()})
	require.NoError(t, err)
	defer store.Close(context.Background())

	require.Error(t, store.Store(context.Background(), Record{Version: "1.0.0"}))
}

func TestNewValkeyRequiresAddress(t *testing.T) {
	_, err := NewValkey(ValkeyConfig{})
	require.Error(t, err)
}
