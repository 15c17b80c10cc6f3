package assets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadManifestYAML(t *testing.T) {
	path := writeManifest(t, "preload.yaml", `
assets:
  - path: textures/tile.png
    type: image
  - path: fx/jump.wav
    type: sound
`)
	entries, err := LoadManifest(path)
	require.NoError(t, err)
	require.Equal(t, []ManifestEntry{
		{Path: "textures/tile.png", Type: "image"},
		{Path: "fx/jump.wav", Type: "sound"},
	}, entries)
}

func TestLoadManifestJSON(t *testing.T) {
	path := writeManifest(t, "preload.json", `{"assets":[{"path":"ui.ttf","type":"font"}]}`)
	entries, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ui.ttf", entries[0].Path)
}

func TestLoadManifestTOML(t *testing.T) {
	path := writeManifest(t, "preload.toml", `
[[assets]]
path = "textures/tile.png"
type = "image"
`)
	entries, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadManifestRejectsUnknownExtension(t *testing.T) {
	path := writeManifest(t, "preload.ini", "assets=")
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifestRejectsBadType(t *testing.T) {
	path := writeManifest(t, "preload.yaml", `
assets:
  - path: thing.bin
    type: blob
`)
	_, err := LoadManifest(path)
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestLoadManifestRejectsMissingPath(t *testing.T) {
	path := writeManifest(t, "preload.yaml", `
assets:
  - path: "   "
    type: image
`)
	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
