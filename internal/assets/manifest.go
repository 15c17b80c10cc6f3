package assets

import (
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ManifestEntry names one asset a preload manifest wants resident before
// gameplay starts.
type ManifestEntry struct {
	Path string `koanf:"path"`
	Type string `koanf:"type"`
}

type manifestDocument struct {
	Assets []ManifestEntry `koanf:"assets"`
}

// LoadManifest reads a preload manifest from a YAML, JSON, or TOML file.
// Every entry must carry a path and a recognized asset type; a malformed
// entry fails the whole manifest rather than silently skipping it.
func LoadManifest(path string) ([]ManifestEntry, error) {
	parser, err := manifestParserFor(path)
	if err != nil {
		return nil, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("assets: load manifest %s: %w", path, err)
	}
	var doc manifestDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("assets: decode manifest %s: %w", path, err)
	}

	for i, entry := range doc.Assets {
		if strings.TrimSpace(entry.Path) == "" {
			return nil, fmt.Errorf("assets: manifest %s: entry %d has no path", path, i)
		}
		if _, err := ParseType(entry.Type); err != nil {
			return nil, fmt.Errorf("assets: manifest %s: entry %d (%s): %w", path, i, entry.Path, err)
		}
	}
	return doc.Assets, nil
}

func manifestParserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("assets: unsupported manifest extension %s", ext)
	}
}
