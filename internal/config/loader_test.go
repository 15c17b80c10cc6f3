package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "./assets", cfg.Assets.BasePath)
				require.Equal(t, "memory", cfg.Versioning.Backend)
				require.Equal(t, 30, cfg.Remote.TimeoutSeconds)
			},
		},
		{
			name: "merges yaml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				contents := "server:\n  listen:\n    port: 9090\nassets:\n  basePath: /srv/assets\n  watch: true\n  cacheLimits:\n    image: 1048576\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, "/srv/assets", cfg.Assets.BasePath)
				require.True(t, cfg.Assets.Watch)
				require.Equal(t, int64(1048576), cfg.Assets.CacheLimits["image"])
			},
		},
		{
			name: "merges json file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.json")
				contents := `{"remote":{"cdnBase":"https://cdn.example.com","cachingEnabled":true}}`
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "https://cdn.example.com", cfg.Remote.CDNBase)
				require.True(t, cfg.Remote.CachingEnabled)
			},
		},
		{
			name: "merges toml file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.toml")
				contents := "[versioning]\nbackend = \"valkey\"\n[versioning.valkey]\naddress = \"localhost:6379\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "valkey", cfg.Versioning.Backend)
				require.Equal(t, "localhost:6379", cfg.Versioning.Valkey.Address)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("ASSETFLOW_SERVER__LISTEN__PORT", "9091")
				t.Setenv("ASSETFLOW_ASSETS__BASEPATH", "/env/assets")
				t.Setenv("ASSETFLOW_REMOTE__CDNBASE", "https://env.example.com")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, "/env/assets", cfg.Assets.BasePath)
				require.Equal(t, "https://env.example.com", cfg.Remote.CDNBase)
			},
		},
		{
			name: "reads validator block",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				contents := "assets:\n  validators:\n    - type: image\n      expression: \"size < 10485760\"\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Len(t, cfg.Assets.Validators, 1)
				require.Equal(t, "image", cfg.Assets.Validators[0].Type)
				require.Equal(t, "size < 10485760", cfg.Assets.Validators[0].Expression)
			},
		},
		{
			name: "missing file fails",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: true,
		},
		{
			name: "unsupported extension fails",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.ini")
				require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "invalid port fails validation",
			setup: func(t *testing.T) []string {
				t.Setenv("ASSETFLOW_SERVER__LISTEN__PORT", "-1")
				return nil
			},
			wantErr: true,
		},
		{
			name: "valkey backend requires address",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("versioning:\n  backend: valkey\n"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := tt.setup(t)
			loader := NewLoader("ASSETFLOW", files...)
			cfg, err := loader.Load(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.assert(t, cfg)
		})
	}
}
