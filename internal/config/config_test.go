package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	t.Setenv("STORAGE_DRIVER", "sqlite")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageSQLite, cfg.StorageDriver)
	assert.Equal(t, 6*time.Second, cfg.UndoWindow)
	assert.Equal(t, int64(1), cfg.GeocodeRate)
	assert.NotEmpty(t, cfg.SessionSecret)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:5500")
}

func TestLoad_ParsesOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("UNDO_WINDOW", "10s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ecolog.example, https://admin.ecolog.example")
	t.Setenv("MAX_THUMBNAIL_KB", "256")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 10*time.Second, cfg.UndoWindow)
	assert.Equal(t, []string{"https://ecolog.example", "https://admin.ecolog.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(256), cfg.MaxThumbnailKB)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver":       {"APP_ENV": "development", "STORAGE_DRIVER": "mongo"},
		"short prod secret":    {"APP_ENV": "production", "STORAGE_DRIVER": "sqlite", "SESSION_SECRET": "short", "CORS_ALLOWED_ORIGINS": "https://x"},
		"prod without origins": {"APP_ENV": "production", "STORAGE_DRIVER": "sqlite", "SESSION_SECRET": "0123456789abcdef0123456789abcdef", "CORS_ALLOWED_ORIGINS": ""},
		"bad undo window":      {"APP_ENV": "development", "STORAGE_DRIVER": "sqlite", "UNDO_WINDOW": "soon"},
		"zero undo window":     {"APP_ENV": "development", "STORAGE_DRIVER": "sqlite", "UNDO_WINDOW": "0s"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
