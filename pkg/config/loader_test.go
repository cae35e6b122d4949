package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMaps(t *testing.T) {
	base := map[string]any{
		"db":  map[string]any{"host": "localhost", "port": 5432},
		"log": "info",
	}
	env := map[string]any{
		"db":  map[string]any{"host": "db.internal"},
		"new": true,
	}
	merged := mergeMaps(base, env)

	assert.Equal(t, map[string]any{"host": "db.internal", "port": 5432}, merged["db"])
	assert.Equal(t, "info", merged["log"])
	assert.Equal(t, true, merged["new"])
	assert.Equal(t, "localhost", base["db"].(map[string]any)["host"], "inputs are not modified")
}

func TestExpandPlaceholders(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "USER" {
			return "crm", true
		}
		return "", false
	}
	assert.Equal(t, "amqp://crm@host", expandPlaceholders("amqp://${USER}@host", lookup))
	assert.Equal(t, "x--y", expandPlaceholders("x-${MISSING}-y", lookup))
	assert.Equal(t, "open ${USER", expandPlaceholders("open ${USER", lookup))
}

func TestLoadConfigSecretsWinOverEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte("jwt:\n  secret: ${CRM_LOADER_SECRET}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("CRM_LOADER_SECRET='from-file'\n"), 0o600))
	t.Setenv("CRM_LOADER_SECRET", "from-env")

	raw, err := LoadConfig("base", dir)
	require.NoError(t, err)

	var cfg struct {
		JWT JWTConfig `yaml:"jwt"`
	}
	require.NoError(t, Decode(raw, &cfg))
	assert.Equal(t, "from-file", cfg.JWT.Secret)
}
