package config

import (
	"os"
	"path/filepath"
	"testing"

	"chathub/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"database": {"path": "/tmp/chathub.db"},
	"connectors": [
		{
			"uuid": "6f1c0f3a-2b6e-4d3a-9a56-8cf1f8a7f001",
			"name": "main",
			"kind": "evolution",
			"url": "http://evolution:8080",
			"apiKey": "secret"
		}
	]
}`

func TestLoadConfigValid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/chathub.db", cfg.Database.Path)
	assert.Len(t, cfg.Connectors, 1)

	// defaults applied
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultNamespace, cfg.Namespace)
	assert.Equal(t, constants.DefaultLogRetentionDays, cfg.Webhook.LogRetentionDays)
	assert.Equal(t, "phone", cfg.Connectors[0].ContactField)
	assert.Equal(t, "whatsapp", cfg.Connectors[0].ContactName)
}

func TestLoadConfigMissingDBPath(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"connectors": [{"uuid": "a", "name": "n", "kind": "example"}]}`))
	assert.ErrorIs(t, err, ErrMissingDBPath)
}

func TestLoadConfigNoConnectors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"database": {"path": "/tmp/x.db"}, "connectors": []}`))
	assert.ErrorIs(t, err, ErrMissingConnectors)
}

func TestLoadConfigUnknownProviderKind(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{
		"database": {"path": "/tmp/x.db"},
		"connectors": [{"uuid": "a", "name": "n", "kind": "telegram"}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider kind")
}

func TestLoadConfigDuplicateUUID(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{
		"database": {"path": "/tmp/x.db"},
		"connectors": [
			{"uuid": "a", "name": "n1", "kind": "example"},
			{"uuid": "a", "name": "n2", "kind": "example"}
		]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate connector uuid")
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHATHUB_DB_PATH", "/tmp/override.db")
	t.Setenv("CHATHUB_PORT", "9090")

	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, 9090, cfg.Server.Port)
}
