package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rowcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
socket:
  unix_path: /tmp/rowcache.sock
tables:
  - id: 1
    name: widgets
    indexes:
      - id: 0
        column: id
        type: int
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.DefaultRefreshPeriod)
	assert.Equal(t, 5*time.Second, cfg.Tables[0].RefreshPeriod)
}

func TestLoadRejectsNoListener(t *testing.T) {
	path := writeConfig(t, `
tables:
  - id: 1
    name: widgets
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateTableID(t *testing.T) {
	path := writeConfig(t, `
socket:
  tcp_port: 9999
tables:
  - id: 1
    name: widgets
  - id: 1
    name: gadgets
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsBadIndexType(t *testing.T) {
	path := writeConfig(t, `
socket:
  tcp_port: 9999
tables:
  - id: 1
    name: widgets
    indexes:
      - id: 0
        column: id
        type: float
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
