package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasSaneSingleNodeValues(t *testing.T) {
	c := Default()
	assert.Equal(t, "./data", c.DataDir)
	assert.Equal(t, 4096, c.PageCache)
	assert.Equal(t, 2*time.Second, c.LockTimeout)
	assert.False(t, c.Cluster.Enabled)
}

func TestLoad_NoFile_ReturnsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().DataDir, c.DataDir)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
data_dir: /var/lib/neuroquantum
page_cache_pages: 1024
cluster:
  enabled: true
  node_id: node-1
  bind_addr: 127.0.0.1:7000
  proto_min: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/neuroquantum", c.DataDir)
	assert.Equal(t, 1024, c.PageCache)
	assert.True(t, c.Cluster.Enabled)
	assert.Equal(t, "node-1", c.Cluster.NodeID)
	assert.Equal(t, uint32(2), c.Cluster.ProtoMin)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /yaml-dir\n"), 0o600))

	t.Setenv("NEUROQUANTUM_DATA_DIR", "/env-dir")
	t.Setenv("NEUROQUANTUM_CLUSTER_NODE_ID", "node-from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env-dir", c.DataDir)
	assert.Equal(t, "node-from-env", c.Cluster.NodeID)
	assert.True(t, c.Cluster.Enabled, "setting a node id via env should implicitly enable clustering")
}

func TestLoad_InvalidDurationOverrideIsIgnored(t *testing.T) {
	t.Setenv("NEUROQUANTUM_LOCK_TIMEOUT", "not-a-duration")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().LockTimeout, c.LockTimeout)
}
