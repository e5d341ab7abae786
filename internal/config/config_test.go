package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.ToolCall.Default)
	assert.Equal(t, ":8080", cfg.HTTP.ListenAddr)
	assert.Equal(t, "/mcp", cfg.HTTP.EndpointPath)
	assert.Equal(t, int64(64), cfg.HTTP.ConcurrencyCap)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  listen_addr: \":9090\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.ListenAddr)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  listen_addr: \":9090\"\n"), 0o644))

	t.Setenv("MCPCORE_HTTP_LISTEN_ADDR", ":7070")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.ListenAddr, "environment variables override the yaml file")
}

func TestTimeoutClamp(t *testing.T) {
	tm := Timeout{Default: 10 * time.Second, Min: time.Second, Max: time.Minute}
	assert.Equal(t, 10*time.Second, tm.Clamp(0))
	assert.Equal(t, time.Second, tm.Clamp(10*time.Millisecond))
	assert.Equal(t, time.Minute, tm.Clamp(time.Hour))
	assert.Equal(t, 5*time.Second, tm.Clamp(5*time.Second))
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	classes := TimeoutClasses{
		Initialize: Timeout{Default: time.Minute, Min: time.Second, Max: time.Second},
	}
	assert.Error(t, classes.validate())
}
