package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsrun/opsrun/internal/config"
	"github.com/opsrun/opsrun/internal/errors"
)

func TestCommandsRegistered(t *testing.T) {
	expected := []string{"run", "batch", "hosts", "risk", "version"}

	registered := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		registered[cmd.Name()] = true
	}

	for _, name := range expected {
		assert.True(t, registered[name], "command %q not registered", name)
	}
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), d)

	d, err = parseTimeout("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseTimeout("soon")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v1.2.3", formatVersion("v1.2.3"))
}

func writeBatchFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadBatchFile(t *testing.T) {
	path := writeBatchFile(t, `
stop_on_failure: true
actions:
  - target: web01
    command: "systemctl reload nginx"
    reason: "rolling reload"
  - target: web02
    command: "uptime"
    risk: low
    timeout: 30s
`)

	job, err := loadBatchFile(path)
	require.NoError(t, err)

	assert.True(t, job.StopOnFailure)
	require.Len(t, job.Actions, 2)
	assert.Equal(t, "web01", job.Actions[0].Target)
	assert.Equal(t, "rolling reload", job.Actions[0].Reason)
	assert.Equal(t, "low", job.Actions[1].RiskOverride)
	assert.Equal(t, 30*time.Second, job.Actions[1].Timeout)
}

func TestLoadBatchFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no actions", "stop_on_failure: true\n"},
		{"missing command", "actions:\n  - target: web01\n"},
		{"missing target", "actions:\n  - command: uptime\n"},
		{"bad timeout", "actions:\n  - target: a\n    command: b\n    timeout: soon\n"},
		{"bad yaml", "actions: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadBatchFile(writeBatchFile(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrConfig))
		})
	}
}

func TestLoadBatchFile_Missing(t *testing.T) {
	_, err := loadBatchFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "deploy@10.0.1.10", endpoint(config.Host{Address: "10.0.1.10", User: "deploy"}))
	assert.Equal(t, "deploy@10.0.1.10:2222", endpoint(config.Host{Address: "10.0.1.10", User: "deploy", Port: 2222}))
	assert.Equal(t, "10.0.1.10", endpoint(config.Host{Address: "10.0.1.10", Port: 22}))
}

func TestJumpPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Hosts = map[string]config.Host{
		"bastion": {Address: "b"},
		"mid":     {Address: "m", JumpHost: "bastion"},
		"inner":   {Address: "i", JumpHost: "mid"},
	}

	assert.Equal(t, []string{"bastion", "mid"}, jumpPath(cfg, cfg.Hosts["inner"]))
	assert.Empty(t, jumpPath(cfg, cfg.Hosts["bastion"]))
}
