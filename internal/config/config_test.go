package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 60*24*time.Hour, cfg.LCID.SoonWindow)
	assert.Equal(t, "govreview-documents", cfg.Minio.Bucket)
	assert.False(t, cfg.SMTP.Enabled())
	assert.False(t, cfg.OTel.Enabled)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GOVREVIEW_ADDR", ":9999")
	t.Setenv("GOVREVIEW_SMTP_HOST", "smtp.example.gov")
	t.Setenv("GOVREVIEW_SMTP_FROM", "grt@example.gov")
	t.Setenv("GOVREVIEW_LCID_ALERT_WINDOW", "720h")
	t.Setenv("GOVREVIEW_NOTIFY_IT_GOVERNANCE_EMAIL", "itgov@example.gov")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, 30*24*time.Hour, cfg.LCID.AlertWindow)
	assert.Equal(t, "itgov@example.gov", cfg.Notify.ITGovernanceEmail)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "govreview.toml")
	body := `
addr = ":7000"
log_level = "debug"

[minio]
endpoint = "localhost:9000"
bucket = "intake-docs"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("GOVREVIEW_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "localhost:9000", cfg.Minio.Endpoint)
	assert.Equal(t, "intake-docs", cfg.Minio.Bucket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.JWTSecret = ""
	cfg.ActionLockTTL = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "action_lock_ttl")
}

func TestValidateRejectsNonPositiveSweepInterval(t *testing.T) {
	for _, interval := range []string{"0s", "-5m"} {
		t.Run(interval, func(t *testing.T) {
			t.Setenv("GOVREVIEW_LCID_SWEEP_INTERVAL", interval)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "lcid.sweep_interval must be positive")
		})
	}
}
