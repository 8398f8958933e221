package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# web
WEB_SERVER_PORT=9090
MAX_DEVICES=1
TRACE_STORE=sqlite
TRACE_SQLITE_PATH=/tmp/t.db
TOPIC_GPS_PREFIX=fleet/gps/
METRICS_ENABLED=false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.WebServerPort)
	assert.Equal(t, 1, cfg.MaxDevices)
	assert.Equal(t, "sqlite", cfg.TraceStore)
	assert.Equal(t, "/tmp/t.db", cfg.TraceSQLitePath)
	assert.Equal(t, "fleet/gps", cfg.TopicGPSPrefix)
	assert.False(t, cfg.MetricsEnabled)
	// untouched keys keep their defaults
	assert.Equal(t, "Europe/Paris", cfg.TraceTimezone)
	assert.Equal(t, 1000, cfg.GPSReadTimeout)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, "WEB_SERVER_PORT=9090\n")
	t.Setenv("WEB_SERVER_PORT", "7070")
	t.Setenv("TRACE_TIMEZONE", "UTC")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.WebServerPort)
	assert.Equal(t, "UTC", cfg.TraceTimezone)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().TraceDir, cfg.TraceDir)
}

func TestLoad_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "NOPE=1\n",
		"bad int":        "WEB_SERVER_PORT=abc\n",
		"negative":       "GPS_READ_TIMEOUT=-5\n",
		"too many":       "MAX_DEVICES=3\n",
		"bad store":      "TRACE_STORE=ftp\n",
		"s3 no bucket":   "TRACE_STORE=s3\n",
		"bad bool":       "METRICS_ENABLED=maybe\n",
		"empty prefix":   "TOPIC_GPS_PREFIX=\n",
		"empty tracedir": "TRACE_DIR=\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_BoolErrorNamesKey(t *testing.T) {
	_, err := Load(writeConfig(t, "TRACE_S3_PATH_STYLE=perhaps\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRACE_S3_PATH_STYLE")
}
