package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	g := cfg.Gate()
	require.Equal(t, 9, g.Open.Hour)
	require.Equal(t, 15, g.Open.Minute)
	require.Equal(t, 5*time.Minute, g.Grace)
	require.Equal(t, 2, g.LagTolerance)
	require.Equal(t, "Asia/Kolkata", g.Location.String())
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	// Arrange
	p := write(t, "config.yaml", `
provider: dhan
dhan:
  client_id: from-file
  max_requests_per_minute: 20
market:
  lag_tolerance: 4
fetch:
  workers: 3
`)
	t.Setenv("DHAN_ACCESS_TOKEN", "secret")
	t.Setenv("FETCH_WORKERS", "8")

	// Act
	cfg, err := Load(p)

	// Assert
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Dhan.ClientID)
	require.Equal(t, "secret", cfg.Dhan.AccessToken)
	require.Equal(t, 20, cfg.Dhan.MaxRequestsPerMinute)
	require.Equal(t, 4, cfg.Market.LagTolerance)
	require.Equal(t, 8, cfg.Fetch.Workers)
	require.Equal(t, "09:15", cfg.Market.Open)
}

func TestLoad_JSON(t *testing.T) {
	p := write(t, "config.json", `{"provider":"yahoo","server":{"port":"9090"}}`)

	cfg, err := Load(p)

	require.NoError(t, err)
	require.Equal(t, "yahoo", cfg.Provider)
	require.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_RejectsUnknownFieldsAndBadValues(t *testing.T) {
	_, err := Load(write(t, "config.yaml", "dhan:\n  api_key: x\n"))
	require.Error(t, err)

	_, err = Load(write(t, "config.json", `{"provider":"bloomberg"}`))
	require.ErrorContains(t, err, "unknown provider")

	_, err = Load(write(t, "config.yaml", "market:\n  open: \"16:00\"\n"))
	require.ErrorContains(t, err, "must be before")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	require.Equal(t, Default().Fetch, cfg.Fetch)
}

func TestSplitCSV(t *testing.T) {
	require.Equal(t, []string{"TCS", "INFY"}, SplitCSV(" TCS, ,INFY,"))
}

func TestApplyEnv_IgnoresBadIntegers(t *testing.T) {
	// Arrange
	t.Setenv("FETCH_WORKERS", "zero")
	t.Setenv("DHAN_BURST", "0")
	t.Setenv("FETCH_RETRIES", " 0 ")
	t.Setenv("PORT", "9999")
	cfg := Default()
	want := cfg

	// Act
	applyEnv(&cfg)

	// Assert
	require.Equal(t, want.Fetch.Workers, cfg.Fetch.Workers)
	require.Equal(t, want.Dhan.Burst, cfg.Dhan.Burst)
	require.Equal(t, 0, cfg.Fetch.Retries)
	require.Equal(t, "9999", cfg.Server.Port)
}
