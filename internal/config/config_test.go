package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
broker:
  api_url: https://api.kite.trade
  api_key: k123
  access_token: t456
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9985", cfg.App.HTTPAddr)

	assert.Equal(t, "MIS", cfg.Broker.Product)
	assert.Equal(t, "CNC", cfg.Broker.FallbackProduct)
	assert.Equal(t, 10, cfg.Broker.TimeoutSeconds)

	assert.Equal(t, 15, cfg.Execution.FillTimeoutSeconds)
	assert.Equal(t, 500, cfg.Execution.PollIntervalMillis)
	assert.Equal(t, 12, cfg.Execution.ReconcileTimeoutSeconds)
	assert.Equal(t, 3, cfg.Execution.FlattenAttempts)
	assert.Equal(t, "force_exit", cfg.Execution.PartialFillPolicy)
	assert.InDelta(t, 0.01, cfg.Execution.DefaultStopPct, 1e-9)

	assert.Equal(t, "configs/instruments.yaml", cfg.Instruments.Path)
	assert.Equal(t, "data/trades.db", cfg.Store.TradesPath)
	assert.Equal(t, "data/journal.db", cfg.Store.JournalPath)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
execution:
  fill_timeout_seconds: 20
  poll_interval_millis: 250
  partial_fill_policy: attach
risk:
  max_daily_loss: 2500
`))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Execution.FillTimeoutSeconds)
	assert.Equal(t, 250, cfg.Execution.PollIntervalMillis)
	assert.Equal(t, "attach", cfg.Execution.PartialFillPolicy)
	assert.InDelta(t, 2500, cfg.Risk.MaxDailyLoss, 1e-9)
}

func TestLoadRejectsMissingBrokerFields(t *testing.T) {
	_, err := Load(writeConfig(t, "broker:\n  api_url: https://api.kite.trade\n"))
	assert.ErrorContains(t, err, "api_key")

	_, err = Load(writeConfig(t, "app:\n  env: dev\n"))
	assert.ErrorContains(t, err, "api_url")
}

func TestLoadRejectsBadPartialFillPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
execution:
  partial_fill_policy: ignore
`))
	assert.ErrorContains(t, err, "partial_fill_policy")
}

func TestLoadRejectsPollSlowerThanFillTimeout(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
execution:
  fill_timeout_seconds: 1
  poll_interval_millis: 2000
`))
	assert.ErrorContains(t, err, "poll_interval_millis")
}

func TestLoadRejectsIncompleteTelegram(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
notify:
  telegram:
    enabled: true
`))
	assert.ErrorContains(t, err, "telegram")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}
