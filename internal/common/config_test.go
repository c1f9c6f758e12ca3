package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
workflow:
  base_url: https://workflow.example/api
  poll_interval: 5s
sweep:
  concurrency: 8
pricing:
  gpt-4o:
    input_per_million: 2.5
    output_per_million: 10
`), 0o644))

	t.Setenv("DOCFLOW_CONFIG", path)
	t.Setenv("WORKFLOW_API_KEY", "secret")
	t.Setenv("SWEEP_CONCURRENCY", "2")
	t.Setenv("QUEUE_JOB_TIMEOUT", "90s")
	t.Setenv("VAULT_REQUEST_TIMEOUT", "45s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://workflow.example/api", cfg.Workflow.BaseURL)
	assert.Equal(t, "secret", cfg.Workflow.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Workflow.PollInterval)
	assert.Equal(t, 30*time.Minute, cfg.Workflow.PollBudget)
	assert.Equal(t, 2, cfg.Sweep.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Queue.JobTimeout)
	assert.Equal(t, 45*time.Second, cfg.Vault.RequestTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Vault.IngestTimeout)
	assert.Equal(t, 2.5, cfg.Pricing["gpt-4o"].InputPerMillion)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigBadFile(t *testing.T) {
	t.Setenv("DOCFLOW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestValidate(t *testing.T) {
	t.Parallel()
	valid := func() *Config {
		c := DefaultConfig()
		c.Workflow.BaseURL = "https://workflow.example"
		c.Workflow.APIKey = "k"
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no dsn":          func(c *Config) { c.Store.DSN = "" },
		"no base url":     func(c *Config) { c.Workflow.BaseURL = "" },
		"no api key":      func(c *Config) { c.Workflow.APIKey = "" },
		"zero budget":     func(c *Config) { c.Workflow.PollBudget = 0 },
		"no attempts":     func(c *Config) { c.Retry.MaxAttempts = 0 },
		"no concurrency":  func(c *Config) { c.Sweep.Concurrency = 0 },
		"negative errors": func(c *Config) { c.Workflow.MaxConsecutiveErrors = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, KindConfig, KindOf(err))
		})
	}
}
