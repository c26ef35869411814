package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WORKFLOW_HOME_PROVIDER", "")
	t.Setenv("ODS_ENDPOINT", "http://ods.local/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "STEFANINI", cfg.Workflow.HomeProvider)
	assert.Equal(t, 5*time.Minute, cfg.Workflow.CacheTTL())
	assert.Equal(t, "http://ods.local", cfg.Integrations.ODSEndpoint)
	assert.Equal(t, time.Duration(0), cfg.Reconcile.Interval())
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKFLOW_HOME_PROVIDER", " ACME ")
	t.Setenv("STATE_MACHINE_CACHE_MAX_ENTRIES", "8")
	t.Setenv("RECONCILE_INTERVAL_SECONDS", "60")
	t.Setenv("OBSERVER_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ACME", cfg.Workflow.HomeProvider)
	assert.Equal(t, 8, cfg.Workflow.CacheMaxEntries)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval())
	assert.Equal(t, 2, cfg.Integrations.ObserverWorkers)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "x")
	_, err := Load()
	assert.Error(t, err)
}
