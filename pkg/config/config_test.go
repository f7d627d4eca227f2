package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Equal(t, 5, cfg.Dashboard.RecentLimit)
	assert.False(t, cfg.Lifecycle.RequireResponsible)
	assert.Equal(t, 1, cfg.Jobs.Workers)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("REQUIRE_RESPONSIBLE", "true")
	t.Setenv("PRIORITY_RULES_FILE", "/etc/solicitudes/priority.yaml")
	t.Setenv("DASHBOARD_CACHE_TTL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", "http://localhost:4200, ,https://app.example.edu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Lifecycle.RequireResponsible)
	assert.Equal(t, "/etc/solicitudes/priority.yaml", cfg.Lifecycle.PriorityRulesFile)
	assert.Equal(t, 5*time.Minute, cfg.Dashboard.CacheTTL)
	assert.Equal(t, []string{"http://localhost:4200", "https://app.example.edu"}, cfg.CORS.AllowedOrigins)
}
