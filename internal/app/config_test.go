package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 900*time.Second, cfg.CacheTTL)
	assert.Equal(t, "rbac_decision", cfg.CachePrefix)
	assert.Equal(t, 10000, cfg.LocalCacheSize)
	assert.Equal(t, 600, cfg.AppRateLimit)
	assert.True(t, cfg.SuperAdminBypass)
	assert.True(t, cfg.InactiveSelfView)
	assert.False(t, cfg.CrossTenantRecords)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("RBAC_CACHE_TTL", "2m")
	t.Setenv("RBAC_SUPER_ADMIN_RESTRICTED_ROLES", "Customer, Technician")
	t.Setenv("RBAC_SUPER_ADMIN_BYPASS", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL)

	policy, err := cfg.PolicyConfig()
	require.NoError(t, err)
	assert.False(t, policy.SuperAdminBypass)
	assert.Equal(t, []string{"Customer", "Technician"}, policy.RestrictedRolesForSuperAdmin)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("RBAC_CACHE_TTL", "0s")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "RBAC_CACHE_TTL")

	t.Setenv("RBAC_CACHE_TTL", "1m")
	t.Setenv("LOG_LEVEL", "verbose")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "LOG_LEVEL")
}

func TestPolicyFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allow_inactive_self_view: false\nsuper_admin_cross_tenant_records: true\n"), 0o600))
	cfg := &Config{SuperAdminBypass: true, InactiveSelfView: true, PolicyFile: path}

	policy, err := cfg.PolicyConfig()
	require.NoError(t, err)
	assert.Equal(t, rbac.PolicyConfig{
		SuperAdminBypass:             true,
		RestrictedRolesForSuperAdmin: []string{},
		AllowInactiveSelfView:        false,
		SuperAdminCrossTenantRecords: true,
	}, policy)
}

func TestPolicyFileErrors(t *testing.T) {
	cfg := &Config{PolicyFile: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := cfg.PolicyConfig()
	assert.ErrorContains(t, err, "read policy file")

	_, err = applyPolicyOverlay(rbac.DefaultPolicyConfig(), []byte("super_admin_bypas: true\n"))
	assert.ErrorContains(t, err, "parse policy file")

	policy, err := applyPolicyOverlay(rbac.DefaultPolicyConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, rbac.DefaultPolicyConfig(), policy)
}

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("reason", "cross_tenant_denied"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Contains(t, entry, slog.SourceKey)
}

func TestTestModeSwitch(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}
