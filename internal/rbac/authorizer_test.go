package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *captureSink) Record(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func TestAuthorizerRecordsAuditEvents(t *testing.T) {
	f := newPolicyFixture(t, DefaultPolicyConfig())
	sink := &captureSink{}
	authz := NewAuthorizer(AuthorizerConfig{Engine: f.authz.engine, Audit: sink, Logger: discardLogger()})
	ctx := context.Background()

	_, err := authz.Authorize(ctx, &f.tech, []string{"services.delete"}, nil)
	require.NoError(t, err)
	_, err = authz.Check(ctx, Request{Principal: &f.tenant, Action: ActionUpdate, Resource: Resource{Kind: ResourceRole, ID: f.managerRole.ID}})
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	denied := sink.events[0]
	assert.NotEmpty(t, denied.ID)
	assert.Equal(t, f.tech.ID, denied.PrincipalID)
	assert.Equal(t, int64(7), denied.CompanyID)
	assert.Equal(t, Deny(ReasonInsufficientPrivilege), denied.Decision)
	assert.True(t, denied.HighPrivilege)

	granted := sink.events[1]
	assert.Equal(t, Allow(ReasonGranted), granted.Decision)
	assert.Equal(t, []string{"roles.edit"}, granted.Permissions)
	assert.False(t, granted.HighPrivilege)
	assert.NotEqual(t, denied.ID, granted.ID)
}

func TestLogAuditSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := LogAuditSink{Logger: logger}
	now := time.Now()

	sink.Record(context.Background(), newAuditEvent(Request{Principal: &Principal{ID: 1, CompanyID: 7}, Permissions: []string{"users.view"}}, Deny(ReasonCrossTenant), now))
	sink.Record(context.Background(), newAuditEvent(Request{Principal: &Principal{ID: 1, CompanyID: 7}, Permissions: []string{"users.delete"}}, Allow(ReasonGranted), now))
	sink.Record(context.Background(), newAuditEvent(Request{Principal: &Principal{ID: 1, CompanyID: 7}, Permissions: []string{"users.view"}}, Allow(ReasonGranted), now))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	levels := make([]string, 0, len(lines))
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		levels = append(levels, entry["level"].(string))
	}
	assert.Equal(t, []string{"WARN", "INFO", "DEBUG"}, levels)
	assert.Contains(t, lines[0], `"reason":"cross_tenant_denied"`)
}

func TestIsHighPrivilege(t *testing.T) {
	assert.True(t, IsHighPrivilege([]string{"roles.manage_permissions"}, nil))
	assert.True(t, IsHighPrivilege(nil, []string{RoleTenantAdmin}))
	assert.True(t, IsHighPrivilege([]string{"invoices.export"}, nil))
	assert.False(t, IsHighPrivilege([]string{"invoices.view"}, []string{RoleTechnician}))
}

func TestAuthorizerInvalidation(t *testing.T) {
	f := newPolicyFixture(t, DefaultPolicyConfig())
	cache := NewMemoryCache(64, time.Minute)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	resolver := NewResolver(f.store, cache, DefaultPolicyConfig(), discardLogger(), metrics)
	authz := NewAuthorizer(AuthorizerConfig{
		Engine:  NewEngine(resolver, f.store, DefaultPolicyConfig()),
		Cache:   cache,
		Logger:  discardLogger(),
		Metrics: metrics,
	})
	ctx := context.Background()

	_, err := authz.Authorize(ctx, &f.tech, []string{"services.view"}, nil)
	require.NoError(t, err)
	_, err = authz.Authorize(ctx, &f.manager, []string{"reports.view"}, nil)
	require.NoError(t, err)
	require.Equal(t, 4, cache.Len())

	require.NoError(t, authz.InvalidatePrincipalCache(ctx, f.tech.ID, 7))
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, authz.InvalidateAllCache(ctx))
	assert.Zero(t, cache.Len())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invalidations.WithLabelValues("principal", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.invalidations.WithLabelValues("all", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decisions.WithLabelValues("allow", string(ReasonGranted))))
}

func TestAuthorizerInvalidationFailure(t *testing.T) {
	f := newPolicyFixture(t, DefaultPolicyConfig())
	authz := NewAuthorizer(AuthorizerConfig{Engine: f.authz.engine, Cache: &failingCache{}, Logger: discardLogger()})

	assert.ErrorIs(t, authz.InvalidatePrincipalCache(context.Background(), 1, 7), errBoom)
	assert.ErrorIs(t, authz.InvalidateAllCache(context.Background()), errBoom)
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, PrincipalFromContext(context.Background()))
	p := &Principal{ID: 3, CompanyID: 7, IsActive: true}
	assert.Same(t, p, PrincipalFromContext(ContextWithPrincipal(context.Background(), p)))
}
