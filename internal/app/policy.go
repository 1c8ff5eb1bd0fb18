package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

// policyOverlay mirrors rbac.PolicyConfig with optional fields so that only
// keys present in the file override the environment.
type policyOverlay struct {
	SuperAdminBypass             *bool    `yaml:"super_admin_bypass"`
	RestrictedRolesForSuperAdmin []string `yaml:"super_admin_restricted_roles"`
	AllowInactiveSelfView        *bool    `yaml:"allow_inactive_self_view"`
	SuperAdminCrossTenantRecords *bool    `yaml:"super_admin_cross_tenant_records"`
}

// PolicyConfig builds the policy switches from the environment and the
// optional RBAC_POLICY_FILE overlay.
func (c *Config) PolicyConfig() (rbac.PolicyConfig, error) {
	policy := rbac.PolicyConfig{
		SuperAdminBypass:             c.SuperAdminBypass,
		RestrictedRolesForSuperAdmin: trimAll(c.RestrictedRoles),
		AllowInactiveSelfView:        c.InactiveSelfView,
		SuperAdminCrossTenantRecords: c.CrossTenantRecords,
	}
	if c.PolicyFile == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(c.PolicyFile)
	if err != nil {
		return policy, fmt.Errorf("read policy file: %w", err)
	}
	return applyPolicyOverlay(policy, raw)
}

func applyPolicyOverlay(policy rbac.PolicyConfig, raw []byte) (rbac.PolicyConfig, error) {
	var overlay policyOverlay
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&overlay); err != nil && !errors.Is(err, io.EOF) {
		return policy, fmt.Errorf("parse policy file: %w", err)
	}
	if overlay.SuperAdminBypass != nil {
		policy.SuperAdminBypass = *overlay.SuperAdminBypass
	}
	if overlay.RestrictedRolesForSuperAdmin != nil {
		policy.RestrictedRolesForSuperAdmin = trimAll(overlay.RestrictedRolesForSuperAdmin)
	}
	if overlay.AllowInactiveSelfView != nil {
		policy.AllowInactiveSelfView = *overlay.AllowInactiveSelfView
	}
	if overlay.SuperAdminCrossTenantRecords != nil {
		policy.SuperAdminCrossTenantRecords = *overlay.SuperAdminCrossTenantRecords
	}
	return policy, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
