package rbac

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEvent records one authorization decision.
type AuditEvent struct {
	ID            string
	OccurredAt    time.Time
	PrincipalID   int64
	CompanyID     int64
	Action        Action
	Resource      Resource
	Permissions   []string
	Roles         []string
	Decision      Decision
	HighPrivilege bool
}

// AuditSink receives decisions for security logging.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// LogAuditSink writes audit events through slog.
type LogAuditSink struct {
	Logger *slog.Logger
}

// Record logs denies at warn, high-privilege allows at info and the rest at debug.
func (s LogAuditSink) Record(ctx context.Context, event AuditEvent) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{
		slog.String("event_id", event.ID),
		slog.Int64("user_id", event.PrincipalID),
		slog.Int64("company_id", event.CompanyID),
		slog.String("reason", string(event.Decision.Reason)),
	}
	if event.Action != "" {
		attrs = append(attrs, slog.String("action", string(event.Action)))
	}
	if event.Resource.Kind != ResourceNone {
		attrs = append(attrs,
			slog.String("resource", string(event.Resource.Kind)),
			slog.Int64("resource_id", event.Resource.ID))
	}
	if len(event.Permissions) > 0 {
		attrs = append(attrs, slog.String("permissions", strings.Join(event.Permissions, ",")))
	}
	if len(event.Roles) > 0 {
		attrs = append(attrs, slog.String("roles", strings.Join(event.Roles, ",")))
	}
	switch {
	case !event.Decision.Allow:
		logger.LogAttrs(ctx, slog.LevelWarn, "rbac access denied", attrs...)
	case event.HighPrivilege:
		logger.LogAttrs(ctx, slog.LevelInfo, "rbac high privilege access", attrs...)
	default:
		logger.LogAttrs(ctx, slog.LevelDebug, "rbac access granted", attrs...)
	}
}

var highPrivilegeMarkers = []string{"delete", "manage", "export", "system", "admin"}

// IsHighPrivilege reports whether the required sets touch destructive or
// administrative capabilities.
func IsHighPrivilege(permissions, roles []string) bool {
	for _, p := range permissions {
		for _, marker := range highPrivilegeMarkers {
			if strings.Contains(p, marker) {
				return true
			}
		}
	}
	for _, r := range roles {
		if IsSystemRoleName(r) {
			return true
		}
		lower := strings.ToLower(r)
		if strings.Contains(lower, "admin") || strings.Contains(lower, "system") {
			return true
		}
	}
	return false
}

func newAuditEvent(req Request, d Decision, now time.Time) AuditEvent {
	event := AuditEvent{
		ID:          uuid.NewString(),
		OccurredAt:  now,
		Action:      req.Action,
		Resource:    req.Resource,
		Permissions: req.Permissions,
		Roles:       req.Roles,
		Decision:    d,
	}
	if req.Principal != nil {
		event.PrincipalID = req.Principal.ID
		event.CompanyID = req.Principal.CompanyID
	}
	event.HighPrivilege = IsHighPrivilege(req.Permissions, req.Roles)
	return event
}
