package rbac

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresAuditSink persists denies and high-privilege allows into
// authz_audit_log. Routine allows are not stored.
type PostgresAuditSink struct {
	db     execer
	logger *slog.Logger
}

// NewPostgresAuditSink constructs a sink writing through db, usually a *pgxpool.Pool.
func NewPostgresAuditSink(db execer, logger *slog.Logger) *PostgresAuditSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAuditSink{db: db, logger: logger}
}

type auditMeta struct {
	Permissions []string `json:"permissions,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	ResourceID  int64    `json:"resource_id,omitempty"`
	RoleID      int64    `json:"role_id,omitempty"`
	Bulk        bool     `json:"bulk,omitempty"`
}

// Record stores the event. Write failures are logged and never surface to
// the caller of the authorization check.
func (s *PostgresAuditSink) Record(ctx context.Context, event AuditEvent) {
	if s == nil || s.db == nil {
		return
	}
	if event.Decision.Allow && !event.HighPrivilege {
		return
	}
	meta, err := json.Marshal(auditMeta{
		Permissions: event.Permissions,
		Roles:       event.Roles,
		ResourceID:  event.Resource.ID,
		RoleID:      event.Resource.RoleID,
		Bulk:        event.Resource.Bulk,
	})
	if err != nil {
		s.logger.Warn("rbac audit encode", slog.Any("error", err))
		return
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO authz_audit_log (event_id, occurred_at, user_id, company_id, action, resource, allowed, reason, high_privilege, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.ID, event.OccurredAt, event.PrincipalID, event.CompanyID,
		string(event.Action), string(event.Resource.Kind),
		event.Decision.Allow, string(event.Decision.Reason), event.HighPrivilege, meta)
	if err != nil {
		s.logger.Warn("rbac audit persist", slog.Any("error", err), slog.String("event_id", event.ID))
	}
}

// MultiAuditSink fans one event out to several sinks in order.
type MultiAuditSink []AuditSink

// Record forwards the event to every non-nil sink.
func (m MultiAuditSink) Record(ctx context.Context, event AuditEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Record(ctx, event)
		}
	}
}
