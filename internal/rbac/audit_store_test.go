package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	args [][]any
	err  error
}

func (r *recordingExecer) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	r.args = append(r.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func TestPostgresAuditSinkStoresSecurityEvents(t *testing.T) {
	db := &recordingExecer{}
	sink := NewPostgresAuditSink(db, discardLogger())
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	principal := &Principal{ID: 4, CompanyID: 7, IsActive: true}

	sink.Record(ctx, newAuditEvent(Request{Principal: principal, Permissions: []string{"services.view"}}, Allow(ReasonGranted), now))
	require.Empty(t, db.args)

	sink.Record(ctx, newAuditEvent(Request{
		Principal: principal,
		Action:    ActionAssignRoles,
		Resource:  Resource{Kind: ResourceUser, ID: 9, RoleID: 3},
	}, Deny(ReasonCrossTenant), now))
	sink.Record(ctx, newAuditEvent(Request{Principal: principal, Permissions: []string{"users.delete"}}, Allow(ReasonGranted), now))
	require.Len(t, db.args, 2)

	denied := db.args[0]
	assert.Equal(t, now, denied[1])
	assert.Equal(t, int64(4), denied[2])
	assert.Equal(t, string(ActionAssignRoles), denied[4])
	assert.Equal(t, string(ResourceUser), denied[5])
	assert.Equal(t, false, denied[6])
	assert.Equal(t, string(ReasonCrossTenant), denied[7])
	var meta auditMeta
	require.NoError(t, json.Unmarshal(denied[9].([]byte), &meta))
	assert.Equal(t, auditMeta{ResourceID: 9, RoleID: 3}, meta)

	assert.Equal(t, true, db.args[1][8])
}

func TestPostgresAuditSinkSwallowsErrors(t *testing.T) {
	db := &recordingExecer{err: errBoom}
	sink := NewPostgresAuditSink(db, discardLogger())
	sink.Record(context.Background(), newAuditEvent(Request{Principal: &Principal{ID: 1, CompanyID: 7}}, Deny(ReasonInsufficientPrivilege), time.Now()))
	assert.Len(t, db.args, 1)

	var nilSink *PostgresAuditSink
	nilSink.Record(context.Background(), AuditEvent{})
}

func TestMultiAuditSink(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	MultiAuditSink{a, nil, b}.Record(context.Background(), AuditEvent{ID: "x"})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}
