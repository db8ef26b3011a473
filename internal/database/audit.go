package database

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
)

// WriteAudit records one administrative action. Audit failures are
// logged, never propagated: they must not fail the action itself.
func (s *Store) WriteAudit(ctx context.Context, tenantID uuid.UUID, actor, action string, details map[string]interface{}) {
	var blob []byte
	if details != nil {
		blob, _ = json.Marshal(details)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, tenant_id, actor, action, details) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), tenantID, actor, action, nullableJSON(blob))
	if err != nil {
		log.Printf("[AUDIT] write failed (action=%s): %v", action, err)
	}
}

// AuditIDORAttempt records a cross-tenant access attempt so security
// monitoring can alert on it. Callers still return a uniform NOT_FOUND.
func (s *Store) AuditIDORAttempt(ctx context.Context, tenantID uuid.UUID, actor, resource string, targetID uuid.UUID) {
	s.WriteAudit(ctx, tenantID, actor, "idor_attempt", map[string]interface{}{
		"resource":  resource,
		"target_id": targetID.String(),
	})
}

// QueryAuditLogs returns a tenant's trail, newest first.
func (s *Store) QueryAuditLogs(ctx context.Context, tenantID uuid.UUID, action string, limit, offset int) ([]core.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []core.AuditLog
	q := `SELECT * FROM audit_log WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if action != "" {
		args = append(args, action)
		q += ` AND action = $2`
	}
	args = append(args, limit, offset)
	q += ` ORDER BY created_at DESC LIMIT $` + itoa(len(args)-1) + ` OFFSET $` + itoa(len(args))
	err := s.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

// AuditLogsSince feeds the catalog flush loop.
func (s *Store) AuditLogsSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]core.AuditLog, error) {
	var out []core.AuditLog
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM audit_log WHERE tenant_id = $1 AND created_at > $2
		 ORDER BY created_at LIMIT $3`, tenantID, since, limit)
	return out, err
}
