package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/openlabels/scanner/internal/core"
)

// GetTenant returns a tenant by id, or core.ErrNotFound.
func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error) {
	var t core.Tenant
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadActiveTenant loads a tenant and rejects suspended ones.
func (s *Store) LoadActiveTenant(ctx context.Context, id uuid.UUID) (*core.Tenant, error) {
	t, err := s.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != "ACTIVE" && t.Status != "TRIAL" {
		return nil, core.NewError(core.CodeForbidden, fmt.Sprintf("tenant is %s", t.Status), nil)
	}
	return t, nil
}

// CreateTenant inserts a tenant row.
func (s *Store) CreateTenant(ctx context.Context, t *core.Tenant) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "ACTIVE"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, status, settings) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Status, nullableJSON(t.Settings))
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

// UpdateTenantSettings replaces the tenant's settings blob.
func (s *Store) UpdateTenantSettings(ctx context.Context, id uuid.UUID, settings []byte) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET settings = $2 WHERE id = $1`, id, settings)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateAPIKey mints a tenant API key of the form ols_<id>.<secret>.
// Only the bcrypt hash of the secret is stored; the full key is returned
// once and never again.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, name string) (string, error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	keyID := hex.EncodeToString(idBytes)
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_id, tenant_id, name, key_hash) VALUES ($1, $2, $3, $4)`,
		keyID, tenantID, name, string(hash))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ols_%s.%s", keyID, secret), nil
}

// ValidateAPIKey resolves an API key to its tenant. Invalid keys map to
// UNAUTHORIZED without distinguishing unknown ids from bad secrets.
func (s *Store) ValidateAPIKey(ctx context.Context, fullKey string) (uuid.UUID, error) {
	unauthorized := core.NewError(core.CodeUnauthorized, "invalid API key", nil)

	rest, ok := strings.CutPrefix(fullKey, "ols_")
	if !ok {
		return uuid.Nil, unauthorized
	}
	keyID, secret, ok := strings.Cut(rest, ".")
	if !ok {
		return uuid.Nil, unauthorized
	}

	var row struct {
		TenantID uuid.UUID `db:"tenant_id"`
		KeyHash  string    `db:"key_hash"`
		IsActive bool      `db:"is_active"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT tenant_id, key_hash, is_active FROM api_keys WHERE key_id = $1`, keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, unauthorized
	}
	if err != nil {
		return uuid.Nil, err
	}
	if !row.IsActive {
		return uuid.Nil, unauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(row.KeyHash), []byte(secret)) != nil {
		return uuid.Nil, unauthorized
	}
	return row.TenantID, nil
}

// CreateTarget inserts a scan target.
func (s *Store) CreateTarget(ctx context.Context, t *core.ScanTarget) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_targets (id, tenant_id, name, adapter_kind, config) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.TenantID, t.Name, t.AdapterKind, t.Config)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

// GetTarget returns a tenant's target. Cross-tenant ids are NOT_FOUND.
func (s *Store) GetTarget(ctx context.Context, tenantID, id uuid.UUID) (*core.ScanTarget, error) {
	var t core.ScanTarget
	err := s.db.GetContext(ctx, &t,
		`SELECT * FROM scan_targets WHERE id = $1 AND tenant_id = $2 AND NOT deleted`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTargets returns a tenant's non-deleted targets.
func (s *Store) ListTargets(ctx context.Context, tenantID uuid.UUID) ([]core.ScanTarget, error) {
	var out []core.ScanTarget
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM scan_targets WHERE tenant_id = $1 AND NOT deleted ORDER BY created_at`, tenantID)
	return out, err
}

// SoftDeleteTarget marks the target deleted; history stays queryable.
func (s *Store) SoftDeleteTarget(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_targets SET deleted = true WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateSchedule inserts a schedule.
func (s *Store) CreateSchedule(ctx context.Context, sc *core.Schedule) error {
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, tenant_id, target_id, cron_expression, enabled, next_run_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sc.ID, sc.TenantID, sc.TargetID, sc.CronExpression, sc.Enabled, sc.NextRunAt)
	return err
}

// DueSchedules returns enabled schedules whose next_run_at has passed.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]core.Schedule, error) {
	var out []core.Schedule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM schedules WHERE enabled AND next_run_at <= $1 ORDER BY next_run_at`, now)
	return out, err
}

// MarkScheduleTriggered records a trigger and the re-derived next run.
func (s *Store) MarkScheduleTriggered(ctx context.Context, id uuid.UUID, ranAt, nextRun time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run_at = $2, next_run_at = $3 WHERE id = $1`, id, ranAt, nextRun)
	return err
}

// ListSchedules returns a tenant's schedules.
func (s *Store) ListSchedules(ctx context.Context, tenantID uuid.UUID) ([]core.Schedule, error) {
	var out []core.Schedule
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM schedules WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	return out, err
}

// DeleteSchedule removes a tenant's schedule.
func (s *Store) DeleteSchedule(ctx context.Context, tenantID, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreatePolicy inserts a policy.
func (s *Store) CreatePolicy(ctx context.Context, p *core.Policy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policies (id, tenant_id, name, framework, risk_level, enabled, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.TenantID, p.Name, p.Framework, p.RiskLevel, p.Enabled, p.Config)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

// EnabledPolicies returns a tenant's enabled policies.
func (s *Store) EnabledPolicies(ctx context.Context, tenantID uuid.UUID) ([]core.Policy, error) {
	var out []core.Policy
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM policies WHERE tenant_id = $1 AND enabled ORDER BY created_at`, tenantID)
	return out, err
}

// ListPolicies returns all of a tenant's policies.
func (s *Store) ListPolicies(ctx context.Context, tenantID uuid.UUID) ([]core.Policy, error) {
	var out []core.Policy
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM policies WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	return out, err
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// pgx wraps server errors; SQLSTATE 23505 is unique_violation.
	return err != nil && strings.Contains(err.Error(), "23505")
}
