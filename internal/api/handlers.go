package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openlabels/scanner/internal/adapters"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/middleware"
)

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string          `json:"name"`
		Status   string          `json:"status"`
		Settings json.RawMessage `json:"settings"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}

	tenant := &core.Tenant{Name: req.Name, Status: req.Status, Settings: req.Settings}
	if err := s.store.CreateTenant(r.Context(), tenant); err != nil {
		writeDomainError(w, r, err)
		return
	}
	key, err := s.store.CreateAPIKey(r.Context(), tenant.ID, "bootstrap")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenant.ID, "admin", "tenant.create", map[string]interface{}{"name": tenant.Name})
	respond(w, http.StatusCreated, map[string]interface{}{
		"tenant":  tenant,
		"api_key": key,
	})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	tenant, err := s.store.GetTenant(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, tenant)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var settings json.RawMessage
	if err := decodeBody(r, &settings); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.UpdateTenantSettings(r.Context(), tenantID, settings); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "tenant.settings.update", nil)
	respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Name == "" {
		req.Name = "unnamed"
	}
	key, err := s.store.CreateAPIKey(r.Context(), tenantID, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "apikey.create", map[string]interface{}{"name": req.Name})
	respond(w, http.StatusCreated, map[string]string{"api_key": key})
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		Name        string          `json:"name"`
		AdapterKind string          `json:"adapter_kind"`
		Config      json.RawMessage `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Name == "" || req.AdapterKind == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "name and adapter_kind are required")
		return
	}
	// Reject configs the adapter layer cannot build before persisting.
	cfg, err := adapters.ParseConfig(req.AdapterKind, req.Config)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := adapters.Build(cfg); err != nil {
		writeDomainError(w, r, err)
		return
	}

	target := &core.ScanTarget{
		TenantID:    tenantID,
		Name:        req.Name,
		AdapterKind: req.AdapterKind,
		Config:      req.Config,
	}
	if err := s.store.CreateTarget(r.Context(), target); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "target.create",
		map[string]interface{}{"target_id": target.ID, "adapter_kind": req.AdapterKind})
	respond(w, http.StatusCreated, target)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	targets, err := s.store.ListTargets(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"targets": targets})
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	target, err := s.store.GetTarget(r.Context(), tenantID, id)
	if errors.Is(err, core.ErrNotFound) {
		s.store.AuditIDORAttempt(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "target", id)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, target)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.SoftDeleteTarget(r.Context(), tenantID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "target.delete",
		map[string]interface{}{"target_id": id})
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTestTarget(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	target, err := s.store.GetTarget(r.Context(), tenantID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	cfg, err := adapters.ParseConfig(target.AdapterKind, target.Config)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	adapter, err := adapters.Build(cfg)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	testCtx, cancel := contextWithTimeout(r, 15*time.Second)
	defer cancel()
	if err := adapter.TestConnection(testCtx); err != nil {
		respond(w, http.StatusOK, map[string]interface{}{"reachable": false, "error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"reachable": true})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		TargetID       uuid.UUID `json:"target_id"`
		CronExpression string    `json:"cron_expression"`
		Enabled        *bool     `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := s.store.GetTarget(r.Context(), tenantID, req.TargetID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	next, err := s.sched.Next(req.CronExpression, time.Now())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched := &core.Schedule{
		TenantID:       tenantID,
		TargetID:       req.TargetID,
		CronExpression: req.CronExpression,
		Enabled:        enabled,
		NextRunAt:      next,
	}
	if err := s.store.CreateSchedule(r.Context(), sched); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "schedule.create",
		map[string]interface{}{"schedule_id": sched.ID, "cron": req.CronExpression})
	respond(w, http.StatusCreated, sched)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	schedules, err := s.store.ListSchedules(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"schedules": schedules})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), tenantID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "schedule.delete",
		map[string]interface{}{"schedule_id": id})
	respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		Name      string          `json:"name"`
		Framework string          `json:"framework"`
		RiskLevel string          `json:"risk_level"`
		Enabled   *bool           `json:"enabled"`
		Config    json.RawMessage `json:"config"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "name is required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	policy := &core.Policy{
		TenantID:  tenantID,
		Name:      req.Name,
		Framework: req.Framework,
		RiskLevel: req.RiskLevel,
		Enabled:   enabled,
		Config:    req.Config,
	}
	if err := s.store.CreatePolicy(r.Context(), policy); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "policy.create",
		map[string]interface{}{"policy_id": policy.ID, "framework": req.Framework})
	respond(w, http.StatusCreated, policy)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	policies, err := s.store.ListPolicies(r.Context(), tenantID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"policies": policies})
}

func (s *Server) handleRegisterMonitored(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		TargetID      uuid.UUID `json:"target_id"`
		FilePath      string    `json:"file_path"`
		RescanOnWrite bool      `json:"rescan_on_write"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.FilePath == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "file_path is required")
		return
	}
	m := &core.MonitoredFile{
		TenantID:      tenantID,
		TargetID:      req.TargetID,
		FilePath:      req.FilePath,
		RescanOnWrite: req.RescanOnWrite,
	}
	if err := s.store.RegisterMonitoredFile(r.Context(), m); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "monitored.register",
		map[string]interface{}{"file_path": req.FilePath})
	respond(w, http.StatusCreated, m)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, core.NewError(core.CodeValidation, "invalid id", err)
	}
	return id, nil
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
