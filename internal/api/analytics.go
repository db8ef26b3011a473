package api

import (
	"net/http"
	"time"

	"github.com/openlabels/scanner/internal/middleware"
)

// sinceParam derives the trailing window from a ?days= query, default
// 30, capped at a year.
func sinceParam(r *http.Request) time.Time {
	days := queryInt(r, "days", 30)
	if days <= 0 || days > 365 {
		days = 30
	}
	return time.Now().AddDate(0, 0, -days)
}

func (s *Server) analyticsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if s.analytics == nil {
		writeError(w, r, http.StatusServiceUnavailable, "analytics_disabled", "analytics catalog is not enabled")
		return false
	}
	return true
}

func (s *Server) handleRiskDistribution(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsEnabled(w, r) {
		return
	}
	tenantID, _ := middleware.TenantFrom(r.Context())
	out, err := s.analytics.RiskDistribution(r.Context(), tenantID.String(), sinceParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"distribution": out})
}

func (s *Server) handleEntityBreakdown(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsEnabled(w, r) {
		return
	}
	tenantID, _ := middleware.TenantFrom(r.Context())
	out, err := s.analytics.EntityBreakdown(r.Context(), tenantID.String(), sinceParam(r), queryInt(r, "limit", 20))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"breakdown": out})
}

func (s *Server) handleRiskTrend(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsEnabled(w, r) {
		return
	}
	tenantID, _ := middleware.TenantFrom(r.Context())
	out, err := s.analytics.RiskTrend(r.Context(), tenantID.String(), sinceParam(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"trend": out})
}

func (s *Server) handleTopAccessors(w http.ResponseWriter, r *http.Request) {
	if !s.analyticsEnabled(w, r) {
		return
	}
	tenantID, _ := middleware.TenantFrom(r.Context())
	out, err := s.analytics.TopAccessors(r.Context(), tenantID.String(), sinceParam(r), queryInt(r, "limit", 20))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"accessors": out})
}

func (s *Server) handleExportTest(w http.ResponseWriter, r *http.Request) {
	if s.export == nil {
		writeError(w, r, http.StatusServiceUnavailable, "export_disabled", "SIEM export is not enabled")
		return
	}
	ctx, cancel := contextWithTimeout(r, 20*time.Second)
	defer cancel()
	respond(w, http.StatusOK, map[string]interface{}{"sinks": s.export.TestSinks(ctx)})
}

func (s *Server) handleExportReplay(w http.ResponseWriter, r *http.Request) {
	if s.export == nil {
		writeError(w, r, http.StatusServiceUnavailable, "export_disabled", "SIEM export is not enabled")
		return
	}
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		Since       time.Time `json:"since"`
		RecordTypes []string  `json:"record_types"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Since.IsZero() {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "since is required")
		return
	}
	if err := s.export.ExportFull(r.Context(), req.Since, req.RecordTypes); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "export.replay",
		map[string]interface{}{"since": req.Since})
	respond(w, http.StatusOK, map[string]string{"status": "replayed"})
}
