package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/middleware"
	"github.com/openlabels/scanner/internal/queue"
)

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		TargetID uuid.UUID `json:"target_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if _, err := s.store.GetTarget(r.Context(), tenantID, req.TargetID); err != nil {
		writeDomainError(w, r, err)
		return
	}

	job := &core.ScanJob{TenantID: tenantID, TargetID: req.TargetID}
	if err := s.store.CreateScanJob(r.Context(), job); err != nil {
		writeDomainError(w, r, err)
		return
	}
	payload := core.ScanTask{JobID: job.ID.String(), TargetID: req.TargetID.String()}
	if _, err := s.queue.Enqueue(r.Context(), tenantID, queue.TaskScan, payload, queue.PriorityScheduled); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "scan.start",
		map[string]interface{}{"job_id": job.ID, "target_id": req.TargetID})
	respond(w, http.StatusAccepted, job)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	limit := queryInt(r, "limit", 50)
	jobs, err := s.store.ListScanJobs(r.Context(), tenantID, limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"scans": jobs})
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	job, err := s.store.GetScanJob(r.Context(), tenantID, id)
	if errors.Is(err, core.ErrNotFound) {
		s.store.AuditIDORAttempt(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "scan_job", id)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, job)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.CancelScanJob(r.Context(), tenantID, id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	// Fast flag so in-flight workers notice without polling Postgres.
	if s.redis != nil {
		if err := s.redis.MarkJobCancelled(r.Context(), id.String()); err != nil {
			s.logger.Printf("cancel flag for job %s failed: %v", id, err)
		}
	}
	s.store.WriteAudit(r.Context(), tenantID, middleware.ActorFrom(r.Context()), "scan.cancel",
		map[string]interface{}{"job_id": id})
	respond(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	sum, err := s.store.GetScanSummary(r.Context(), tenantID, id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, sum)
}

func (s *Server) handleRescanFile(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	var req struct {
		TargetID uuid.UUID `json:"target_id"`
		FilePath string    `json:"file_path"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.FilePath == "" {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "file_path is required")
		return
	}
	if _, err := s.store.GetTarget(r.Context(), tenantID, req.TargetID); err != nil {
		writeDomainError(w, r, err)
		return
	}
	payload := core.RescanTask{TargetID: req.TargetID.String(), FilePath: req.FilePath}
	jobID, err := s.queue.Enqueue(r.Context(), tenantID, queue.TaskRescanFile, payload, queue.PriorityRescan)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]interface{}{"queued_job_id": jobID})
}

func (s *Server) handleQueryResults(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	f := database.ResultFilter{
		RiskTier: core.RiskTier(r.URL.Query().Get("tier")),
		PathLike: r.URL.Query().Get("path"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("job_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid job_id")
			return
		}
		f.JobID = &id
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "since must be RFC3339")
			return
		}
		f.Since = &t
	}

	results, err := s.store.QueryScanResults(r.Context(), tenantID, f)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	events, err := s.store.QueryAccessEvents(r.Context(), tenantID,
		r.URL.Query().Get("path"), queryInt(r, "limit", 100))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	tenantID, _ := middleware.TenantFrom(r.Context())
	logs, err := s.store.QueryAuditLogs(r.Context(), tenantID,
		r.URL.Query().Get("action"), queryInt(r, "limit", 100), queryInt(r, "offset", 0))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"audit": logs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, running, err := s.queue.Depth(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	status := map[string]interface{}{
		"queue": map[string]int64{"pending": pending, "running": running},
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	if s.export != nil {
		status["export_sinks"] = s.export.Sinks()
	}
	status["analytics_enabled"] = s.analytics != nil
	respond(w, http.StatusOK, status)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
