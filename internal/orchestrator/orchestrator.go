// Package orchestrator runs scans end to end: it decides single versus
// fan-out execution, drives the per-file pipeline with back-pressure,
// and finalizes jobs with a summary. All entry points are queue task
// handlers; the API and scheduler only enqueue.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/adapters"
	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/core"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/detect"
	"github.com/openlabels/scanner/internal/labels"
	"github.com/openlabels/scanner/internal/monitoring"
	"github.com/openlabels/scanner/internal/queue"
)

// aggregatePollInterval is the delay between aggregator polls of a
// fan-out job's partitions.
const aggregatePollInterval = 15 * time.Second

// maxPartitionRetries bounds per-partition retry before the partition
// is declared failed.
const maxPartitionRetries = 3

// PostScanHook runs after a job reaches a terminal state, used to wire
// post-scan SIEM export without an import cycle.
type PostScanHook func(ctx context.Context, tenantID, jobID uuid.UUID)

// Orchestrator owns the scan task handlers.
type Orchestrator struct {
	store    *database.Store
	redis    *database.RedisStore
	queue    *queue.Queue
	pipeline *detect.Pipeline
	settings *config.Manager
	labels   labels.Applier
	postScan PostScanHook
	logger   *log.Logger
}

// New wires an orchestrator. redis and postScan may be nil.
func New(store *database.Store, redis *database.RedisStore, q *queue.Queue, pipeline *detect.Pipeline, settings *config.Manager, applier labels.Applier, postScan PostScanHook) *Orchestrator {
	return &Orchestrator{
		store:    store,
		redis:    redis,
		queue:    q,
		pipeline: pipeline,
		settings: settings,
		labels:   applier,
		postScan: postScan,
		logger:   log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
	}
}

// RegisterHandlers binds the scan task types onto the worker pool.
func (o *Orchestrator) RegisterHandlers(pool *queue.WorkerPool) {
	pool.Register(queue.TaskScan, o.handleScan)
	pool.Register(queue.TaskScanPartition, o.handleScanPartition)
	pool.Register(queue.TaskScanAggregate, o.handleScanAggregate)
	pool.Register(queue.TaskRescanFile, o.handleRescanFile)
}

// handleScan starts a scan job: estimate the target, then either run it
// inline (single mode) or fan out partitions and hand off to the
// aggregator.
func (o *Orchestrator) handleScan(ctx context.Context, job *core.QueuedJob) error {
	var task core.ScanTask
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return core.Permanent("malformed scan payload", err)
	}
	targetID, err := uuid.Parse(task.TargetID)
	if err != nil {
		return core.Permanent("bad target id", err)
	}

	env, err := o.prepare(ctx, job.TenantID, targetID)
	if err != nil {
		return err
	}

	jobID, err := o.ensureJob(ctx, job.TenantID, targetID, task.JobID)
	if err != nil {
		return err
	}

	// Bounded estimate: enumerate at most threshold+1 files.
	estCtx, cancelEst := context.WithCancel(ctx)
	est, err := estimate(estCtx, env.adapter, env.settings.FanoutThreshold)
	cancelEst()
	if err != nil {
		o.failJob(ctx, job.TenantID, jobID, err)
		return nil
	}

	fanout := env.settings.FanoutEnabled && est.exceeded
	if !fanout {
		return o.runSingle(ctx, env, job.TenantID, jobID)
	}

	specs := planPartitions(est, env.settings.FanoutMaxPartitions, env.settings.PartitionTargetSize)
	started, err := o.store.StartScanJob(ctx, jobID, core.ScanModeFanout, len(specs))
	if err != nil {
		return core.Transient("job start failed", err)
	}
	if !started {
		o.logger.Printf("job %s no longer pending, skipping", jobID)
		return nil
	}

	parts := make([]core.ScanPartition, len(specs))
	for i, spec := range specs {
		parts[i] = core.ScanPartition{
			TenantID: job.TenantID,
			JobID:    jobID,
			Index:    i,
			Spec:     mustJSON(spec),
		}
	}
	if err := o.store.CreatePartitions(ctx, parts); err != nil {
		return core.Transient("partition create failed", err)
	}
	for _, p := range parts {
		payload := core.PartitionTask{PartitionID: p.ID.String(), JobID: jobID.String(), TargetID: targetID.String()}
		if _, err := o.queue.Enqueue(ctx, job.TenantID, queue.TaskScanPartition, payload, queue.PriorityScheduled); err != nil {
			return core.Transient("partition enqueue failed", err)
		}
	}
	agg := core.AggregateTask{JobID: jobID.String(), TargetID: targetID.String()}
	if _, err := o.queue.EnqueueAfter(ctx, job.TenantID, queue.TaskScanAggregate, agg, queue.PriorityScheduled, time.Now().Add(aggregatePollInterval)); err != nil {
		return core.Transient("aggregate enqueue failed", err)
	}
	o.logger.Printf("job %s fanned out into %d partitions", jobID, len(parts))
	return nil
}

// runSingle executes the whole target inline in this worker.
func (o *Orchestrator) runSingle(ctx context.Context, env *scanEnv, tenantID, jobID uuid.UUID) error {
	started, err := o.store.StartScanJob(ctx, jobID, core.ScanModeSingle, 1)
	if err != nil {
		return core.Transient("job start failed", err)
	}
	if !started {
		o.logger.Printf("job %s no longer pending, skipping", jobID)
		return nil
	}

	begin := time.Now()
	stats, err := o.runScan(ctx, scanRun{
		tenantID:     tenantID,
		jobID:        jobID,
		adapter:      env.adapter,
		concurrency:  env.settings.PipelineMaxConcurrent,
		memoryBudget: int64(env.settings.PipelineMemoryBudgetMB) << 20,
		policies:     env.policies,
	})
	switch {
	case err == errCancelled:
		o.logger.Printf("job %s cancelled after %d files", jobID, stats.FilesScanned)
		o.finalize(ctx, tenantID, jobID, core.StatusCancelled, "", begin)
		return nil
	case err != nil:
		o.failJob(ctx, tenantID, jobID, err)
		return nil
	}
	o.finalize(ctx, tenantID, jobID, core.StatusCompleted, "", begin)
	o.logger.Printf("job %s completed: %d files, %d with findings", jobID, stats.FilesScanned, stats.FilesWithPII)
	return nil
}

// handleScanPartition runs one fan-out slice, resuming from the saved
// cursor on retry.
func (o *Orchestrator) handleScanPartition(ctx context.Context, job *core.QueuedJob) error {
	var task core.PartitionTask
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return core.Permanent("malformed partition payload", err)
	}
	partitionID, err := uuid.Parse(task.PartitionID)
	if err != nil {
		return core.Permanent("bad partition id", err)
	}
	targetID, err := uuid.Parse(task.TargetID)
	if err != nil {
		return core.Permanent("bad target id", err)
	}

	part, err := o.store.GetPartition(ctx, partitionID)
	if err != nil {
		return core.Permanent("partition load failed", err)
	}
	if part.Status.Terminal() {
		return nil
	}

	env, err := o.prepare(ctx, job.TenantID, targetID)
	if err != nil {
		return err
	}
	var spec PartitionSpec
	if err := json.Unmarshal(part.Spec, &spec); err != nil {
		return core.Permanent("malformed partition spec", err)
	}

	if err := o.store.StartPartition(ctx, partitionID, job.LeasedBy); err != nil {
		return core.Transient("partition start failed", err)
	}

	stats, err := o.runScan(ctx, scanRun{
		tenantID:     job.TenantID,
		jobID:        part.JobID,
		adapter:      env.adapter,
		filter:       spec.Match,
		partitionID:  partitionID,
		startCursor:  part.LastProcessedPath,
		concurrency:  env.settings.PipelineMaxConcurrent,
		memoryBudget: int64(env.settings.PipelineMemoryBudgetMB) << 20,
		policies:     env.policies,
	})
	switch {
	case err == errCancelled:
		return o.store.FinishPartition(ctx, partitionID, core.StatusCancelled, stats.FilesScanned)
	case err != nil:
		if part.RetryCount < maxPartitionRetries {
			if bumpErr := o.store.BumpPartitionRetry(ctx, partitionID); bumpErr != nil {
				return core.Transient("partition retry bump failed", bumpErr)
			}
			return core.Transient(fmt.Sprintf("partition %d attempt %d failed", part.Index, part.RetryCount+1), err)
		}
		o.logger.Printf("partition %s exhausted retries: %v", partitionID, err)
		return o.store.FinishPartition(ctx, partitionID, core.StatusFailed, stats.FilesScanned)
	}
	return o.store.FinishPartition(ctx, partitionID, core.StatusCompleted, stats.FilesScanned)
}

// handleScanAggregate polls partition status and re-enqueues itself
// until every partition is terminal, then finalizes the job. Completion
// with some failed partitions is still completion; the counts are on
// the job row.
func (o *Orchestrator) handleScanAggregate(ctx context.Context, job *core.QueuedJob) error {
	var task core.AggregateTask
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return core.Permanent("malformed aggregate payload", err)
	}
	jobID, err := uuid.Parse(task.JobID)
	if err != nil {
		return core.Permanent("bad job id", err)
	}

	scanJob, err := o.store.GetScanJob(ctx, job.TenantID, jobID)
	if err != nil {
		return core.Permanent("job load failed", err)
	}
	if scanJob.Status.Terminal() {
		return nil
	}

	completed, failed, total, err := o.store.PartitionStats(ctx, jobID)
	if err != nil {
		return core.Transient("partition stats failed", err)
	}
	if completed+failed < total {
		if _, err := o.queue.EnqueueAfter(ctx, job.TenantID, queue.TaskScanAggregate, task, queue.PriorityScheduled, time.Now().Add(aggregatePollInterval)); err != nil {
			return core.Transient("aggregate re-enqueue failed", err)
		}
		return nil
	}

	status := core.StatusCompleted
	var errMsg string
	if completed == 0 && failed > 0 {
		status = core.StatusFailed
		errMsg = fmt.Sprintf("all %d partitions failed", failed)
	}
	begin := scanJob.CreatedAt
	if scanJob.StartedAt != nil {
		begin = *scanJob.StartedAt
	}
	o.finalize(ctx, job.TenantID, jobID, status, errMsg, begin)
	o.logger.Printf("job %s aggregated: %d/%d partitions completed, %d failed", jobID, completed, total, failed)
	return nil
}

// handleRescanFile scans a single monitored file after an observed
// write. It gets its own job row for traceability.
func (o *Orchestrator) handleRescanFile(ctx context.Context, job *core.QueuedJob) error {
	var task core.RescanTask
	if err := json.Unmarshal(job.Payload, &task); err != nil {
		return core.Permanent("malformed rescan payload", err)
	}
	targetID, err := uuid.Parse(task.TargetID)
	if err != nil {
		return core.Permanent("bad target id", err)
	}

	env, err := o.prepare(ctx, job.TenantID, targetID)
	if err != nil {
		return err
	}

	scanJob := &core.ScanJob{TenantID: job.TenantID, TargetID: targetID}
	if err := o.store.CreateScanJob(ctx, scanJob); err != nil {
		return core.Transient("rescan job create failed", err)
	}
	if _, err := o.store.StartScanJob(ctx, scanJob.ID, core.ScanModeSingle, 1); err != nil {
		return core.Transient("rescan job start failed", err)
	}

	begin := time.Now()
	fi, err := env.adapter.Metadata(ctx, adapters.FileInfo{Path: task.FilePath})
	if err != nil {
		o.failJob(ctx, job.TenantID, scanJob.ID, err)
		return nil
	}
	run := scanRun{
		tenantID: job.TenantID,
		jobID:    scanJob.ID,
		adapter:  env.adapter,
		policies: env.policies,
	}
	result := o.scanFile(ctx, run, fi)
	if err := o.store.InsertScanResults(ctx, []core.ScanResult{result}); err != nil {
		return core.Transient("rescan result insert failed", err)
	}
	withPII := int64(0)
	if result.ScanError == "" && string(result.EntityCounts) != "{}" {
		withPII = 1
	}
	if err := o.store.AddJobCounters(ctx, scanJob.ID, 1, withPII, entityTotal(result.EntityCounts)); err != nil {
		return core.Transient("rescan counter update failed", err)
	}
	o.finalize(ctx, job.TenantID, scanJob.ID, core.StatusCompleted, "", begin)
	return nil
}

// scanEnv is the per-run bundle resolved from tenant and target.
type scanEnv struct {
	adapter  adapters.StorageAdapter
	settings config.TenantSettings
	policies []core.Policy
}

// prepare loads the tenant, resolves settings, builds the adapter and
// fetches enabled policies. Suspended tenants abort permanently.
func (o *Orchestrator) prepare(ctx context.Context, tenantID, targetID uuid.UUID) (*scanEnv, error) {
	tenant, err := o.store.LoadActiveTenant(ctx, tenantID)
	if err != nil {
		return nil, core.Permanent("tenant not active", err)
	}
	target, err := o.store.GetTarget(ctx, tenantID, targetID)
	if err != nil {
		return nil, core.Permanent("target load failed", err)
	}
	settings := o.settings.Resolve(tenantID.String(), tenant.Settings)

	cfg, err := adapters.ParseConfig(target.AdapterKind, target.Config)
	if err != nil {
		return nil, err
	}
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = settings.MaxFileSizeMB
	}
	adapter, err := adapters.Build(cfg)
	if err != nil {
		return nil, err
	}

	policies, err := o.store.EnabledPolicies(ctx, tenantID)
	if err != nil {
		return nil, core.Transient("policy load failed", err)
	}
	return &scanEnv{adapter: adapter, settings: settings, policies: policies}, nil
}

// ensureJob resolves or creates the job row for a scan task.
func (o *Orchestrator) ensureJob(ctx context.Context, tenantID, targetID uuid.UUID, jobID string) (uuid.UUID, error) {
	if jobID != "" {
		id, err := uuid.Parse(jobID)
		if err != nil {
			return uuid.Nil, core.Permanent("bad job id", err)
		}
		return id, nil
	}
	job := &core.ScanJob{TenantID: tenantID, TargetID: targetID}
	if err := o.store.CreateScanJob(ctx, job); err != nil {
		return uuid.Nil, core.Transient("job create failed", err)
	}
	return job.ID, nil
}

// finalize writes the terminal status, the summary and fires the
// post-scan hook.
func (o *Orchestrator) finalize(ctx context.Context, tenantID, jobID uuid.UUID, status core.JobStatus, errMsg string, begin time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.FinishScanJob(ctx, jobID, status, errMsg); err != nil {
		o.logger.Printf("job %s finish failed: %v", jobID, err)
	}
	monitoring.ScanJobDuration.WithLabelValues("scan").Observe(time.Since(begin).Seconds())

	if status == core.StatusCompleted {
		if err := o.writeSummary(ctx, tenantID, jobID, time.Since(begin)); err != nil {
			o.logger.Printf("job %s summary failed: %v", jobID, err)
		}
	}
	if o.postScan != nil {
		o.postScan(ctx, tenantID, jobID)
	}
}

func (o *Orchestrator) failJob(ctx context.Context, tenantID, jobID uuid.UUID, cause error) {
	o.logger.Printf("job %s failed: %v", jobID, cause)
	o.finalizeFailed(ctx, tenantID, jobID, cause.Error())
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, tenantID, jobID uuid.UUID, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.FinishScanJob(ctx, jobID, core.StatusFailed, errMsg); err != nil {
		o.logger.Printf("job %s finish failed: %v", jobID, err)
	}
}

// writeSummary computes and persists the per-job aggregate. Idempotent:
// a second aggregator run hits the job_id unique constraint and no-ops.
func (o *Orchestrator) writeSummary(ctx context.Context, tenantID, jobID uuid.UUID, elapsed time.Duration) error {
	rollup, err := o.store.ComputeJobRollup(ctx, tenantID, jobID)
	if err != nil {
		return err
	}
	return o.store.WriteScanSummary(ctx, &core.ScanSummary{
		TenantID:        tenantID,
		JobID:           jobID,
		FilesScanned:    rollup.FilesScanned,
		FilesWithPII:    rollup.FilesWithPII,
		TotalEntities:   rollup.TotalEntities,
		TierCounts:      mustJSON(rollup.TierCounts),
		TopEntityTypes:  mustJSON(rollup.TopTypes),
		LabelsApplied:   rollup.LabelsApplied,
		DurationSeconds: elapsed.Seconds(),
	})
}
