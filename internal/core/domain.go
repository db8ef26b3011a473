package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state shared by scan jobs and partitions.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ScanMode selects single-partition or fan-out execution.
type ScanMode string

const (
	ScanModeSingle ScanMode = "single"
	ScanModeFanout ScanMode = "fanout"
)

// RiskTier buckets a risk score.
type RiskTier string

const (
	TierMinimal  RiskTier = "MINIMAL"
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"
)

// ExposureLevel is the qualitative accessibility of a file, used as a
// risk multiplier.
type ExposureLevel string

const (
	ExposurePrivate  ExposureLevel = "PRIVATE"
	ExposureInternal ExposureLevel = "INTERNAL"
	ExposureOrgWide  ExposureLevel = "ORG_WIDE"
	ExposurePublic   ExposureLevel = "PUBLIC"
)

// AccessAction is the kind of file access observed by the harvester.
type AccessAction string

const (
	ActionRead   AccessAction = "read"
	ActionWrite  AccessAction = "write"
	ActionCreate AccessAction = "create"
	ActionDelete AccessAction = "delete"
	ActionRename AccessAction = "rename"
)

// Tenant is the isolation root. Every other entity carries its ID.
type Tenant struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Status    string          `db:"status" json:"status"` // ACTIVE, TRIAL, SUSPENDED
	Settings  json.RawMessage `db:"settings" json:"settings,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ScanTarget binds a tenant to one data source configuration.
type ScanTarget struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Name        string          `db:"name" json:"name"`
	AdapterKind string          `db:"adapter_kind" json:"adapter_kind"`
	Config      json.RawMessage `db:"config" json:"config"`
	Deleted     bool            `db:"deleted" json:"deleted"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ScanJob is one run against one target.
type ScanJob struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	TenantID            uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	TargetID            uuid.UUID  `db:"target_id" json:"target_id"`
	Status              JobStatus  `db:"status" json:"status"`
	ScanMode            ScanMode   `db:"scan_mode" json:"scan_mode"`
	TotalPartitions     int        `db:"total_partitions" json:"total_partitions"`
	PartitionsCompleted int        `db:"partitions_completed" json:"partitions_completed"`
	PartitionsFailed    int        `db:"partitions_failed" json:"partitions_failed"`
	FilesScanned        int64      `db:"files_scanned" json:"files_scanned"`
	FilesWithPII        int64      `db:"files_with_pii" json:"files_with_pii"`
	TotalEntities       int64      `db:"total_entities" json:"total_entities"`
	Error               string     `db:"error" json:"error,omitempty"`
	StartedAt           *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt         *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
}

// ScanPartition is one slice of work inside a fan-out job.
type ScanPartition struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	TenantID          uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	JobID             uuid.UUID       `db:"job_id" json:"job_id"`
	Index             int             `db:"partition_index" json:"partition_index"`
	Status            JobStatus       `db:"status" json:"status"`
	WorkerID          string          `db:"worker_id" json:"worker_id,omitempty"`
	Spec              json.RawMessage `db:"partition_spec" json:"partition_spec"`
	RetryCount        int             `db:"retry_count" json:"retry_count"`
	FilesScanned      int64           `db:"files_scanned" json:"files_scanned"`
	LastProcessedPath string          `db:"last_processed_path" json:"last_processed_path,omitempty"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// ScanResult is one file's verdict. Immutable after insert.
type ScanResult struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TenantID         uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	JobID            uuid.UUID       `db:"job_id" json:"job_id"`
	FilePath         string          `db:"file_path" json:"file_path"`
	FileName         string          `db:"file_name" json:"file_name"`
	FileSize         int64           `db:"file_size" json:"file_size"`
	ContentHash      string          `db:"content_hash" json:"content_hash"`
	RiskScore        float64         `db:"risk_score" json:"risk_score"`
	RiskTier         RiskTier        `db:"risk_tier" json:"risk_tier"`
	EntityCounts     json.RawMessage `db:"entity_counts" json:"entity_counts"`
	ExposureLevel    ExposureLevel   `db:"exposure_level" json:"exposure_level"`
	LabelName        string          `db:"label_name" json:"label_name,omitempty"`
	LabelAppliedAt   *time.Time      `db:"label_applied_at" json:"label_applied_at,omitempty"`
	PolicyViolations json.RawMessage `db:"policy_violations" json:"policy_violations,omitempty"`
	ScanError        string          `db:"scan_error" json:"scan_error,omitempty"`
	ScannedAt        time.Time       `db:"scanned_at" json:"scanned_at"`
}

// ScanSummary is the per-job pre-aggregate written once on completion.
type ScanSummary struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	TenantID        uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	JobID           uuid.UUID       `db:"job_id" json:"job_id"`
	FilesScanned    int64           `db:"files_scanned" json:"files_scanned"`
	FilesWithPII    int64           `db:"files_with_pii" json:"files_with_pii"`
	TotalEntities   int64           `db:"total_entities" json:"total_entities"`
	TierCounts      json.RawMessage `db:"tier_counts" json:"tier_counts"`
	TopEntityTypes  json.RawMessage `db:"top_entity_types" json:"top_entity_types"`
	LabelsApplied   int64           `db:"labels_applied" json:"labels_applied"`
	DurationSeconds float64         `db:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// Schedule drives cron-triggered scans of a target.
type Schedule struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	TenantID       uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	TargetID       uuid.UUID  `db:"target_id" json:"target_id"`
	CronExpression string     `db:"cron_expression" json:"cron_expression"`
	Enabled        bool       `db:"enabled" json:"enabled"`
	LastRunAt      *time.Time `db:"last_run_at" json:"last_run_at,omitempty"`
	NextRunAt      time.Time  `db:"next_run_at" json:"next_run_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// MonitoredFile registers a file under access auditing.
type MonitoredFile struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TenantID      uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	TargetID      uuid.UUID  `db:"target_id" json:"target_id"`
	FilePath      string     `db:"file_path" json:"file_path"`
	RescanOnWrite bool       `db:"rescan_on_write" json:"rescan_on_write"`
	LastSeenAt    *time.Time `db:"last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// FileAccessEvent is one observed access, from any provider.
type FileAccessEvent struct {
	ID          uuid.UUID    `db:"id" json:"id"`
	TenantID    uuid.UUID    `db:"tenant_id" json:"tenant_id"`
	FilePath    string       `db:"file_path" json:"file_path"`
	Action      AccessAction `db:"action" json:"action"`
	UserName    string       `db:"user_name" json:"user_name"`
	ProcessName string       `db:"process_name" json:"process_name"`
	EventTime   time.Time    `db:"event_time" json:"event_time"`
	EventSource string       `db:"event_source" json:"event_source"`
}

// AuditLog is one administrative-action trail row.
type AuditLog struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	TenantID  uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Actor     string          `db:"actor" json:"actor"`
	Action    string          `db:"action" json:"action"`
	Details   json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Policy is a tenant-scoped rule set evaluated against detection output.
type Policy struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	TenantID  uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Name      string          `db:"name" json:"name"`
	Framework string          `db:"framework" json:"framework"` // HIPAA, PCI-DSS, GDPR, ...
	RiskLevel string          `db:"risk_level" json:"risk_level"`
	Enabled   bool            `db:"enabled" json:"enabled"`
	Config    json.RawMessage `db:"config" json:"config"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// RemediationAction records one action taken in response to policy hits.
type RemediationAction struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	TenantID   uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	JobID      uuid.UUID       `db:"job_id" json:"job_id"`
	FilePath   string          `db:"file_path" json:"file_path"`
	ActionType string          `db:"action_type" json:"action_type"` // quarantine, label, notify
	Status     string          `db:"status" json:"status"`           // applied, failed, unsupported
	Details    json.RawMessage `db:"details" json:"details,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// QueuedJob is one row in the durable work queue.
type QueuedJob struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	TenantID    uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	TaskType    string          `db:"task_type" json:"task_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    int             `db:"priority" json:"priority"`
	Status      JobStatus       `db:"status" json:"status"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	RunAfter    time.Time       `db:"run_after" json:"run_after"`
	LeasedUntil *time.Time      `db:"leased_until" json:"leased_until,omitempty"`
	LeasedBy    string          `db:"leased_by" json:"leased_by,omitempty"`
	EnqueuedAt  time.Time       `db:"enqueued_at" json:"enqueued_at"`
}

// CheckpointCursor marks harvest progress of one pull provider. Events
// with event_time > Cursor have not been harvested yet.
type CheckpointCursor struct {
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Provider  string    `db:"provider" json:"provider"`
	Cursor    time.Time `db:"cursor" json:"cursor"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ExportCursor has the same semantics as CheckpointCursor, per SIEM sink.
type ExportCursor struct {
	Sink      string    `db:"sink" json:"sink"`
	Cursor    time.Time `db:"cursor" json:"cursor"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
