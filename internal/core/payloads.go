package core

// Queue payloads shared between producers (scheduler, API, harvester)
// and the worker-side handlers.

// ScanTask starts a scan of one target. JobID is set when the producer
// pre-created the job row (API, scheduler); empty means the handler
// creates it.
type ScanTask struct {
	JobID    string `json:"job_id,omitempty"`
	TargetID string `json:"target_id"`
}

// PartitionTask runs one fan-out slice.
type PartitionTask struct {
	PartitionID string `json:"partition_id"`
	JobID       string `json:"job_id"`
	TargetID    string `json:"target_id"`
}

// AggregateTask polls partition completion for a fan-out job and
// finalizes it; the handler re-enqueues the task until all partitions
// are terminal.
type AggregateTask struct {
	JobID    string `json:"job_id"`
	TargetID string `json:"target_id"`
}

// RescanTask re-scans a single monitored file after an observed write.
type RescanTask struct {
	TargetID string `json:"target_id"`
	FilePath string `json:"file_path"`
}
