package config

import (
	"encoding/json"
	"sync"
	"time"
)

// TenantSettings are the effective per-tenant scan limits after merging a
// tenant's settings blob over the process defaults. Fields map 1:1 to the
// override keys accepted in the tenant settings JSON.
type TenantSettings struct {
	MaxFileSizeMB          int  `json:"max_file_size_mb"`
	ConcurrentFiles        int  `json:"concurrent_files"`
	EnableOCR              bool `json:"enable_ocr"`
	EnableML               bool `json:"enable_ml"`
	FanoutEnabled          bool `json:"fanout_enabled"`
	FanoutThreshold        int  `json:"fanout_threshold"`
	FanoutMaxPartitions    int  `json:"fanout_max_partitions"`
	PartitionTargetSize    int  `json:"partition_target_size"`
	PipelineMaxConcurrent  int  `json:"pipeline_max_concurrent_files"`
	PipelineMemoryBudgetMB int  `json:"pipeline_memory_budget_mb"`
}

// Manager resolves effective tenant settings. Resolved settings are cached
// with a short TTL; new scans pick up updates, running scans keep the
// values they started with.
type Manager struct {
	defaults TenantDefaults

	mu    sync.RWMutex
	cache map[string]cachedSettings
}

type cachedSettings struct {
	settings TenantSettings
	expires  time.Time
}

const settingsCacheTTL = 60 * time.Second

// NewManager creates a settings manager over the process defaults.
func NewManager(defaults TenantDefaults) *Manager {
	return &Manager{defaults: defaults, cache: make(map[string]cachedSettings)}
}

// Resolve merges the tenant's raw settings blob (may be nil) over the
// defaults. The blob only needs to carry the keys it overrides.
func (m *Manager) Resolve(tenantID string, raw json.RawMessage) TenantSettings {
	m.mu.RLock()
	if c, ok := m.cache[tenantID]; ok && time.Now().Before(c.expires) {
		m.mu.RUnlock()
		return c.settings
	}
	m.mu.RUnlock()

	s := TenantSettings{
		MaxFileSizeMB:          m.defaults.MaxFileSizeMB,
		ConcurrentFiles:        m.defaults.ConcurrentFiles,
		EnableOCR:              m.defaults.EnableOCR,
		EnableML:               m.defaults.EnableML,
		FanoutEnabled:          m.defaults.FanoutEnabled,
		FanoutThreshold:        m.defaults.FanoutThreshold,
		FanoutMaxPartitions:    m.defaults.FanoutMaxPartitions,
		PartitionTargetSize:    m.defaults.PartitionTargetSize,
		PipelineMaxConcurrent:  m.defaults.PipelineMaxConcurrent,
		PipelineMemoryBudgetMB: m.defaults.PipelineMemoryBudgetMB,
	}

	if len(raw) > 0 {
		// Partial override: absent keys keep defaults. A malformed blob
		// falls back to defaults rather than blocking scans.
		var o struct {
			MaxFileSizeMB          *int  `json:"max_file_size_mb"`
			ConcurrentFiles        *int  `json:"concurrent_files"`
			EnableOCR              *bool `json:"enable_ocr"`
			EnableML               *bool `json:"enable_ml"`
			FanoutEnabled          *bool `json:"fanout_enabled"`
			FanoutThreshold        *int  `json:"fanout_threshold"`
			FanoutMaxPartitions    *int  `json:"fanout_max_partitions"`
			PartitionTargetSize    *int  `json:"partition_target_size"`
			PipelineMaxConcurrent  *int  `json:"pipeline_max_concurrent_files"`
			PipelineMemoryBudgetMB *int  `json:"pipeline_memory_budget_mb"`
		}
		if err := json.Unmarshal(raw, &o); err == nil {
			if o.MaxFileSizeMB != nil {
				s.MaxFileSizeMB = *o.MaxFileSizeMB
			}
			if o.ConcurrentFiles != nil {
				s.ConcurrentFiles = *o.ConcurrentFiles
			}
			if o.EnableOCR != nil {
				s.EnableOCR = *o.EnableOCR
			}
			if o.EnableML != nil {
				s.EnableML = *o.EnableML
			}
			if o.FanoutEnabled != nil {
				s.FanoutEnabled = *o.FanoutEnabled
			}
			if o.FanoutThreshold != nil {
				s.FanoutThreshold = *o.FanoutThreshold
			}
			if o.FanoutMaxPartitions != nil {
				s.FanoutMaxPartitions = *o.FanoutMaxPartitions
			}
			if o.PartitionTargetSize != nil {
				s.PartitionTargetSize = *o.PartitionTargetSize
			}
			if o.PipelineMaxConcurrent != nil {
				s.PipelineMaxConcurrent = *o.PipelineMaxConcurrent
			}
			if o.PipelineMemoryBudgetMB != nil {
				s.PipelineMemoryBudgetMB = *o.PipelineMemoryBudgetMB
			}
		}
	}

	m.mu.Lock()
	m.cache[tenantID] = cachedSettings{settings: s, expires: time.Now().Add(settingsCacheTTL)}
	m.mu.Unlock()
	return s
}

// Invalidate drops a tenant's cached settings (called after admin updates).
func (m *Manager) Invalidate(tenantID string) {
	m.mu.Lock()
	delete(m.cache, tenantID)
	m.mu.Unlock()
}
