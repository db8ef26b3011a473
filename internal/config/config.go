package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the process-wide configuration, loaded once at startup and
// passed by reference into every component.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Redis      RedisConfig      `yaml:"redis"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	SIEMExport SIEMExportConfig `yaml:"siem_export"`
	Harvester  HarvesterConfig  `yaml:"harvester"`
	Worker     WorkerConfig     `yaml:"worker"`
	Detection  DetectionConfig  `yaml:"detection"`
	Tenants    TenantDefaults   `yaml:"tenant_defaults"`
}

type DatabaseConfig struct {
	URL         string `yaml:"url"`
	PoolSize    int    `yaml:"pool_size"`
	MaxOverflow int    `yaml:"max_overflow"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Debug       bool   `yaml:"debug"`
	Environment string `yaml:"environment"`
	SecretKey   string `yaml:"secret_key"`
}

type AuthConfig struct {
	Provider string     `yaml:"provider"` // azure_ad, oidc, none
	TenantID string     `yaml:"tenant_id"`
	ClientID string     `yaml:"client_id"`
	OIDC     OIDCConfig `yaml:"oidc"`
}

type OIDCConfig struct {
	DiscoveryURL string `yaml:"discovery_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CatalogConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Backend              string `yaml:"backend"` // local, s3, azure, gcs
	LocalPath            string `yaml:"local_path"`
	Compression          string `yaml:"compression"`
	EventFlushIntervalS  int    `yaml:"event_flush_interval_seconds"`
	DuckDBMemoryLimit    string `yaml:"duckdb_memory_limit"`
	DuckDBThreads        int    `yaml:"duckdb_threads"`
	CompactionMinFiles   int    `yaml:"compaction_min_files"`
	CompactionCron       string `yaml:"compaction_cron"`
}

type SchedulerConfig struct {
	Enabled            bool `yaml:"enabled"`
	PollIntervalS      int  `yaml:"poll_interval"`
	MinTriggerInterval int  `yaml:"min_trigger_interval"`
}

type RateLimitConfig struct {
	Enabled   bool `yaml:"enabled"`
	AuthLimit int  `yaml:"auth_limit"` // requests/min on auth endpoints
	APILimit  int  `yaml:"api_limit"`  // requests/min per tenant on the API
}

type SIEMExportConfig struct {
	Enabled           bool           `yaml:"enabled"`
	Mode              string         `yaml:"mode"` // post_scan, periodic, both
	PeriodicIntervalS int            `yaml:"periodic_interval_seconds"`
	RecordTypes       []string       `yaml:"export_record_types"`
	Splunk            SplunkConfig   `yaml:"splunk"`
	Sentinel          SentinelConfig `yaml:"sentinel"`
	QRadar            QRadarConfig   `yaml:"qradar"`
	Elastic           ElasticConfig  `yaml:"elastic"`
	SyslogCEF         SyslogConfig   `yaml:"syslog_cef"`
}

type SplunkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HECURL     string `yaml:"hec_url"`
	Token      string `yaml:"token"`
	Index      string `yaml:"index"`
	SourceType string `yaml:"sourcetype"`
}

type SentinelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	WorkspaceID string `yaml:"workspace_id"`
	SharedKey   string `yaml:"shared_key"`
	LogType     string `yaml:"log_type"`
}

type QRadarConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Proto   string `yaml:"protocol"` // tcp, udp
	UseTLS  bool   `yaml:"use_tls"`
}

type ElasticConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	IndexPrefix string `yaml:"index_prefix"`
}

type SyslogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Proto   string `yaml:"protocol"`
}

type HarvesterConfig struct {
	Enabled          bool   `yaml:"enabled"`
	HarvestIntervalS int    `yaml:"harvest_interval"`
	FlushIntervalS   int    `yaml:"flush_interval"`
	BatchSize        int    `yaml:"batch_size"`
	MaxBufferSize    int    `yaml:"max_buffer_size"`
	AuditdLogPath    string `yaml:"auditd_log_path"`
	PubSubProject    string `yaml:"pubsub_project"`
	PubSubSub        string `yaml:"pubsub_subscription"`
}

type WorkerConfig struct {
	Concurrency   int `yaml:"concurrency"`
	LeaseTTLS     int `yaml:"lease_ttl_seconds"`
	HeartbeatS    int `yaml:"heartbeat_seconds"`
	ReclaimEveryS int `yaml:"reclaim_interval_seconds"`
}

type DetectionConfig struct {
	MLEndpoint  string `yaml:"ml_endpoint"`
	MLTimeoutS  int    `yaml:"ml_timeout_seconds"`
	OCRTimeoutS int    `yaml:"ocr_timeout_seconds"`
}

// TenantDefaults are the per-tenant settings used when a tenant has no
// override in its settings blob.
type TenantDefaults struct {
	MaxFileSizeMB          int  `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	ConcurrentFiles        int  `yaml:"concurrent_files" json:"concurrent_files"`
	EnableOCR              bool `yaml:"enable_ocr" json:"enable_ocr"`
	EnableML               bool `yaml:"enable_ml" json:"enable_ml"`
	FanoutEnabled          bool `yaml:"fanout_enabled" json:"fanout_enabled"`
	FanoutThreshold        int  `yaml:"fanout_threshold" json:"fanout_threshold"`
	FanoutMaxPartitions    int  `yaml:"fanout_max_partitions" json:"fanout_max_partitions"`
	PartitionTargetSize    int  `yaml:"partition_target_size" json:"partition_target_size"`
	PipelineMaxConcurrent  int  `yaml:"pipeline_max_concurrent_files" json:"pipeline_max_concurrent_files"`
	PipelineMemoryBudgetMB int  `yaml:"pipeline_memory_budget_mb" json:"pipeline_memory_budget_mb"`
}

// Load reads the yaml config at path and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Database:  DatabaseConfig{PoolSize: 10, MaxOverflow: 5},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8080, Environment: "development"},
		Auth:      AuthConfig{Provider: "none"},
		Catalog:   CatalogConfig{Backend: "local", LocalPath: "./catalog", Compression: "zstd", EventFlushIntervalS: 300, DuckDBMemoryLimit: "1GB", DuckDBThreads: 2, CompactionMinFiles: 8},
		Scheduler: SchedulerConfig{Enabled: true, PollIntervalS: 10, MinTriggerInterval: 60},
		RateLimit: RateLimitConfig{Enabled: true, AuthLimit: 20, APILimit: 300},
		SIEMExport: SIEMExportConfig{
			Mode:              "periodic",
			PeriodicIntervalS: 300,
			RecordTypes:       []string{"scan_results", "file_access_events"},
		},
		Harvester: HarvesterConfig{HarvestIntervalS: 60, FlushIntervalS: 5, BatchSize: 500, MaxBufferSize: 50000, AuditdLogPath: "/var/log/audit/audit.log"},
		Worker:    WorkerConfig{Concurrency: 4, LeaseTTLS: 120, HeartbeatS: 30, ReclaimEveryS: 60},
		Detection: DetectionConfig{MLTimeoutS: 30, OCRTimeoutS: 60},
		Tenants: TenantDefaults{
			MaxFileSizeMB:          100,
			ConcurrentFiles:        8,
			EnableML:               true,
			FanoutEnabled:          true,
			FanoutThreshold:        10000,
			FanoutMaxPartitions:    32,
			PartitionTargetSize:    5000,
			PipelineMaxConcurrent:  8,
			PipelineMemoryBudgetMB: 512,
		},
	}
}

// Validate rejects configurations the process cannot run with.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Auth.Provider {
	case "azure_ad", "oidc", "none":
	default:
		return fmt.Errorf("auth.provider must be azure_ad, oidc or none, got %q", c.Auth.Provider)
	}
	switch c.SIEMExport.Mode {
	case "", "post_scan", "periodic", "both":
	default:
		return fmt.Errorf("siem_export.mode must be post_scan, periodic or both, got %q", c.SIEMExport.Mode)
	}
	return nil
}

// FlushInterval returns the catalog flush interval as a duration.
func (c CatalogConfig) FlushInterval() time.Duration {
	return time.Duration(c.EventFlushIntervalS) * time.Second
}

// applyEnv overrides config fields from the environment. Only the knobs
// that differ per deployment are exposed; everything else is yaml-only.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("SERVER_SECRET_KEY"); v != "" {
		cfg.Server.SecretKey = v
	}
	if v := os.Getenv("SPLUNK_HEC_TOKEN"); v != "" {
		cfg.SIEMExport.Splunk.Token = v
	}
	if v := os.Getenv("SENTINEL_SHARED_KEY"); v != "" {
		cfg.SIEMExport.Sentinel.SharedKey = v
	}
	if v := os.Getenv("ELASTIC_API_KEY"); v != "" {
		cfg.SIEMExport.Elastic.APIKey = v
	}
	if v := os.Getenv("ML_ENDPOINT"); v != "" {
		cfg.Detection.MLEndpoint = v
	}
}
