// Package config loads hull-sql configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hull-ships/hull-sql-sub000/internal/connector/minio"
	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/logging"
	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
	"github.com/hull-ships/hull-sql-sub000/internal/statestore"
)

// Config is the full process configuration.
type Config struct {
	Connector ConnectorConfig   `yaml:"connector"`
	Source    endpoint.Settings `yaml:"source"`
	Query     QueryConfig       `yaml:"query"`
	Sync      SyncConfig        `yaml:"sync"`
	Sink      minio.Config      `yaml:"sink"`
	Tunnel    TunnelConfig      `yaml:"tunnel"`
	State     statestore.Config `yaml:"state"`
	Jobs      JobsConfig        `yaml:"jobs"`
	Temporal  TemporalConfig    `yaml:"temporal"`
	Metrics   MetricsConfig     `yaml:"metrics"`
	GRPC      GRPCConfig        `yaml:"grpc"`
	Log       logging.Config    `yaml:"log"`
}

// ConnectorConfig identifies the connector towards the organization API.
type ConnectorConfig struct {
	ID           string `yaml:"id"`
	Secret       string `yaml:"secret"`
	Organization string `yaml:"organization"` // base URL of the organization API
	Name         string `yaml:"name"`
}

type QueryConfig struct {
	SQL        string `yaml:"sql"`
	ImportType string `yaml:"import_type"`
	Comments   string `yaml:"comments"` // strip or validate
}

type SyncConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	ProgressInterval  int           `yaml:"progress_interval"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	QueueSize         int           `yaml:"queue_size"`
	SinkFailurePolicy string        `yaml:"sink_failure_policy"`
	ImportDays        int           `yaml:"import_days"`
	Overwrite         bool          `yaml:"overwrite"`
	PreviewLimit      int           `yaml:"preview_limit"`
	QueryTimeout      time.Duration `yaml:"query_timeout"`
}

type TunnelConfig struct {
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`
}

type JobsConfig struct {
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type TemporalConfig struct {
	HostPort         string        `yaml:"host_port"`
	Namespace        string        `yaml:"namespace"`
	TaskQueue        string        `yaml:"task_queue"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	ScheduleEvery    time.Duration `yaml:"schedule_every"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type GRPCConfig struct {
	Port int `yaml:"port"`
}

// Load reads path (optional), applies HULL_SQL_* environment overrides and
// defaults, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Connector.ID = getEnv("HULL_SQL_CONNECTOR_ID", c.Connector.ID)
	c.Connector.Secret = getEnv("HULL_SQL_CONNECTOR_SECRET", c.Connector.Secret)
	c.Connector.Organization = getEnv("HULL_SQL_ORGANIZATION", c.Connector.Organization)

	c.Source.Password = getEnv("HULL_SQL_SOURCE_PASSWORD", c.Source.Password)
	c.Source.SSHPrivateKey = getEnv("HULL_SQL_SSH_PRIVATE_KEY", c.Source.SSHPrivateKey)

	c.Sink.EndpointURL = getEnv("HULL_SQL_SINK_ENDPOINT", c.Sink.EndpointURL)
	c.Sink.AccessKeyID = getEnv("HULL_SQL_SINK_ACCESS_KEY_ID", c.Sink.AccessKeyID)
	c.Sink.SecretAccessKey = getEnv("HULL_SQL_SINK_SECRET_ACCESS_KEY", c.Sink.SecretAccessKey)

	c.State.DSN = getEnv("HULL_SQL_STATE_DSN", c.State.DSN)

	c.Temporal.HostPort = getEnv("HULL_SQL_TEMPORAL_HOST", c.Temporal.HostPort)
	c.Temporal.Namespace = getEnv("HULL_SQL_TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = getEnv("HULL_SQL_TASK_QUEUE", c.Temporal.TaskQueue)

	c.Metrics.Addr = getEnv("HULL_SQL_METRICS_ADDR", c.Metrics.Addr)
	c.GRPC.Port = getEnvInt("HULL_SQL_GRPC_PORT", c.GRPC.Port)
	c.Log.Level = getEnv("HULL_SQL_LOG_LEVEL", c.Log.Level)
}

func (c *Config) applyDefaults() {
	if c.Connector.Name == "" {
		c.Connector.Name = c.Connector.ID
	}
	if c.Query.Comments == "" {
		c.Query.Comments = string(sanitize.ModeStrip)
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = orchestration.DefaultBatchSize
	}
	if c.Sync.ProgressInterval == 0 {
		c.Sync.ProgressInterval = orchestration.DefaultProgressInterval
	}
	if c.Sync.UploadConcurrency == 0 {
		c.Sync.UploadConcurrency = 1
	}
	if c.Sync.SinkFailurePolicy == "" {
		c.Sync.SinkFailurePolicy = string(orchestration.PolicyIsolate)
	}
	if c.Sync.ImportDays == 0 {
		c.Sync.ImportDays = orchestration.DefaultImportDays
	}
	if c.Sync.PreviewLimit == 0 {
		c.Sync.PreviewLimit = orchestration.MaxPreviewRows
	}
	if c.Sink.EndpointURL == "" {
		if c.Sink.RootPath == "" {
			c.Sink.RootPath = "data/objects"
		}
		c.Sink.EndpointURL = "file://" + c.Sink.RootPath
	}
	if c.State.Driver == "" {
		c.State.Driver = statestore.DriverFile
	}
	if c.Jobs.MaxRetries == 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.Timeout == 0 {
		c.Jobs.Timeout = 30 * time.Second
	}
	if c.Temporal.HostPort == "" {
		c.Temporal.HostPort = "localhost:7233"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = "hull-sql"
	}
	if c.Temporal.HeartbeatTimeout == 0 {
		c.Temporal.HeartbeatTimeout = 2 * time.Minute
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.GRPC.Port == 0 {
		c.GRPC.Port = 50061
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Connector.ID == "" {
		errs = append(errs, errors.New("connector.id is required"))
	}
	if c.Source.Kind == "" {
		errs = append(errs, errors.New("source.kind is required"))
	}
	if _, err := endpoint.ParseImportKind(c.Query.ImportType); err != nil {
		errs = append(errs, fmt.Errorf("query.import_type: %w", err))
	}
	switch sanitize.Mode(c.Query.Comments) {
	case sanitize.ModeStrip, sanitize.ModeValidate:
	default:
		errs = append(errs, fmt.Errorf("query.comments must be strip or validate, got %q", c.Query.Comments))
	}
	switch orchestration.FailurePolicy(c.Sync.SinkFailurePolicy) {
	case orchestration.PolicyIsolate, orchestration.PolicyFailRun:
	default:
		errs = append(errs, fmt.Errorf("sync.sink_failure_policy must be isolate or fail_run, got %q", c.Sync.SinkFailurePolicy))
	}
	if c.Sync.BatchSize < 0 || c.Sync.UploadConcurrency < 0 {
		errs = append(errs, errors.New("sync.batch_size and sync.upload_concurrency must be positive"))
	}
	if c.Tunnel.PortMax != 0 && c.Tunnel.PortMax < c.Tunnel.PortMin {
		errs = append(errs, errors.New("tunnel.port_max must not be below tunnel.port_min"))
	}
	if err := c.Sink.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	if c.State.Driver == statestore.DriverPostgres && c.State.DSN == "" {
		errs = append(errs, errors.New("state.dsn is required for the postgres driver"))
	}
	return errors.Join(errs...)
}

// RequireJobs checks the settings needed to announce batches downstream.
func (c *Config) RequireJobs() error {
	if c.Connector.Organization == "" || c.Connector.Secret == "" {
		return errors.New("connector.organization and connector.secret are required to create import jobs")
	}
	return nil
}

// AgentOptions maps the configuration onto orchestration options.
func (c *Config) AgentOptions() orchestration.Options {
	return orchestration.Options{
		ConnectorID:       c.Connector.ID,
		ConnectorName:     c.Connector.Name,
		Query:             c.Query.SQL,
		ImportType:        endpoint.ImportKind(c.Query.ImportType),
		Comments:          sanitize.Mode(c.Query.Comments),
		BatchSize:         c.Sync.BatchSize,
		ProgressInterval:  c.Sync.ProgressInterval,
		UploadConcurrency: c.Sync.UploadConcurrency,
		QueueSize:         c.Sync.QueueSize,
		SinkFailurePolicy: orchestration.FailurePolicy(c.Sync.SinkFailurePolicy),
		ImportDays:        c.Sync.ImportDays,
		Overwrite:         c.Sync.Overwrite,
		PreviewLimit:      c.Sync.PreviewLimit,
		QueryTimeout:      c.Sync.QueryTimeout,
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
