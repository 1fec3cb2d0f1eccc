package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ImportPath is the job creation endpoint relative to the organization URL.
const ImportPath = "import/s3"

// ImportJob is the payload announcing one uploaded batch.
type ImportJob struct {
	URL        string `json:"url"`
	Format     string `json:"format"`
	Notify     bool   `json:"notify"`
	EmitEvent  bool   `json:"emit_event"`
	Overwrite  bool   `json:"overwrite"`
	Name       string `json:"name"`
	ScheduleAt string `json:"schedule_at"`
	Size       int64  `json:"size"`
	ImportID   string `json:"import_id"`
	PartNumber int    `json:"part_number"`
	Type       string `json:"type"`
}

// NewImportJob fills the fixed fields of a job payload.
func NewImportJob(url, name, importID, importType string, partNumber int, size int64, overwrite bool, scheduleAt time.Time) ImportJob {
	return ImportJob{
		URL:        url,
		Format:     "json",
		Notify:     true,
		EmitEvent:  false,
		Overwrite:  overwrite,
		Name:       name,
		ScheduleAt: scheduleAt.UTC().Format(time.RFC3339),
		Size:       size,
		ImportID:   importID,
		PartNumber: partNumber,
		Type:       importType,
	}
}

// JobClient creates import jobs on the organization API.
type JobClient struct {
	client *Client
}

// NewJobClient creates a job client for organizationURL authenticated as the connector.
func NewJobClient(organizationURL, connectorID, secret string, opts ...Option) *JobClient {
	cfg := &ClientConfig{
		BaseURL: organizationURL,
		Auth:    ConnectorToken{ConnectorID: connectorID, Secret: secret},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &JobClient{client: NewClient(cfg)}
}

// Option tweaks the underlying client configuration.
type Option func(*ClientConfig)

// WithTransport injects an HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *ClientConfig) { c.Transport = rt }
}

// WithRetries sets the retry budget.
func WithRetries(n int) Option {
	return func(c *ClientConfig) { c.MaxRetries = n }
}

// WithRateLimit sets the request rate and burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *ClientConfig) {
		c.RateLimit = perSecond
		c.RateBurst = burst
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.Timeout = d }
}

// CreateImportJob posts job and returns the created job id.
func (j *JobClient) CreateImportJob(ctx context.Context, job ImportJob) (string, error) {
	resp, err := j.client.PostJSON(ctx, ImportPath, job)
	if err != nil {
		return "", fmt.Errorf("create import job for part %d: %w", job.PartNumber, err)
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&body); err != nil {
		return "", fmt.Errorf("decode import job response: %w", err)
	}
	return body.ID, nil
}
