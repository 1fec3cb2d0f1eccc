// Package worker exposes sync runs as Temporal activities and workflows.
package worker

import (
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
)

// SyncRequest starts a sync or an import.
type SyncRequest struct {
	Mode          string `json:"mode"` // sync (default) or import
	LastUpdatedAt string `json:"lastUpdatedAt,omitempty"`
	ImportDays    int    `json:"importDays,omitempty"`

	// HeartbeatTimeout bounds how long a run may go without progress before
	// Temporal considers the worker lost and reschedules it.
	HeartbeatTimeout time.Duration `json:"heartbeatTimeout,omitempty"`
}

// SyncResult is the activity output.
type SyncResult struct {
	ImportID      string `json:"importId"`
	Records       int64  `json:"records"`
	Batches       int    `json:"batches"`
	Jobs          int    `json:"jobs"`
	LastJobID     string `json:"lastJobId,omitempty"`
	LastUpdatedAt string `json:"lastUpdatedAt"`
	FailedBatches []int  `json:"failedBatches,omitempty"`
}

// NewSyncResult converts a run summary to its wire form.
func NewSyncResult(res *orchestration.RunResult) *SyncResult {
	return &SyncResult{
		ImportID:      res.ImportID,
		Records:       res.Records,
		Batches:       res.Batches,
		Jobs:          res.Jobs,
		LastJobID:     res.LastJobID,
		LastUpdatedAt: res.LastUpdatedAt.UTC().Format(time.RFC3339),
		FailedBatches: res.FailedBatches,
	}
}

// PreviewRequest runs a capped preview query.
type PreviewRequest struct {
	Query     string `json:"query,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}
