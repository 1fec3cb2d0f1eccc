// Package orchestration drives previews and sync runs: it connects to the
// configured source, prepares the query, streams rows through the transformer
// into batches, uploads them and announces each batch downstream.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/ingest"
	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
	"github.com/hull-ships/hull-sql-sub000/internal/statestore"
	"github.com/hull-ships/hull-sql-sub000/internal/tunnel"
)

// =============================================================================
// OPTIONS
// =============================================================================

// FailurePolicy decides whether per-batch sink and notify errors fail the run.
type FailurePolicy string

const (
	// PolicyIsolate logs batch failures and lets the run succeed.
	PolicyIsolate FailurePolicy = "isolate"
	// PolicyFailRun fails the run with the joined batch errors once every
	// batch has settled.
	PolicyFailRun FailurePolicy = "fail_run"
)

// Mode distinguishes incremental syncs from backfill imports.
type Mode string

const (
	ModeSync   Mode = "sync"
	ModeImport Mode = "import"
)

const (
	DefaultBatchSize        = 10000
	DefaultProgressInterval = 1000
	DefaultImportDays       = 5
	MaxPreviewRows          = 100
)

// Options configures an Agent.
type Options struct {
	ConnectorID   string
	ConnectorName string

	Query      string
	ImportType endpoint.ImportKind
	Comments   sanitize.Mode

	BatchSize         int
	ProgressInterval  int
	UploadConcurrency int
	QueueSize         int
	SinkFailurePolicy FailurePolicy
	ImportDays        int
	Overwrite         bool
	PreviewLimit      int
	QueryTimeout      time.Duration
}

func (o *Options) applyDefaults() {
	if o.ImportType == "" {
		o.ImportType = endpoint.ImportUsers
	}
	if o.Comments == "" {
		o.Comments = sanitize.ModeStrip
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.UploadConcurrency <= 0 {
		o.UploadConcurrency = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.UploadConcurrency
	}
	if o.SinkFailurePolicy == "" {
		o.SinkFailurePolicy = PolicyIsolate
	}
	if o.ImportDays <= 0 {
		o.ImportDays = DefaultImportDays
	}
	if o.PreviewLimit <= 0 || o.PreviewLimit > MaxPreviewRows {
		o.PreviewLimit = MaxPreviewRows
	}
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Notifier creates one downstream import job per uploaded batch.
type Notifier interface {
	CreateImportJob(ctx context.Context, job ingest.ImportJob) (string, error)
}

// Tunnel opens SSH forwards for sources behind a bastion.
type Tunnel interface {
	Forward(ctx context.Context, cfg tunnel.Config) (*tunnel.Forward, error)
}

// LockExtender is called at every progress checkpoint so an external
// scheduler keeps the job claimed.
type LockExtender func(ctx context.Context, processed int64)

// Deps are the collaborators of an Agent. Source may be nil, in which case it
// is created from the default registry using the settings kind.
type Deps struct {
	Source  endpoint.Source
	Sink    endpoint.Sink
	Jobs    Notifier
	Store   statestore.Store
	Tunnel  Tunnel
	Logger  *zap.Logger
	Metrics *Metrics
}

// =============================================================================
// AGENT
// =============================================================================

// Agent runs previews, syncs and imports for one connector.
type Agent struct {
	opts     Options
	settings endpoint.Settings

	source  endpoint.Source
	sink    endpoint.Sink
	jobs    Notifier
	store   statestore.Store
	tunnel  Tunnel
	logger  *zap.Logger
	metrics *Metrics

	now         func() time.Time
	newImportID func() string
}

// NewAgent validates opts and settings and wires the collaborators.
func NewAgent(opts Options, settings endpoint.Settings, deps Deps) (*Agent, error) {
	opts.applyDefaults()
	if opts.ConnectorID == "" {
		return nil, endpoint.Errorf(endpoint.KindConfiguration, endpoint.CodeMissingSettings, "connector id is required")
	}
	if opts.SinkFailurePolicy != PolicyIsolate && opts.SinkFailurePolicy != PolicyFailRun {
		return nil, endpoint.Errorf(endpoint.KindConfiguration, endpoint.CodeMissingSettings,
			"unknown sink failure policy %q", opts.SinkFailurePolicy)
	}
	if _, err := endpoint.ParseImportKind(string(opts.ImportType)); err != nil {
		return nil, err
	}

	source := deps.Source
	if source == nil {
		var err error
		if source, err = endpoint.DefaultRegistry().Create(settings.Kind); err != nil {
			return nil, err
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Agent{
		opts:        opts,
		settings:    settings,
		source:      source,
		sink:        deps.Sink,
		jobs:        deps.Jobs,
		store:       deps.Store,
		tunnel:      deps.Tunnel,
		logger:      logger.With(zap.String("connector_id", opts.ConnectorID), zap.String("source", source.ID())),
		metrics:     deps.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		newImportID: func() string { return uuid.NewString() },
	}, nil
}

// Options returns the effective options after defaults.
func (a *Agent) Options() Options { return a.opts }

// connect opens the source, through a tunnel when SSH settings are present.
// The returned release func closes the connection and tunnel exactly once.
func (a *Agent) connect(ctx context.Context) (endpoint.Conn, func(), error) {
	settings := a.settings
	var fwd *tunnel.Forward
	if settings.UsesTunnel() {
		if a.tunnel == nil {
			return nil, nil, endpoint.Errorf(endpoint.KindConfiguration, endpoint.CodeTunnelFailed,
				"ssh settings given but no tunnel is configured")
		}
		var err error
		fwd, err = a.tunnel.Forward(ctx, tunnel.FromSettings(settings))
		if err != nil {
			a.logger.Error(EventConnectError, zap.Error(err))
			return nil, nil, err
		}
		settings = fwd.Apply(settings)
		a.logger.Info(EventTunnelOpen, zap.Int("local_port", fwd.LocalPort))
	}

	conn, err := a.source.Open(ctx, settings)
	if err != nil {
		if fwd != nil {
			fwd.Close()
		}
		a.logger.Error(EventConnectError, zap.Error(err))
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			if err := conn.Close(); err != nil {
				a.logger.Warn("close source connection", zap.Error(err))
			}
			if fwd != nil {
				fwd.Close()
			}
		})
	}
	return conn, release, nil
}

// prepare sanitizes the raw query and lets the adapter substitute and wrap it.
func (a *Agent) prepare(raw string, repl endpoint.Replacements) (string, error) {
	cleaned := raw
	if pq, ok := a.source.(endpoint.PlainQuery); !ok || !pq.PlainQuery() {
		var err error
		if cleaned, err = sanitize.Sanitize(raw, repl, a.opts.Comments, a.logger); err != nil {
			return "", err
		}
	}
	wrapped, err := a.source.WrapQuery(cleaned, repl)
	if err != nil {
		a.logger.Warn(EventQueryError, zap.Error(err))
		return "", err
	}
	return wrapped, nil
}

// replacements builds the named values available to queries.
func (a *Agent) replacements(state statestore.State, lastUpdatedAt time.Time, importStart time.Time) endpoint.Replacements {
	epoch := time.Unix(0, 0).UTC()
	if lastUpdatedAt.IsZero() {
		lastUpdatedAt = state.LastUpdatedAt
	}
	if lastUpdatedAt.IsZero() {
		lastUpdatedAt = epoch
	}
	lastSyncAt := state.LastSyncAt
	if lastSyncAt.IsZero() {
		lastSyncAt = epoch
	}
	return endpoint.Replacements{
		endpoint.ReplaceLastUpdatedAt:   lastUpdatedAt.UTC(),
		endpoint.ReplaceLastSyncAt:      lastSyncAt.UTC(),
		endpoint.ReplaceImportStartDate: importStart.UTC(),
	}
}

func (a *Agent) loadState(ctx context.Context) statestore.State {
	if a.store == nil {
		return statestore.State{}
	}
	st, err := a.store.Load(ctx, a.opts.ConnectorID)
	if err != nil {
		a.logger.Warn(EventStateError, zap.Error(err))
		return statestore.State{}
	}
	return st
}

func (a *Agent) importStart(days int) time.Time {
	if days <= 0 {
		days = a.opts.ImportDays
	}
	return a.now().AddDate(0, 0, -days)
}

// =============================================================================
// PREVIEW
// =============================================================================

// PreviewOptions bounds a preview query.
type PreviewOptions struct {
	Timeout time.Duration
	Limit   int
}

// PreviewResult is the preview response. Status is "error" with a message
// when the query could not run; Errors lists column validation problems
// alongside usable rows.
type PreviewResult struct {
	Status  string            `json:"status,omitempty"`
	Message string            `json:"message,omitempty"`
	Columns []string          `json:"columns,omitempty"`
	Entries []endpoint.Record `json:"entries"`
	Errors  []string          `json:"errors,omitempty"`
}

// RunQuery previews query (the configured query when empty), capped at
// MaxPreviewRows rows.
func (a *Agent) RunQuery(ctx context.Context, query string, opts PreviewOptions) (*PreviewResult, error) {
	if query == "" {
		query = a.opts.Query
	}
	limit := opts.Limit
	if limit <= 0 || limit > a.opts.PreviewLimit {
		limit = a.opts.PreviewLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.opts.QueryTimeout
	}

	res, err := a.preview(ctx, query, endpoint.RunOptions{Limit: limit, Timeout: timeout})
	if err != nil {
		a.logger.Error(EventPreviewError, zap.String("kind", string(endpoint.KindOf(err))), zap.Error(err))
		return &PreviewResult{Status: "error", Message: err.Error(), Entries: []endpoint.Record{}}, err
	}
	return res, nil
}

func (a *Agent) preview(ctx context.Context, query string, opts endpoint.RunOptions) (*PreviewResult, error) {
	state := a.loadState(ctx)
	repl := a.replacements(state, time.Time{}, a.importStart(0))

	prepared, err := a.prepare(query, repl)
	if err != nil {
		return nil, err
	}

	conn, release, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := conn.Run(ctx, prepared, opts)
	if err != nil {
		return nil, err
	}

	out := &PreviewResult{Status: "ok", Columns: result.Columns, Entries: result.Rows}
	if out.Entries == nil {
		out.Entries = []endpoint.Record{}
	}
	if errs := a.source.Validate(result.Columns, a.opts.ImportType); len(errs) > 0 {
		a.logger.Warn(EventInvalidResult, zap.Strings("errors", errs))
		out.Errors = errs
	}
	return out, nil
}

// =============================================================================
// SYNC / IMPORT
// =============================================================================

// SyncOptions parameterizes one run.
type SyncOptions struct {
	// LastUpdatedAt overrides the persisted incremental lower bound.
	LastUpdatedAt time.Time
	// ImportDays overrides how far back an import reaches.
	ImportDays int
	// Extend is invoked at every progress checkpoint.
	Extend LockExtender
}

// StartSync runs an incremental sync from the last persisted updated_at.
func (a *Agent) StartSync(ctx context.Context, opts SyncOptions) (*RunResult, error) {
	state := a.loadState(ctx)
	repl := a.replacements(state, opts.LastUpdatedAt, a.importStart(opts.ImportDays))
	return a.execute(ctx, ModeSync, state, repl, opts.Extend)
}

// StartImport backfills the last import_days days.
func (a *Agent) StartImport(ctx context.Context, opts SyncOptions) (*RunResult, error) {
	state := a.loadState(ctx)
	start := a.importStart(opts.ImportDays)
	lower := opts.LastUpdatedAt
	if lower.IsZero() {
		lower = start
	}
	repl := a.replacements(state, lower, start)
	return a.execute(ctx, ModeImport, state, repl, opts.Extend)
}

func (a *Agent) execute(ctx context.Context, mode Mode, prev statestore.State, repl endpoint.Replacements, extend LockExtender) (*RunResult, error) {
	if a.sink == nil || a.jobs == nil {
		return nil, endpoint.Errorf(endpoint.KindConfiguration, endpoint.CodeMissingSettings, "sink and job client are required for %s", mode)
	}

	r := newRun(a, mode, extend)
	logger := r.logger
	logger.Info(EventJobStart, zap.Time("last_updated_at", repl[endpoint.ReplaceLastUpdatedAt].(time.Time)))

	err := r.execute(ctx, repl)
	result := r.result()
	if err != nil {
		logger.Error(EventJobError, zap.String("kind", string(endpoint.KindOf(err))), zap.Error(err))
		a.saveState(ctx, prev, func(st *statestore.State) {
			st.Status = statestore.StatusError
			st.Message = err.Error()
		})
		a.metrics.runFinished(mode, "error", a.now().Sub(r.startedAt).Seconds())
		return result, err
	}

	a.saveState(ctx, prev, func(st *statestore.State) {
		st.LastSyncAt = result.StartedAt
		st.LastUpdatedAt = result.LastUpdatedAt
		if result.LastJobID != "" {
			st.LastJobID = result.LastJobID
		}
		st.Status = statestore.StatusOK
		st.Message = ""
		if n := len(result.FailedBatches); n > 0 {
			st.Message = fmt.Sprintf("%d batch(es) failed", n)
		}
	})
	a.metrics.runFinished(mode, "ok", a.now().Sub(r.startedAt).Seconds())
	logger.Info(EventJobSuccess,
		zap.Int64("records", result.Records),
		zap.Int("batches", result.Batches),
		zap.Int("jobs", result.Jobs),
		zap.Time("last_updated_at", result.LastUpdatedAt))
	return result, nil
}

func (a *Agent) saveState(ctx context.Context, prev statestore.State, mutate func(*statestore.State)) {
	if a.store == nil {
		return
	}
	st := prev
	mutate(&st)
	// Persist even when the run context is already done.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.store.Save(saveCtx, a.opts.ConnectorID, st); err != nil {
		a.logger.Error(EventStateError, zap.Error(err))
	}
}
