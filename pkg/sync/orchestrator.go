package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vtagger/vtagger/pkg/engine"
	"github.com/vtagger/vtagger/pkg/stores"
	"github.com/vtagger/vtagger/pkg/telemetry"
)

// Config tunes the sync pipeline.
type Config struct {
	// PageSize is the export page size.
	PageSize int `yaml:"page_size"`

	// ResolveWorkers bounds concurrent rule evaluation per batch.
	ResolveWorkers int `yaml:"resolve_workers"`

	// UploadChunkSize bounds rows per upload call.
	UploadChunkSize int `yaml:"upload_chunk_size"`

	// MaxDuration is the wall-clock ceiling for one run. Zero disables
	// the ceiling.
	MaxDuration time.Duration `yaml:"max_duration"`

	// RetentionDays is how long completed history is kept.
	RetentionDays int `yaml:"retention_days"`
}

// DefaultConfig returns sensible pipeline defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:        1000,
		ResolveWorkers:  4,
		UploadChunkSize: 500,
		MaxDuration:     2 * time.Hour,
		RetentionDays:   30,
	}
}

// ErrSyncInProgress is returned when a start request arrives while a
// run is active.
var ErrSyncInProgress = errors.New("a sync is already in progress")

// ErrNoSyncInProgress is returned when a cancel request arrives with
// no run active.
var ErrNoSyncInProgress = errors.New("no sync is in progress")

// errCancelled aborts the pipeline when cancellation is observed at a
// batch boundary.
var errCancelled = errors.New("sync cancelled")

// Orchestrator owns the sync lifecycle. All state lives in the Run
// goroutine; public methods are thin wrappers over its command channel.
type Orchestrator struct {
	cfg      Config
	platform Platform
	store    Store
	source   DimensionSource
	compiler *engine.Compiler
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	events   *Broadcaster
	commands chan command
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdCancel
	cmdReset
	cmdSnapshot
	cmdUpdate
	cmdComplete
)

type command struct {
	kind  cmdKind
	scope Scope

	// jobID guards worker-originated commands against applying to a
	// job that was reset away underneath them.
	jobID  string
	update func(*Job)
	status Status
	err    error

	replyJob chan Job
	replyErr chan error
}

// NewOrchestrator wires the pipeline together. metrics and tracer may
// be no-op instances but must not be nil.
func NewOrchestrator(
	cfg Config,
	platform Platform,
	store Store,
	source DimensionSource,
	logger zerolog.Logger,
	metrics *telemetry.Metrics,
	tracer *telemetry.Tracer,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.PageSize < 1 {
		cfg.PageSize = def.PageSize
	}
	if cfg.ResolveWorkers < 1 {
		cfg.ResolveWorkers = def.ResolveWorkers
	}
	if cfg.UploadChunkSize < 1 {
		cfg.UploadChunkSize = def.UploadChunkSize
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = def.RetentionDays
	}

	return &Orchestrator{
		cfg:      cfg,
		platform: platform,
		store:    store,
		source:   source,
		compiler: engine.NewCompiler(),
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		metrics:  metrics,
		tracer:   tracer,
		events:   NewBroadcaster(),
		commands: make(chan command),
	}
}

// Subscribe registers a progress subscriber.
func (o *Orchestrator) Subscribe() (<-chan Job, func()) {
	return o.events.Subscribe()
}

// Run processes commands until the context is cancelled. It must be
// running for any other method to return.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.events.Close()

	job := Job{Status: StatusIdle}
	var cancelFlag *atomic.Bool
	var runCancel context.CancelFunc

	for {
		select {
		case <-ctx.Done():
			if runCancel != nil {
				runCancel()
			}
			return ctx.Err()

		case cmd := <-o.commands:
			switch cmd.kind {
			case cmdStart:
				if !job.Status.Terminal() {
					cmd.replyErr <- ErrSyncInProgress
					continue
				}
				now := time.Now().UTC()
				job = Job{
					ID:        uuid.NewString(),
					Status:    StatusRunning,
					Phase:     PhaseAuthenticating,
					Scope:     cmd.scope,
					StartedAt: &now,
				}
				cancelFlag = &atomic.Bool{}
				var runCtx context.Context
				runCtx, runCancel = context.WithCancel(ctx)

				o.metrics.RecordSyncStarted()
				o.logger.Info().Str("sync_id", job.ID).Msg("sync started")
				go o.run(runCtx, job.ID, cmd.scope, cancelFlag)

				o.events.Publish(job)
				cmd.replyJob <- job
				cmd.replyErr <- nil

			case cmdCancel:
				if job.Status != StatusRunning && job.Status != StatusCancelling {
					cmd.replyErr <- ErrNoSyncInProgress
					continue
				}
				job.Status = StatusCancelling
				cancelFlag.Store(true)
				o.logger.Info().Str("sync_id", job.ID).Msg("cancellation requested")
				o.events.Publish(job)
				cmd.replyJob <- job
				cmd.replyErr <- nil

			case cmdReset:
				if cancelFlag != nil {
					cancelFlag.Store(true)
				}
				if runCancel != nil {
					runCancel()
					runCancel = nil
				}
				o.logger.Warn().Str("sync_id", job.ID).Msg("force reset")
				job = Job{Status: StatusIdle}
				o.events.Publish(job)
				cmd.replyJob <- job
				cmd.replyErr <- nil

			case cmdSnapshot:
				cmd.replyJob <- job

			case cmdUpdate:
				if cmd.jobID != job.ID {
					continue
				}
				cmd.update(&job)
				o.events.Publish(job)

			case cmdComplete:
				if cmd.jobID != job.ID {
					continue
				}
				now := time.Now().UTC()
				job.Status = cmd.status
				job.Phase = ""
				job.CompletedAt = &now
				if cmd.err != nil {
					job.Error = cmd.err.Error()
				}
				if runCancel != nil {
					runCancel()
					runCancel = nil
				}
				if job.StartedAt != nil {
					o.metrics.RecordSyncCompleted(string(cmd.status), now.Sub(*job.StartedAt))
				}
				o.logger.Info().
					Str("sync_id", job.ID).
					Str("status", string(cmd.status)).
					Int("processed", job.Counters.Processed).
					Int("matched", job.Counters.Matched).
					Int("uploaded", job.Counters.Uploaded).
					Msg("sync finished")
				o.events.Publish(job)
			}
		}
	}
}

// Start begins a sync run with the given scope.
func (o *Orchestrator) Start(ctx context.Context, scope Scope) (Job, error) {
	if err := scope.Normalize(time.Now().UTC()); err != nil {
		return Job{}, engine.NewPermanentError("invalid sync scope", err).
			WithCode(engine.ErrCodeValidation)
	}

	cmd := command{
		kind:     cmdStart,
		scope:    scope,
		replyJob: make(chan Job, 1),
		replyErr: make(chan error, 1),
	}
	if err := o.send(ctx, cmd); err != nil {
		return Job{}, err
	}
	if err := <-cmd.replyErr; err != nil {
		return Job{}, err
	}
	return <-cmd.replyJob, nil
}

// Cancel requests cooperative cancellation of the active run.
func (o *Orchestrator) Cancel(ctx context.Context) (Job, error) {
	cmd := command{
		kind:     cmdCancel,
		replyJob: make(chan Job, 1),
		replyErr: make(chan error, 1),
	}
	if err := o.send(ctx, cmd); err != nil {
		return Job{}, err
	}
	if err := <-cmd.replyErr; err != nil {
		return Job{}, err
	}
	return <-cmd.replyJob, nil
}

// Reset forces the orchestrator back to idle regardless of state. Any
// running pipeline is cancelled and its late reports are discarded.
func (o *Orchestrator) Reset(ctx context.Context) (Job, error) {
	cmd := command{
		kind:     cmdReset,
		replyJob: make(chan Job, 1),
		replyErr: make(chan error, 1),
	}
	if err := o.send(ctx, cmd); err != nil {
		return Job{}, err
	}
	if err := <-cmd.replyErr; err != nil {
		return Job{}, err
	}
	return <-cmd.replyJob, nil
}

// Snapshot returns the current job state.
func (o *Orchestrator) Snapshot(ctx context.Context) (Job, error) {
	cmd := command{
		kind:     cmdSnapshot,
		replyJob: make(chan Job, 1),
	}
	if err := o.send(ctx, cmd); err != nil {
		return Job{}, err
	}
	return <-cmd.replyJob, nil
}

func (o *Orchestrator) send(ctx context.Context, cmd command) error {
	select {
	case o.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update pushes a state mutation to the actor. A stale jobID is
// silently dropped there; a dead actor drops the send itself.
func (o *Orchestrator) update(ctx context.Context, jobID string, fn func(*Job)) {
	select {
	case o.commands <- command{kind: cmdUpdate, jobID: jobID, update: fn}:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) complete(ctx context.Context, jobID string, status Status, err error) {
	select {
	case o.commands <- command{kind: cmdComplete, jobID: jobID, status: status, err: err}:
	case <-ctx.Done():
	}
}

// run executes one sync pipeline. It reports all progress and its
// final status through the command channel.
func (o *Orchestrator) run(ctx context.Context, jobID string, scope Scope, cancelFlag *atomic.Bool) {
	logger := o.logger.With().Str("sync_id", jobID).Logger()
	ctx, span := o.tracer.StartSyncSpan(ctx, jobID)
	defer span.End()

	started := time.Now().UTC()
	record := &stores.SyncRecord{
		ID:          jobID,
		Status:      string(StatusRunning),
		Phase:       string(PhaseAuthenticating),
		FilterMode:  string(scope.FilterMode),
		StartDate:   scope.StartDate,
		EndDate:     scope.EndDate,
		AccountKeys: scope.AccountKeys,
		StartedAt:   started,
	}
	if err := o.store.CreateSyncRecord(ctx, record); err != nil {
		o.fail(ctx, ctx, jobID, record, err, logger)
		return
	}

	counters, err := o.pipeline(ctx, jobID, scope, cancelFlag, record, logger)

	record.Processed = counters.Processed
	record.Matched = counters.Matched
	record.Uploaded = counters.Uploaded
	record.Deleted = counters.Deleted
	now := time.Now().UTC()
	record.CompletedAt = &now

	// The run context dies with a force reset; the terminal record
	// still has to land or retention would never reclaim it.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer persistCancel()

	switch {
	case errors.Is(err, errCancelled) || errors.Is(err, context.Canceled):
		record.Status = string(StatusCancelled)
		record.Error = ""
		if uerr := o.store.UpdateSyncRecord(persistCtx, record); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist sync record")
		}
		o.complete(ctx, jobID, StatusCancelled, nil)

	case err != nil:
		telemetry.RecordError(span, err)
		o.fail(ctx, persistCtx, jobID, record, err, logger)

	default:
		telemetry.RecordSuccess(span)
		record.Status = string(StatusCompleted)
		if uerr := o.store.UpdateSyncRecord(persistCtx, record); uerr != nil {
			logger.Error().Err(uerr).Msg("failed to persist sync record")
		}
		o.complete(ctx, jobID, StatusCompleted, nil)
	}
}

func (o *Orchestrator) fail(ctx, persistCtx context.Context, jobID string, record *stores.SyncRecord, err error, logger zerolog.Logger) {
	logger.Error().Err(err).Msg("sync failed")
	var e *engine.EngineError
	if errors.As(err, &e) {
		o.metrics.RecordError(string(e.Class))
	} else {
		o.metrics.RecordError(string(engine.ErrorClassPermanent))
	}

	record.Status = string(StatusError)
	record.Error = err.Error()
	if record.CompletedAt == nil {
		now := time.Now().UTC()
		record.CompletedAt = &now
	}
	if uerr := o.store.UpdateSyncRecord(persistCtx, record); uerr != nil {
		logger.Error().Err(uerr).Msg("failed to persist sync record")
	}
	o.complete(ctx, jobID, StatusError, err)
}

// pipeline runs the phases and returns the final counters.
func (o *Orchestrator) pipeline(
	ctx context.Context,
	jobID string,
	scope Scope,
	cancelFlag *atomic.Bool,
	record *stores.SyncRecord,
	logger zerolog.Logger,
) (Counters, error) {
	var counters Counters
	var deadline time.Time
	if o.cfg.MaxDuration > 0 {
		deadline = time.Now().UTC().Add(o.cfg.MaxDuration)
	}

	checkpoint := func() error {
		if cancelFlag.Load() || ctx.Err() != nil {
			return errCancelled
		}
		if !deadline.IsZero() && time.Now().UTC().After(deadline) {
			return engine.NewPermanentError("sync exceeded maximum duration", nil).
				WithCode(engine.ErrCodeTimeout)
		}
		return nil
	}

	setPhase := func(phase Phase) {
		record.Phase = string(phase)
		o.update(ctx, jobID, func(j *Job) { j.Phase = phase })
	}

	// Authentication and account resolution.
	authCtx, authSpan := o.tracer.StartPhaseSpan(ctx, jobID, string(PhaseAuthenticating))
	if err := o.platform.Authenticate(authCtx); err != nil {
		telemetry.RecordError(authSpan, err)
		authSpan.End()
		return counters, err
	}
	accounts, err := o.platform.ListAccounts(authCtx)
	if err != nil {
		telemetry.RecordError(authSpan, err)
		authSpan.End()
		return counters, err
	}
	authSpan.End()

	accountKeys := scope.AccountKeys
	if len(accountKeys) == 0 {
		for _, acct := range accounts {
			accountKeys = append(accountKeys, acct.AccountKey)
		}
	}
	accountIndex := BuildAccountIndex(accounts)

	inScope := make(map[string]bool, len(accountKeys))
	for _, key := range accountKeys {
		inScope[key] = true
	}
	var scopeAccountIDs []string
	for _, acct := range accounts {
		if inScope[acct.AccountKey] && acct.AccountID != "" {
			scopeAccountIDs = append(scopeAccountIDs, acct.AccountID)
		}
	}

	// Dimension compilation.
	dims, err := o.source.LoadAll()
	if err != nil {
		return counters, err
	}
	compiled, err := o.compiler.CompileAll(dims)
	if err != nil {
		return counters, err
	}
	o.metrics.SetDimensionsLoaded(len(compiled))

	resolver := engine.NewResolver(compiled)
	tagKeys := engine.RequiredTagKeys(compiled)

	dimensionNames := make([]string, len(compiled))
	for i, d := range compiled {
		dimensionNames[i] = d.Name
	}

	var filterDimensions []string
	if scope.FilterMode == FilterNotVTagged {
		filterDimensions = dimensionNames
	}

	differ := NewDiffer(compiled)
	fetcher := NewFetcher(o.platform, o.cfg.PageSize, logger)
	uploader := NewUploader(o.platform, o.store, o.cfg.UploadChunkSize, logger, o.metrics)

	setPhase(PhaseFetching)
	var uploadFailures int

	err = fetcher.Fetch(ctx, scope, accountKeys, tagKeys, filterDimensions, func(batch Batch) error {
		if err := checkpoint(); err != nil {
			return err
		}

		setPhase(PhaseResolving)
		o.observeBatchTags(ctx, batch.Resources, logger)

		mappings, err := resolver.ResolveBatch(ctx, batch.Resources, o.cfg.ResolveWorkers)
		if err != nil {
			return err
		}

		ids := make([]string, len(mappings))
		for i, m := range mappings {
			ids[i] = m.ResourceID
		}
		prior, err := o.store.GetVTagsForResources(ctx, ids)
		if err != nil {
			return err
		}

		// The platform-side filter is advisory; drop already-tagged
		// resources here so not_vtagged holds even when the filter
		// was unavailable.
		if scope.FilterMode == FilterNotVTagged {
			kept := mappings[:0]
			for _, m := range mappings {
				if len(prior[m.ResourceID]) > 0 {
					counters.Skipped++
					continue
				}
				kept = append(kept, m)
			}
			mappings = kept
		}

		diff := differ.DiffBatch(mappings, prior)

		matched := 0
		for _, m := range mappings {
			if m.Matched {
				matched++
			}
		}

		rows := diff.Rows()
		if len(rows) > 0 {
			setPhase(PhaseUploading)
			for _, result := range uploader.Upload(ctx, jobID, accountIndex, dimensionNames, rows) {
				if result.Err != nil {
					uploadFailures++
					continue
				}
				counters.Uploaded += result.Inserted + result.Updated
				counters.Deleted += result.Deleted
			}
		}

		differ.MarkProcessed(mappings)

		counters.Batches++
		counters.Processed += len(batch.Resources)
		counters.Matched += matched
		counters.Skipped += diff.Skipped
		o.metrics.RecordBatch(len(batch.Resources), matched)

		snapshot := counters
		o.update(ctx, jobID, func(j *Job) {
			j.Phase = PhaseFetching
			j.Counters = snapshot
		})
		record.Processed = counters.Processed
		record.Matched = counters.Matched
		record.Uploaded = counters.Uploaded
		record.Deleted = counters.Deleted

		return nil
	})
	if err != nil {
		return counters, err
	}

	if err := checkpoint(); err != nil {
		return counters, err
	}

	// Cleanup: retire rows for resources that left the export window,
	// then aggregate stats and prune history. Deletion only makes
	// sense for full-scope runs; a filtered run never sees resources
	// that are already tagged.
	setPhase(PhaseCleanup)
	cleanupCtx, cleanupSpan := o.tracer.StartPhaseSpan(ctx, jobID, string(PhaseCleanup))
	defer cleanupSpan.End()

	if scope.FilterMode == FilterAll {
		tagged, err := o.store.ListTaggedResources(cleanupCtx, scopeAccountIDs)
		if err != nil {
			return counters, err
		}
		if dels := differ.Deletions(tagged); len(dels) > 0 {
			for _, result := range uploader.Upload(cleanupCtx, jobID, accountIndex, dimensionNames, dels) {
				if result.Err != nil {
					uploadFailures++
					continue
				}
				counters.Deleted += result.Deleted
			}
			snapshot := counters
			o.update(ctx, jobID, func(j *Job) { j.Counters = snapshot })
		}
	}

	if err := o.store.UpsertDailyStats(cleanupCtx, time.Now().UTC().Format("2006-01-02"), stores.DailyStats{
		Syncs:              1,
		ResourcesProcessed: int64(counters.Processed),
		ResourcesMatched:   int64(counters.Matched),
		RowsUploaded:       int64(counters.Uploaded),
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to update daily stats")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.RetentionDays)
	if pruned, err := o.store.Prune(cleanupCtx, cutoff); err != nil {
		logger.Warn().Err(err).Msg("failed to prune history")
	} else if pruned.SyncRecords > 0 || pruned.UploadRecords > 0 {
		logger.Info().
			Int64("sync_records", pruned.SyncRecords).
			Int64("upload_records", pruned.UploadRecords).
			Msg("pruned history")
	}

	if uploadFailures > 0 {
		return counters, engine.NewPermanentError(
			fmt.Sprintf("%d upload chunk(s) failed", uploadFailures), nil,
		).WithCode(engine.ErrCodeUploadFailed)
	}

	return counters, nil
}

// observeBatchTags folds a batch's physical tags into the discovered
// tag catalog, one merged observation per key.
func (o *Orchestrator) observeBatchTags(ctx context.Context, resources []engine.Resource, logger zerolog.Logger) {
	merged := make(map[string]string)
	for _, res := range resources {
		for k, v := range res.Tags {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	if len(merged) == 0 {
		return
	}
	if err := o.store.ObserveTags(ctx, merged); err != nil {
		logger.Warn().Err(err).Msg("failed to record discovered tags")
	}
}
