package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skuflow-io/skuflow/internal/progress"
	"github.com/skuflow-io/skuflow/internal/source"
	"github.com/skuflow-io/skuflow/internal/webhook"
)

// FormatCSV is the only supported source format indicator.
const FormatCSV = ".csv"

type (
	// Store applies a batch of candidate records as one atomic upsert
	// transaction keyed by SKU. The whole batch either fully succeeds or
	// fully fails as one unit; there is no partial-batch success.
	Store interface {
		UpsertBatch(ctx context.Context, batch []CandidateRecord) error
	}

	// Jobs is the ingest job persistence boundary. The Coordinator reads the
	// row once at start and writes it after every batch and at finalization.
	Jobs interface {
		// Find retrieves a job by ID. Returns ErrJobNotFound when absent.
		Find(ctx context.Context, id string) (*Job, error)

		// Save writes the full job row.
		Save(ctx context.Context, job *Job) error
	}

	// Notifier delivers a terminal-event notification. Implementations absorb
	// their own failures; the pipeline never consults a delivery outcome.
	Notifier interface {
		Notify(ctx context.Context, eventType string, payload map[string]interface{})
	}

	// Coordinator owns the end-to-end lifecycle of one ingest job: counting,
	// batch sizing, the parse → assemble → upsert loop, progress publication,
	// terminal status, and the terminal webhook.
	//
	// The pipeline is single-flow per job: parsing, batching, and upsert
	// execution proceed strictly sequentially within one job, so no other
	// component ever writes the job's counters. Multiple jobs run
	// concurrently as independent Coordinator invocations on a worker pool.
	Coordinator struct {
		opener    source.Opener
		parser    *Parser
		store     Store
		jobs      Jobs
		publisher progress.Publisher
		notifier  Notifier
		logger    *slog.Logger
		now       func() time.Time
		notifyWG  sync.WaitGroup
	}

	// CoordinatorOption configures optional Coordinator behavior.
	CoordinatorOption func(*Coordinator)
)

// WithCoordinatorClock overrides the time source used for completion timestamps.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a Coordinator over the given collaborators.
func NewCoordinator(
	opener source.Opener,
	parser *Parser,
	store Store,
	jobs Jobs,
	publisher progress.Publisher,
	notifier Notifier,
	logger *slog.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	if parser == nil {
		parser = NewParser(nil)
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		opener:    opener,
		parser:    parser,
		store:     store,
		jobs:      jobs,
		publisher: publisher,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run executes one ingest job to a terminal state.
//
// A missing job aborts with ErrJobNotFound and mutates nothing. Every other
// error during processing is caught here: the job is marked failed with the
// error text, persisted, and a bulk_upload_failed webhook is still attempted.
// A job finishing with failed records is a handled outcome, not a Run error.
//
// Run is safe to re-invoke for the same job after task redelivery: counters
// are reset to zero and the source is reprocessed from the start. Upserts are
// idempotent by SKU, so a rerun converges on the same stored state.
func (c *Coordinator) Run(ctx context.Context, jobID, sourceURI, format string) error {
	job, err := c.jobs.Find(ctx, jobID)
	if err != nil {
		c.logger.Error("ingest job lookup failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)

		return err
	}

	job.Status = StatusProcessing
	job.TotalRecords = 0
	job.ProcessedRecords = 0
	job.SuccessfulRecords = 0
	job.FailedRecords = 0
	job.ErrorMessage = ""
	job.CompletedAt = nil

	if err := c.jobs.Save(ctx, job); err != nil {
		return c.fail(ctx, job, fmt.Errorf("failed to mark job processing: %w", err))
	}

	if err := c.process(ctx, job, sourceURI, format); err != nil {
		return c.fail(ctx, job, err)
	}

	return c.finalize(ctx, job)
}

// process drives both passes over the source: counting, then batching.
func (c *Coordinator) process(ctx context.Context, job *Job, sourceURI, format string) error {
	if format != FormatCSV {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	// Counting pass: the total must be known before the batch size can be
	// chosen, and the source is a single-use forward-only stream, so it is
	// re-opened rather than buffered. Peak memory stays bounded regardless
	// of file size.
	total, err := c.countPass(ctx, sourceURI)
	if err != nil {
		return err
	}

	job.TotalRecords = total

	c.logger.Info("counting pass finished",
		slog.String("job_id", job.ID),
		slog.Int("total_records", total),
		slog.Int("batch_size", BatchSize(total)),
	)

	return c.processPass(ctx, job, sourceURI, BatchSize(total))
}

func (c *Coordinator) countPass(ctx context.Context, sourceURI string) (int, error) {
	stream, err := c.opener.Open(ctx, sourceURI)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	defer func() {
		_ = stream.Close()
	}()

	return c.parser.Count(stream)
}

func (c *Coordinator) processPass(ctx context.Context, job *Job, sourceURI string, batchSize int) error {
	stream, err := c.opener.Open(ctx, sourceURI)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	defer func() {
		_ = stream.Close()
	}()

	assembler := NewAssembler(batchSize)

	err = c.parser.Each(stream, func(record CandidateRecord) error {
		batch := assembler.Append(record)
		if batch == nil {
			return nil
		}

		return c.applyBatch(ctx, job, batch)
	})
	if err != nil {
		return err
	}

	// Flush the trailing partial batch through the same path.
	if batch := assembler.Flush(); batch != nil {
		return c.applyBatch(ctx, job, batch)
	}

	return nil
}

// applyBatch deduplicates one batch, applies it against the store, folds the
// outcome into the running counters, persists the job row, and publishes a
// progress event.
//
// A batch-level store failure inflates the failed counter and the job moves
// on to the next batch; it never aborts the job. Only job persistence errors
// propagate, since losing counter writes would corrupt the job record.
func (c *Coordinator) applyBatch(ctx context.Context, job *Job, batch []CandidateRecord) error {
	deduped, duplicates := Dedupe(batch)

	var result UpsertResult

	if err := c.store.UpsertBatch(ctx, deduped); err != nil {
		c.logger.Warn("batch upsert failed",
			slog.String("job_id", job.ID),
			slog.Int("batch_size", len(deduped)),
			slog.String("error", err.Error()),
		)

		// All-or-nothing: the whole batch, duplicates included, counts as failed.
		result = UpsertResult{Successful: 0, Failed: len(batch)}
	} else {
		result = UpsertResult{Successful: len(deduped), Failed: duplicates}
	}

	job.SuccessfulRecords += result.Successful
	job.FailedRecords += result.Failed
	job.ProcessedRecords = job.SuccessfulRecords + job.FailedRecords

	if err := c.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist job progress: %w", err)
	}

	c.publishProgress(ctx, job, fmt.Sprintf(
		"Processed %d of %d records (%d successful, %d failed)",
		job.ProcessedRecords, job.TotalRecords, job.SuccessfulRecords, job.FailedRecords,
	))

	return nil
}

// finalize freezes the counters, decides terminal status, persists the row,
// and fires the terminal webhook and final progress event.
func (c *Coordinator) finalize(ctx context.Context, job *Job) error {
	job.TotalRecords = job.ProcessedRecords

	completedAt := c.now()
	job.CompletedAt = &completedAt

	if job.FailedRecords > 0 {
		job.Status = StatusFailed
		job.ErrorMessage = fmt.Sprintf(
			"%d records failed to import; likely cause: duplicate SKUs in source file",
			job.FailedRecords,
		)
	} else {
		job.Status = StatusCompleted
	}

	if err := c.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("failed to persist terminal job state: %w", err)
	}

	c.logger.Info("ingest job finished",
		slog.String("job_id", job.ID),
		slog.String("status", job.Status.String()),
		slog.Int("total_records", job.TotalRecords),
		slog.Int("successful_records", job.SuccessfulRecords),
		slog.Int("failed_records", job.FailedRecords),
	)

	c.notifyTerminal(ctx, job)
	c.publishProgress(ctx, job, terminalMessage(job))

	return nil
}

// fail marks the job failed with the error text, persists whatever summary
// fields are available, and still attempts the failure webhook.
func (c *Coordinator) fail(ctx context.Context, job *Job, cause error) error {
	job.Status = StatusFailed
	job.ErrorMessage = cause.Error()

	completedAt := c.now()
	job.CompletedAt = &completedAt

	if err := c.jobs.Save(ctx, job); err != nil {
		c.logger.Error("failed to persist failed job state",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	c.notifyTerminal(ctx, job)
	c.publishProgress(ctx, job, "Upload failed: "+cause.Error())

	return cause
}

// notifyTerminal invokes the webhook dispatcher asynchronously with the job
// summary. The notification outlives the job's context on purpose: a
// cancelled ingest still owes its observers a terminal event.
func (c *Coordinator) notifyTerminal(ctx context.Context, job *Job) {
	if c.notifier == nil {
		return
	}

	eventType := webhook.EventBulkUploadComplete
	if job.Status == StatusFailed {
		eventType = webhook.EventBulkUploadFailed
	}

	payload := map[string]interface{}{
		"upload_id":          job.ID,
		"file_name":          job.FileName,
		"status":             job.Status.String(),
		"total_records":      job.TotalRecords,
		"successful_records": job.SuccessfulRecords,
		"failed_records":     job.FailedRecords,
	}

	if job.ErrorMessage != "" {
		payload["error_message"] = job.ErrorMessage
	}

	notifyCtx := context.WithoutCancel(ctx)

	c.notifyWG.Add(1)

	go func() {
		defer c.notifyWG.Done()
		c.notifier.Notify(notifyCtx, eventType, payload)
	}()
}

// Wait blocks until in-flight terminal notifications have finished. Used for
// graceful shutdown and deterministic tests.
func (c *Coordinator) Wait() {
	c.notifyWG.Wait()
}

// publishProgress emits one progress event for the job's channel. Publication
// is fire-and-forget: failures are logged and swallowed, never retried, never
// escalated.
func (c *Coordinator) publishProgress(ctx context.Context, job *Job, message string) {
	if c.publisher == nil {
		return
	}

	event := progress.Event{
		JobID:              job.ID,
		Status:             job.Status.String(),
		TotalRecords:       job.TotalRecords,
		SuccessfulRecords:  job.SuccessfulRecords,
		ProgressPercentage: job.ProgressPercentage(),
		Message:            message,
	}

	if err := c.publisher.Publish(ctx, progress.Channel(job.ID), event); err != nil {
		c.logger.Warn("failed to publish progress event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func terminalMessage(job *Job) string {
	if job.Status == StatusFailed {
		return fmt.Sprintf("Upload finished with %d failed records", job.FailedRecords)
	}

	return fmt.Sprintf("Upload completed: %d records imported", job.SuccessfulRecords)
}
