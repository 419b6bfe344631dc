// Package worker runs claimed ingest jobs on a bounded goroutine pool.
//
// Workers poll the job queue for pending rows. Claims are atomic at the
// database level, so any number of worker processes can share one queue
// without double-processing a job.
package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/skuflow-io/skuflow/internal/ingest"
)

type (
	// Runner executes one claimed job to a terminal state.
	Runner interface {
		Run(ctx context.Context, jobID, sourceURI, format string) error
	}

	// Queue hands out pending jobs. A (nil, nil) result means the queue is
	// currently empty; the pool backs off and polls again.
	Queue interface {
		ClaimPending(ctx context.Context) (*ingest.Job, error)
	}

	// Pool claims pending jobs and runs them with bounded concurrency. Each
	// job occupies one slot for its full lifetime; slots are released when
	// the run returns, regardless of outcome.
	Pool struct {
		queue  Queue
		runner Runner
		cfg    *Config
		logger *slog.Logger
		slots  chan struct{}
		wg     sync.WaitGroup
	}
)

// NewPool creates a Pool over the given queue and runner.
func NewPool(queue Queue, runner Runner, cfg *Config, logger *slog.Logger) *Pool {
	if cfg == nil {
		cfg = LoadConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		queue:  queue,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.Concurrency),
	}
}

// Run polls for pending jobs until ctx is cancelled, then waits for in-flight
// jobs to finish. A claim or run failure is logged and polling continues; the
// pool itself only stops on shutdown.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker pool shutting down, waiting for in-flight jobs")
			p.wg.Wait()

			return nil
		case p.slots <- struct{}{}:
		}

		job, err := p.queue.ClaimPending(ctx)
		if err != nil {
			<-p.slots
			p.logger.Error("failed to claim pending job", slog.String("error", err.Error()))
			p.backoff(ctx)

			continue
		}

		if job == nil {
			<-p.slots
			p.backoff(ctx)

			continue
		}

		p.wg.Add(1)

		go func(job *ingest.Job) {
			defer p.wg.Done()
			defer func() { <-p.slots }()

			p.runJob(ctx, job)
		}(job)
	}
}

// runJob executes one claimed job. The runner owns terminal status handling;
// an error here means the job could not even reach a terminal state.
func (p *Pool) runJob(ctx context.Context, job *ingest.Job) {
	format := filepath.Ext(job.FileName)

	p.logger.Info("running ingest job",
		slog.String("job_id", job.ID),
		slog.String("file_name", job.FileName),
	)

	if err := p.runner.Run(ctx, job.ID, job.SourceURI, format); err != nil {
		p.logger.Error("ingest job run failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// backoff sleeps for the poll interval or until shutdown, whichever is first.
func (p *Pool) backoff(ctx context.Context) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
