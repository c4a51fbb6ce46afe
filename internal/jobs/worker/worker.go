package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/courseforge/courseforge-backend/internal/app"
	"github.com/courseforge/courseforge-backend/internal/data/repos/jobs"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/jobs/runtime"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/services"
)

// Worker drives the job queue: a pool of poll loops that claim and dispatch
// jobs, plus one sweeper loop that requeues work whose worker stopped
// heartbeating.
type Worker struct {
	cfg      app.Config
	log      *logger.Logger
	repo     jobs.JobRepo
	registry *runtime.Registry
	notify   services.JobNotifier
}

func NewWorker(cfg app.Config, baseLog *logger.Logger, repo jobs.JobRepo, registry *runtime.Registry, notify services.JobNotifier) *Worker {
	return &Worker{
		cfg:      cfg,
		log:      baseLog.With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		notify:   notify,
	}
}

// Start blocks until ctx is canceled and every loop has drained.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Starting job worker pool",
		"concurrency", w.cfg.WorkerConcurrency,
		"idle_poll", w.cfg.IdlePollDelay.String(),
		"heartbeat", w.cfg.HeartbeatInterval.String(),
		"stale_timeout", w.cfg.StaleJobTimeout.String(),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.WorkerConcurrency; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		g.Go(func() error {
			w.pollLoop(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		w.sweepLoop(gctx)
		return nil
	})
	return g.Wait()
}

func (w *Worker) pollLoop(ctx context.Context, workerID string) {
	log := w.log.With("worker_id", workerID)
	for {
		if ctx.Err() != nil {
			log.Info("Worker loop stopped")
			return
		}

		job, err := w.repo.ClaimNext(dbctx.Context{Ctx: ctx}, workerID)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Worker loop stopped")
				return
			}
			log.Warn("ClaimNext failed", "error", err)
			if !sleepCtx(ctx, w.cfg.ErrorBackoffDelay) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, w.cfg.IdlePollDelay) {
				return
			}
			continue
		}

		w.process(ctx, workerID, job, log)
	}
}

func (w *Worker) process(ctx context.Context, workerID string, job *domain.GenerationJob, log *logger.Logger) {
	jc := runtime.NewContext(ctx, job, workerID, w.repo, w.notify, w.log)

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	stopHeartbeat := jc.StartHeartbeat(w.cfg.HeartbeatInterval)
	defer stopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
			jc.Fail("panic", fmt.Errorf("handler panic: %v", r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Pipelines normally call jc.Fail themselves; this is the safety net.
		if !job.Terminal() {
			jc.Fail("run", runErr)
		}
	}
}

// sweepLoop periodically returns jobs with dead heartbeats to the queue.
func (w *Worker) sweepLoop(ctx context.Context) {
	log := w.log.With("component", "StaleJobSweeper")
	ticker := time.NewTicker(w.cfg.RequeueSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Sweeper loop stopped")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-w.cfg.StaleJobTimeout)
			n, err := w.repo.RequeueStale(dbctx.Context{Ctx: ctx}, cutoff)
			if err != nil {
				log.Warn("RequeueStale failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("Requeued stale jobs", "count", n, "cutoff", cutoff.Format(time.RFC3339))
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
