package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/data/repos/jobs"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/services"
)

// Context is the execution handle for one claimed job. It is the only
// sanctioned way for a pipeline to report progress or terminate the run, and
// every write it issues is conditioned on this worker still holding the lock.
// A handler whose job was requeued underneath it keeps running, but all of its
// writes match zero rows.
type Context struct {
	Ctx      context.Context
	Job      *domain.GenerationJob
	WorkerID string
	Repo     jobs.JobRepo
	Notify   services.JobNotifier
	Log      *logger.Logger

	payload    *domain.JobPayload
	payloadErr error
}

func NewContext(ctx context.Context, job *domain.GenerationJob, workerID string, repo jobs.JobRepo, notify services.JobNotifier, baseLog *logger.Logger) *Context {
	c := &Context{
		Ctx:      ctx,
		Job:      job,
		WorkerID: workerID,
		Repo:     repo,
		Notify:   notify,
		Log:      baseLog.With("job_id", job.ID, "job_type", job.JobType, "worker_id", workerID),
	}
	c.payload, c.payloadErr = domain.DecodePayload(job.Payload)
	return c
}

// Payload returns the typed, validated payload. Handlers treat a non-nil
// error as fatal for the run.
func (c *Context) Payload() (*domain.JobPayload, error) {
	return c.payload, c.payloadErr
}

// MessageID is the enqueuer-supplied notification key, empty when absent or
// when the payload never decoded.
func (c *Context) MessageID() string {
	if c.payload == nil {
		return ""
	}
	return c.payload.MessageID()
}

// Progress persists the current stage and pushes a progress event. Rejected
// writes (lock lost) are reported back so pipelines can stop early.
func (c *Context) Progress(stage string, progress *domain.ProgressSummary) bool {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return false
	}
	ok, err := c.Repo.UpdateFieldsIfOwned(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, c.WorkerID, map[string]interface{}{
		"stage": stage,
	})
	if err != nil {
		c.Log.Warn("Progress write failed", "stage", stage, "error", err)
		return false
	}
	if !ok {
		c.Log.Warn("Progress write rejected; job no longer held by this worker", "stage", stage)
		return false
	}
	c.Job.Stage = stage

	if c.Notify != nil {
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, progress, c.MessageID())
	}
	return true
}

// Fail terminally fails the job. A rejected write means the sweeper already
// took the job back, in which case no event is emitted.
func (c *Context) Fail(stage string, runErr error) {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}

	ok, err := c.Repo.Fail(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, c.WorkerID, stage, msg)
	if err != nil {
		c.Log.Error("Fail write failed", "stage", stage, "error", err)
		return
	}
	if !ok {
		c.Log.Warn("Fail write rejected; job no longer held by this worker", "stage", stage)
		return
	}

	now := time.Now()
	c.Job.Status = domain.JobStatusFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.ProcessingBy = nil
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Succeed terminally completes the job with a result document.
func (c *Context) Succeed(summary string, result any) {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	var res datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			c.Fail("finalize", err)
			return
		}
		res = datatypes.JSON(b)
	}

	ok, err := c.Repo.Complete(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, c.WorkerID, summary, res)
	if err != nil {
		c.Log.Error("Complete write failed", "error", err)
		return
	}
	if !ok {
		c.Log.Warn("Complete write rejected; job no longer held by this worker")
		return
	}

	now := time.Now()
	c.Job.Status = domain.JobStatusCompleted
	c.Job.ResultSummary = summary
	c.Job.Result = res
	c.Job.Error = ""
	c.Job.ProcessingBy = nil
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}

// StartHeartbeat refreshes heartbeat_at every interval until the returned stop
// function is called. Stop is idempotent and waits for the goroutine to exit,
// so a finished job never gets a late heartbeat from its own worker.
func (c *Context) StartHeartbeat(interval time.Duration) func() {
	if interval <= 0 || c.Job == nil || c.Job.ID == uuid.Nil {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-c.Ctx.Done():
				return
			case <-ticker.C:
				ok, err := c.Repo.Heartbeat(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, c.WorkerID)
				if err != nil {
					c.Log.Warn("Heartbeat write failed", "error", err)
					continue
				}
				if !ok {
					c.Log.Warn("Heartbeat rejected; job no longer held by this worker")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
