package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/clients/redis"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/sse"
)

// JobNotifier pushes job lifecycle events to listeners. Delivery is
// best-effort: a notification failure never fails the job.
type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *domain.GenerationJob)
	JobProgress(userID uuid.UUID, job *domain.GenerationJob, stage string, progress *domain.ProgressSummary, messageID string)
	JobFailed(userID uuid.UUID, job *domain.GenerationJob, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *domain.GenerationJob)
}

type jobNotifier struct {
	log *logger.Logger
	hub *sse.Hub
	bus redis.SSEBus
}

// NewJobNotifier wires local SSE delivery plus, when a bus is provided,
// cross-instance fan-out. With a bus, messages go through redis only; the
// forwarder started in main replays them into every instance's hub, this one
// included.
func NewJobNotifier(baseLog *logger.Logger, hub *sse.Hub, bus redis.SSEBus) JobNotifier {
	return &jobNotifier{
		log: baseLog.With("service", "JobNotifier"),
		hub: hub,
		bus: bus,
	}
}

func (n *jobNotifier) send(msg sse.Message) {
	if n.bus != nil {
		err := n.bus.Publish(context.Background(), msg)
		if err == nil {
			return
		}
		n.log.Warn("Redis publish failed; delivering locally only", "event", msg.Event, "error", err)
	}
	if n.hub != nil {
		n.hub.Broadcast(msg)
	}
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *domain.GenerationJob) {
	n.send(sse.Message{
		Channel: userID.String(),
		Event:   sse.EventJobCreated,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"status":   job.Status,
		},
	})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *domain.GenerationJob, stage string, progress *domain.ProgressSummary, messageID string) {
	data := map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
	}
	if progress != nil {
		data["progress"] = progress
	}
	if messageID != "" {
		data["message_id"] = messageID
	}
	n.send(sse.Message{
		Channel: userID.String(),
		Event:   sse.EventJobProgress,
		Data:    data,
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *domain.GenerationJob, stage string, errorMessage string) {
	n.send(sse.Message{
		Channel: userID.String(),
		Event:   sse.EventJobFailed,
		Data: map[string]any{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"stage":    stage,
			"error":    errorMessage,
		},
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *domain.GenerationJob) {
	n.send(sse.Message{
		Channel: userID.String(),
		Event:   sse.EventJobDone,
		Data: map[string]any{
			"job_id":         job.ID,
			"job_type":       job.JobType,
			"result_summary": job.ResultSummary,
		},
	})
}
