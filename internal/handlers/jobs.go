package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/http/response"
	"github.com/courseforge/courseforge-backend/internal/pkg/ctxutil"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
	"github.com/courseforge/courseforge-backend/internal/services"
)

type JobHandler struct {
	log *logger.Logger
	svc services.JobService
}

func NewJobHandler(baseLog *logger.Logger, svc services.JobService) *JobHandler {
	return &JobHandler{
		log: baseLog.With("handler", "JobHandler"),
		svc: svc,
	}
}

type generateCourseRequest struct {
	ConversationID string         `json:"conversation_id"`
	FullContext    string         `json:"full_context"`
	PlanNormalized *domain.Plan   `json:"plan_normalized"`
	Metadata       map[string]any `json:"metadata"`
}

// GenerateCourse enqueues a course-generation job and returns immediately;
// progress arrives over SSE and GET /api/jobs/:id.
func (h *JobHandler) GenerateCourse(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}

	var req generateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	conversationID := uuid.Nil
	if req.ConversationID != "" {
		parsed, err := uuid.Parse(req.ConversationID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid conversation_id"))
			return
		}
		conversationID = parsed
	}

	job, err := h.svc.Enqueue(c.Request.Context(), rd.UserID, conversationID, domain.JobPayload{
		FullContext:    req.FullContext,
		PlanNormalized: req.PlanNormalized,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) {
			response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
			return
		}
		h.log.Error("Enqueue failed", "error", err)
		response.RespondError(c, http.StatusInternalServerError, "internal", errors.New("failed to enqueue job"))
		return
	}

	response.RespondAccepted(c, gin.H{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return
	}

	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "bad_request", errors.New("invalid job id"))
		return
	}

	view, err := h.svc.GetForOwner(c.Request.Context(), jobID, rd.UserID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			response.RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		h.log.Error("GetForOwner failed", "job_id", jobID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "internal", errors.New("failed to load job"))
		return
	}
	response.RespondOK(c, view)
}
