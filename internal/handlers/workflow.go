package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/manager"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/reasoning"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/storage"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// WorkflowService is the surface of the workflow manager the HTTP
// handlers depend on.
type WorkflowService interface {
	Create(ctx context.Context, workflow types.Workflow) (*types.Workflow, error)
	CreateFromMessage(ctx context.Context, workflowID, message string, maxThinkingSteps int) (*types.Workflow, error)
	Get(ctx context.Context, workflowID string) (*types.WorkflowSnapshot, error)
	Suspend(ctx context.Context, workflowID, reason string) error
	Resume(ctx context.Context, workflowID string) (*types.Workflow, error)
	ListSnapshots(ctx context.Context, workflowID string) ([]types.SnapshotSummary, error)
	ListAllSnapshots(ctx context.Context) ([]types.SnapshotSummary, error)
	GetSnapshot(ctx context.Context, workflowID string, version int64) (*types.WorkflowSnapshot, error)
	Process(ctx context.Context, message string) (*reasoning.Result, error)
}

// ErrorResponse defines the structure for an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// CreateWorkflowRequest defines the structure for creating a workflow.
// Either a step list or a free-form message must be provided; a message
// alone becomes a single-step reasoning workflow.
type CreateWorkflowRequest struct {
	WorkflowID       string                 `json:"workflow_id,omitempty"`
	Steps            []types.StepDescriptor `json:"steps,omitempty"`
	Message          string                 `json:"message,omitempty"`
	MaxThinkingSteps int                    `json:"max_thinking_steps,omitempty"`
}

// SuspendWorkflowRequest carries the optional suspend reason.
type SuspendWorkflowRequest struct {
	Reason string `json:"reason,omitempty"`
}

// writeError maps domain errors to HTTP status codes.
func writeError(c *gin.Context, err error) {
	var notFound *storage.NotFoundError
	var conflict *storage.VersionConflictError
	var validation *manager.ValidationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
			Code:    http.StatusNotFound,
		})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
	case errors.Is(err, manager.ErrWorkflowExists),
		errors.Is(err, manager.ErrWorkflowRunning),
		errors.Is(err, manager.ErrNotRunning),
		errors.As(err, &conflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "conflict",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
	case errors.Is(err, manager.ErrSuspendResumeDisabled):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "suspend_resume_disabled",
			Message: err.Error(),
			Code:    http.StatusForbidden,
		})
	default:
		logger.Logger.Error().Err(err).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
	}
}

// CreateWorkflowHandler handles the request to create and start a workflow.
func CreateWorkflowHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var req CreateWorkflowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: err.Error(),
				Code:    http.StatusBadRequest,
			})
			return
		}

		if len(req.Steps) == 0 && req.Message == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "either steps or message is required",
				Code:    http.StatusBadRequest,
			})
			return
		}

		var workflow *types.Workflow
		var err error
		if len(req.Steps) > 0 {
			workflow, err = svc.Create(ctx, types.Workflow{
				WorkflowID:       req.WorkflowID,
				Steps:            req.Steps,
				MaxThinkingSteps: req.MaxThinkingSteps,
				InitialMessage:   req.Message,
			})
		} else {
			workflow, err = svc.CreateFromMessage(ctx, req.WorkflowID, req.Message, req.MaxThinkingSteps)
		}
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, workflow)
	}
}

// GetWorkflowHandler handles the request to fetch a workflow's current state.
func GetWorkflowHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := svc.Get(c.Request.Context(), c.Param("workflow_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}

// SuspendWorkflowHandler handles the request to suspend a running workflow
// at its next step boundary.
func SuspendWorkflowHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SuspendWorkflowRequest
		// Body is optional; an empty body means no reason.
		_ = c.ShouldBindJSON(&req)

		workflowID := c.Param("workflow_id")
		if err := svc.Suspend(c.Request.Context(), workflowID, req.Reason); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"workflow_id": workflowID,
			"message":     "suspension requested, workflow stops at the next step boundary",
		})
	}
}

// ResumeWorkflowHandler handles the request to resume a suspended workflow.
func ResumeWorkflowHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		workflow, err := svc.Resume(c.Request.Context(), c.Param("workflow_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, workflow)
	}
}

// ListSnapshotsHandler handles the request to list a workflow's snapshot
// history.
func ListSnapshotsHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := svc.ListSnapshots(c.Request.Context(), c.Param("workflow_id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"workflow_id": c.Param("workflow_id"),
			"snapshots":   summaries,
		})
	}
}

// ListAllSnapshotsHandler handles the request to list the snapshot
// history of every workflow.
func ListAllSnapshotsHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		summaries, err := svc.ListAllSnapshots(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"snapshots": summaries})
	}
}

// GetSnapshotHandler handles the request to fetch one snapshot version.
func GetSnapshotHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		version, err := strconv.ParseInt(c.Param("version"), 10, 64)
		if err != nil || version < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "version must be a positive integer",
				Code:    http.StatusBadRequest,
			})
			return
		}

		snapshot, err := svc.GetSnapshot(c.Request.Context(), c.Param("workflow_id"), version)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snapshot)
	}
}
