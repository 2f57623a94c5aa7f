package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProcessRequest defines the structure for a direct processing request.
type ProcessRequest struct {
	Message string `json:"message" binding:"required"`
}

// ProcessResponse defines the structure for a direct processing response.
type ProcessResponse struct {
	Response   string `json:"response"`
	Truncated  bool   `json:"truncated,omitempty"`
	Iterations int    `json:"iterations"`
}

// ProcessHandler handles one-shot reasoning requests that bypass the
// workflow engine.
func ProcessHandler(svc WorkflowService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: err.Error(),
				Code:    http.StatusBadRequest,
			})
			return
		}

		result, err := svc.Process(c.Request.Context(), req.Message)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, ProcessResponse{
			Response:   result.Output,
			Truncated:  result.Truncated,
			Iterations: result.Iterations,
		})
	}
}
