package controller

import (
	"time"

	"labyrinth/internal/grading/service"
	"labyrinth/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionController handles submission HTTP endpoints.
type SubmissionController struct {
	svc *service.Service
}

// NewSubmissionController creates a new SubmissionController.
func NewSubmissionController(svc *service.Service) *SubmissionController {
	return &SubmissionController{svc: svc}
}

// SubmitRequest defines submission payload.
type SubmitRequest struct {
	MazeID string `json:"maze_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// SubmitResponse defines submission response payload.
type SubmitResponse struct {
	SubmissionID string    `json:"submission_id"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ValidateRequest defines the dry-run validation payload.
type ValidateRequest struct {
	Code string `json:"code" binding:"required"`
}

// Submit admits code for grading.
func (h *SubmissionController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	sub, err := h.svc.Submit(c.Request.Context(), c.GetString("user_id"), req.MazeID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, SubmitResponse{
		SubmissionID: sub.ID,
		Status:       string(sub.Status),
		CreatedAt:    sub.CreatedAt,
	})
}

// Get returns status for one submission.
func (h *SubmissionController) Get(c *gin.Context) {
	submissionID := c.Param("id")
	if submissionID == "" {
		response.BadRequest(c, "Invalid submission id")
		return
	}
	sub, err := h.svc.Get(c.Request.Context(), submissionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sub)
}

// Validate checks code without submitting it.
func (h *SubmissionController) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	response.Success(c, h.svc.Validate(c.Request.Context(), req.Code))
}
