package controller

import (
	"labyrinth/internal/grading/service"
	"labyrinth/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// MazeController lists playable mazes.
type MazeController struct {
	svc *service.Service
}

// NewMazeController creates a new MazeController.
func NewMazeController(svc *service.Service) *MazeController {
	return &MazeController{svc: svc}
}

// List returns every active maze.
func (h *MazeController) List(c *gin.Context) {
	infos, err := h.svc.Mazes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, infos)
}

// Get returns one maze's metadata.
func (h *MazeController) Get(c *gin.Context) {
	def, err := h.svc.Maze(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, def.Info())
}
