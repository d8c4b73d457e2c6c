// Package controller exposes the maze facade and submission API over gin.
package controller

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"labyrinth/internal/grading/service"
	"labyrinth/internal/maze"
	"labyrinth/internal/sandbox"
	appErr "labyrinth/pkg/errors"
	"labyrinth/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SessionController serves session lifecycle and the look/move protocol.
// Look and move answer with bare JSON because sandboxed clients parse it
// directly; every other endpoint uses the response envelope.
type SessionController struct {
	engine  *maze.Engine
	svc     *service.Service
	onClose func(sessionID string)
}

// NewSessionController creates a new SessionController. onClose may be nil.
func NewSessionController(engine *maze.Engine, svc *service.Service, onClose func(sessionID string)) *SessionController {
	return &SessionController{engine: engine, svc: svc, onClose: onClose}
}

// CreateSessionRequest defines the create payload.
type CreateSessionRequest struct {
	MazeID string `json:"maze_id" binding:"required"`
}

// MoveRequest defines the move payload.
type MoveRequest struct {
	Direction string `json:"direction"`
}

// RenderResponse carries a text rendering of a session.
type RenderResponse struct {
	SessionID string `json:"session_id"`
	Render    string `json:"render"`
}

// Create starts a session owned by the caller's user id.
func (h *SessionController) Create(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Error(c, appErr.New(appErr.Unauthorized).WithMessage("X-User-Id is required"))
		return
	}
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "maze_id is required")
		return
	}
	def, err := h.svc.Maze(c.Request.Context(), req.MazeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	st, err := h.engine.CreateSession(def, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, st)
}

// Get returns the session state.
func (h *SessionController) Get(c *gin.Context) {
	st, ok := h.authorize(c, false)
	if !ok {
		return
	}
	response.Success(c, st)
}

// Render returns the maze with the player marked.
func (h *SessionController) Render(c *gin.Context) {
	st, ok := h.authorize(c, false)
	if !ok {
		return
	}
	out, err := h.engine.Visualize(st.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, RenderResponse{SessionID: st.SessionID, Render: out})
}

// Delete closes the session.
func (h *SessionController) Delete(c *gin.Context) {
	st, ok := h.authorize(c, false)
	if !ok {
		return
	}
	final, err := h.engine.CloseSession(st.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.onClose != nil {
		h.onClose(st.SessionID)
	}
	response.Success(c, final)
}

// Look reports the neighbouring cells without spending a turn.
func (h *SessionController) Look(c *gin.Context) {
	st, ok := h.authorize(c, true)
	if !ok {
		return
	}
	res, err := h.engine.Look(st.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Move spends one turn moving in the requested direction.
func (h *SessionController) Move(c *gin.Context) {
	st, ok := h.authorize(c, true)
	if !ok {
		return
	}
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Direction) == "" {
		response.Error(c, appErr.New(appErr.MazeInvalidDirection))
		return
	}
	res, err := h.engine.Move(st.SessionID, maze.Direction(req.Direction))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// authorize loads the session and rejects callers who do not own it. The
// callback token stands in for the owner only on look and move.
func (h *SessionController) authorize(c *gin.Context, tokenOK bool) (maze.State, bool) {
	st, err := h.engine.Info(c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return maze.State{}, false
	}
	if !mayAccess(c, st, tokenOK) {
		response.Error(c, appErr.New(appErr.MazeSessionForbidden))
		return maze.State{}, false
	}
	return st, true
}

// mayAccess never matches an empty id or token.
func mayAccess(c *gin.Context, st maze.State, tokenOK bool) bool {
	if token := c.GetHeader(sandbox.CallbackTokenHeader); token != "" {
		return tokenOK && st.CallbackToken != "" &&
			subtle.ConstantTimeCompare([]byte(token), []byte(st.CallbackToken)) == 1
	}
	caller := c.GetString("user_id")
	return caller != "" && caller == st.UserID
}
