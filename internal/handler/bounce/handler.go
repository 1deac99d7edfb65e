package bounce

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-dispatcher/internal/handler"
)

type Recorder interface {
	RecordBounce(ctx context.Context, email string) error
}

type Handler struct {
	recorder Recorder
}

func NewHandler(recorder Recorder) *Handler {
	return &Handler{recorder: recorder}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bounces", h.RecordBounce)
}

type recordBounceRequest struct {
	Email string `json:"email" binding:"required,email"`
}

func (h *Handler) RecordBounce(c *gin.Context) {
	var req recordBounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("a valid email is required"))
		return
	}

	if err := h.recorder.RecordBounce(c.Request.Context(), req.Email); err != nil {
		handler.Fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(nil))
}
