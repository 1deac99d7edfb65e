package endpoint

import (
	"context"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-dispatcher/internal/handler"
	"github.com/jwalitptl/notification-dispatcher/internal/model"
	"github.com/jwalitptl/notification-dispatcher/pkg/security"
)

type Directory interface {
	Lookup(ctx context.Context, userID string) (*model.EndpointRecord, error)
	Delete(ctx context.Context, userID string) error
}

type Handler struct {
	directory Directory
}

func NewHandler(directory Directory) *Handler {
	return &Handler{directory: directory}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	endpoints := r.Group("/endpoints")
	{
		endpoints.GET("/:userId", h.GetEndpoints)
		endpoints.DELETE("/:userId", h.DeleteEndpoints)
	}
}

type endpointEntry struct {
	Address    string `json:"address"`
	EndpointID string `json:"endpoint_id"`
}

type endpointsResponse struct {
	UserID    string                                `json:"user_id"`
	Endpoints map[model.ChannelType][]endpointEntry `json:"endpoints"`
}

func (h *Handler) GetEndpoints(c *gin.Context) {
	userID := c.Param("userId")

	record, err := h.directory.Lookup(c.Request.Context(), userID)
	if err != nil {
		handler.Fail(c, err)
		return
	}

	resp := endpointsResponse{
		UserID:    userID,
		Endpoints: make(map[model.ChannelType][]endpointEntry, len(record.Endpoints)),
	}
	total := 0
	for channel, entries := range record.Endpoints {
		list := make([]endpointEntry, 0, len(entries))
		for address, id := range entries {
			list = append(list, endpointEntry{Address: security.MaskAddress(address), EndpointID: id})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].EndpointID < list[j].EndpointID })
		resp.Endpoints[channel] = list
		total += len(list)
	}
	if total == 0 {
		c.JSON(http.StatusNotFound, handler.NewErrorResponse("endpoint record not found"))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(resp))
}

func (h *Handler) DeleteEndpoints(c *gin.Context) {
	if err := h.directory.Delete(c.Request.Context(), c.Param("userId")); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
