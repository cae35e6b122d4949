package handler

import (
	"net/http"
	"strings"

	"estatecrm/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DirectoryHandler registers the client and property records owned by the
// rest of the CRM so deals can reference them.
type DirectoryHandler struct {
	dir    store.DirectoryWriter
	logger *zap.Logger
}

func NewDirectoryHandler(dir store.DirectoryWriter, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{dir: dir, logger: logger}
}

type clientRequest struct {
	FullName string `json:"full_name"`
}

type propertyRequest struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

func (h *DirectoryHandler) PutClient(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "PutClient", "id")
	if !ok {
		return
	}
	var req clientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "PutClient", "invalid request body", err)
		return
	}
	if err := h.dir.UpsertClient(c.Request.Context(), id, strings.TrimSpace(req.FullName)); err != nil {
		respondError(c, h.logger, "PutClient", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "full_name": strings.TrimSpace(req.FullName)})
}

func (h *DirectoryHandler) PutProperty(c *gin.Context) {
	id, ok := uuidParam(c, h.logger, "PutProperty", "id")
	if !ok {
		return
	}
	var req propertyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, h.logger, "PutProperty", "invalid request body", err)
		return
	}
	propertyType := strings.TrimSpace(req.Type)
	if propertyType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must not be empty", "field": "type"})
		return
	}
	if err := h.dir.UpsertProperty(c.Request.Context(), id, propertyType, strings.TrimSpace(req.Title)); err != nil {
		respondError(c, h.logger, "PutProperty", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "type": propertyType})
}
