package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/caiosb/votedata/internal/importer"
)

// FilesHandler handles the temp-file custody endpoints.
type FilesHandler struct {
	custodian *importer.Custodian
}

// NewFilesHandler creates a new files handler.
func NewFilesHandler(custodian *importer.Custodian) *FilesHandler {
	return &FilesHandler{custodian: custodian}
}

// List handles GET /api/v1/files.
func (h *FilesHandler) List(c *gin.Context) {
	groups, err := h.custodian.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var total int64
	for _, g := range groups {
		total += g.TotalBytes
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups, "total_bytes": total})
}

// Delete handles DELETE /api/v1/files/:group.
func (h *FilesHandler) Delete(c *gin.Context) {
	name := c.Param("group")
	if err := h.custodian.Delete(c.Request.Context(), name); err != nil {
		if errors.Is(err, importer.ErrUnknownGroup) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown file group"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
