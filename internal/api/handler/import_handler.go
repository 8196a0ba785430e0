package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/importer"
)

// ImportHandler handles the import job endpoints.
type ImportHandler struct {
	svc *importer.Service
}

// NewImportHandler creates a new import handler.
// Parameters:
//   - svc: import pipeline service.
// Returns:
//   - *ImportHandler: initialized handler.
func NewImportHandler(svc *importer.Service) *ImportHandler {
	return &ImportHandler{svc: svc}
}

// urlImportRequest is the body of POST /api/v1/imports/url.
type urlImportRequest struct {
	URL          string `json:"url" binding:"required,url"`
	ElectionYear int    `json:"election_year" binding:"required"`
	Region       string `json:"region" binding:"required,len=2"`
	CargoFilter  string `json:"cargo_filter" binding:"required"`
}

// jobResponse is a job plus its derived progress. Progress is computed per
// read, never stored.
type jobResponse struct {
	*domain.ImportJob
	Progress domain.Progress `json:"progress"`
}

func toJobResponse(job *domain.ImportJob) jobResponse {
	return jobResponse{ImportJob: job, Progress: job.ProgressAt(time.Now())}
}

// writeError maps pipeline sentinel errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, importer.ErrAlreadyImported):
		c.JSON(http.StatusConflict, gin.H{"error": "this dataset has already been imported"})
	case errors.Is(err, importer.ErrImportInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "an import for this dataset is already in progress"})
	case errors.Is(err, importer.ErrInvalidState), errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, importer.ErrNotRestartable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "only failed or cancelled URL imports can be restarted"})
	case errors.Is(err, importer.ErrUnknownFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is not one of the extracted candidates"})
	case errors.Is(err, importer.ErrNoMatchingFile):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "archive contains no importable file"})
	case errors.Is(err, importer.ErrSourceFileGone):
		c.JSON(http.StatusConflict, gin.H{"error": "source file is no longer on disk"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return uint(id), true
}

// SubmitURL handles POST /api/v1/imports/url.
func (h *ImportHandler) SubmitURL(c *gin.Context) {
	var req urlImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	job, err := h.svc.SubmitURL(c.Request.Context(), req.URL, req.ElectionYear, req.Region, req.CargoFilter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

// SubmitUpload handles POST /api/v1/imports (multipart form).
// Form fields: file, election_year, region, cargo_filter.
func (h *ImportHandler) SubmitUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	year, err := strconv.Atoi(c.PostForm("election_year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "election_year must be a number"})
		return
	}
	region := c.PostForm("region")
	cargo := c.PostForm("cargo_filter")
	if len(region) != 2 || cargo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "region (2 letters) and cargo_filter are required"})
		return
	}

	job, err := h.svc.SubmitUpload(c.Request.Context(), file, header.Filename, year, region, cargo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

// ListJobs handles GET /api/v1/imports.
func (h *ImportHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := h.svc.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out, "limit": limit, "offset": offset})
}

// GetJob handles GET /api/v1/imports/:id.
func (h *ImportHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// ListBatches handles GET /api/v1/imports/:id/batches.
func (h *ImportHandler) ListBatches(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	batches, err := h.svc.ListBatches(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

// ListErrors handles GET /api/v1/imports/:id/errors. With format=csv the
// error records are exported as a CSV attachment instead of JSON.
func (h *ImportHandler) ListErrors(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if c.Query("format") == "csv" {
		// Export ignores pagination: the file holds every record.
		recs, err := h.svc.ListErrors(c.Request.Context(), id, -1, 0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Disposition", "attachment; filename=import_errors_"+c.Param("id")+".csv")
		c.Data(http.StatusOK, "text/csv", []byte(importer.ErrorsCSV(recs)))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	recs, err := h.svc.ListErrors(c.Request.Context(), id, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": recs, "limit": limit, "offset": offset})
}

// Cancel handles POST /api/v1/imports/:id/cancel.
func (h *ImportHandler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.CancelJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// Restart handles POST /api/v1/imports/:id/restart.
func (h *ImportHandler) Restart(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.RestartJob(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// selectFileRequest is the body of POST /api/v1/imports/:id/select.
type selectFileRequest struct {
	File string `json:"file"`
	All  bool   `json:"all"`
}

// SelectFile handles POST /api/v1/imports/:id/select.
func (h *ImportHandler) SelectFile(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	var req selectFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if !req.All && req.File == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either file or all is required"})
		return
	}

	jobs, err := h.svc.SelectFile(c.Request.Context(), id, req.File, req.All)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

// ReprocessBatch handles POST /api/v1/imports/:id/batches/:batchId/reprocess.
func (h *ImportHandler) ReprocessBatch(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	batchID, err := strconv.ParseUint(c.Param("batchId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch id"})
		return
	}

	batch, err := h.svc.ReprocessBatch(c.Request.Context(), id, uint(batchID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

// ReprocessFailed handles POST /api/v1/imports/:id/reprocess-failed.
func (h *ImportHandler) ReprocessFailed(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.ReprocessFailed(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// Verify handles POST /api/v1/imports/:id/verify.
func (h *ImportHandler) Verify(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	job, err := h.svc.Verify(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// Delete handles DELETE /api/v1/imports/:id.
func (h *ImportHandler) Delete(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteJob(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Queue handles GET /api/v1/queue.
func (h *ImportHandler) Queue(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.QueueStatus())
}
