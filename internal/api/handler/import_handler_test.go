package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/importer"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: gorm.ErrRecordNotFound, status: http.StatusNotFound},
		{name: "already imported", err: importer.ErrAlreadyImported, status: http.StatusConflict},
		{name: "import in progress", err: importer.ErrImportInProgress, status: http.StatusConflict},
		{name: "invalid state", err: importer.ErrInvalidState, status: http.StatusConflict},
		{name: "invalid transition", err: domain.ErrInvalidTransition, status: http.StatusConflict},
		{name: "not restartable", err: importer.ErrNotRestartable, status: http.StatusUnprocessableEntity},
		{name: "unknown file", err: importer.ErrUnknownFile, status: http.StatusBadRequest},
		{name: "no matching file", err: importer.ErrNoMatchingFile, status: http.StatusUnprocessableEntity},
		{name: "source file gone", err: importer.ErrSourceFileGone, status: http.StatusConflict},
		{name: "unclassified error is internal", err: errors.New("x"), status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tc.err)
			if w.Code != tc.status {
				t.Errorf("status for %v = %d, want %d", tc.err, w.Code, tc.status)
			}
		})
	}
}

func TestJobIDParsing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("numeric id", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: "42"}}
		id, ok := jobID(c)
		if !ok || id != 42 {
			t.Errorf("jobID = (%d, %v), want (42, true)", id, ok)
		}
	})

	t.Run("garbage id", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Params = gin.Params{{Key: "id", Value: "abc"}}
		if _, ok := jobID(c); ok {
			t.Error("expected a non-numeric id to be rejected")
		}
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
	})
}
