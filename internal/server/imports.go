package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"go.uber.org/zap"
)

// SubmitImport accepts a CSV upload and returns as soon as the batch is
// accepted; progress is polled through ImportStatus. The upload is staged
// to a temp file that is removed whatever the outcome.
func (s *Server) SubmitImport(c *gin.Context) {
	if !s.submitLimiter.Allow(c.Request.Context(), c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		AbortWithError(c, domain.ErrEmptyFile)
		return
	}

	var importedAt *time.Time
	if raw := c.PostForm("imported_at"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidRange)
			return
		}
		importedAt = &parsed
	}

	tmpPath := filepath.Join(os.TempDir(), "printmeter-upload-"+uuid.NewString())
	if err := c.SaveUploadedFile(fileHeader, tmpPath); err != nil {
		AbortWithError(c, err)
		return
	}
	defer func() {
		if err := os.Remove(tmpPath); err != nil {
			s.log.Warn("failed to remove staged upload", zap.String("path", tmpPath), zap.Error(err))
		}
	}()

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.importSvc.Submit(c.Request.Context(), domain.SubmitRequest{
		FileName:   fileHeader.Filename,
		Data:       data,
		ImportedAt: importedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (s *Server) ImportStatus(c *gin.Context) {
	batchID, err := parseBatchID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.importSvc.Status(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) ListImports(c *gin.Context) {
	var req domain.HistoryRequest

	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidRange)
			return
		}
		req.From = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			AbortWithError(c, domain.ErrInvalidRange)
			return
		}
		// Inclusive upper bound: extend to the end of the day.
		end := parsed.Add(24*time.Hour - time.Nanosecond)
		req.To = &end
	}

	batches, err := s.importSvc.History(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"imports": batches})
}

func (s *Server) ReverseImport(c *gin.Context) {
	batchID, err := parseBatchID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.importSvc.Reverse(c.Request.Context(), batchID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseBatchID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidBatchID
	}
	return id, nil
}
