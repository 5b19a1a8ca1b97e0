package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/facemoji/internal/logging"
	"github.com/example/facemoji/internal/repository"
	"github.com/example/facemoji/internal/taskstore"
	"github.com/example/facemoji/internal/usecase"
)

// MaxUploadSize is the default limit for an uploaded image.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for the form envelope around the file.
const multipartOverhead = 64 << 10

// TaskService is what the routes need from the orchestrator.
type TaskService interface {
	Submit(ctx context.Context, filename string, data []byte) (string, error)
	Poll(ctx context.Context, taskID string) (taskstore.View, error)
	StatsEnabled() bool
	StatsSummary(ctx context.Context) (*usecase.StatsSummary, error)
	TaskHistory(ctx context.Context, taskID string) (*repository.TaskLog, error)
}

// Options tune the routes.
type Options struct {
	MaxUploadBytes int64
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc TaskService, opts Options, logger *zap.Logger) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadSize
	}
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/generate", func(c *gin.Context) {
		if c.Request.ContentLength > opts.MaxUploadBytes+multipartOverhead {
			tooLarge(c, opts.MaxUploadBytes)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, opts.MaxUploadBytes+multipartOverhead)

		file, err := c.FormFile("image")
		if err != nil {
			if isTooLarge(err) {
				tooLarge(c, opts.MaxUploadBytes)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided"})
			return
		}
		if file.Size > opts.MaxUploadBytes {
			tooLarge(c, opts.MaxUploadBytes)
			return
		}
		if !acceptedContentType(file) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}

		data, err := readFile(file)
		if err != nil {
			logger.Error("failed to read upload", zap.String("request_id", logging.RequestID(c)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		taskID, err := svc.Submit(c.Request.Context(), file.Filename, data)
		if err != nil {
			status := usecase.HTTPStatus(err)
			if status == http.StatusInternalServerError {
				logger.Error("failed to submit task", zap.String("request_id", logging.RequestID(c)), zap.Error(err))
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
	})

	router.GET("/task_status/:task_id", func(c *gin.Context) {
		taskID := c.Param("task_id")

		view, err := svc.Poll(c.Request.Context(), taskID)
		if err != nil {
			logger.Error("failed to read task status", zap.String("task_id", taskID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}

		switch view.Status {
		case taskstore.StatusCompleted:
			c.JSON(http.StatusOK, gin.H{"status": "completed", "result": view.Result})
		case taskstore.StatusFailed:
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": view.Error})
		default:
			c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		}
	})

	router.GET("/stats", func(c *gin.Context) {
		if !svc.StatsEnabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": usecase.ErrStatsUnavailable.Error()})
			return
		}
		summary, err := svc.StatsSummary(c.Request.Context())
		if err != nil {
			logger.Error("failed to aggregate stats", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate stats"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	router.GET("/task_log/:task_id", func(c *gin.Context) {
		if !svc.StatsEnabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": usecase.ErrStatsUnavailable.Error()})
			return
		}
		log, err := svc.TaskHistory(c.Request.Context(), c.Param("task_id"))
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task log not found"})
			return
		}
		if err != nil {
			logger.Error("failed to read task log", zap.String("task_id", c.Param("task_id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read task log"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"task_id":    log.TaskID,
			"status":     log.Status,
			"result":     log.Result,
			"error":      log.Error,
			"latency_ms": log.LatencyMs,
			"created_at": log.CreatedAt,
		})
	})
}

func tooLarge(c *gin.Context, limit int64) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit", "limit_bytes": limit})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// acceptedContentType allows image types and parts without a usable type;
// the bytes are sniffed later anyway.
func acceptedContentType(file *multipart.FileHeader) bool {
	ct := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(ct, "image/")
}

func readFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}
