// Package api exposes the submit/status/cleanup HTTP surface. The API
// never touches video bytes; it writes job records and enqueues task
// payloads for the worker fleet.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/framelens/personcrop/internal/jobstore"
	"github.com/framelens/personcrop/internal/lifecycle"
	"github.com/framelens/personcrop/internal/models"
)

// Enqueuer pushes a processing task onto the queue.
type Enqueuer interface {
	Enqueue(payload *models.ProcessPayload) error
}

// Config holds the API-side settings.
type Config struct {
	CleanupToken string        // required header value for POST /cleanup; empty disables the endpoint
	Retention    time.Duration // terminal jobs older than this are deleted by cleanup
}

// Server handles job submission and status queries.
type Server struct {
	store   jobstore.Store
	queue   Enqueuer
	manager *lifecycle.Manager
	config  Config
}

// NewServer wires the API handlers.
func NewServer(store jobstore.Store, queue Enqueuer, manager *lifecycle.Manager, config Config) *Server {
	return &Server{
		store:   store,
		queue:   queue,
		manager: manager,
		config:  config,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.POST("/submit", s.handleSubmit)
	router.GET("/status/:id", s.handleStatus)
	router.POST("/cleanup", s.handleCleanup)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitRequest struct {
	InputURI string `json:"input_uri" binding:"required"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_uri is required"})
		return
	}
	if !validScheme(req.InputURI) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_uri must be a gs://, http:// or https:// URL"})
		return
	}

	jobID := uuid.New().String()
	job, err := s.store.Create(c.Request.Context(), jobID, req.InputURI)
	if err != nil {
		logrus.WithError(err).Error("failed to create job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	if err := s.queue.Enqueue(&models.ProcessPayload{JobID: jobID}); err != nil {
		// The record exists but nothing will ever pick it up; fail it
		// now so the submitter isn't left polling a queued job forever.
		logrus.WithError(err).WithField("job_id", jobID).Error("failed to enqueue job")
		s.store.TryAcquire(c.Request.Context(), jobID)
		s.store.MarkFailed(c.Request.Context(), jobID, "failed to enqueue job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue job"})
		return
	}

	logrus.WithFields(logrus.Fields{"job_id": jobID, "input_uri": req.InputURI}).Info("job submitted")
	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	jobID := c.Param("id")

	job, err := s.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		logrus.WithError(err).WithField("job_id", jobID).Error("failed to load job")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}

	resp := gin.H{
		"job_id":     job.ID,
		"status":     job.Status,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	switch job.Status {
	case models.StatusDone:
		resp["output_uri"] = job.OutputURI
	case models.StatusFailed:
		resp["error"] = job.Error
	case models.StatusProcessing:
		if frames, ok := s.manager.Progress(c.Request.Context(), jobID); ok {
			resp["frames_processed"] = frames
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleCleanup sweeps stalled processing jobs and deletes terminal
// records past retention. It is invoked by a scheduler, not by users,
// hence the shared-token guard.
func (s *Server) handleCleanup(c *gin.Context) {
	if s.config.CleanupToken == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "cleanup is not configured"})
		return
	}
	if c.GetHeader("X-Cleanup-Token") != s.config.CleanupToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid cleanup token"})
		return
	}

	swept, err := s.manager.SweepStale(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("stale sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stale sweep failed"})
		return
	}

	deleted, err := s.store.DeleteOlderThan(c.Request.Context(), s.config.Retention)
	if err != nil {
		logrus.WithError(err).Error("retention delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retention delete failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stale_marked": swept,
		"deleted":      deleted,
	})
}

func validScheme(uri string) bool {
	return strings.HasPrefix(uri, "gs://") ||
		strings.HasPrefix(uri, "http://") ||
		strings.HasPrefix(uri, "https://")
}
