package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"property-moderation/backend/internal/imaging"
	"property-moderation/backend/internal/moderation"
	"property-moderation/backend/internal/store"
	"property-moderation/backend/internal/util"
)

const (
	retryThrottle     = 500 * time.Millisecond
	defaultRetryLimit = 500
)

// retryJob tracks the state of a running re-classification of PENDING rows.
type retryJob struct {
	id        string
	cancel    context.CancelFunc
	startedAt time.Time
	total     int
}

// RetryRequest optionally caps how many pending rows a job picks up.
type RetryRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleStartRetry(c *gin.Context) {
	var req RetryRequest
	if c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.renderError(c, http.StatusBadRequest, err)
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = defaultRetryLimit
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		s.renderError(c, http.StatusConflict, errors.New("retry already running"))
		return
	}

	rows, err := s.db.PendingModerations(req.Limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	if len(rows) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("no pending moderations to retry"))
		return
	}

	job, err := s.startRetry(rows)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusAccepted, RetryJobDTO{
		ID:        job.id,
		Status:    "running",
		Total:     job.total,
		StartedAt: job.startedAt,
		Active:    true,
	})
}

func (s *Server) handleRetryStatus(c *gin.Context) {
	latest, err := s.db.LatestRetryJob()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, errors.New("no retry job has run"))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, s.retryJobDTO(*latest))
}

func (s *Server) handleGetRetryJob(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	row, err := s.db.GetRetryJob(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("retry job %s not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, s.retryJobDTO(*row))
}

// retryJobDTO converts a stored job. While the job runs, the latest progress
// event is overlaid on the stored counts.
func (s *Server) retryJobDTO(row store.RetryJob) RetryJobDTO {
	s.jobMu.Lock()
	active := s.activeJob != nil && s.activeJob.id == row.ID
	s.jobMu.Unlock()

	dto := RetryJobFromModel(row, active)
	if !active {
		return dto
	}
	if event := s.notifier.LastStatus(); event != nil && event.JobID == row.ID && event.Processed > dto.Processed {
		dto.Processed = event.Processed
		if event.Message != "" {
			dto.Message = event.Message
		}
	}
	return dto
}

func (s *Server) handleCancelRetry(c *gin.Context) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no retry running"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", s.activeJob.id).Info("retry cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling", "job_id": s.activeJob.id})
}

// startRetry launches an asynchronous retry job. The caller must hold
// s.jobMu.
func (s *Server) startRetry(rows []store.Moderation) (*retryJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("retry already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &retryJob{
		id:        uuid.NewString(),
		cancel:    cancel,
		startedAt: time.Now().UTC(),
		total:     len(rows),
	}
	if _, err := s.db.CreateRetryJob(job.id, job.total); err != nil {
		cancel()
		return nil, fmt.Errorf("create retry job: %w", err)
	}

	s.activeJob = job
	go s.runRetry(ctx, job, rows)
	return job, nil
}

func (s *Server) runRetry(ctx context.Context, job *retryJob, rows []store.Moderation) {
	var (
		mu        sync.Mutex
		processed int
		resolved  int
		lastEmit  time.Time
	)

	defer func() {
		s.jobMu.Lock()
		s.activeJob = nil
		s.jobMu.Unlock()
		job.cancel()
	}()

	logrus.WithFields(logrus.Fields{
		"job":   job.id,
		"total": job.total,
	}).Info("retry job started")
	s.notifier.Broadcast(ModerationEvent{
		Type:    "retry_started",
		JobID:   job.id,
		Total:   job.total,
		Message: "retry started",
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(determineWorkerCount())
	for _, row := range rows {
		row := row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			updated, err := s.reclassify(gctx, row)
			if err != nil {
				logrus.WithError(err).WithField("id", row.ID).Warn("retry moderation")
			}

			mu.Lock()
			processed++
			if updated != nil && updated.Status != store.StatusPending {
				resolved++
			}
			emit := time.Since(lastEmit) >= retryThrottle || processed == job.total
			if emit {
				lastEmit = time.Now()
			}
			done, fixed := processed, resolved
			mu.Unlock()

			if updated != nil && updated.Status != store.StatusPending {
				dto := FromModel(*updated)
				s.notifier.Broadcast(ModerationEvent{Type: "moderation", JobID: job.id, Moderation: &dto})
			}
			if emit {
				if err := s.db.UpdateRetryJob(job.id, "running", "", done, fixed); err != nil {
					logrus.WithError(err).WithField("job", job.id).Warn("update retry job")
				}
				s.notifier.Broadcast(ModerationEvent{
					Type:      "retry_progress",
					JobID:     job.id,
					Total:     job.total,
					Processed: done,
				})
			}
			return nil
		})
	}
	waitErr := g.Wait()

	status, eventType, message := "completed", "retry_completed", "retry completed"
	if waitErr != nil || ctx.Err() != nil {
		status, eventType, message = "cancelled", "retry_cancelled", "retry cancelled"
	}
	mu.Lock()
	done, fixed := processed, resolved
	mu.Unlock()

	if err := s.db.UpdateRetryJob(job.id, status, message, done, fixed); err != nil {
		logrus.WithError(err).WithField("job", job.id).Warn("finish retry job")
	}
	logrus.WithFields(logrus.Fields{
		"job":       job.id,
		"status":    status,
		"processed": done,
		"resolved":  fixed,
		"duration":  time.Since(job.startedAt),
	}).Info("retry job finished")
	s.notifier.Broadcast(ModerationEvent{
		Type:      eventType,
		JobID:     job.id,
		Total:     job.total,
		Processed: done,
		Message:   fmt.Sprintf("%s: %d of %d resolved", message, fixed, done),
	})
}

// reclassify re-runs classification and the pipeline for one PENDING row
// using the stored image. The row is saved even when it stays pending so the
// attempt count advances.
func (s *Server) reclassify(ctx context.Context, row store.Moderation) (*store.Moderation, error) {
	timer := util.StartTimer()
	if row.StoredPath == "" {
		return nil, fmt.Errorf("moderation %s has no stored image", row.ID)
	}
	data, err := os.ReadFile(row.StoredPath)
	if err != nil {
		return nil, fmt.Errorf("read stored image: %w", err)
	}
	info, err := imaging.DecodeInfo(data)
	if err != nil {
		return nil, err
	}

	dims := moderation.Dimensions{Width: row.Width, Height: row.Height}
	signals := s.classify(ctx, data, info)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	verdict, gate, err := s.pipeline.EvaluateTrace(dims, signals)
	if err != nil {
		return nil, err
	}

	updated := row
	updated.UpdatedAt = time.Now().UTC()
	applyVerdict(&updated, verdict, gate)
	updated.SetSignals(signals)
	updated.Attempts++
	updated.ProcessingTimeMs = timer.ElapsedMs()
	if verdict.Status == moderation.StatusRejected {
		updated.StoredPath = ""
	}
	if err := s.db.SaveModeration(&updated); err != nil {
		return nil, fmt.Errorf("save moderation: %w", err)
	}
	if verdict.Status == moderation.StatusRejected {
		removeStoredFile(row.StoredPath)
	}
	return &updated, nil
}
