package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"property-moderation/backend/internal/imaging"
	"property-moderation/backend/internal/moderation"
	"property-moderation/backend/internal/store"
	"property-moderation/backend/internal/util"
	"property-moderation/backend/internal/vision"
)

const (
	maxBatchFiles  = 50
	pipelineAuthor = "pipeline"
)

var (
	errImageTooLarge = errors.New("image exceeds upload size limit")
	errInvalidImage  = errors.New("invalid image")
)

// upload is one image received from a client.
type upload struct {
	filename  string
	listingID string
	data      []byte
}

func (s *Server) handleModerate(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, errors.New("image file is required"))
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}

	data, err := s.readUpload(fileHeader)
	if err != nil {
		s.renderUploadError(c, err)
		return
	}

	record, err := s.moderate(c.Request.Context(), upload{
		filename:  fileHeader.Filename,
		listingID: strings.TrimSpace(c.PostForm("listing_id")),
		data:      data,
	})
	if err != nil {
		s.renderUploadError(c, err)
		return
	}
	c.JSON(statusCodeFor(record.Status), FromModel(*record))
}

func (s *Server) handleModerateBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}
	files := form.File["images"]
	if len(files) == 0 {
		s.renderError(c, http.StatusBadRequest, errors.New("at least one image is required"))
		return
	}
	if len(files) > maxBatchFiles {
		s.renderError(c, http.StatusBadRequest, fmt.Errorf("batch limited to %d images", maxBatchFiles))
		return
	}
	listingID := strings.TrimSpace(c.PostForm("listing_id"))

	items := make([]BatchItem, len(files))
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(determineWorkerCount())
	for i, header := range files {
		i, header := i, header
		items[i].Filename = header.Filename
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.readUpload(header)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			record, err := s.moderate(ctx, upload{filename: header.Filename, listingID: listingID, data: data})
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			dto := FromModel(*record)
			items[i].Moderation = &dto
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.renderError(c, http.StatusRequestTimeout, err)
		return
	}

	counts := make(map[string]int)
	for _, item := range items {
		if item.Moderation == nil {
			counts["error"]++
			continue
		}
		counts[item.Moderation.Status]++
	}
	c.JSON(http.StatusOK, BatchResponse{Items: items, Counts: counts})
}

// moderate classifies one upload, runs the decision pipeline and persists
// the outcome. Rejected images are not kept on disk.
func (s *Server) moderate(ctx context.Context, up upload) (*store.Moderation, error) {
	timer := util.StartTimer()

	info, err := imaging.DecodeInfo(up.data)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) || errors.Is(err, imaging.ErrTooManyPixels) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errInvalidImage, err)
	}
	dims := moderation.Dimensions{Width: info.Width, Height: info.Height}

	var signals vision.Signals
	if s.meetsMinimumSize(dims) {
		signals = s.classify(ctx, up.data, info)
	} else {
		signals = vision.Failed(errors.New("classification skipped for undersized image"))
	}

	verdict, gate, err := s.pipeline.EvaluateTrace(dims, signals)
	if err != nil {
		return nil, err
	}

	record := &store.Moderation{
		ID:               uuid.NewString(),
		ListingID:        up.listingID,
		OriginalFilename: filepath.Base(up.filename),
		Format:           info.Format,
		Width:            info.Width,
		Height:           info.Height,
		DecidedBy:        pipelineAuthor,
		Attempts:         1,
	}
	applyVerdict(record, verdict, gate)
	record.SetSignals(signals)

	if verdict.Status != moderation.StatusRejected {
		path, err := s.storeImage(record.ID, info.Format, up.data)
		if err != nil {
			return nil, err
		}
		record.StoredPath = path
	}

	record.ProcessingTimeMs = timer.ElapsedMs()
	if err := s.db.SaveModeration(record); err != nil {
		removeStoredFile(record.StoredPath)
		return nil, fmt.Errorf("save moderation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"id":         record.ID,
		"listing_id": record.ListingID,
		"status":     record.Status,
		"reason":     record.Reason,
		"gate":       record.Gate,
		"elapsed_ms": record.ProcessingTimeMs,
	}).Info("image moderated")

	dto := FromModel(*record)
	s.notifier.Broadcast(ModerationEvent{Type: "moderation", Moderation: &dto})
	return record, nil
}

// classify calls the vision classifier on a downscaled copy of the image.
// Any failure is folded into signals so the pipeline can mark it pending.
func (s *Server) classify(ctx context.Context, data []byte, info imaging.Info) vision.Signals {
	if s.classifier == nil || !s.classifier.Enabled() {
		return vision.Failed(vision.ErrDisabled)
	}
	payload, err := imaging.PrepareForVision(data, info, s.maxEdge)
	if err != nil {
		logrus.WithError(err).Warn("prepare image for vision, sending original")
		payload = data
	}
	signals, err := s.classifier.Analyze(ctx, payload)
	if err != nil {
		logrus.WithError(err).Warn("vision classification failed")
		return vision.Failed(err)
	}
	return signals
}

func (s *Server) meetsMinimumSize(dims moderation.Dimensions) bool {
	t := s.pipeline.Rules().Thresholds
	return dims.Width >= t.MinWidth && dims.Height >= t.MinHeight
}

func applyVerdict(record *store.Moderation, verdict moderation.Verdict, gate string) {
	record.Status = string(verdict.Status)
	record.Reason = string(verdict.Reason)
	record.Message = verdict.Message
	record.Gate = gate
	record.SetDetails(verdict.Details)
}

func (s *Server) readUpload(header *multipart.FileHeader) ([]byte, error) {
	if header == nil {
		return nil, errors.New("file header is nil")
	}
	if s.maxUploadBytes > 0 && header.Size > s.maxUploadBytes {
		return nil, errImageTooLarge
	}
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	reader := io.Reader(src)
	if s.maxUploadBytes > 0 {
		reader = io.LimitReader(src, s.maxUploadBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if s.maxUploadBytes > 0 && int64(len(data)) > s.maxUploadBytes {
		return nil, errImageTooLarge
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", errInvalidImage)
	}
	return data, nil
}

func (s *Server) storeImage(id, format string, data []byte) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, id+imaging.Extension(format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return path, nil
}

func removeStoredFile(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).WithField("path", path).Warn("remove stored image")
	}
}

func (s *Server) renderUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errImageTooLarge), errors.Is(err, imaging.ErrTooManyPixels):
		s.renderError(c, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, imaging.ErrUnsupportedFormat),
		errors.Is(err, errInvalidImage),
		errors.Is(err, moderation.ErrInvalidDimensions):
		s.renderError(c, http.StatusBadRequest, err)
	default:
		logrus.WithError(err).Error("moderate upload")
		s.renderError(c, http.StatusInternalServerError, err)
	}
}

// statusCodeFor maps a verdict status to the response code. Anything not yet
// final answers 202.
func statusCodeFor(status string) int {
	switch status {
	case string(moderation.StatusApproved):
		return http.StatusOK
	case string(moderation.StatusRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusAccepted
	}
}

func determineWorkerCount() int {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	if workers > 12 {
		workers = 12
	}
	return workers
}
