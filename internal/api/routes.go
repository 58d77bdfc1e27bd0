package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"property-moderation/backend/internal/imaging"
	"property-moderation/backend/internal/moderation"
	"property-moderation/backend/internal/store"
	"property-moderation/backend/internal/vision"
)

// Config defines server dependencies.
type Config struct {
	DBPath         string
	RulesPath      string
	UploadDir      string
	AllowedOrigins []string
	SilentDB       bool
	VisionConfig   vision.Config
	RetryConfig    vision.RetryConfig
	CacheTTL       time.Duration
	DisableVision  bool
	MaxUploadBytes int64
	VisionMaxEdge  int
	// Classifier replaces the Google Vision client when set.
	Classifier vision.Classifier
}

// Server wires HTTP handlers with persistence and the moderation pipeline.
type Server struct {
	db             *store.Database
	pipeline       *moderation.Pipeline
	rulesPath      string
	classifier     vision.Classifier
	uploadDir      string
	allowedOrigins []string
	maxUploadBytes int64
	maxEdge        int
	notifier       *Notifier
	jobMu          sync.Mutex
	activeJob      *retryJob
}

const (
	defaultUploadDir      = "uploads"
	defaultMaxUploadBytes = 10 << 20
	defaultReviewer       = "moderator"
)

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}

	rules, err := moderation.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("moderation rules: %w", err)
	}

	classifier := cfg.Classifier
	if classifier == nil {
		if cfg.DisableVision {
			logrus.Info("vision classifier disabled via configuration, uploads will stay pending")
		} else {
			visionCfg := cfg.VisionConfig
			if visionCfg.HighTextWords <= 0 {
				visionCfg.HighTextWords = rules.Thresholds.HighTextWords
			}
			client, err := vision.NewClient(visionCfg)
			if errors.Is(err, vision.ErrDisabled) {
				return nil, errors.New("vision classifier disabled: configure GOOGLE_VISION_API_KEY or set DISABLE_VISION")
			} else if err != nil {
				return nil, fmt.Errorf("vision client: %w", err)
			}
			classifier = vision.WithCache(vision.WithRetry(client, cfg.RetryConfig), cfg.CacheTTL)
		}
	}

	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	server := &Server{
		db:             db,
		pipeline:       moderation.NewPipeline(rules),
		rulesPath:      cfg.RulesPath,
		classifier:     classifier,
		uploadDir:      cfg.UploadDir,
		allowedOrigins: cfg.AllowedOrigins,
		maxUploadBytes: cfg.MaxUploadBytes,
		maxEdge:        cfg.VisionMaxEdge,
		notifier:       NewNotifier(),
	}
	if strings.TrimSpace(server.uploadDir) == "" {
		server.uploadDir = defaultUploadDir
	}
	if server.maxUploadBytes <= 0 {
		server.maxUploadBytes = defaultMaxUploadBytes
	}
	if server.maxEdge <= 0 {
		server.maxEdge = imaging.DefaultMaxEdge
	}

	logrus.WithFields(logrus.Fields{
		"rules_path":     cfg.RulesPath,
		"upload_dir":     server.uploadDir,
		"vision_enabled": classifier != nil && classifier.Enabled(),
		"max_edge":       server.maxEdge,
	}).Info("moderation server configured")
	return server, nil
}

// Close releases the database handle and stops any running retry job.
func (s *Server) Close() error {
	s.jobMu.Lock()
	if s.activeJob != nil {
		s.activeJob.cancel()
	}
	s.jobMu.Unlock()
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.POST("/moderate", s.handleModerate)
		api.POST("/moderate/batch", s.handleModerateBatch)
		api.GET("/moderations", s.handleListModerations)
		api.GET("/moderations/stream", s.handleStream)
		api.POST("/moderations/retry", s.handleStartRetry)
		api.GET("/moderations/retry/status", s.handleRetryStatus)
		api.GET("/moderations/retry/:id", s.handleGetRetryJob)
		api.DELETE("/moderations/retry", s.handleCancelRetry)
		api.GET("/moderations/:id", s.handleGetModeration)
		api.POST("/moderations/:id/review", s.handleReview)
		api.GET("/review-queue", s.handleReviewQueue)
	}

	return r, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	counts, err := s.db.CountByStatus()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	rules := s.pipeline.Rules()
	lists := rules.Vocabulary.Lists()
	vocabulary := gin.H{
		"human_labels":     len(lists.HumanLabels),
		"human_objects":    len(lists.HumanObjects),
		"animals":          len(lists.Animals),
		"property_labels":  len(lists.PropertyLabels),
		"property_objects": len(lists.PropertyObjects),
	}
	c.JSON(http.StatusOK, gin.H{
		"rules_path":       s.rulesPath,
		"thresholds":       rules.Thresholds,
		"vocabulary":       vocabulary,
		"vision_enabled":   s.classifier != nil && s.classifier.Enabled(),
		"vision_max_edge":  s.maxEdge,
		"max_upload_bytes": s.maxUploadBytes,
		"counts":           counts,
	})
}

func (s *Server) handleListModerations(c *gin.Context) {
	offset, limit := pageParams(c, 25)
	rows, total, err := s.db.ListModerations(store.ModerationQuery{
		Status:    c.Query("status"),
		Reason:    c.Query("reason"),
		ListingID: firstNonEmpty(c.Query("listing_id"), c.Query("listingId")),
		Sort:      c.Query("sort"),
		Offset:    offset,
		Limit:     limit,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ModerationsResponse{Items: toDTOs(rows), Total: total})
}

func (s *Server) handleReviewQueue(c *gin.Context) {
	offset, limit := pageParams(c, 50)
	rows, total, err := s.db.ReviewQueue(offset, limit)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, ModerationsResponse{Items: toDTOs(rows), Total: total})
}

func (s *Server) handleGetModeration(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	row, err := s.db.GetModeration(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("moderation %s not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, ModerationDetailDTO{ModerationDTO: FromModel(*row), Signals: row.Signals()})
}

func (s *Server) handleReview(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	var status string
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "approve", "approved":
		status = store.StatusApproved
	case "reject", "rejected":
		status = store.StatusRejected
	default:
		s.renderError(c, http.StatusBadRequest, errors.New("decision must be approve or reject"))
		return
	}
	reviewer := firstNonEmpty(req.Reviewer, defaultReviewer)

	updated, err := s.db.ResolveReview(id, status, req.Note, reviewer)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.renderError(c, http.StatusNotFound, fmt.Errorf("moderation %s not found", id))
		case errors.Is(err, store.ErrNotReviewable):
			s.renderError(c, http.StatusConflict, err)
		default:
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}

	if updated.Status == store.StatusRejected && updated.StoredPath != "" {
		removeStoredFile(updated.StoredPath)
		if err := s.db.ClearStoredPath(updated.ID); err != nil {
			logrus.WithError(err).WithField("id", updated.ID).Warn("clear stored path")
		}
		updated.StoredPath = ""
	}

	logrus.WithFields(logrus.Fields{
		"id":       updated.ID,
		"status":   updated.Status,
		"reviewer": reviewer,
	}).Info("review recorded")

	dto := FromModel(*updated)
	s.notifier.Broadcast(ModerationEvent{Type: "review", Moderation: &dto})
	c.JSON(http.StatusOK, dto)
}

func (s *Server) handleStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("moderation websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("moderation websocket closed")
			} else {
				logrus.WithError(err).Warn("moderation websocket unexpected close")
			}
			break
		}
	}
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func toDTOs(rows []store.Moderation) []ModerationDTO {
	dtos := make([]ModerationDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row))
	}
	return dtos
}

func pageParams(c *gin.Context, defaultSize int) (offset, limit int) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize > 500 {
		pageSize = 500
	}
	return page * pageSize, pageSize
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
