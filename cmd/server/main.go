package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"property-moderation/backend/internal/api"
	"property-moderation/backend/internal/vision"
)

func main() {
	if level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		logrus.SetLevel(level)
	}

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	visionCfg := vision.Config{
		APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_VISION_API_KEY")),
		BaseURL: strings.TrimSpace(os.Getenv("GOOGLE_VISION_BASE_URL")),
	}
	if timeout := os.Getenv("VISION_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			visionCfg.Timeout = d
		}
	}

	retryCfg := vision.RetryConfig{}
	if v := strings.TrimSpace(os.Getenv("VISION_MAX_RETRIES")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			retryCfg.MaxAttempts = val
		}
	}

	var cacheTTL time.Duration
	if ttl := os.Getenv("VISION_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cacheTTL = d
		}
	}

	maxEdge := 0
	if v := strings.TrimSpace(os.Getenv("VISION_MAX_EDGE")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			maxEdge = val
		}
	}

	maxUploadBytes := int64(10 << 20)
	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_MB")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			maxUploadBytes = int64(val) << 20
		}
	}

	origins := []string{
		"http://localhost:1000",
		"http://127.0.0.1:1000",
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		origins = origins[:0]
		for _, origin := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}

	disableVision := strings.EqualFold(strings.TrimSpace(os.Getenv("DISABLE_VISION")), "true")

	cfg := api.Config{
		DBPath:         filepath.Join(dataDir, "moderation.db"),
		RulesPath:      filepath.Join(baseDir, "config", "moderation.yaml"),
		UploadDir:      filepath.Join(dataDir, "uploads"),
		AllowedOrigins: origins,
		VisionConfig:   visionCfg,
		RetryConfig:    retryCfg,
		CacheTTL:       cacheTTL,
		DisableVision:  disableVision,
		MaxUploadBytes: maxUploadBytes,
		VisionMaxEdge:  maxEdge,
	}

	if override := strings.TrimSpace(os.Getenv("MODERATION_DB_PATH")); override != "" {
		cfg.DBPath = override
	}
	if override := strings.TrimSpace(os.Getenv("MODERATION_RULES_PATH")); override != "" {
		cfg.RulesPath = override
	}
	if override := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); override != "" {
		cfg.UploadDir = override
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer server.Close()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.Infof("starting property moderation backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
