package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"property-moderation/backend/internal/imaging"
	"property-moderation/backend/internal/moderation"
	"property-moderation/backend/internal/util"
	"property-moderation/backend/internal/vision"
)

var imageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {},
}

type result struct {
	File      string              `json:"file"`
	Width     int                 `json:"width,omitempty"`
	Height    int                 `json:"height,omitempty"`
	Gate      string              `json:"gate,omitempty"`
	Verdict   *moderation.Verdict `json:"verdict,omitempty"`
	ElapsedMs int64               `json:"elapsed_ms"`
	Error     string              `json:"error,omitempty"`
}

func main() {
	var (
		files     multiFlag
		dirs      multiFlag
		rulesPath = flag.String("rules", filepath.FromSlash("config/moderation.yaml"), "Path to moderation rules YAML")
		workers   = flag.Int("workers", 4, "Concurrent classifier calls")
		maxEdge   = flag.Int("max-edge", imaging.DefaultMaxEdge, "Longest edge sent to the classifier")
	)
	flag.Var(&files, "file", "Image file to moderate (repeatable)")
	flag.Var(&dirs, "dir", "Directory of images to moderate (repeatable)")
	flag.Parse()

	logrus.SetOutput(os.Stderr)

	rules, err := moderation.LoadRules(*rulesPath)
	if err != nil {
		logrus.Fatalf("load rules: %v", err)
	}
	pipeline := moderation.NewPipeline(rules)

	var classifier vision.Classifier
	client, err := vision.NewClient(vision.Config{
		APIKey:        strings.TrimSpace(os.Getenv("GOOGLE_VISION_API_KEY")),
		BaseURL:       strings.TrimSpace(os.Getenv("GOOGLE_VISION_BASE_URL")),
		HighTextWords: rules.Thresholds.HighTextWords,
	})
	switch {
	case errors.Is(err, vision.ErrDisabled):
		logrus.Warn("GOOGLE_VISION_API_KEY not set, images will be reported as pending")
	case err != nil:
		logrus.Fatalf("vision client: %v", err)
	default:
		classifier = vision.WithRetry(client, vision.RetryConfig{})
	}

	paths := collectPaths(files, dirs)
	if len(paths) == 0 {
		logrus.Fatal("no images given, use -file or -dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	timer := util.StartTimer()
	results := make([]result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	if *workers < 1 {
		*workers = 1
	}
	g.SetLimit(*workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = moderateFile(gctx, pipeline, classifier, path, *maxEdge)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logrus.WithError(err).Warn("moderation interrupted")
	}
	logrus.WithFields(logrus.Fields{
		"images":   len(paths),
		"workers":  *workers,
		"duration": timer.Elapsed().Round(time.Millisecond),
	}).Info("moderation complete")

	encoder := json.NewEncoder(os.Stdout)
	for _, res := range results {
		if res.File == "" {
			continue
		}
		if err := encoder.Encode(res); err != nil {
			logrus.Fatalf("write result: %v", err)
		}
	}
}

func moderateFile(ctx context.Context, pipeline *moderation.Pipeline, classifier vision.Classifier, path string, maxEdge int) result {
	timer := util.StartTimer()
	res := result{File: path}
	fail := func(err error) result {
		res.Error = err.Error()
		res.ElapsedMs = timer.ElapsedMs()
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	info, err := imaging.DecodeInfo(data)
	if err != nil {
		return fail(err)
	}
	res.Width, res.Height = info.Width, info.Height

	signals := vision.Failed(vision.ErrDisabled)
	if classifier != nil {
		payload, err := imaging.PrepareForVision(data, info, maxEdge)
		if err != nil {
			return fail(err)
		}
		if s, err := classifier.Analyze(ctx, payload); err != nil {
			logrus.WithError(err).WithField("file", path).Warn("classification failed")
			signals = vision.Failed(err)
		} else {
			signals = s
		}
	}

	verdict, gate, err := pipeline.EvaluateTrace(moderation.Dimensions{Width: info.Width, Height: info.Height}, signals)
	if err != nil {
		return fail(err)
	}
	res.Verdict = &verdict
	res.Gate = gate
	res.ElapsedMs = timer.ElapsedMs()
	return res
}

func collectPaths(files, dirs []string) []string {
	paths := make([]string, 0, len(files))
	seen := make(map[string]struct{})

	addFile := func(path string) {
		cleaned := filepath.Clean(path)
		if cleaned == "" {
			return
		}
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		paths = append(paths, cleaned)
	}

	for _, p := range files {
		addFile(p)
	}
	for _, dir := range dirs {
		filepath.WalkDir(filepath.Clean(dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logrus.WithError(err).WithField("path", path).Warn("walking image dir")
				return nil
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := imageExtensions[strings.ToLower(filepath.Ext(d.Name()))]; ok {
				addFile(path)
			}
			return nil
		})
	}
	return paths
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
