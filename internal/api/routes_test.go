package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"property-moderation/backend/internal/vision"
)

type fakeClassifier struct {
	mu      sync.Mutex
	signals vision.Signals
	err     error
	calls   int
}

func (f *fakeClassifier) Enabled() bool { return true }

func (f *fakeClassifier) Analyze(ctx context.Context, image []byte) (vision.Signals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return vision.Signals{}, f.err
	}
	return f.signals, nil
}

func (f *fakeClassifier) set(signals vision.Signals, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = signals
	f.err = err
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func clearSafeSearch() *vision.SafeSearch {
	return &vision.SafeSearch{
		Adult:    vision.Score(0),
		Racy:     vision.Score(0),
		Violence: vision.Score(0),
		Medical:  vision.Score(0),
		Spoof:    vision.Score(0),
	}
}

func kitchenSignals() vision.Signals {
	return vision.Signals{
		SafeSearch: clearSafeSearch(),
		Labels: []vision.Label{
			{Description: "kitchen", Score: 0.94},
			{Description: "countertop", Score: 0.88},
			{Description: "cabinetry", Score: 0.81},
		},
		APISuccess: true,
	}
}

type testEnv struct {
	server     *Server
	router     *gin.Engine
	classifier *fakeClassifier
	uploadDir  string
}

func newTestEnv(t *testing.T, signals vision.Signals, err error) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	classifier := &fakeClassifier{signals: signals, err: err}
	uploadDir := filepath.Join(dir, "uploads")

	srv, serr := NewServer(Config{
		DBPath:     filepath.Join(dir, "moderation.db"),
		UploadDir:  uploadDir,
		SilentDB:   true,
		Classifier: classifier,
	})
	if serr != nil {
		t.Fatalf("new server: %v", serr)
	}
	t.Cleanup(func() { _ = srv.Close() })

	router, rerr := srv.Router()
	if rerr != nil {
		t.Fatalf("router: %v", rerr)
	}
	return &testEnv{server: srv, router: router, classifier: classifier, uploadDir: uploadDir}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 10 {
		for x := 0; x < w; x += 10 {
			img.Set(x, y, color.RGBA{R: 200, G: 180, B: 150, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// pngHeader returns only a PNG signature and IHDR chunk declaring w x h.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:8], w)
	binary.BigEndian.PutUint32(chunk[8:12], h)
	chunk[12] = 8
	chunk[13] = 6
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

type formFile struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, target, field string, files []formFile, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := multipartRequest(t, "/api/moderate", "image", []formFile{{name: name, data: data}}, map[string]string{"listing_id": "L-42"})
	return e.do(req)
}

func decodeModeration(t *testing.T, rec *httptest.ResponseRecorder) ModerationDTO {
	t.Helper()
	var dto ModerationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &dto); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return dto
}

func countStored(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0
		}
		t.Fatalf("read upload dir: %v", err)
	}
	return len(entries)
}

func TestModerateApprovesPropertyImage(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)

	rec := env.upload(t, "kitchen.png", pngBytes(t, 800, 600))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	dto := decodeModeration(t, rec)
	if dto.Status != "APPROVED" || dto.Reason != "approved" || dto.ListingID != "L-42" {
		t.Fatalf("unexpected moderation %+v", dto)
	}
	if !strings.HasPrefix(string(dto.Details), `{"width":800,"height":600`) {
		t.Fatalf("unexpected details %s", dto.Details)
	}
	if countStored(t, env.uploadDir) != 1 {
		t.Fatalf("approved image should be stored")
	}

	get := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/"+dto.ID, nil))
	if get.Code != http.StatusOK {
		t.Fatalf("get moderation: %d", get.Code)
	}
	var detail ModerationDetailDTO
	if err := json.Unmarshal(get.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Signals) == 0 || !strings.Contains(string(detail.Signals), `"kitchen"`) {
		t.Fatalf("signals not persisted: %s", detail.Signals)
	}
}

func TestModerateRejectsFaceAndDiscardsFile(t *testing.T) {
	signals := kitchenSignals()
	signals.Faces = []vision.Face{{Confidence: 0.92}}
	env := newTestEnv(t, signals, nil)

	rec := env.upload(t, "selfie.png", pngBytes(t, 800, 600))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d: %s", rec.Code, rec.Body.String())
	}
	dto := decodeModeration(t, rec)
	if dto.Status != "REJECTED" || dto.Reason != "human_detected" || dto.Gate != "human" {
		t.Fatalf("unexpected moderation %+v", dto)
	}
	if !strings.Contains(string(dto.Details), `"method":"face_detection"`) {
		t.Fatalf("unexpected details %s", dto.Details)
	}
	if countStored(t, env.uploadDir) != 0 {
		t.Fatalf("rejected image must not be stored")
	}
}

func TestModerateClassifierFailureIsPending(t *testing.T) {
	env := newTestEnv(t, vision.Signals{}, &vision.StatusError{Code: 503, Message: "unavailable"})

	rec := env.upload(t, "living.png", pngBytes(t, 800, 600))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}
	dto := decodeModeration(t, rec)
	if dto.Status != "PENDING" || dto.Reason != "api_error" {
		t.Fatalf("unexpected moderation %+v", dto)
	}
	if strings.Contains(strings.ToLower(dto.Message), "reject") {
		t.Fatalf("pending message must not read as a rejection: %q", dto.Message)
	}
	if countStored(t, env.uploadDir) != 1 {
		t.Fatalf("pending image should be kept for retry")
	}
}

func TestModerateLowQualitySkipsClassifier(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)

	rec := env.upload(t, "thumb.png", pngBytes(t, 200, 150))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	dto := decodeModeration(t, rec)
	if dto.Reason != "low_quality" {
		t.Fatalf("expected low_quality got %s", dto.Reason)
	}
	if !strings.Contains(dto.Message, "200x150") {
		t.Fatalf("message should name the size: %q", dto.Message)
	}
	if env.classifier.callCount() != 0 {
		t.Fatalf("classifier should not be called for undersized images")
	}
}

func TestModerateBadUploads(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{
			name:   "unsupported format",
			req:    multipartRequest(t, "/api/moderate", "image", []formFile{{name: "doc.txt", data: []byte("not an image at all")}}, nil),
			status: http.StatusBadRequest,
		},
		{
			name:   "pixel limit",
			req:    multipartRequest(t, "/api/moderate", "image", []formFile{{name: "huge.png", data: pngHeader(30000, 30000)}}, nil),
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name:   "missing file",
			req:    multipartRequest(t, "/api/moderate", "other", []formFile{{name: "a.png", data: pngBytes(t, 10, 10)}}, nil),
			status: http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReviewFlow(t *testing.T) {
	signals := kitchenSignals()
	signals.SafeSearch = nil
	env := newTestEnv(t, signals, nil)

	rec := env.upload(t, "hall.png", pngBytes(t, 800, 600))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rec.Code, rec.Body.String())
	}
	dto := decodeModeration(t, rec)
	if dto.Status != "NEEDS_REVIEW" || dto.Reason != "safe_search_unavailable" {
		t.Fatalf("unexpected moderation %+v", dto)
	}

	queue := env.do(httptest.NewRequest(http.MethodGet, "/api/review-queue", nil))
	var page ModerationsResponse
	if err := json.Unmarshal(queue.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != dto.ID {
		t.Fatalf("unexpected queue %+v", page)
	}

	review := func(decision string) *httptest.ResponseRecorder {
		body := strings.NewReader(`{"decision":"` + decision + `","note":"watermark in corner","reviewer":"asha"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/moderations/"+dto.ID+"/review", body)
		req.Header.Set("Content-Type", "application/json")
		return env.do(req)
	}

	if rec := review("maybe"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad decision got %d", rec.Code)
	}
	rec = review("reject")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	reviewed := decodeModeration(t, rec)
	if reviewed.Status != "REJECTED" || reviewed.DecidedBy != "asha" || reviewed.ReviewNote != "watermark in corner" {
		t.Fatalf("unexpected review result %+v", reviewed)
	}
	if countStored(t, env.uploadDir) != 0 {
		t.Fatalf("rejected review should discard the stored image")
	}
	if rec := review("approve"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second review got %d", rec.Code)
	}
}

func TestModerateBatchKeepsOrder(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)

	req := multipartRequest(t, "/api/moderate/batch", "images", []formFile{
		{name: "first.png", data: pngBytes(t, 800, 600)},
		{name: "second.png", data: pngBytes(t, 100, 100)},
		{name: "third.txt", data: []byte("plain text")},
	}, nil)
	rec := env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 items got %d", len(resp.Items))
	}
	if resp.Items[0].Filename != "first.png" || resp.Items[0].Moderation == nil || resp.Items[0].Moderation.Status != "APPROVED" {
		t.Fatalf("unexpected first item %+v", resp.Items[0])
	}
	if resp.Items[1].Moderation == nil || resp.Items[1].Moderation.Reason != "low_quality" {
		t.Fatalf("unexpected second item %+v", resp.Items[1])
	}
	if resp.Items[2].Error == "" {
		t.Fatalf("expected error for text file")
	}
	if resp.Counts["APPROVED"] != 1 || resp.Counts["REJECTED"] != 1 || resp.Counts["error"] != 1 {
		t.Fatalf("unexpected counts %v", resp.Counts)
	}
}

func TestRetryResolvesPendingModerations(t *testing.T) {
	env := newTestEnv(t, vision.Signals{}, errors.New("connection reset"))

	rec := env.upload(t, "bedroom.png", pngBytes(t, 800, 600))
	pending := decodeModeration(t, rec)
	if pending.Status != "PENDING" {
		t.Fatalf("expected pending got %s", pending.Status)
	}

	env.classifier.set(kitchenSignals(), nil)
	start := env.do(httptest.NewRequest(http.MethodPost, "/api/moderations/retry", nil))
	if start.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", start.Code, start.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	var job RetryJobDTO
	for time.Now().Before(deadline) {
		status := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/retry/status", nil))
		if status.Code == http.StatusOK {
			if err := json.Unmarshal(status.Body.Bytes(), &job); err != nil {
				t.Fatalf("decode job: %v", err)
			}
			if job.Status == "completed" && !job.Active {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Status != "completed" || job.Processed != 1 || job.Resolved != 1 {
		t.Fatalf("unexpected retry job %+v", job)
	}

	get := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/"+pending.ID, nil))
	updated := decodeModeration(t, get)
	if updated.Status != "APPROVED" || updated.Attempts != 2 {
		t.Fatalf("retry did not resolve moderation: %+v", updated)
	}
	if !updated.UpdatedAt.After(pending.UpdatedAt) {
		t.Fatalf("updated_at did not advance: before %v after %v", pending.UpdatedAt, updated.UpdatedAt)
	}

	byID := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/retry/"+job.ID, nil))
	if byID.Code != http.StatusOK {
		t.Fatalf("expected 200 for job lookup got %d", byID.Code)
	}
	var fetched RetryJobDTO
	if err := json.Unmarshal(byID.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if fetched.ID != job.ID || fetched.Status != "completed" || fetched.FinishedAt == nil {
		t.Fatalf("unexpected job lookup %+v", fetched)
	}
	unknown := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/retry/no-such-job", nil))
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job got %d", unknown.Code)
	}

	again := env.do(httptest.NewRequest(http.MethodPost, "/api/moderations/retry", nil))
	if again.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with nothing pending got %d", again.Code)
	}
}

func TestRetryStatusReportsLiveProgress(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)
	srv := env.server
	if _, err := srv.db.CreateRetryJob("job-live", 4); err != nil {
		t.Fatalf("create job: %v", err)
	}
	srv.jobMu.Lock()
	srv.activeJob = &retryJob{id: "job-live", cancel: func() {}, startedAt: time.Now().UTC(), total: 4}
	srv.jobMu.Unlock()
	t.Cleanup(func() {
		srv.jobMu.Lock()
		srv.activeJob = nil
		srv.jobMu.Unlock()
	})
	srv.notifier.Broadcast(ModerationEvent{Type: "retry_progress", JobID: "job-live", Total: 4, Processed: 3})

	for _, target := range []string{"/api/moderations/retry/status", "/api/moderations/retry/job-live"} {
		rec := env.do(httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", target, rec.Code)
		}
		var job RetryJobDTO
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if !job.Active || job.Processed != 3 || job.Status != "running" {
			t.Fatalf("%s: expected live progress got %+v", target, job)
		}
	}

	srv.notifier.Broadcast(ModerationEvent{Type: "retry_progress", JobID: "other-job", Processed: 9})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/retry/job-live", nil))
	var job RetryJobDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Processed != 0 {
		t.Fatalf("progress of another job leaked: %+v", job)
	}
}

func TestListModerationsFilters(t *testing.T) {
	env := newTestEnv(t, kitchenSignals(), nil)
	env.upload(t, "a.png", pngBytes(t, 800, 600))
	env.upload(t, "b.png", pngBytes(t, 100, 100))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations?status=rejected&listing_id=L-42", nil))
	var page ModerationsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if page.Total != 1 || page.Items[0].Reason != "low_quality" {
		t.Fatalf("unexpected page %+v", page)
	}

	missing := env.do(httptest.NewRequest(http.MethodGet, "/api/moderations/does-not-exist", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", missing.Code)
	}
}
