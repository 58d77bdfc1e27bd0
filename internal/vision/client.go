package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Config holds Google Cloud Vision configuration parameters.
type Config struct {
	APIKey        string
	BaseURL       string
	Timeout       time.Duration
	MaxLabels     int
	MaxObjects    int
	MaxFaces      int
	HighTextWords int
}

// Client implements the Classifier interface against the Cloud Vision REST API.
type Client struct {
	httpClient    *http.Client
	apiKey        string
	baseURL       string
	maxLabels     int
	maxObjects    int
	maxFaces      int
	highTextWords int
}

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("vision status %d", e.Code)
	}
	return fmt.Sprintf("vision status %d: %s", e.Code, e.Message)
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://vision.googleapis.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxLabels <= 0 {
		cfg.MaxLabels = 20
	}
	if cfg.MaxObjects <= 0 {
		cfg.MaxObjects = 20
	}
	if cfg.MaxFaces <= 0 {
		cfg.MaxFaces = 10
	}
	if cfg.HighTextWords <= 0 {
		cfg.HighTextWords = DefaultHighTextWords
	}
	return &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		apiKey:        strings.TrimSpace(cfg.APIKey),
		baseURL:       cfg.BaseURL,
		maxLabels:     cfg.MaxLabels,
		maxObjects:    cfg.MaxObjects,
		maxFaces:      cfg.MaxFaces,
		highTextWords: cfg.HighTextWords,
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Analyze requests SafeSearch, labels, faces, objects and OCR for one image.
func (c *Client) Analyze(ctx context.Context, image []byte) (Signals, error) {
	if c == nil || !c.Enabled() {
		return Signals{}, ErrDisabled
	}
	if len(image) == 0 {
		return Signals{}, errors.New("image is empty")
	}

	body, err := json.Marshal(c.buildPayload(image))
	if err != nil {
		return Signals{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/images:annotate?key=" + c.apiKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Signals{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Signals{}, fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr annotateError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return Signals{}, &StatusError{Code: resp.StatusCode, Message: apiErr.Error.Message}
	}

	var decoded annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Signals{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Responses) == 0 {
		return Signals{}, errors.New("vision empty response")
	}
	item := decoded.Responses[0]
	if item.Error != nil && item.Error.Message != "" {
		return Signals{}, fmt.Errorf("vision annotate: %s", item.Error.Message)
	}

	return c.toSignals(item), nil
}

func (c *Client) buildPayload(image []byte) map[string]any {
	features := []map[string]any{
		{"type": "SAFE_SEARCH_DETECTION"},
		{"type": "LABEL_DETECTION", "maxResults": c.maxLabels},
		{"type": "FACE_DETECTION", "maxResults": c.maxFaces},
		{"type": "OBJECT_LOCALIZATION", "maxResults": c.maxObjects},
		{"type": "TEXT_DETECTION"},
	}
	return map[string]any{
		"requests": []map[string]any{
			{
				"image":    map[string]string{"content": base64.StdEncoding.EncodeToString(image)},
				"features": features,
			},
		},
	}
}

func (c *Client) toSignals(item annotateResult) Signals {
	signals := Signals{APISuccess: true}

	if item.SafeSearch != nil {
		signals.SafeSearch = &SafeSearch{
			Adult:    likelihoodScore(item.SafeSearch.Adult),
			Racy:     likelihoodScore(item.SafeSearch.Racy),
			Violence: likelihoodScore(item.SafeSearch.Violence),
			Medical:  likelihoodScore(item.SafeSearch.Medical),
			Spoof:    likelihoodScore(item.SafeSearch.Spoof),
		}
	}

	for _, l := range item.Labels {
		desc := strings.ToLower(strings.TrimSpace(l.Description))
		if desc == "" {
			continue
		}
		signals.Labels = append(signals.Labels, Label{Description: desc, Score: l.Score})
	}
	for _, f := range item.Faces {
		signals.Faces = append(signals.Faces, Face{
			Confidence: f.DetectionConfidence,
			Joy:        likelihoodValue(f.Joy),
			Sorrow:     likelihoodValue(f.Sorrow),
			Anger:      likelihoodValue(f.Anger),
			Surprise:   likelihoodValue(f.Surprise),
		})
	}
	for _, o := range item.Objects {
		name := strings.ToLower(strings.TrimSpace(o.Name))
		if name == "" {
			continue
		}
		signals.Objects = append(signals.Objects, Object{Name: name, Score: o.Score})
	}

	switch {
	case item.FullText != nil && item.FullText.Text != "":
		signals.OCRText = item.FullText.Text
	case len(item.Text) > 0:
		signals.OCRText = item.Text[0].Description
	}
	signals.Text = AnalyzeText(signals.OCRText, signals.Labels, c.highTextWords)
	return signals
}

var likelihoods = map[string]float64{
	"VERY_UNLIKELY": 0.0,
	"UNLIKELY":      0.25,
	"POSSIBLE":      0.5,
	"LIKELY":        0.75,
	"VERY_LIKELY":   1.0,
}

// likelihoodScore maps a Vision likelihood enum to [0,1]. UNKNOWN and
// unrecognised values stay nil.
func likelihoodScore(value string) *float64 {
	v, ok := likelihoods[strings.ToUpper(strings.TrimSpace(value))]
	if !ok {
		return nil
	}
	return &v
}

func likelihoodValue(value string) float64 {
	return likelihoods[strings.ToUpper(strings.TrimSpace(value))]
}

type annotateResponse struct {
	Responses []annotateResult `json:"responses"`
}

type annotateResult struct {
	SafeSearch *struct {
		Adult    string `json:"adult"`
		Spoof    string `json:"spoof"`
		Medical  string `json:"medical"`
		Violence string `json:"violence"`
		Racy     string `json:"racy"`
	} `json:"safeSearchAnnotation"`
	Labels []struct {
		Description string  `json:"description"`
		Score       float64 `json:"score"`
	} `json:"labelAnnotations"`
	Faces []struct {
		DetectionConfidence float64 `json:"detectionConfidence"`
		Joy                 string  `json:"joyLikelihood"`
		Sorrow              string  `json:"sorrowLikelihood"`
		Anger               string  `json:"angerLikelihood"`
		Surprise            string  `json:"surpriseLikelihood"`
	} `json:"faceAnnotations"`
	Objects []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	} `json:"localizedObjectAnnotations"`
	Text []struct {
		Description string `json:"description"`
	} `json:"textAnnotations"`
	FullText *struct {
		Text string `json:"text"`
	} `json:"fullTextAnnotation"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type annotateError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
