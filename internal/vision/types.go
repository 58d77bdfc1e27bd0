package vision

import (
	"context"
	"errors"
)

// Classifier returns the raw vision signals for a single image.
type Classifier interface {
	Enabled() bool
	Analyze(ctx context.Context, image []byte) (Signals, error)
}

var ErrDisabled = errors.New("vision classifier disabled")

// SafeSearch holds likelihoods mapped to [0,1]. A nil field means the upstream
// response carried no usable value for that category.
type SafeSearch struct {
	Adult    *float64 `json:"adult"`
	Racy     *float64 `json:"racy"`
	Violence *float64 `json:"violence"`
	Medical  *float64 `json:"medical"`
	Spoof    *float64 `json:"spoof"`
}

// Label is an unlocalized content tag.
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Object is a localized object detection. Bounding boxes are dropped.
type Object struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Face captures the detection confidence and emotion likelihoods of one face.
type Face struct {
	Confidence float64 `json:"confidence"`
	Joy        float64 `json:"joy"`
	Sorrow     float64 `json:"sorrow"`
	Anger      float64 `json:"anger"`
	Surprise   float64 `json:"surprise"`
}

// TextFlags are derived from the OCR text and labels.
type TextFlags struct {
	HasPhone       bool `json:"has_phone"`
	HasEmail       bool `json:"has_email"`
	IsHighText     bool `json:"is_high_text"`
	IsVisitingCard bool `json:"is_visiting_card"`
	WordCount      int  `json:"word_count"`
}

// Signals is the normalized classifier output for one image.
type Signals struct {
	SafeSearch *SafeSearch `json:"safe_search,omitempty"`
	Labels     []Label     `json:"labels"`
	Faces      []Face      `json:"faces"`
	Objects    []Object    `json:"objects"`
	OCRText    string      `json:"ocr_text"`
	Text       TextFlags   `json:"text"`
	APISuccess bool        `json:"api_success"`
	Error      string      `json:"error,omitempty"`
}

// Failed builds the signals handed to the pipeline when the classifier call
// could not produce a result.
func Failed(err error) Signals {
	s := Signals{APISuccess: false}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Score returns a pointer to v, for building SafeSearch values.
func Score(v float64) *float64 {
	return &v
}
