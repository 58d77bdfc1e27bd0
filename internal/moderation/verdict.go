package moderation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Status is the terminal outcome of a moderation run.
type Status string

const (
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusPending     Status = "PENDING"
)

// Reason is the machine-readable cause of a verdict.
type Reason string

const (
	ReasonLowQuality            Reason = "low_quality"
	ReasonAPIError              Reason = "api_error"
	ReasonOCRContent            Reason = "ocr_content_rejected"
	ReasonHighText              Reason = "high_text_rejected"
	ReasonHumanDetected         Reason = "human_detected"
	ReasonAnimalDetected        Reason = "animal_detected"
	ReasonAdultContent          Reason = "adult_content"
	ReasonViolenceContent       Reason = "violence_content"
	ReasonRacyContent           Reason = "racy_content"
	ReasonNotProperty           Reason = "not_property"
	ReasonSafeSearchUnavailable Reason = "safe_search_unavailable"
	ReasonApproved              Reason = "approved"
)

// Detection methods reported in verdict details.
const (
	MethodFace              = "face_detection"
	MethodObject            = "object_localization"
	MethodLabelCorroborated = "label_with_face_or_object"
	MethodLabelWithObject   = "label_with_object"
)

// ErrInvalidDimensions is returned for non-positive image dimensions. It is a
// caller contract violation, not a moderation outcome.
var ErrInvalidDimensions = errors.New("invalid image dimensions")

// Dimensions are the pixel size of the original upload.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, d.Width, d.Height)
	}
	return nil
}

// Detail is one diagnostic key/value attached to a verdict.
type Detail struct {
	Key   string
	Value any
}

// Details keeps diagnostic values in the order the gate recorded them.
type Details []Detail

// Get returns the value stored under key.
func (d Details) Get(key string) (any, bool) {
	for _, item := range d {
		if item.Key == key {
			return item.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the details as a JSON object preserving order.
func (d Details) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(item.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(item.Value)
		if err != nil {
			return nil, fmt.Errorf("detail %s: %w", item.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into details, keeping key order.
func (d *Details) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("details: expected object")
	}
	var out Details
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, Detail{Key: key, Value: value})
	}
	*d = out
	return nil
}

// Verdict is the pipeline output.
type Verdict struct {
	Status  Status  `json:"status"`
	Reason  Reason  `json:"reason"`
	Message string  `json:"message"`
	Details Details `json:"details"`
}

func newVerdict(status Status, reason Reason, vars map[string]string, details ...Detail) Verdict {
	return Verdict{
		Status:  status,
		Reason:  reason,
		Message: Message(reason, vars),
		Details: details,
	}
}

func reject(reason Reason, vars map[string]string, details ...Detail) *Verdict {
	v := newVerdict(StatusRejected, reason, vars, details...)
	return &v
}
