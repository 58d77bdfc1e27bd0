package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Moderation is one moderated upload and its verdict.
type Moderation struct {
	ID               string `gorm:"primaryKey;size:36"`
	ListingID        string `gorm:"size:64;index"`
	OriginalFilename string `gorm:"size:256"`
	StoredPath       string `gorm:"size:512"`
	Format           string `gorm:"size:16"`
	Width            int
	Height           int
	Status           string `gorm:"size:16;index"`
	Reason           string `gorm:"size:32;index"`
	Gate             string `gorm:"size:32"`
	Message          string `gorm:"type:text"`
	DetailsJSON      string `gorm:"type:text"`
	SignalsJSON      string `gorm:"type:text"`
	DecidedBy        string `gorm:"size:32"`
	ReviewNote       string `gorm:"type:text"`
	ReviewedAt       *time.Time
	Attempts         int
	ProcessingTimeMs int64
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time
}

// RetryJob tracks a background re-classification run over PENDING uploads.
type RetryJob struct {
	ID         string `gorm:"primaryKey;size:36"`
	Status     string `gorm:"size:32;index"`
	Message    string `gorm:"size:255"`
	Total      int
	Processed  int
	Resolved   int
	StartedAt  time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetDetails stores verdict details as JSON.
func (m *Moderation) SetDetails(details any) {
	payload, err := json.Marshal(details)
	if err != nil {
		m.DetailsJSON = "{}"
		return
	}
	m.DetailsJSON = string(payload)
}

// Details returns the stored details JSON, or an empty object.
func (m *Moderation) Details() json.RawMessage {
	if strings.TrimSpace(m.DetailsJSON) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(m.DetailsJSON)
}

// SetSignals stores the classifier output for audit.
func (m *Moderation) SetSignals(signals any) {
	payload, err := json.Marshal(signals)
	if err != nil {
		return
	}
	m.SignalsJSON = string(payload)
}

// Signals returns the stored classifier output, or nil.
func (m *Moderation) Signals() json.RawMessage {
	if strings.TrimSpace(m.SignalsJSON) == "" {
		return nil
	}
	return json.RawMessage(m.SignalsJSON)
}
