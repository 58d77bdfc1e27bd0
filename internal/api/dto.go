package api

import (
	"encoding/json"
	"time"

	"property-moderation/backend/internal/store"
)

// ModerationDTO is the API representation of a persisted moderation.
type ModerationDTO struct {
	ID               string          `json:"id"`
	ListingID        string          `json:"listing_id,omitempty"`
	OriginalFilename string          `json:"original_filename"`
	Width            int             `json:"width"`
	Height           int             `json:"height"`
	Status           string          `json:"status"`
	Reason           string          `json:"reason"`
	Message          string          `json:"message"`
	Details          json.RawMessage `json:"details"`
	Gate             string          `json:"gate,omitempty"`
	DecidedBy        string          `json:"decided_by"`
	ReviewNote       string          `json:"review_note,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewed_at,omitempty"`
	Attempts         int             `json:"attempts"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ModerationDetailDTO adds the raw classifier signals for a single record.
type ModerationDetailDTO struct {
	ModerationDTO
	Signals json.RawMessage `json:"signals,omitempty"`
}

// ModerationsResponse is a page of moderation rows.
type ModerationsResponse struct {
	Items []ModerationDTO `json:"items"`
	Total int64           `json:"total"`
}

// BatchItem is the outcome for one file of a batch upload.
type BatchItem struct {
	Filename   string         `json:"filename"`
	Moderation *ModerationDTO `json:"moderation,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// BatchResponse lists batch outcomes in upload order.
type BatchResponse struct {
	Items  []BatchItem    `json:"items"`
	Counts map[string]int `json:"counts"`
}

// ReviewRequest is a moderator decision on a queued image.
type ReviewRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
	Reviewer string `json:"reviewer"`
}

// RetryJobDTO describes a pending-retry job.
type RetryJobDTO struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Resolved   int        `json:"resolved"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Active     bool       `json:"active"`
}

// FromModel converts a store row to its DTO.
func FromModel(m store.Moderation) ModerationDTO {
	return ModerationDTO{
		ID:               m.ID,
		ListingID:        m.ListingID,
		OriginalFilename: m.OriginalFilename,
		Width:            m.Width,
		Height:           m.Height,
		Status:           m.Status,
		Reason:           m.Reason,
		Message:          m.Message,
		Details:          m.Details(),
		Gate:             m.Gate,
		DecidedBy:        m.DecidedBy,
		ReviewNote:       m.ReviewNote,
		ReviewedAt:       m.ReviewedAt,
		Attempts:         m.Attempts,
		ProcessingTimeMs: m.ProcessingTimeMs,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// RetryJobFromModel converts a retry job row to its DTO.
func RetryJobFromModel(j store.RetryJob, active bool) RetryJobDTO {
	return RetryJobDTO{
		ID:         j.ID,
		Status:     j.Status,
		Message:    j.Message,
		Total:      j.Total,
		Processed:  j.Processed,
		Resolved:   j.Resolved,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
		Active:     active,
	}
}
