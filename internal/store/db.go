package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Status values persisted on moderation rows.
const (
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
	StatusNeedsReview = "NEEDS_REVIEW"
	StatusPending     = "PENDING"
)

// ErrNotReviewable is returned when a review is submitted for a row that is
// not waiting in the review queue.
var ErrNotReviewable = errors.New("moderation is not awaiting review")

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Moderation{}, &RetryJob{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveModeration inserts or updates a moderation row keyed by ID.
func (d *Database) SaveModeration(m *Moderation) error {
	if m == nil {
		return errors.New("moderation is nil")
	}
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("moderation id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stored_path",
			"status",
			"reason",
			"gate",
			"message",
			"details_json",
			"signals_json",
			"decided_by",
			"attempts",
			"processing_time_ms",
			"updated_at",
		}),
	}).Create(m).Error
}

// GetModeration loads one moderation row.
func (d *Database) GetModeration(id string) (*Moderation, error) {
	var m Moderation
	if err := d.gorm.First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ModerationQuery encapsulates filters and pagination for listing moderations.
type ModerationQuery struct {
	Status    string
	Reason    string
	ListingID string
	Sort      string
	Offset    int
	Limit     int
}

// ListModerations returns paginated moderation rows applying optional filters.
func (d *Database) ListModerations(opts ModerationQuery) ([]Moderation, int64, error) {
	base := d.gorm.Model(&Moderation{})
	if status := strings.TrimSpace(opts.Status); status != "" {
		base = base.Where("status = ?", strings.ToUpper(status))
	}
	if reason := strings.TrimSpace(opts.Reason); reason != "" {
		base = base.Where("reason = ?", strings.ToLower(reason))
	}
	if listing := strings.TrimSpace(opts.ListingID); listing != "" {
		base = base.Where("listing_id = ?", listing)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	var rows []Moderation
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ReviewQueue returns NEEDS_REVIEW rows, oldest first.
func (d *Database) ReviewQueue(offset, limit int) ([]Moderation, int64, error) {
	return d.ListModerations(ModerationQuery{
		Status: StatusNeedsReview,
		Sort:   "created_asc",
		Offset: offset,
		Limit:  limit,
	})
}

// PendingModerations returns up to limit PENDING rows, oldest first.
func (d *Database) PendingModerations(limit int) ([]Moderation, error) {
	query := d.gorm.Where("status = ?", StatusPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Moderation
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ResolveReview records a moderator decision on a NEEDS_REVIEW row.
func (d *Database) ResolveReview(id, status, note, reviewer string) (*Moderation, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != StatusApproved && status != StatusRejected {
		return nil, fmt.Errorf("invalid review status %q", status)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var updated Moderation
	err := d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		if updated.Status != StatusNeedsReview {
			return ErrNotReviewable
		}
		now := time.Now().UTC()
		updated.Status = status
		updated.ReviewNote = strings.TrimSpace(note)
		updated.DecidedBy = reviewer
		updated.ReviewedAt = &now
		return tx.Model(&Moderation{}).Where("id = ?", id).Updates(map[string]any{
			"status":      updated.Status,
			"review_note": updated.ReviewNote,
			"decided_by":  updated.DecidedBy,
			"reviewed_at": updated.ReviewedAt,
			"updated_at":  now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ClearStoredPath forgets the stored image of a row whose file was discarded.
func (d *Database) ClearStoredPath(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&Moderation{}).Where("id = ?", id).Update("stored_path", "").Error
}

// CountByStatus returns row counts grouped by status.
func (d *Database) CountByStatus() (map[string]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	if err := d.gorm.Model(&Moderation{}).Select("status, COUNT(*) AS total").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

// CreateRetryJob inserts a new retry job row.
func (d *Database) CreateRetryJob(id string, total int) (*RetryJob, error) {
	job := &RetryJob{
		ID:        id,
		Status:    "running",
		Total:     total,
		StartedAt: time.Now().UTC(),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.gorm.Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateRetryJob stores progress and, for terminal statuses, the finish time.
func (d *Database) UpdateRetryJob(id, status, message string, processed, resolved int) error {
	updates := map[string]any{
		"status":    status,
		"message":   message,
		"processed": processed,
		"resolved":  resolved,
	}
	if status != "running" {
		updates["finished_at"] = time.Now().UTC()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Model(&RetryJob{}).Where("id = ?", id).Updates(updates).Error
}

// GetRetryJob loads a retry job row.
func (d *Database) GetRetryJob(id string) (*RetryJob, error) {
	var job RetryJob
	if err := d.gorm.First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestRetryJob returns the most recently started retry job.
func (d *Database) LatestRetryJob() (*RetryJob, error) {
	var job RetryJob
	if err := d.gorm.Order("started_at DESC").First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "created_asc":
		return "moderations.created_at ASC"
	case "status":
		return "moderations.status ASC, moderations.created_at DESC"
	case "reason":
		return "moderations.reason ASC, moderations.created_at DESC"
	default:
		return "moderations.created_at DESC"
	}
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_moderations_status_created ON moderations(status, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_moderations_listing_created ON moderations(listing_id, created_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
