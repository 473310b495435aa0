// Package audit records operational outcomes the host must see: suppressed
// drafts, failed sends, failed side effects and notification results.
package audit

import (
	"context"
	"log/slog"

	"guest-concierge/internal/models"

	"gorm.io/gorm"
)

// Publisher pushes events to the host live feed.
type Publisher interface {
	Publish(eventType string, data interface{})
}

// EventAlert is the live feed event type for failure rows.
const EventAlert = "alert"

// Entry is one outcome to record.
type Entry struct {
	Kind           string
	ConversationID string
	Subject        string
	Success        bool
	Detail         string
}

type Recorder struct {
	db  *gorm.DB
	pub Publisher
	log *slog.Logger
}

func NewRecorder(db *gorm.DB, pub Publisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, pub: pub, log: logger}
}

// Record persists e. Failures are also pushed to the live feed as alerts.
// Recording never fails the caller; storage errors are logged.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	row := models.AuditLog{
		Kind:           e.Kind,
		ConversationID: e.ConversationID,
		Subject:        e.Subject,
		Success:        e.Success,
		Detail:         e.Detail,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Error("write audit log", "kind", e.Kind, "subject", e.Subject, "error", err)
	}
	if !e.Success {
		r.log.Warn("operational alert", "kind", e.Kind, "conversation_id", e.ConversationID,
			"subject", e.Subject, "detail", e.Detail)
		if r.pub != nil {
			r.pub.Publish(EventAlert, row)
		}
	}
}

// Recent lists the newest rows first. Only failures are returned when
// alertsOnly is set.
func (r *Recorder) Recent(ctx context.Context, limit int, alertsOnly bool) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if alertsOnly {
		q = q.Where("success = ?", false)
	}
	var rows []models.AuditLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
