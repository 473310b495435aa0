// Package escalation tracks risk-flagged issues from open to resolved and
// alerts the host when one is raised.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/models"
	"guest-concierge/internal/transport"
	"guest-concierge/internal/ws"

	"gorm.io/gorm"
)

// CreateSpec describes a new escalation.
type CreateSpec struct {
	PropertyID     string
	ConversationID *string
	TriggerType    string
	RiskIndicator  string
	Priority       string
	Summary        string
	MessageID      *string
	TaskID         *string
}

type Filter struct {
	Status     string
	PropertyID string
	Query      string
	Limit      int
}

type Manager struct {
	db            *gorm.DB
	gw            transport.Gateway
	audit         *audit.Recorder
	pub           audit.Publisher
	fallbackPhone string
	now           func() time.Time
	log           *slog.Logger
}

// NewManager creates a Manager. fallbackPhone receives alerts for properties
// without a host phone.
func NewManager(db *gorm.DB, gw transport.Gateway, rec *audit.Recorder, pub audit.Publisher, fallbackPhone string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, gw: gw, audit: rec, pub: pub, fallbackPhone: fallbackPhone, now: time.Now, log: logger}
}

var priorityRank = map[string]int{
	models.EscalationLow:      0,
	models.EscalationMedium:   1,
	models.EscalationHigh:     2,
	models.EscalationCritical: 3,
}

// MaxPriority returns the more urgent of two escalation priorities.
func MaxPriority(a, b string) string {
	if priorityRank[b] > priorityRank[a] {
		return b
	}
	return a
}

// Create stores an open escalation and attempts to notify the host. The
// attempt is recorded whether or not delivery succeeds.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*models.Escalation, error) {
	if err := validate(spec); err != nil {
		return nil, err
	}
	esc := models.Escalation{
		PropertyID:     spec.PropertyID,
		ConversationID: spec.ConversationID,
		TriggerType:    spec.TriggerType,
		RiskIndicator:  spec.RiskIndicator,
		Priority:       spec.Priority,
		Status:         models.EscalationOpen,
		Summary:        spec.Summary,
		MessageID:      spec.MessageID,
		TaskID:         spec.TaskID,
	}
	if err := m.db.WithContext(ctx).Create(&esc).Error; err != nil {
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	m.log.Info("escalation created", "escalation_id", esc.ID, "risk", esc.RiskIndicator, "priority", esc.Priority)

	m.notifyHost(ctx, &esc)
	m.publish(&esc)
	return &esc, nil
}

func validate(spec CreateSpec) error {
	switch spec.TriggerType {
	case models.TriggerMessageRisk, models.TriggerTaskTriage:
	default:
		return fmt.Errorf("trigger type %q: %w", spec.TriggerType, apperr.ErrValidation)
	}
	switch spec.RiskIndicator {
	case models.RiskLegalThreat, models.RiskSafety, models.RiskChurn, models.RiskPublicComplaint,
		models.RiskHighImpact, models.RiskNone:
	default:
		return fmt.Errorf("risk indicator %q: %w", spec.RiskIndicator, apperr.ErrValidation)
	}
	if _, ok := priorityRank[spec.Priority]; !ok {
		return fmt.Errorf("priority %q: %w", spec.Priority, apperr.ErrValidation)
	}
	return nil
}

func (m *Manager) notifyHost(ctx context.Context, esc *models.Escalation) {
	phone := m.fallbackPhone
	if esc.PropertyID != "" {
		var prop models.Property
		if err := m.db.WithContext(ctx).Select("host_phone").First(&prop, "id = ?", esc.PropertyID).Error; err == nil && prop.HostPhone != "" {
			phone = prop.HostPhone
		}
	}

	attempted := m.now()
	esc.HostNotifyAttemptedAt = &attempted
	var sendErr error
	if phone == "" {
		sendErr = errors.New("no host phone configured")
	} else {
		_, sendErr = m.gw.Send(ctx, transport.OutboundMessage{To: phone, Body: hostAlertText(esc)})
	}
	esc.HostNotified = sendErr == nil
	esc.HostNotifyError = ""
	if sendErr != nil {
		esc.HostNotifyError = sendErr.Error()
	}

	if err := m.db.WithContext(ctx).Model(esc).Updates(map[string]interface{}{
		"host_notified":            esc.HostNotified,
		"host_notify_attempted_at": attempted,
		"host_notify_error":        esc.HostNotifyError,
	}).Error; err != nil {
		m.log.Error("record host notification", "escalation_id", esc.ID, "error", err)
	}

	if sendErr != nil {
		entry := audit.Entry{
			Kind:    models.AuditHostNotifyFailed,
			Subject: "escalation:" + esc.ID,
			Detail:  sendErr.Error(),
		}
		if esc.ConversationID != nil {
			entry.ConversationID = *esc.ConversationID
		}
		m.audit.Record(ctx, entry)
	}
}

func hostAlertText(esc *models.Escalation) string {
	risk := strings.ReplaceAll(esc.RiskIndicator, "_", " ")
	return fmt.Sprintf("[%s] Guest issue needs attention (%s): %s",
		strings.ToUpper(esc.Priority), risk, esc.Summary)
}

// Acknowledge moves an open escalation to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, id string) (*models.Escalation, error) {
	now := m.now()
	return m.transition(ctx, id, []string{models.EscalationOpen}, map[string]interface{}{
		"status":          models.EscalationAcknowledged,
		"acknowledged_at": now,
	})
}

// Start moves an acknowledged escalation to in_progress.
func (m *Manager) Start(ctx context.Context, id string) (*models.Escalation, error) {
	return m.transition(ctx, id, []string{models.EscalationAcknowledged}, map[string]interface{}{
		"status": models.EscalationInProgress,
	})
}

// Resolve closes an escalation from any unresolved state. notes are required.
func (m *Manager) Resolve(ctx context.Context, id, notes string) (*models.Escalation, error) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return nil, fmt.Errorf("resolution notes required: %w", apperr.ErrValidation)
	}
	return m.transition(ctx, id,
		[]string{models.EscalationOpen, models.EscalationAcknowledged, models.EscalationInProgress},
		map[string]interface{}{
			"status":           models.EscalationResolved,
			"resolution_notes": notes,
			"resolved_at":      m.now(),
		})
}

// transition applies updates only while the row is in one of from.
func (m *Manager) transition(ctx context.Context, id string, from []string, updates map[string]interface{}) (*models.Escalation, error) {
	res := m.db.WithContext(ctx).Model(&models.Escalation{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	esc, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("escalation %s is %s, cannot become %v: %w",
			id, esc.Status, updates["status"], apperr.ErrInvalidTransition)
	}
	m.publish(esc)
	return esc, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Escalation, error) {
	var esc models.Escalation
	if err := m.db.WithContext(ctx).First(&esc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("escalation %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return &esc, nil
}

// List returns escalations newest first.
func (m *Manager) List(ctx context.Context, f Filter) ([]models.Escalation, error) {
	q := m.db.WithContext(ctx)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PropertyID != "" {
		q = q.Where("property_id = ?", f.PropertyID)
	}
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("LOWER(summary) LIKE ? OR LOWER(resolution_notes) LIKE ?", like, like)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	var out []models.Escalation
	err := q.Order("created_at desc").Limit(f.Limit).Find(&out).Error
	return out, err
}

func (m *Manager) publish(esc *models.Escalation) {
	if m.pub != nil {
		m.pub.Publish(ws.EventEscalation, esc)
	}
}
