package models

import (
	"time"

	"gorm.io/gorm"
)

// Task statuses. Archived is terminal.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskEscalated  = "escalated"
	TaskArchived   = "archived"
)

// Task categories.
const (
	CategoryMaintenance  = "maintenance"
	CategoryCleaning     = "cleaning"
	CategorySupplies     = "supplies"
	CategoryGuestRequest = "guest_request"
	CategoryOther        = "other"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Recurrence kinds.
const (
	RecurNone      = "none"
	RecurDaily     = "daily"
	RecurWeekly    = "weekly"
	RecurMonthly   = "monthly"
	RecurEveryNDay = "every_n_days"
)

// Recurrence describes how a task series repeats. It is metadata only;
// occurrences are generated on demand by the sweep.
type Recurrence struct {
	Kind           string     `json:"kind"`
	Interval       int        `json:"interval,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"`
}

// Task is a unit of operational work for staff.
type Task struct {
	ID              string      `gorm:"primaryKey;size:36" json:"id"`
	PropertyID      string      `gorm:"size:36;index;not null" json:"property_id"`
	BookingID       *string     `gorm:"size:64;index" json:"booking_id,omitempty"`
	ConversationID  *string     `gorm:"size:36;index" json:"conversation_id,omitempty"`
	Title           string      `gorm:"size:255;not null" json:"title"`
	Category        string      `gorm:"size:30;not null" json:"category"`
	Description     string      `gorm:"type:text" json:"description"`
	Status          string      `gorm:"size:20;index;not null" json:"status"`
	Priority        string      `gorm:"size:10;not null" json:"priority"`
	AssigneeID      *string     `gorm:"size:36" json:"assignee_id,omitempty"`
	AssigneeName    string      `gorm:"size:255" json:"assignee_name,omitempty"`
	AssigneePhone   string      `gorm:"size:32" json:"assignee_phone,omitempty"`
	DueAt           *time.Time  `json:"due_at,omitempty"`
	Recurrence      *Recurrence `gorm:"type:text;serializer:json" json:"recurrence,omitempty"`
	SeriesID        *string     `gorm:"size:36;uniqueIndex:idx_task_series_occurrence" json:"series_id,omitempty"`
	OccurrenceIndex int         `gorm:"uniqueIndex:idx_task_series_occurrence" json:"occurrence_index"`
	Source          string      `gorm:"size:10" json:"source"`
	NotifiedAt      *time.Time  `json:"notified_at,omitempty"`
	NotifyError     string      `gorm:"type:text" json:"notify_error,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = newID()
	}
	return nil
}

// Escalation trigger types.
const (
	TriggerMessageRisk = "message_risk"
	TriggerTaskTriage  = "task_triage"
)

// Risk indicators.
const (
	RiskLegalThreat     = "legal_threat"
	RiskSafety          = "safety_risk"
	RiskChurn           = "churn_risk"
	RiskPublicComplaint = "public_complaint"
	RiskHighImpact      = "high_impact"
	RiskNone            = "none"
)

// Escalation priorities.
const (
	EscalationLow      = "low"
	EscalationMedium   = "medium"
	EscalationHigh     = "high"
	EscalationCritical = "critical"
)

// Escalation statuses, in state machine order.
const (
	EscalationOpen         = "open"
	EscalationAcknowledged = "acknowledged"
	EscalationInProgress   = "in_progress"
	EscalationResolved     = "resolved"
)

// Escalation is a risk-flagged issue that needs the host's attention.
type Escalation struct {
	ID                    string     `gorm:"primaryKey;size:36" json:"id"`
	PropertyID            string     `gorm:"size:36;index" json:"property_id"`
	ConversationID        *string    `gorm:"size:36;index" json:"conversation_id,omitempty"`
	TriggerType           string     `gorm:"size:20;not null" json:"trigger_type"`
	RiskIndicator         string     `gorm:"size:30;not null" json:"risk_indicator"`
	Priority              string     `gorm:"size:10;not null" json:"priority"`
	Status                string     `gorm:"size:20;index;not null" json:"status"`
	Summary               string     `gorm:"type:text" json:"summary"`
	MessageID             *string    `gorm:"size:36" json:"message_id,omitempty"`
	TaskID                *string    `gorm:"size:36" json:"task_id,omitempty"`
	HostNotified          bool       `json:"host_notified"`
	HostNotifyAttemptedAt *time.Time `json:"host_notify_attempted_at,omitempty"`
	HostNotifyError       string     `gorm:"type:text" json:"host_notify_error,omitempty"`
	AcknowledgedAt        *time.Time `json:"acknowledged_at,omitempty"`
	ResolutionNotes       string     `gorm:"type:text" json:"resolution_notes,omitempty"`
	ResolvedAt            *time.Time `json:"resolved_at,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Escalation) TableName() string {
	return "escalations"
}

func (e *Escalation) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = newID()
	}
	return nil
}
